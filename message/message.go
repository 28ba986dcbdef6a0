// Package message defines the closed set of operations exchanged between client and server.
//
// Every operation is a pair of types sharing one Tag: a Request the client sends and the
// Response the server answers with. Both peers compile the same set, so the tag alone
// identifies the payload shape on the wire.
//
//	Tag  Request              Response
//	0    Ping{}               PingReply{Message}
//	1    Pong{}               PongReply{Message}
//	2    Add{Lhs, Rhs int32}  AddReply{Sum int32}
//	3    Echo{Text}           EchoReply{Text}
package message

import "fmt"

// Tag is the discriminant identifying an operation. Values are part of the wire format.
type Tag uint32

const (
	TagPing Tag = 0
	TagPong Tag = 1
	TagAdd  Tag = 2
	TagEcho Tag = 3
)

var tagNames = [...]string{
	TagPing: "Ping",
	TagPong: "Pong",
	TagAdd:  "Add",
	TagEcho: "Echo",
}

// Tags returns every tag in wire order.
func Tags() []Tag {
	return []Tag{TagPing, TagPong, TagAdd, TagEcho}
}

// Valid reports whether t names a known operation.
func (t Tag) Valid() bool {
	return int(t) < len(tagNames)
}

func (t Tag) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Tag(%d)", uint32(t))
	}
	return tagNames[t]
}

// ParseTag is the inverse of Tag.String.
func ParseTag(name string) (Tag, bool) {
	for i, n := range tagNames {
		if n == name {
			return Tag(i), true
		}
	}
	return 0, false
}

// Request is implemented only by the request types of this package.
type Request interface {
	Tag() Tag
	isRequest()
}

// Response is implemented only by the response types of this package.
type Response interface {
	Tag() Tag
	isResponse()
}

// Ping asks the server for a liveness message.
type Ping struct{}

// Pong mirrors Ping with a different reply text.
type Pong struct{}

// Add asks the server to sum two integers. The sum wraps on overflow.
type Add struct {
	Lhs int32 `json:"lhs"`
	Rhs int32 `json:"rhs"`
}

// Echo asks the server to return Text unchanged.
type Echo struct {
	Text string `json:"text"`
}

type PingReply struct {
	Message string `json:"message"`
}

type PongReply struct {
	Message string `json:"message"`
}

type AddReply struct {
	Sum int32 `json:"sum"`
}

type EchoReply struct {
	Text string `json:"text"`
}

func (Ping) Tag() Tag { return TagPing }
func (Pong) Tag() Tag { return TagPong }
func (Add) Tag() Tag  { return TagAdd }
func (Echo) Tag() Tag { return TagEcho }

func (PingReply) Tag() Tag { return TagPing }
func (PongReply) Tag() Tag { return TagPong }
func (AddReply) Tag() Tag  { return TagAdd }
func (EchoReply) Tag() Tag { return TagEcho }

func (Ping) isRequest() {}
func (Pong) isRequest() {}
func (Add) isRequest()  {}
func (Echo) isRequest() {}

func (PingReply) isResponse() {}
func (PongReply) isResponse() {}
func (AddReply) isResponse()  {}
func (EchoReply) isResponse() {}

// NewRequest returns the zero request for tag, or false if the tag is unknown.
func NewRequest(tag Tag) (Request, bool) {
	switch tag {
	case TagPing:
		return Ping{}, true
	case TagPong:
		return Pong{}, true
	case TagAdd:
		return Add{}, true
	case TagEcho:
		return Echo{}, true
	}
	return nil, false
}

// NewResponse returns the zero response for tag, or false if the tag is unknown.
func NewResponse(tag Tag) (Response, bool) {
	switch tag {
	case TagPing:
		return PingReply{}, true
	case TagPong:
		return PongReply{}, true
	case TagAdd:
		return AddReply{}, true
	case TagEcho:
		return EchoReply{}, true
	}
	return nil, false
}
