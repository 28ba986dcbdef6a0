package server

import (
	"errors"

	"wirerpc/codec"
	"wirerpc/protocol"
)

var (
	// ErrServerStarted is returned by a second Serve call on the same Server.
	ErrServerStarted = errors.New("server: already serving")
	// ErrHandlerPanic wraps a recovered handler panic. Only the panicking connection closes.
	ErrHandlerPanic = errors.New("server: handler panicked")
)

// Error kinds reported in logs and the connection_errors_total metric.
const (
	KindTransport = "transport"
	KindFraming   = "framing"
	KindDecode    = "decode"
	KindEncode    = "encode"
	KindInternal  = "internal"
)

// ErrorKind classifies an error that ended a connection. I/O failures that are not
// framing, codec or handler errors count as transport errors.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, protocol.ErrFraming):
		return KindFraming
	case errors.Is(err, codec.ErrDecode):
		return KindDecode
	case errors.Is(err, codec.ErrEncode):
		return KindEncode
	case errors.Is(err, ErrHandlerPanic):
		return KindInternal
	default:
		return KindTransport
	}
}
