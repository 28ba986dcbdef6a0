// Package dispatch routes a decoded request to the handler bound to its tag.
//
// A Registry is assembled once at startup through a Builder and is read-only afterwards,
// so it is shared by every connection without locking. Build refuses to produce a
// Registry unless every tag of the message set has a handler; a decoded request
// therefore always has somewhere to go and there is no "unknown operation" path at runtime.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"wirerpc/message"
	"wirerpc/middleware"
)

var (
	ErrTagMismatch    = errors.New("dispatch: request and response tags differ")
	ErrDuplicate      = errors.New("dispatch: handler already registered")
	ErrNotConcrete    = errors.New("dispatch: handler types must be concrete message types")
	ErrMissingHandler = errors.New("dispatch: operations without handler")
	ErrBuilt          = errors.New("dispatch: builder already built")
)

// Handler is bound to one operation: it consumes that operation's request and produces
// its reply. The type parameters fix the pairing at compile time.
type Handler[Req message.Request, Resp message.Response] func(ctx context.Context, req Req) Resp

type Builder struct {
	handlers    map[message.Tag]middleware.HandlerFunc
	middlewares []middleware.Middleware
	built       bool
}

func NewBuilder() *Builder {
	return &Builder{handlers: make(map[message.Tag]middleware.HandlerFunc)}
}

// Use appends middlewares applied around every handler, first one outermost.
func (b *Builder) Use(mws ...middleware.Middleware) {
	b.middlewares = append(b.middlewares, mws...)
}

// Register binds h to the operation of Req. It fails if Resp belongs to another
// operation or if the operation already has a handler.
func Register[Req message.Request, Resp message.Response](b *Builder, h Handler[Req, Resp]) error {
	if b.built {
		return ErrBuilt
	}

	var req Req
	var resp Resp
	if any(req) == nil || any(resp) == nil {
		return ErrNotConcrete
	}
	tag := req.Tag()
	if resp.Tag() != tag {
		return fmt.Errorf("%w: %T is %s, %T is %s", ErrTagMismatch, req, tag, resp, resp.Tag())
	}
	if _, ok := b.handlers[tag]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, tag)
	}

	b.handlers[tag] = func(ctx context.Context, r message.Request) message.Response {
		typed, ok := r.(Req)
		if !ok {
			panic(fmt.Sprintf("dispatch: %s handler got %T", tag, r))
		}
		return h(ctx, typed)
	}
	return nil
}

// MustRegister is Register that panics on error, for static wiring at startup.
func MustRegister[Req message.Request, Resp message.Response](b *Builder, h Handler[Req, Resp]) {
	if err := Register(b, h); err != nil {
		panic(err)
	}
}

// Build checks that every operation has a handler and freezes the table.
func (b *Builder) Build() (*Registry, error) {
	if b.built {
		return nil, ErrBuilt
	}

	var missing []string
	for _, tag := range message.Tags() {
		if _, ok := b.handlers[tag]; !ok {
			missing = append(missing, tag.String())
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingHandler, strings.Join(missing, ", "))
	}

	chain := middleware.Chain(b.middlewares...)
	tags := message.Tags()
	r := &Registry{handlers: make([]middleware.HandlerFunc, len(tags))}
	for _, tag := range tags {
		r.handlers[tag] = chain(b.handlers[tag])
	}
	b.built = true
	return r, nil
}

// Registry is the immutable tag → handler table.
type Registry struct {
	handlers []middleware.HandlerFunc // indexed by tag
}

// Dispatch runs the handler for req and returns its reply, which always carries req's tag.
// A handler replying for another operation is a programming error and panics.
func (r *Registry) Dispatch(ctx context.Context, req message.Request) message.Response {
	tag := req.Tag()
	resp := r.handlers[tag](ctx, req)
	if resp == nil || resp.Tag() != tag {
		panic(fmt.Sprintf("dispatch: %s handler replied with %T", tag, resp))
	}
	return resp
}

// Tags lists the operations the registry serves, in wire order.
func (r *Registry) Tags() []message.Tag {
	tags := make([]message.Tag, len(r.handlers))
	for i := range r.handlers {
		tags[i] = message.Tag(i)
	}
	return tags
}
