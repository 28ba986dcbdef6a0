package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"wirerpc/codec"
	"wirerpc/dispatch"
	"wirerpc/protocol"
	"wirerpc/shutdown"
)

// State is the lifecycle position of one connection.
type State int32

const (
	StateOpen State = iota
	StateAwaitingFrame
	StateDispatching
	StateSendingResponse
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "Open"
	case StateAwaitingFrame:
		return "AwaitingFrame"
	case StateDispatching:
		return "Dispatching"
	case StateSendingResponse:
		return "SendingResponse"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// session serves one connection strictly sequentially:
//
//	AwaitingFrame → Dispatching → SendingResponse → AwaitingFrame ...
//
// There is no pipelining. A request is not read until the previous response has been
// written. Every exit path flushes, half-closes the write side when the stream supports
// it, and closes the connection.
type session struct {
	id         uint64
	conn       net.Conn
	framer     *protocol.Framer
	codec      codec.Codec
	dispatcher *dispatch.Registry
	shutdown   *shutdown.Coordinator
	logger     zerolog.Logger

	state atomic.Int32
}

func newSession(id uint64, conn net.Conn, s *Server, logger zerolog.Logger) *session {
	return &session{
		id:         id,
		conn:       conn,
		framer:     protocol.NewFramer(conn, s.maxFrameSize),
		codec:      s.codec,
		dispatcher: s.dispatcher,
		shutdown:   s.shutdown,
		logger:     logger,
	}
}

func (s *session) State() State {
	return State(s.state.Load())
}

func (s *session) setState(st State) {
	s.state.Store(int32(st))
	s.logger.Trace().Stringer("state", st).Msg("connection state")
}

// run serves requests until the peer closes, an error occurs or shutdown fires. A nil
// return means the connection ended cleanly.
func (s *session) run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
		s.close()
	}()

	// Shutdown interrupts a blocked read. A write already in progress is left alone.
	stop := context.AfterFunc(s.shutdown.Context(), func() {
		_ = s.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	ctx := s.logger.WithContext(context.Background())
	for {
		if s.shutdown.Fired() {
			s.logger.Debug().Msg("shutdown signalled, closing connection")
			return nil
		}

		s.setState(StateAwaitingFrame)
		frame, err := s.framer.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Debug().Msg("peer closed connection")
				return nil
			}
			if s.shutdown.Fired() && isTimeout(err) {
				s.logger.Debug().Msg("shutdown signalled while awaiting frame")
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}

		s.setState(StateDispatching)
		req, err := s.codec.DecodeRequest(frame)
		if err != nil {
			return err
		}
		resp := s.dispatcher.Dispatch(ctx, req)

		s.setState(StateSendingResponse)
		out, err := s.codec.EncodeResponse(resp)
		if err != nil {
			return err
		}
		if err := s.framer.WriteFrame(out); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
		s.setState(StateOpen)
	}
}

type closeWriter interface {
	CloseWrite() error
}

func (s *session) close() {
	s.setState(StateClosing)
	if err := s.framer.Flush(); err != nil {
		s.logger.Debug().Err(err).Msg("flush on close failed")
	}
	if cw, ok := s.conn.(closeWriter); ok {
		if err := cw.CloseWrite(); err != nil {
			s.logger.Debug().Err(err).Msg("half-close failed")
		}
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("close failed")
	}
	s.setState(StateClosed)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
