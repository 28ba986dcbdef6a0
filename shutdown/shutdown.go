// Package shutdown provides the process-wide, fire-once shutdown signal.
//
// One Coordinator is created at startup and shared by reference with the listener and
// every connection. Observers either select on Done or hang work off Context; an
// observer arriving after Fire sees the signal immediately.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

type Coordinator struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func New() *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{ctx: ctx, cancel: cancel}
}

// Fire broadcasts the signal. Calls after the first have no effect.
func (c *Coordinator) Fire() {
	c.cancel()
}

// Done is closed once Fire has been called.
func (c *Coordinator) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Coordinator) Fired() bool {
	return c.ctx.Err() != nil
}

// Context is cancelled when the signal fires.
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// NotifyOnSignal fires the coordinator on the first of sigs (SIGINT and SIGTERM when
// none are given). The returned stop func releases the signal subscription.
func (c *Coordinator) NotifyOnSignal(sigs ...os.Signal) (stop func()) {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	done := make(chan struct{})

	go func() {
		select {
		case <-ch:
			c.Fire()
		case <-c.ctx.Done():
		case <-done:
		}
		signal.Stop(ch)
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}
