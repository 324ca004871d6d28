package transport

import (
	"context"
	"sync"

	"github.com/opd-ai/gamelink/addrbook"
	"github.com/sirupsen/logrus"
)

// Link is one physical transport as the dispatcher sees it.
type Link interface {
	// Kind names the transport.
	Kind() Kind
	// Start performs setup and launches the transport's goroutines, which
	// run until ctx is cancelled or Close is called. An error means the
	// transport cannot run at all.
	Start(ctx context.Context) error
	// Worker returns the outbound worker.
	Worker() *Worker
	// Book returns the transport's address book.
	Book() *addrbook.Book
	// Close stops the transport and waits for its goroutines.
	Close() error
}

// Runner starts goroutines under a shared cancellable context and waits
// for them on Stop. Transports embed it to implement Start and Close.
type Runner struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Context derives the context every goroutine started by Go will see.
func (r *Runner) Context(parent context.Context) context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	return ctx
}

// Go runs fn on a new goroutine, logging instead of crashing on panic.
func (r *Runner) Go(name string, fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				logrus.WithFields(logrus.Fields{
					"function":  "Runner.Go",
					"goroutine": name,
					"panic":     p,
				}).Error("Recovered panic in transport goroutine")
			}
		}()
		fn()
	}()
}

// Stop cancels the context and waits for every goroutine.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}
