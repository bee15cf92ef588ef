package workflow

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrShuttingDown is returned by Dispatch after Shutdown was called.
var ErrShuttingDown = errors.New("workflow: dispatcher is shutting down")

// Runner executes a verification run to completion.
type Runner interface {
	Run(ctx context.Context, exec Execution) Outcome
}

// Dispatcher starts each run on its own goroutine, detached from the caller,
// and tracks them for graceful shutdown.
type Dispatcher struct {
	runner Runner
	log    zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewDispatcher(r Runner, log zerolog.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		runner: r,
		log:    log.With().Str("component", "dispatcher").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Dispatch hands exec off and returns immediately.
func (d *Dispatcher) Dispatch(exec Execution) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrShuttingDown
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		out := d.runner.Run(d.ctx, exec)
		d.log.Debug().
			Str("verification_id", exec.VerificationID).
			Str("status", out.Status.String()).
			Msg("run completed")
	}()
	return nil
}

// Shutdown stops accepting runs and waits for in-flight ones. When ctx ends
// first, outstanding runs are cancelled; they still record FAILED on their way out.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
