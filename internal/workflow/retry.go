package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"idverify/internal/steps"
)

// Step is a single pipeline stage.
type Step interface {
	Run(ctx context.Context, in steps.Input) steps.Result
}

// StepFunc adapts a function to Step.
type StepFunc func(ctx context.Context, in steps.Input) steps.Result

func (f StepFunc) Run(ctx context.Context, in steps.Input) steps.Result { return f(ctx, in) }

// execute runs step with a per-attempt timeout, retrying transient failures
// with exponential backoff. Gate decisions are returned as-is.
func (o *Orchestrator) execute(ctx context.Context, name string, step Step, in steps.Input) steps.Result {
	var (
		res     steps.Result
		attempt int
	)
	op := func() error {
		if attempt > 0 {
			o.metrics.IncrementRetry(name)
			o.log.Warn().
				Str("verification_id", in.VerificationID).
				Str("step", name).
				Int("attempt", attempt+1).
				Msg("retrying step")
		}
		attempt++

		res = invoke(ctx, o.opt.StepTimeout, step, in)
		if res.Success {
			return nil
		}
		err := errors.New(res.Error)
		if !res.Retryable {
			return backoff.Permanent(err)
		}
		return err
	}

	_ = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(o.newBackOff(), uint64(o.opt.MaxRetries)), ctx))
	return res
}

func (o *Orchestrator) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.opt.RetryInterval
	b.MaxInterval = o.opt.StepTimeout
	b.MaxElapsedTime = 0
	return b
}

// invoke bounds a single attempt. A step that overruns its deadline or
// panics is reported as a failed Result.
func invoke(ctx context.Context, timeout time.Duration, step Step, in steps.Input) steps.Result {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan steps.Result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- steps.Result{
					StatusCode: http.StatusInternalServerError,
					Error:      fmt.Sprintf("step panicked: %v", rec),
				}
			}
		}()
		done <- step.Run(ctx, in)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return steps.Result{
			StatusCode: http.StatusGatewayTimeout,
			Error:      fmt.Sprintf("step did not finish: %v", ctx.Err()),
			Retryable:  errors.Is(ctx.Err(), context.DeadlineExceeded),
		}
	}
}
