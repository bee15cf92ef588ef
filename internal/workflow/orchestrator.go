package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"idverify/internal/config"
	"idverify/internal/metrics"
	"idverify/internal/model"
	"idverify/internal/repository"
	"idverify/internal/steps"
)

// Execution is the payload a run is started with.
type Execution struct {
	VerificationID string         `json:"verification_id"`
	DocumentKey    string         `json:"document_key"`
	SelfieKey      string         `json:"selfie_key"`
	Requester      model.Identity `json:"requester_identity"`
	Status         model.Status   `json:"status"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Outcome is the terminal result of a run.
type Outcome struct {
	Status model.Status
	Reason string
	// Executed lists the steps that ran, in order.
	Executed []string
	Notified bool
}

// Steps are the gated pipeline stages.
type Steps struct {
	Extract  Step
	Moderate Step
	Compare  Step
	Resize   Step
}

// Notifier sends the outcome email.
type Notifier interface {
	Run(ctx context.Context, msg steps.Notification) steps.Result
}

type Options struct {
	StepTimeout   time.Duration
	RunTimeout    time.Duration
	MaxRetries    int
	RetryInterval time.Duration
	// FinalizeTimeout bounds the writes made after the run deadline passed.
	FinalizeTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		StepTimeout:     30 * time.Second,
		RunTimeout:      5 * time.Minute,
		MaxRetries:      2,
		RetryInterval:   500 * time.Millisecond,
		FinalizeTimeout: 10 * time.Second,
	}
}

// OptionsFromConfig applies configured limits over the defaults.
func OptionsFromConfig(c config.WorkflowConfig) Options {
	opt := DefaultOptions()
	if c.StepTimeout > 0 {
		opt.StepTimeout = c.StepTimeout
	}
	if c.RunTimeout > 0 {
		opt.RunTimeout = c.RunTimeout
	}
	if c.MaxRetries >= 0 {
		opt.MaxRetries = c.MaxRetries
	}
	return opt
}

// Orchestrator runs the state machine for one verification at a time. It
// holds no per-run state and is safe for concurrent use.
type Orchestrator struct {
	repo    repository.VerificationRepository
	stages  map[model.Status]Step
	notify  Notifier
	opt     Options
	log     zerolog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

func New(repo repository.VerificationRepository, s Steps, n Notifier, opt Options, log zerolog.Logger, m *metrics.Metrics) *Orchestrator {
	def := DefaultOptions()
	if opt.StepTimeout <= 0 {
		opt.StepTimeout = def.StepTimeout
	}
	if opt.RunTimeout <= 0 {
		opt.RunTimeout = def.RunTimeout
	}
	if opt.MaxRetries < 0 {
		opt.MaxRetries = 0
	}
	if opt.RetryInterval <= 0 {
		opt.RetryInterval = def.RetryInterval
	}
	if opt.FinalizeTimeout <= 0 {
		opt.FinalizeTimeout = def.FinalizeTimeout
	}
	return &Orchestrator{
		repo: repo,
		stages: map[model.Status]Step{
			model.StatusProcessing: s.Extract,
			model.StatusModerating: s.Moderate,
			model.StatusComparing:  s.Compare,
			model.StatusResizing:   s.Resize,
		},
		notify:  n,
		opt:     opt,
		log:     log.With().Str("component", "orchestrator").Logger(),
		metrics: m,
		tracer:  otel.Tracer("idverify/workflow"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run drives exec to SUCCEEDED or FAILED and then notifies the requester.
// It never returns before the record is terminal, unless the record vanished.
func (o *Orchestrator) Run(ctx context.Context, exec Execution) Outcome {
	finish := o.metrics.RunStarted()
	ctx, span := o.tracer.Start(ctx, "verification.run", trace.WithAttributes(
		attribute.String("verification.id", exec.VerificationID),
	))
	defer span.End()

	log := o.log.With().Str("verification_id", exec.VerificationID).Logger()
	out := o.run(ctx, exec, log)

	span.SetAttributes(attribute.String("verification.status", out.Status.String()))
	if out.Status == model.StatusFailed {
		span.SetStatus(codes.Error, out.Reason)
	}
	finish(out.Status.String())
	return out
}

func (o *Orchestrator) run(ctx context.Context, exec Execution, log zerolog.Logger) Outcome {
	runCtx, cancel := context.WithTimeout(ctx, o.opt.RunTimeout)
	defer cancel()

	var out Outcome
	rec, err := o.repo.FindLatest(runCtx, exec.VerificationID)
	if err != nil {
		log.Error().Err(err).Msg("cannot load verification")
		out.Status, out.Reason = model.StatusFailed, fmt.Sprintf("load verification: %v", err)
		if errors.Is(err, repository.ErrNotFound) {
			return out
		}
		o.sendNotification(ctx, exec, out, nil, log)
		return out
	}
	key := rec.Key()
	if exec.Requester.Email == "" {
		exec.Requester = rec.Requester
	}

	in := steps.Input{
		VerificationID: exec.VerificationID,
		DocumentKey:    exec.DocumentKey,
		SelfieKey:      exec.SelfieKey,
	}

	if rec.Status.Terminal() {
		log.Warn().Str("status", rec.Status.String()).Msg("run started on a finished verification")
		out.Status, out.Reason = rec.Status, rec.FailureReason
		return out
	}
	state, _ := Next(model.StatusStarted, true)

	var (
		results = make(map[model.Status]any)
		last    any
	)
	for !state.Terminal() {
		if err := runCtx.Err(); err != nil {
			out.Reason = o.timeoutReason(err)
			state = model.StatusFailed
			break
		}

		advanced, err := o.repo.AdvanceStatus(runCtx, key, state, "", o.now())
		if err != nil {
			out.Reason = fmt.Sprintf("advance to %s: %v", state, err)
			state = model.StatusFailed
			break
		}
		if !advanced {
			return o.superseded(ctx, exec.VerificationID, log)
		}

		name := stepName(state)
		res := o.step(runCtx, name, o.stages[state], in)
		out.Executed = append(out.Executed, name)
		results[state] = res.Payload
		last = res.Payload

		if !res.Success {
			out.Reason = res.Error
			if runCtx.Err() != nil {
				out.Reason = o.timeoutReason(runCtx.Err())
			}
			if out.Reason == "" {
				out.Reason = name + " step failed"
			}
			log.Info().Str("step", name).Str("reason", out.Reason).Msg("verification gate failed")
		}
		state, _ = Next(state, res.Success)
	}
	if state == model.StatusFailed {
		if rec := o.markFailed(ctx, key, out.Reason, log); rec != nil {
			state, out.Reason = rec.Status, rec.FailureReason
		}
	}
	out.Status = state

	details := last
	if state == model.StatusSucceeded {
		details = results[model.StatusComparing]
	}
	log.Info().Str("status", state.String()).Strs("steps", out.Executed).Msg("verification finished")
	out.Notified = o.sendNotification(ctx, exec, out, details, log)
	return out
}

// step executes one stage and records its span and metrics.
func (o *Orchestrator) step(ctx context.Context, name string, s Step, in steps.Input) steps.Result {
	ctx, span := o.tracer.Start(ctx, "verification.step."+name)
	defer span.End()

	start := time.Now()
	res := o.execute(ctx, name, s, in)

	outcome := "success"
	switch {
	case res.Success:
	case res.StatusCode == http.StatusOK:
		outcome = "rejected"
	default:
		outcome = "error"
		span.SetStatus(codes.Error, res.Error)
	}
	span.SetAttributes(
		attribute.Bool("step.success", res.Success),
		attribute.Int("step.status_code", res.StatusCode),
	)
	o.metrics.ObserveStep(name, outcome, time.Since(start))
	return res
}

// markFailed writes FAILED through a context detached from the run deadline.
// If the record was already terminal it returns the stored record, whose
// status is the one that must be reported.
func (o *Orchestrator) markFailed(ctx context.Context, key model.RecordKey, reason string, log zerolog.Logger) *model.Verification {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opt.FinalizeTimeout)
	defer cancel()

	advanced, err := o.repo.AdvanceStatus(fctx, key, model.StatusFailed, reason, o.now())
	if err != nil {
		log.Error().Err(err).Msg("cannot mark verification failed")
		return nil
	}
	if advanced {
		return nil
	}
	rec, err := o.repo.FindLatest(fctx, key.VerificationID)
	if err != nil {
		log.Error().Err(err).Msg("cannot reload finalized verification")
		return nil
	}
	if !rec.Status.Terminal() {
		return nil
	}
	log.Warn().Str("status", rec.Status.String()).Msg("verification already finalized, reporting stored status")
	return rec
}

func (o *Orchestrator) sendNotification(ctx context.Context, exec Execution, out Outcome, results any, log zerolog.Logger) bool {
	if o.notify == nil {
		return false
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opt.FinalizeTimeout)
	defer cancel()

	res := o.notify.Run(nctx, steps.Notification{
		VerificationID: exec.VerificationID,
		Success:        out.Status == model.StatusSucceeded,
		UserEmail:      exec.Requester.Email,
		Details: steps.NotificationDetails{
			Timestamp: o.now(),
			Status:    out.Status,
			Error:     out.Reason,
			Results:   results,
		},
	})
	if !res.Success {
		log.Warn().Str("error", res.Error).Msg("notification not delivered")
	}
	return res.Success
}

// superseded handles a record that moved on without this run, which only
// happens when another actor already finalized it.
func (o *Orchestrator) superseded(ctx context.Context, id string, log zerolog.Logger) Outcome {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opt.FinalizeTimeout)
	defer cancel()

	out := Outcome{Status: model.StatusFailed, Reason: "verification already finalized"}
	if rec, err := o.repo.FindLatest(fctx, id); err == nil {
		out.Status = rec.Status
		out.Reason = rec.FailureReason
	}
	log.Warn().Str("status", out.Status.String()).Msg("verification finalized elsewhere, stopping run")
	return out
}

func (o *Orchestrator) timeoutReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("verification timed out after %s", o.opt.RunTimeout)
	}
	return fmt.Sprintf("verification aborted: %v", err)
}
