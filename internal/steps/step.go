// Package steps wraps each external collaborator as a single pipeline step.
// A step resolves the latest record, calls exactly one collaborator, persists
// its own fields and reports a Result. Steps never return errors or panic
// past their boundary.
package steps

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"idverify/internal/config"
	"idverify/internal/model"
	"idverify/internal/provider"
	"idverify/internal/repository"
	"idverify/internal/storage"
)

// Input identifies the verification a step works on.
type Input struct {
	VerificationID string `json:"verification_id"`
	DocumentKey    string `json:"document_key"`
	SelfieKey      string `json:"selfie_key"`
}

// Result is the uniform step outcome. Success=false with Retryable=false is
// a gate decision or permanent failure; Retryable=true is a transient fault.
type Result struct {
	StatusCode int    `json:"status_code"`
	Success    bool   `json:"success"`
	Payload    any    `json:"payload,omitempty"`
	Error      string `json:"error,omitempty"`
	Retryable  bool   `json:"-"`
}

// Policy holds the pass/fail thresholds applied by the gating steps.
type Policy struct {
	FieldConfidenceMin  decimal.Decimal
	ModerationMax       decimal.Decimal
	SimilarityThreshold decimal.Decimal
	MaxImageBytes       int64
}

// PolicyFromConfig converts configured floats to fixed-precision thresholds.
func PolicyFromConfig(c config.WorkflowConfig) Policy {
	return Policy{
		FieldConfidenceMin:  decimal.NewFromFloat(c.FieldConfidenceMin),
		ModerationMax:       decimal.NewFromFloat(c.ModerationMax),
		SimilarityThreshold: decimal.NewFromFloat(c.SimilarityThreshold),
		MaxImageBytes:       c.MaxImageBytes,
	}
}

// DefaultPolicy is 90 / 80 / 80 with a 10 MiB image cap.
func DefaultPolicy() Policy {
	return Policy{
		FieldConfidenceMin:  decimal.NewFromInt(90),
		ModerationMax:       decimal.NewFromInt(80),
		SimilarityThreshold: decimal.NewFromInt(80),
		MaxImageBytes:       10 * 1024 * 1024,
	}
}

// Deps are the collaborators shared by every step.
type Deps struct {
	Repo   repository.VerificationRepository
	Store  storage.Storage
	Policy Policy
	Log    zerolog.Logger
	Now    func() time.Time
}

type base struct {
	name string
	Deps
}

func newBase(name string, d Deps) base {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	d.Log = d.Log.With().Str("component", "step").Str("step", name).Logger()
	return base{name: name, Deps: d}
}

// resolve loads the most recent record for the verification.
func (b *base) resolve(ctx context.Context, id string) (*model.Verification, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: verification id is required", errBadInput)
	}
	return b.Repo.FindLatest(ctx, id)
}

// fetch reads an image, enforcing the size cap.
func (b *base) fetch(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: image key is required", errBadInput)
	}
	data, _, err := storage.ReadAll(ctx, b.Store, key, b.Policy.MaxImageBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	if b.Policy.MaxImageBytes > 0 && int64(len(data)) > b.Policy.MaxImageBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", errBadInput, key, b.Policy.MaxImageBytes)
	}
	return data, nil
}

// keys fills image keys missing from the input from the record.
func keys(in Input, v *model.Verification) (document, selfie string) {
	document, selfie = in.DocumentKey, in.SelfieKey
	if document == "" {
		document = v.DocumentImage.Key
	}
	if selfie == "" {
		selfie = v.SelfieImage.Key
	}
	return document, selfie
}

var errBadInput = errors.New("bad step input")

// fail converts an error into a Result, deciding whether retrying can help.
func (b *base) fail(id string, err error) Result {
	r := Result{Error: err.Error()}
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, storage.ErrObjectNotFound):
		r.StatusCode = http.StatusNotFound
	case errors.Is(err, repository.ErrFinalized):
		r.StatusCode = http.StatusConflict
	case errors.Is(err, errBadInput), errors.Is(err, provider.ErrInvalidInput):
		r.StatusCode = http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		r.StatusCode = http.StatusInternalServerError
	default:
		r.StatusCode = http.StatusInternalServerError
		r.Retryable = true
	}
	b.Log.Error().Err(err).
		Str("verification_id", id).
		Int("status_code", r.StatusCode).
		Bool("retryable", r.Retryable).
		Msg("step failed")
	return r
}

func ok(payload any) Result {
	return Result{StatusCode: http.StatusOK, Success: true, Payload: payload}
}

// rejected is a negative gate decision.
func rejected(payload any, reason string) Result {
	return Result{StatusCode: http.StatusOK, Success: false, Payload: payload, Error: reason}
}

// guard turns a panic inside fn into a failed, non-retryable Result.
func (b *base) guard(id string, fn func() Result) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			b.Log.Error().
				Str("verification_id", id).
				Interface("panic", rec).
				Msg("step panicked")
			res = Result{
				StatusCode: http.StatusInternalServerError,
				Error:      fmt.Sprintf("%s step crashed: %v", b.name, rec),
			}
		}
	}()
	return fn()
}
