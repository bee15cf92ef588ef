package workflow

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idverify/internal/config"
	"idverify/internal/imaging"
	"idverify/internal/metrics"
	"idverify/internal/model"
	"idverify/internal/repository/memory"
	"idverify/internal/steps"
	"idverify/internal/storage"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []steps.Notification
}

func (f *fakeNotifier) Run(_ context.Context, msg steps.Notification) steps.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return steps.Result{StatusCode: http.StatusOK, Success: true}
}

func (f *fakeNotifier) last(t *testing.T) steps.Notification {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

func pass(rec *recorder, name string, payload any) Step {
	return StepFunc(func(context.Context, steps.Input) steps.Result {
		rec.add(name)
		return steps.Result{StatusCode: http.StatusOK, Success: true, Payload: payload}
	})
}

func reject(rec *recorder, name, reason string) Step {
	return StepFunc(func(context.Context, steps.Input) steps.Result {
		rec.add(name)
		return steps.Result{StatusCode: http.StatusOK, Error: reason}
	})
}

// completing mimics the resize step, which finalizes the record itself.
func completing(rec *recorder, store *memory.VerificationStore) Step {
	return StepFunc(func(ctx context.Context, in steps.Input) steps.Result {
		rec.add("resize")
		v, err := store.FindLatest(ctx, in.VerificationID)
		if err != nil {
			return steps.Result{StatusCode: http.StatusNotFound, Error: err.Error()}
		}
		if _, err := store.AdvanceStatus(ctx, v.Key(), model.StatusSucceeded, "", time.Now()); err != nil {
			return steps.Result{StatusCode: http.StatusInternalServerError, Error: err.Error()}
		}
		return steps.Result{StatusCode: http.StatusOK, Success: true}
	})
}

func seedRecord(t *testing.T, store *memory.VerificationStore, id string) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, store.Create(context.Background(), &model.Verification{
		ID:            id,
		CreatedAt:     now,
		ExpiresAt:     now.AddDate(1, 0, 0),
		Requester:     model.Identity{Email: "jane@example.com", GivenName: "Jane"},
		DocumentImage: model.ImageRef{Key: "document/" + id + ".jpg"},
		SelfieImage:   model.ImageRef{Key: "selfie/" + id + ".jpg"},
		Status:        model.StatusProcessing,
		LastUpdated:   now,
	}))
}

func testOptions() Options {
	return Options{
		StepTimeout:     time.Second,
		RunTimeout:      5 * time.Second,
		MaxRetries:      2,
		RetryInterval:   time.Millisecond,
		FinalizeTimeout: time.Second,
	}
}

func execution(id string) Execution {
	return Execution{
		VerificationID: id,
		DocumentKey:    "document/" + id + ".jpg",
		SelfieKey:      "selfie/" + id + ".jpg",
		Status:         model.StatusStarted,
		Timestamp:      time.Now().UTC(),
	}
}

func TestOrchestrator_Scenarios(t *testing.T) {
	match := model.FaceMatch{Matched: true, Similarity: model.Round2(95), Confidence: model.Round2(99.8)}
	lowMatch := model.FaceMatch{Matched: true, Similarity: model.Round2(62), Confidence: model.Round2(99.8)}

	tests := []struct {
		name         string
		build        func(rec *recorder, store *memory.VerificationStore) Steps
		wantStatus   model.Status
		wantSteps    []string
		wantReason   string
		wantResults  any
		wantNotified bool
	}{
		{
			name: "similarity 95 succeeds",
			build: func(rec *recorder, store *memory.VerificationStore) Steps {
				return Steps{
					Extract:  pass(rec, "extract", nil),
					Moderate: pass(rec, "moderate", nil),
					Compare:  pass(rec, "compare", match),
					Resize:   completing(rec, store),
				}
			},
			wantStatus:   model.StatusSucceeded,
			wantSteps:    []string{"extract", "moderate", "compare", "resize"},
			wantResults:  match,
			wantNotified: true,
		},
		{
			name: "moderation 91 fails before compare and resize",
			build: func(rec *recorder, store *memory.VerificationStore) Steps {
				return Steps{
					Extract:  pass(rec, "extract", nil),
					Moderate: reject(rec, "moderate", "Inappropriate content detected: Violence (91.00%)"),
					Compare:  pass(rec, "compare", match),
					Resize:   completing(rec, store),
				}
			},
			wantStatus:   model.StatusFailed,
			wantSteps:    []string{"extract", "moderate"},
			wantReason:   "Inappropriate content detected: Violence (91.00%)",
			wantNotified: true,
		},
		{
			name: "similarity 62 fails before resize",
			build: func(rec *recorder, store *memory.VerificationStore) Steps {
				return Steps{
					Extract:  pass(rec, "extract", nil),
					Moderate: pass(rec, "moderate", nil),
					Compare: StepFunc(func(context.Context, steps.Input) steps.Result {
						rec.add("compare")
						return steps.Result{StatusCode: http.StatusOK, Payload: lowMatch, Error: "Face similarity 62.00% is below the required 80.00%"}
					}),
					Resize: completing(rec, store),
				}
			},
			wantStatus:   model.StatusFailed,
			wantSteps:    []string{"extract", "moderate", "compare"},
			wantReason:   "Face similarity 62.00% is below the required 80.00%",
			wantResults:  lowMatch,
			wantNotified: true,
		},
		{
			name: "invalid document fails at extraction",
			build: func(rec *recorder, store *memory.VerificationStore) Steps {
				return Steps{
					Extract:  reject(rec, "extract", "One or more required fields failed validation"),
					Moderate: pass(rec, "moderate", nil),
					Compare:  pass(rec, "compare", match),
					Resize:   completing(rec, store),
				}
			},
			wantStatus:   model.StatusFailed,
			wantSteps:    []string{"extract"},
			wantReason:   "One or more required fields failed validation",
			wantNotified: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewVerificationStore()
			seedRecord(t, store, "v-1")
			rec := &recorder{}
			notifier := &fakeNotifier{}
			o := New(store, tt.build(rec, store), notifier, testOptions(), zerolog.Nop(), metrics.New(prometheus.NewRegistry()))

			out := o.Run(context.Background(), execution("v-1"))

			assert.Equal(t, tt.wantStatus, out.Status)
			assert.Equal(t, tt.wantSteps, rec.list())
			assert.Equal(t, tt.wantSteps, out.Executed)
			assert.Equal(t, tt.wantReason, out.Reason)
			assert.Equal(t, tt.wantNotified, out.Notified)

			v, err := store.FindLatest(context.Background(), "v-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, v.Status)
			assert.Equal(t, tt.wantReason, v.FailureReason)

			msg := notifier.last(t)
			assert.Equal(t, tt.wantStatus == model.StatusSucceeded, msg.Success)
			assert.Equal(t, "jane@example.com", msg.UserEmail)
			assert.Equal(t, tt.wantStatus, msg.Details.Status)
			assert.Equal(t, tt.wantReason, msg.Details.Error)
			if tt.wantResults != nil {
				assert.Equal(t, tt.wantResults, msg.Details.Results)
			}
		})
	}
}

func TestOrchestrator_RetriesTransientFailures(t *testing.T) {
	tests := []struct {
		name       string
		failures   int32
		maxRetries int
		wantStatus model.Status
		wantCalls  int32
	}{
		{name: "recovers within budget", failures: 2, maxRetries: 2, wantStatus: model.StatusSucceeded, wantCalls: 3},
		{name: "budget exhausted", failures: 5, maxRetries: 1, wantStatus: model.StatusFailed, wantCalls: 2},
		{name: "no retries configured", failures: 1, maxRetries: 0, wantStatus: model.StatusFailed, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewVerificationStore()
			seedRecord(t, store, "v-1")
			rec := &recorder{}
			var calls atomic.Int32
			flaky := StepFunc(func(context.Context, steps.Input) steps.Result {
				if calls.Add(1) <= tt.failures {
					return steps.Result{StatusCode: http.StatusInternalServerError, Error: "throttled", Retryable: true}
				}
				return steps.Result{StatusCode: http.StatusOK, Success: true}
			})
			opt := testOptions()
			opt.MaxRetries = tt.maxRetries
			o := New(store, Steps{
				Extract:  pass(rec, "extract", nil),
				Moderate: flaky,
				Compare:  pass(rec, "compare", nil),
				Resize:   completing(rec, store),
			}, &fakeNotifier{}, opt, zerolog.Nop(), nil)

			out := o.Run(context.Background(), execution("v-1"))

			assert.Equal(t, tt.wantStatus, out.Status)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestOrchestrator_GateFailureIsNotRetried(t *testing.T) {
	store := memory.NewVerificationStore()
	seedRecord(t, store, "v-1")
	rec := &recorder{}
	o := New(store, Steps{
		Extract:  pass(rec, "extract", nil),
		Moderate: reject(rec, "moderate", "flagged"),
		Compare:  pass(rec, "compare", nil),
		Resize:   completing(rec, store),
	}, &fakeNotifier{}, testOptions(), zerolog.Nop(), nil)

	o.Run(context.Background(), execution("v-1"))

	assert.Equal(t, []string{"extract", "moderate"}, rec.list())
}

func TestOrchestrator_PanickingStepFails(t *testing.T) {
	store := memory.NewVerificationStore()
	seedRecord(t, store, "v-1")
	rec := &recorder{}
	o := New(store, Steps{
		Extract: pass(rec, "extract", nil),
		Moderate: StepFunc(func(context.Context, steps.Input) steps.Result {
			panic("nil label list")
		}),
		Compare: pass(rec, "compare", nil),
		Resize:  completing(rec, store),
	}, &fakeNotifier{}, testOptions(), zerolog.Nop(), nil)

	out := o.Run(context.Background(), execution("v-1"))

	assert.Equal(t, model.StatusFailed, out.Status)
	assert.Contains(t, out.Reason, "step panicked")
	assert.Equal(t, []string{"extract"}, rec.list())
}

func blocking() Step {
	return StepFunc(func(ctx context.Context, _ steps.Input) steps.Result {
		<-ctx.Done()
		return steps.Result{StatusCode: http.StatusInternalServerError, Error: ctx.Err().Error(), Retryable: true}
	})
}

func TestOrchestrator_StepTimeout(t *testing.T) {
	store := memory.NewVerificationStore()
	seedRecord(t, store, "v-1")
	rec := &recorder{}
	opt := testOptions()
	opt.StepTimeout = 20 * time.Millisecond
	opt.MaxRetries = 1
	o := New(store, Steps{
		Extract:  pass(rec, "extract", nil),
		Moderate: pass(rec, "moderate", nil),
		Compare:  blocking(),
		Resize:   completing(rec, store),
	}, &fakeNotifier{}, opt, zerolog.Nop(), nil)

	out := o.Run(context.Background(), execution("v-1"))

	assert.Equal(t, model.StatusFailed, out.Status)
	assert.NotContains(t, rec.list(), "resize")
}

func TestOrchestrator_RunTimeoutMarksFailed(t *testing.T) {
	store := memory.NewVerificationStore()
	seedRecord(t, store, "v-1")
	rec := &recorder{}
	notifier := &fakeNotifier{}
	opt := testOptions()
	opt.RunTimeout = 50 * time.Millisecond
	opt.StepTimeout = time.Second
	o := New(store, Steps{
		Extract:  blocking(),
		Moderate: pass(rec, "moderate", nil),
		Compare:  pass(rec, "compare", nil),
		Resize:   completing(rec, store),
	}, notifier, opt, zerolog.Nop(), nil)

	out := o.Run(context.Background(), execution("v-1"))

	assert.Equal(t, model.StatusFailed, out.Status)
	assert.Contains(t, out.Reason, "timed out")
	v, err := store.FindLatest(context.Background(), "v-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, v.Status)
	assert.False(t, notifier.last(t).Success)
	assert.Empty(t, rec.list())
}

func TestOrchestrator_FinishedRecordIsLeftAlone(t *testing.T) {
	ctx := context.Background()
	store := memory.NewVerificationStore()
	seedRecord(t, store, "v-1")
	v, err := store.FindLatest(ctx, "v-1")
	require.NoError(t, err)
	_, err = store.AdvanceStatus(ctx, v.Key(), model.StatusFailed, "rejected earlier", time.Now())
	require.NoError(t, err)

	rec := &recorder{}
	notifier := &fakeNotifier{}
	o := New(store, Steps{
		Extract:  pass(rec, "extract", nil),
		Moderate: pass(rec, "moderate", nil),
		Compare:  pass(rec, "compare", nil),
		Resize:   completing(rec, store),
	}, notifier, testOptions(), zerolog.Nop(), nil)

	out := o.Run(ctx, execution("v-1"))

	assert.Equal(t, model.StatusFailed, out.Status)
	assert.Equal(t, "rejected earlier", out.Reason)
	assert.Empty(t, rec.list())
	assert.Empty(t, notifier.sent)
}

type fixedResizer struct{}

func (fixedResizer) Resize(context.Context, []byte) (imaging.Resized, error) {
	return imaging.Resized{Data: []byte("jpeg"), ContentType: "image/jpeg", Width: 10, Height: 10}, nil
}

func TestOrchestrator_ResizeReplyLostAfterCommit(t *testing.T) {
	ctx := context.Background()
	store := memory.NewVerificationStore()
	seedRecord(t, store, "v-1")
	objects := storage.NewMemory()
	for _, k := range []string{"document/v-1.jpg", "selfie/v-1.jpg"} {
		_, err := objects.Put(ctx, k, bytes.NewReader([]byte("img")), storage.PutObjectOptions{Size: 3})
		require.NoError(t, err)
	}
	resizer := steps.NewResizer(steps.Deps{
		Repo:   store,
		Store:  objects,
		Policy: steps.DefaultPolicy(),
		Log:    zerolog.Nop(),
	}, fixedResizer{})

	opt := testOptions()
	opt.StepTimeout = 30 * time.Millisecond
	var attempts atomic.Int32
	// The first attempt commits, then answers only after its deadline.
	lateReply := StepFunc(func(ctx context.Context, in steps.Input) steps.Result {
		res := resizer.Run(ctx, in)
		if attempts.Add(1) == 1 {
			<-ctx.Done()
			time.Sleep(opt.StepTimeout)
		}
		return res
	})

	match := model.FaceMatch{Matched: true, Similarity: model.Round2(95), Confidence: model.Round2(99.8)}
	rec := &recorder{}
	notifier := &fakeNotifier{}
	o := New(store, Steps{
		Extract:  pass(rec, "extract", nil),
		Moderate: pass(rec, "moderate", nil),
		Compare:  pass(rec, "compare", match),
		Resize:   lateReply,
	}, notifier, opt, zerolog.Nop(), nil)

	out := o.Run(ctx, execution("v-1"))

	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, model.StatusSucceeded, out.Status)
	assert.Empty(t, out.Reason)

	v, err := store.FindLatest(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, v.Status)
	require.NotNil(t, v.ResizedDocumentImage)
	assert.Equal(t, "resized_document/v-1.jpg", v.ResizedDocumentImage.Key)

	msg := notifier.last(t)
	assert.Len(t, notifier.sent, 1)
	assert.True(t, msg.Success)
	assert.Equal(t, model.StatusSucceeded, msg.Details.Status)
	assert.Equal(t, match, msg.Details.Results)
}

func TestOrchestrator_ReportsStoredTerminalStatus(t *testing.T) {
	ctx := context.Background()
	store := memory.NewVerificationStore()
	seedRecord(t, store, "v-1")
	rec := &recorder{}
	notifier := &fakeNotifier{}
	done := completing(rec, store)
	// Finishes the record but answers with a conflict.
	conflicting := StepFunc(func(ctx context.Context, in steps.Input) steps.Result {
		done.Run(ctx, in)
		return steps.Result{StatusCode: http.StatusConflict, Error: "verification already finalized"}
	})
	o := New(store, Steps{
		Extract:  pass(rec, "extract", nil),
		Moderate: pass(rec, "moderate", nil),
		Compare:  pass(rec, "compare", nil),
		Resize:   conflicting,
	}, notifier, testOptions(), zerolog.Nop(), nil)

	out := o.Run(ctx, execution("v-1"))

	assert.Equal(t, model.StatusSucceeded, out.Status)
	assert.Empty(t, out.Reason)
	v, err := store.FindLatest(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, v.Status)
	assert.Empty(t, v.FailureReason)
	msg := notifier.last(t)
	assert.True(t, msg.Success)
	assert.Equal(t, model.StatusSucceeded, msg.Details.Status)
}

func TestOrchestrator_MissingRecord(t *testing.T) {
	notifier := &fakeNotifier{}
	o := New(memory.NewVerificationStore(), Steps{}, notifier, testOptions(), zerolog.Nop(), nil)

	out := o.Run(context.Background(), execution("ghost"))

	assert.Equal(t, model.StatusFailed, out.Status)
	assert.Empty(t, notifier.sent)
}

func TestOptionsFromConfig(t *testing.T) {
	opt := OptionsFromConfig(config.WorkflowConfig{StepTimeout: 45 * time.Second, MaxRetries: 0})
	assert.Equal(t, 45*time.Second, opt.StepTimeout)
	assert.Equal(t, DefaultOptions().RunTimeout, opt.RunTimeout)
	assert.Equal(t, 0, opt.MaxRetries)

	opt = OptionsFromConfig(config.WorkflowConfig{MaxRetries: -1})
	assert.Equal(t, DefaultOptions().MaxRetries, opt.MaxRetries)
}
