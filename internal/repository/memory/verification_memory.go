// Package memory is an in-process VerificationRepository with the same
// conditional-update semantics as the PostgreSQL store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"idverify/internal/model"
	"idverify/internal/repository"
)

type VerificationStore struct {
	mu      sync.Mutex
	records map[string]model.Verification
}

func NewVerificationStore() *VerificationStore {
	return &VerificationStore{records: make(map[string]model.Verification)}
}

var _ repository.VerificationRepository = (*VerificationStore)(nil)

func (s *VerificationStore) Create(_ context.Context, v *model.Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[v.ID]; ok {
		return fmt.Errorf("verification %s already exists", v.ID)
	}
	s.records[v.ID] = clone(*v)
	return nil
}

func (s *VerificationStore) FindLatest(_ context.Context, id string) (*model.Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := clone(v)
	return &out, nil
}

func (s *VerificationStore) SaveDocumentFields(_ context.Context, key model.RecordKey, fields model.DocumentFields, at time.Time) error {
	return s.stepWrite(key, at, func(v *model.Verification) {
		v.DocumentFields = make(model.DocumentFields, len(fields))
		for k, f := range fields {
			v.DocumentFields[k] = f
		}
	})
}

func (s *VerificationStore) SaveModeration(_ context.Context, key model.RecordKey, res model.ModerationResult, at time.Time) error {
	return s.stepWrite(key, at, func(v *model.Verification) {
		r := model.ModerationResult{
			Document: append([]model.ModerationLabel(nil), res.Document...),
			Selfie:   append([]model.ModerationLabel(nil), res.Selfie...),
		}
		v.Moderation = &r
	})
}

func (s *VerificationStore) SaveFaceMatch(_ context.Context, key model.RecordKey, fm model.FaceMatch, at time.Time) error {
	return s.stepWrite(key, at, func(v *model.Verification) {
		v.FaceMatch = &fm
	})
}

func (s *VerificationStore) SaveResizedImages(_ context.Context, key model.RecordKey, document, selfie model.ImageRef, at time.Time) error {
	return s.stepWrite(key, at, func(v *model.Verification) {
		v.ResizedDocumentImage = &document
		v.ResizedSelfieImage = &selfie
	})
}

func (s *VerificationStore) stepWrite(key model.RecordKey, at time.Time, apply func(*model.Verification)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lookup(key)
	if !ok {
		return repository.ErrNotFound
	}
	if v.Status.Terminal() {
		return repository.ErrFinalized
	}
	apply(&v)
	v.LastUpdated = at
	s.records[v.ID] = v
	return nil
}

func (s *VerificationStore) AdvanceStatus(_ context.Context, key model.RecordKey, status model.Status, reason string, at time.Time) (bool, error) {
	if status.Rank() < 0 {
		return false, fmt.Errorf("unknown status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lookup(key)
	if !ok {
		return false, repository.ErrNotFound
	}
	if v.Status.Terminal() || status.Rank() < v.Status.Rank() {
		return false, nil
	}
	v.Status = status
	if reason != "" {
		v.FailureReason = reason
	}
	v.LastUpdated = at
	s.records[v.ID] = v
	return true, nil
}

func (s *VerificationStore) MarkUploaded(_ context.Context, key model.RecordKey, category string, runID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lookup(key)
	if !ok {
		return false, repository.ErrNotFound
	}
	switch category {
	case "document":
		v.DocumentUploaded = true
	case "selfie":
		v.SelfieUploaded = true
	default:
		return false, fmt.Errorf("unknown image category %q", category)
	}
	if v.WorkflowRunID == "" && v.DocumentUploaded && v.SelfieUploaded {
		v.WorkflowRunID = runID
		started := at
		v.WorkflowStartedAt = &started
	}
	v.LastUpdated = at
	s.records[v.ID] = v
	return v.WorkflowRunID == runID, nil
}

func (s *VerificationStore) Delete(_ context.Context, key model.RecordKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lookup(key); ok {
		delete(s.records, key.VerificationID)
	}
	return nil
}

func (s *VerificationStore) ListExpired(_ context.Context, before time.Time, limit int) ([]model.Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Verification, 0)
	for _, v := range s.records {
		if v.ExpiresAt.Before(before) {
			out = append(out, clone(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *VerificationStore) ListStale(_ context.Context, before time.Time, limit int) ([]model.Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Verification, 0)
	for _, v := range s.records {
		if !v.Status.Terminal() && staleSince(v).Before(before) {
			out = append(out, clone(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return staleSince(out[i]).Before(staleSince(out[j])) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func staleSince(v model.Verification) time.Time {
	if v.WorkflowStartedAt != nil {
		return *v.WorkflowStartedAt
	}
	return v.CreatedAt
}

// lookup must be called with mu held.
func (s *VerificationStore) lookup(key model.RecordKey) (model.Verification, bool) {
	v, ok := s.records[key.VerificationID]
	if !ok || !v.CreatedAt.Equal(key.CreatedAt) {
		return model.Verification{}, false
	}
	return v, true
}

func clone(v model.Verification) model.Verification {
	if v.DocumentFields != nil {
		f := make(model.DocumentFields, len(v.DocumentFields))
		for k, x := range v.DocumentFields {
			f[k] = x
		}
		v.DocumentFields = f
	}
	if v.Moderation != nil {
		m := model.ModerationResult{
			Document: append([]model.ModerationLabel(nil), v.Moderation.Document...),
			Selfie:   append([]model.ModerationLabel(nil), v.Moderation.Selfie...),
		}
		v.Moderation = &m
	}
	if v.FaceMatch != nil {
		fm := *v.FaceMatch
		v.FaceMatch = &fm
	}
	if v.ResizedDocumentImage != nil {
		r := *v.ResizedDocumentImage
		v.ResizedDocumentImage = &r
	}
	if v.ResizedSelfieImage != nil {
		r := *v.ResizedSelfieImage
		v.ResizedSelfieImage = &r
	}
	if v.WorkflowStartedAt != nil {
		t := *v.WorkflowStartedAt
		v.WorkflowStartedAt = &t
	}
	return v
}
