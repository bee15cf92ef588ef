package mocks

import (
	"context"
	"time"

	"idverify/internal/model"

	"github.com/stretchr/testify/mock"
)

type MockVerificationRepository struct {
	mock.Mock
}

func (m *MockVerificationRepository) Create(ctx context.Context, v *model.Verification) error {
	args := m.Called(ctx, v)
	return args.Error(0)
}

func (m *MockVerificationRepository) FindLatest(ctx context.Context, id string) (*model.Verification, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Verification), args.Error(1)
}

func (m *MockVerificationRepository) SaveDocumentFields(ctx context.Context, key model.RecordKey, fields model.DocumentFields, at time.Time) error {
	args := m.Called(ctx, key, fields, at)
	return args.Error(0)
}

func (m *MockVerificationRepository) SaveModeration(ctx context.Context, key model.RecordKey, res model.ModerationResult, at time.Time) error {
	args := m.Called(ctx, key, res, at)
	return args.Error(0)
}

func (m *MockVerificationRepository) SaveFaceMatch(ctx context.Context, key model.RecordKey, fm model.FaceMatch, at time.Time) error {
	args := m.Called(ctx, key, fm, at)
	return args.Error(0)
}

func (m *MockVerificationRepository) SaveResizedImages(ctx context.Context, key model.RecordKey, document, selfie model.ImageRef, at time.Time) error {
	args := m.Called(ctx, key, document, selfie, at)
	return args.Error(0)
}

func (m *MockVerificationRepository) AdvanceStatus(ctx context.Context, key model.RecordKey, status model.Status, reason string, at time.Time) (bool, error) {
	args := m.Called(ctx, key, status, reason, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockVerificationRepository) MarkUploaded(ctx context.Context, key model.RecordKey, category string, runID string, at time.Time) (bool, error) {
	args := m.Called(ctx, key, category, runID, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockVerificationRepository) Delete(ctx context.Context, key model.RecordKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockVerificationRepository) ListExpired(ctx context.Context, before time.Time, limit int) ([]model.Verification, error) {
	args := m.Called(ctx, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Verification), args.Error(1)
}

func (m *MockVerificationRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]model.Verification, error) {
	args := m.Called(ctx, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Verification), args.Error(1)
}
