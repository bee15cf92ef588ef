package mocks

import (
	"context"

	"idverify/internal/imaging"
	"idverify/internal/model"
	"idverify/internal/provider"

	"github.com/stretchr/testify/mock"
)

type MockDocumentAnalyzer struct {
	mock.Mock
}

func (m *MockDocumentAnalyzer) AnalyzeID(ctx context.Context, image []byte) (provider.AnalyzedDocument, error) {
	args := m.Called(ctx, image)
	return args.Get(0).(provider.AnalyzedDocument), args.Error(1)
}

type MockContentModerator struct {
	mock.Mock
}

func (m *MockContentModerator) DetectModerationLabels(ctx context.Context, image []byte) ([]model.ModerationLabel, error) {
	args := m.Called(ctx, image)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ModerationLabel), args.Error(1)
}

type MockFaceComparer struct {
	mock.Mock
}

func (m *MockFaceComparer) CompareFaces(ctx context.Context, source, target []byte, threshold float64) (model.FaceMatch, error) {
	args := m.Called(ctx, source, target, threshold)
	return args.Get(0).(model.FaceMatch), args.Error(1)
}

type MockImageResizer struct {
	mock.Mock
}

func (m *MockImageResizer) Resize(ctx context.Context, image []byte) (imaging.Resized, error) {
	args := m.Called(ctx, image)
	return args.Get(0).(imaging.Resized), args.Error(1)
}

type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) SendEmail(ctx context.Context, msg provider.Email) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
