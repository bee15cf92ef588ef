package mocks

import (
	"context"

	"idverify/internal/service"

	"github.com/stretchr/testify/mock"
)

type MockVerificationService struct {
	mock.Mock
}

func (m *MockVerificationService) Submit(ctx context.Context, sub service.Submission) (*service.SubmitResult, error) {
	args := m.Called(ctx, sub)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.SubmitResult), args.Error(1)
}

func (m *MockVerificationService) HandleObjectCreated(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockVerificationService) Status(ctx context.Context, id, caller string) (*service.VerificationView, error) {
	args := m.Called(ctx, id, caller)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.VerificationView), args.Error(1)
}

func (m *MockVerificationService) Delete(ctx context.Context, id, caller string) error {
	args := m.Called(ctx, id, caller)
	return args.Error(0)
}
