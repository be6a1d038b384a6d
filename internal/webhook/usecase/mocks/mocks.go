// Package mocks provides mock implementations of the webhook use cases for handler and command tests.
package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/allisson/hookrelay/internal/webhook/domain"
	"github.com/allisson/hookrelay/internal/webhook/usecase"
)

// MockIngestUseCase is a mock implementation of IngestUseCase for testing.
type MockIngestUseCase struct {
	mock.Mock
}

// Ingest mocks the Ingest method of IngestUseCase.
func (m *MockIngestUseCase) Ingest(ctx context.Context, raw []byte) (*usecase.IngestResult, error) {
	args := m.Called(ctx, raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usecase.IngestResult), args.Error(1)
}

// MockNotificationUseCase is a mock implementation of NotificationUseCase for testing.
type MockNotificationUseCase struct {
	mock.Mock
}

// Get mocks the Get method of NotificationUseCase.
func (m *MockNotificationUseCase) Get(ctx context.Context, id uuid.UUID) (*domain.NotificationRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.NotificationRecord), args.Error(1)
}

// List mocks the List method of NotificationUseCase.
func (m *MockNotificationUseCase) List(
	ctx context.Context,
	filter domain.NotificationFilter,
	offset, limit int,
) ([]*domain.NotificationRecord, error) {
	args := m.Called(ctx, filter, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.NotificationRecord), args.Error(1)
}

// Stats mocks the Stats method of NotificationUseCase.
func (m *MockNotificationUseCase) Stats(ctx context.Context) (map[domain.NotificationStatus]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[domain.NotificationStatus]int64), args.Error(1)
}

// Redeliver mocks the Redeliver method of NotificationUseCase.
func (m *MockNotificationUseCase) Redeliver(ctx context.Context, id uuid.UUID) (*domain.NotificationRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.NotificationRecord), args.Error(1)
}

// DeleteForSubscription mocks the DeleteForSubscription method of NotificationUseCase.
func (m *MockNotificationUseCase) DeleteForSubscription(ctx context.Context, subscriptionID int64) (int64, error) {
	args := m.Called(ctx, subscriptionID)
	return args.Get(0).(int64), args.Error(1)
}

// MockDispatcherUseCase is a mock implementation of DispatcherUseCase for testing.
type MockDispatcherUseCase struct {
	mock.Mock
}

// Start mocks the Start method of DispatcherUseCase.
func (m *MockDispatcherUseCase) Start(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Sweep mocks the Sweep method of DispatcherUseCase.
func (m *MockDispatcherUseCase) Sweep(ctx context.Context) (*usecase.SweepStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usecase.SweepStats), args.Error(1)
}

// DispatchOnce mocks the DispatchOnce method of DispatcherUseCase.
func (m *MockDispatcherUseCase) DispatchOnce(ctx context.Context) (*usecase.DispatchStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usecase.DispatchStats), args.Error(1)
}

// MockConsumerUseCase is a mock implementation of ConsumerUseCase for testing.
type MockConsumerUseCase struct {
	mock.Mock
}

// Start mocks the Start method of ConsumerUseCase.
func (m *MockConsumerUseCase) Start(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
