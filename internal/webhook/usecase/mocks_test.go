package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/allisson/hookrelay/internal/metrics"
	"github.com/allisson/hookrelay/internal/webhook/domain"
)

// MockTxManager runs the callback unless an error is configured.
type MockTxManager struct {
	mock.Mock
}

func (m *MockTxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	args := m.Called(ctx, fn)
	if args.Get(0) != nil {
		return args.Error(0)
	}
	return fn(ctx)
}

// MockNotificationRepository is a mock implementation of NotificationRepository.
type MockNotificationRepository struct {
	mock.Mock
}

func (m *MockNotificationRepository) Create(ctx context.Context, rec *domain.NotificationRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockNotificationRepository) Get(ctx context.Context, id uuid.UUID) (*domain.NotificationRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.NotificationRecord), args.Error(1)
}

func (m *MockNotificationRepository) List(
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

func (m *MockNotificationRepository) ClaimPending(
	ctx context.Context,
	limit int,
	now time.Time,
) ([]*domain.NotificationRecord, error) {
	args := m.Called(ctx, limit, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.NotificationRecord), args.Error(1)
}

func (m *MockNotificationRepository) Transition(
	ctx context.Context,
	rec *domain.NotificationRecord,
	from domain.NotificationStatus,
) error {
	args := m.Called(ctx, rec, from)
	return args.Error(0)
}

func (m *MockNotificationRepository) RequeueFailed(
	ctx context.Context,
	now time.Time,
	maxAttempts int,
) (int64, int64, error) {
	args := m.Called(ctx, now, maxAttempts)
	return args.Get(0).(int64), args.Get(1).(int64), args.Error(2)
}

func (m *MockNotificationRepository) ReclaimStale(ctx context.Context, staleBefore, now time.Time) (int64, error) {
	args := m.Called(ctx, staleBefore, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockNotificationRepository) DeleteBySubscription(ctx context.Context, subscriptionID int64) (int64, error) {
	args := m.Called(ctx, subscriptionID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockNotificationRepository) CountByStatus(ctx context.Context) (map[domain.NotificationStatus]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[domain.NotificationStatus]int64), args.Error(1)
}

// MockSubscriptionRegistry is a mock implementation of the subscription registry.
type MockSubscriptionRegistry struct {
	mock.Mock
}

func (m *MockSubscriptionRegistry) ListActiveSubscriptionsFor(
	ctx context.Context,
	name domain.EventName,
) ([]*domain.Subscription, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Subscription), args.Error(1)
}

func (m *MockSubscriptionRegistry) Get(ctx context.Context, id int64) (*domain.Subscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Subscription), args.Error(1)
}

// MockDeliverer is a mock implementation of Deliverer.
type MockDeliverer struct {
	mock.Mock
}

func (m *MockDeliverer) Deliver(
	ctx context.Context,
	sub *domain.Subscription,
	rec *domain.NotificationRecord,
	budget int,
) (int, error) {
	args := m.Called(ctx, sub, rec, budget)
	return args.Int(0), args.Error(1)
}

// mockBusinessMetrics is a mock implementation of metrics.BusinessMetrics for testing.
type mockBusinessMetrics struct {
	mock.Mock
}

func (m *mockBusinessMetrics) RecordOperation(ctx context.Context, domain, operation, status string) {
	m.Called(ctx, domain, operation, status)
}

func (m *mockBusinessMetrics) RecordDuration(
	ctx context.Context,
	domain, operation string,
	duration time.Duration,
	status string,
) {
	m.Called(ctx, domain, operation, duration, status)
}

var _ metrics.BusinessMetrics = (*mockBusinessMetrics)(nil)

// mockDeliveryMetrics is a mock implementation of metrics.DeliveryMetrics for testing.
type mockDeliveryMetrics struct {
	mock.Mock
}

func (m *mockDeliveryMetrics) RecordAttempt(ctx context.Context, target, outcome string) {
	m.Called(ctx, target, outcome)
}

func (m *mockDeliveryMetrics) RecordCircuitTransition(ctx context.Context, target, from, to string) {
	m.Called(ctx, target, from, to)
}

func (m *mockDeliveryMetrics) RecordNotificationOutcome(ctx context.Context, status string) {
	m.Called(ctx, status)
}

var _ metrics.DeliveryMetrics = (*mockDeliveryMetrics)(nil)

// MockIngestUseCase is a mock implementation of IngestUseCase.
type MockIngestUseCase struct {
	mock.Mock
}

func (m *MockIngestUseCase) Ingest(ctx context.Context, raw []byte) (*IngestResult, error) {
	args := m.Called(ctx, raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*IngestResult), args.Error(1)
}

// MockNotificationUseCase is a mock implementation of NotificationUseCase.
type MockNotificationUseCase struct {
	mock.Mock
}

func (m *MockNotificationUseCase) Get(ctx context.Context, id uuid.UUID) (*domain.NotificationRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.NotificationRecord), args.Error(1)
}

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

func (m *MockNotificationUseCase) Stats(ctx context.Context) (map[domain.NotificationStatus]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[domain.NotificationStatus]int64), args.Error(1)
}

func (m *MockNotificationUseCase) Redeliver(ctx context.Context, id uuid.UUID) (*domain.NotificationRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.NotificationRecord), args.Error(1)
}

func (m *MockNotificationUseCase) DeleteForSubscription(ctx context.Context, subscriptionID int64) (int64, error) {
	args := m.Called(ctx, subscriptionID)
	return args.Get(0).(int64), args.Error(1)
}

// MockDispatcherUseCase is a mock implementation of DispatcherUseCase.
type MockDispatcherUseCase struct {
	mock.Mock
}

func (m *MockDispatcherUseCase) Start(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockDispatcherUseCase) Sweep(ctx context.Context) (*SweepStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SweepStats), args.Error(1)
}

func (m *MockDispatcherUseCase) DispatchOnce(ctx context.Context) (*DispatchStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*DispatchStats), args.Error(1)
}
