package usecase

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	changeeventService "github.com/allisson/hookrelay/internal/changeevent/service"
	"github.com/allisson/hookrelay/internal/database"
	"github.com/allisson/hookrelay/internal/resilience"
	"github.com/allisson/hookrelay/internal/testutil"
	"github.com/allisson/hookrelay/internal/webhook/domain"
	"github.com/allisson/hookrelay/internal/webhook/repository"
	"github.com/allisson/hookrelay/internal/webhook/service"
)

func testResilienceConfig(maxRetries int) resilience.Config {
	return resilience.Config{
		MaxRetries:           maxRetries,
		BackoffBase:          time.Millisecond,
		BackoffMultiplier:    2,
		BackoffMax:           5 * time.Millisecond,
		FailureRateThreshold: 50,
		Window:               time.Minute,
		WindowBuckets:        6,
		MinimumCalls:         20,
		OpenStateCooldown:    time.Minute,
		HalfOpenMaxCalls:     1,
		CallTimeout:          100 * time.Millisecond,
	}
}

type pipeline struct {
	db         *sql.DB
	repo       *repository.SQLiteNotificationRepository
	ingest     IngestUseCase
	dispatcher DispatcherUseCase
}

// newPipeline wires ingest and dispatch over an in-memory store, with one active subscriber
// for ON_PRODUCT_UPDATED at targetURL.
func newPipeline(t *testing.T, targetURL string, proxyRetries, maxAttempts int) *pipeline {
	t.Helper()

	db := testutil.SetupSQLiteDB(t)
	testutil.CreateTestSubscription(t, db, database.DriverSQLite, targetURL, "ON_PRODUCT_UPDATED")

	repo := repository.NewSQLiteNotificationRepository(db)
	registry := repository.NewSQLSubscriptionRegistry(db, database.DriverSQLite)

	cfg := testResilienceConfig(proxyRetries)
	proxy := resilience.NewProxy(cfg, resilience.NewRegistry(cfg, nil), nil, nil)
	deliverer := service.NewDeliverer(proxy, service.NewWebhookSender(nil, service.SenderConfig{}, nil), nil)

	return &pipeline{
		db:   db,
		repo: repo,
		ingest: NewIngestUseCase(
			database.NewTxManager(db),
			repo,
			changeeventService.NewDecoder(),
			service.NewEventRegistry(registry),
			nil,
		),
		dispatcher: NewDispatcherUseCase(DispatcherConfig{
			Workers:         2,
			BatchSize:       10,
			PollInterval:    10 * time.Millisecond,
			MaxAttempts:     maxAttempts,
			DeliveryTimeout: time.Minute,
		}, repo, registry, deliverer, nil, nil),
	}
}

func (p *pipeline) ingestOne(t *testing.T) uuid.UUID {
	t.Helper()
	result, err := p.ingest.Ingest(context.Background(), []byte(productUpdateEnvelope))
	require.NoError(t, err)
	require.Len(t, result.NotificationIDs, 1)
	return result.NotificationIDs[0]
}

// scriptedServer answers with codes in order and repeats the last one.
func scriptedServer(codes ...int) (*httptest.Server, *atomic.Int32) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hits.Add(1)) - 1
		if n >= len(codes) {
			n = len(codes) - 1
		}
		w.WriteHeader(codes[n])
	}))
	return server, &hits
}

// TestDispatcherUseCase_Scenarios drives records end to end through real HTTP subscribers.
func TestDispatcherUseCase_Scenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("Success_DeliveredAfterTwoServerErrors", func(t *testing.T) {
		server, hits := scriptedServer(http.StatusInternalServerError, http.StatusInternalServerError, http.StatusOK)
		defer server.Close()
		p := newPipeline(t, server.URL, 3, 3)
		id := p.ingestOne(t)

		stats, err := p.dispatcher.DispatchOnce(ctx)

		require.NoError(t, err)
		assert.Equal(t, &DispatchStats{Claimed: 1, Delivered: 1}, stats)
		assert.Equal(t, int32(3), hits.Load())

		rec, err := p.repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.NotificationStatusDelivered, rec.Status)
		assert.Equal(t, 3, rec.AttemptCount)
		assert.Nil(t, rec.LastError)
		assert.Nil(t, rec.NextAttemptAt)
	})

	t.Run("Error_AlwaysTimesOutGoesDead", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			<-r.Context().Done()
		}))
		defer server.Close()
		p := newPipeline(t, server.URL, 3, 3)
		id := p.ingestOne(t)

		stats, err := p.dispatcher.DispatchOnce(ctx)

		require.NoError(t, err)
		assert.Equal(t, &DispatchStats{Claimed: 1, Dead: 1}, stats)
		assert.Equal(t, int32(3), hits.Load())

		rec, err := p.repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.NotificationStatusDead, rec.Status)
		assert.Equal(t, 3, rec.AttemptCount)
		assert.False(t, rec.Permanent)
		require.NotNil(t, rec.LastError)
		assert.Nil(t, rec.NextAttemptAt)
	})

	t.Run("Error_ClientErrorIsPermanent", func(t *testing.T) {
		server, hits := scriptedServer(http.StatusBadRequest)
		defer server.Close()
		p := newPipeline(t, server.URL, 3, 3)
		id := p.ingestOne(t)

		stats, err := p.dispatcher.DispatchOnce(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, stats.Dead)
		assert.Equal(t, int32(1), hits.Load())

		rec, err := p.repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.NotificationStatusDead, rec.Status)
		assert.Equal(t, 1, rec.AttemptCount)
		assert.True(t, rec.Permanent)
	})

	t.Run("Success_RetriedAcrossDispatches", func(t *testing.T) {
		server, hits := scriptedServer(http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusOK)
		defer server.Close()
		// One attempt per dispatch; the record budget spans three dispatches.
		p := newPipeline(t, server.URL, 1, 3)
		id := p.ingestOne(t)

		for round, wantAttempts := range []int{1, 2} {
			stats, err := p.dispatcher.DispatchOnce(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, stats.Failed, "round %d", round)

			rec, err := p.repo.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, domain.NotificationStatusFailed, rec.Status)
			assert.Equal(t, wantAttempts, rec.AttemptCount)

			sweep, err := p.dispatcher.Sweep(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), sweep.Requeued)
		}

		stats, err := p.dispatcher.DispatchOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Delivered)
		assert.Equal(t, int32(3), hits.Load())

		rec, err := p.repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.NotificationStatusDelivered, rec.Status)
		assert.Equal(t, 3, rec.AttemptCount)
	})

	t.Run("Error_InactiveSubscriptionGoesDead", func(t *testing.T) {
		server, hits := scriptedServer(http.StatusOK)
		defer server.Close()
		p := newPipeline(t, server.URL, 3, 3)
		id := p.ingestOne(t)

		_, err := p.db.ExecContext(ctx, `UPDATE webhooks SET is_active = 0`)
		require.NoError(t, err)

		stats, err := p.dispatcher.DispatchOnce(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, stats.Dead)
		assert.Equal(t, int32(0), hits.Load())

		rec, err := p.repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.NotificationStatusDead, rec.Status)
		assert.Equal(t, 0, rec.AttemptCount)
		assert.True(t, rec.Permanent)
	})

	t.Run("Success_TerminalRecordsAreNotClaimedAgain", func(t *testing.T) {
		server, hits := scriptedServer(http.StatusOK)
		defer server.Close()
		p := newPipeline(t, server.URL, 3, 3)
		p.ingestOne(t)

		first, err := p.dispatcher.DispatchOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, first.Delivered)

		_, err = p.dispatcher.Sweep(ctx)
		require.NoError(t, err)
		second, err := p.dispatcher.DispatchOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, second.Claimed)
		assert.Equal(t, int32(1), hits.Load())
	})
}

func newMockDispatcher(
	repo *MockNotificationRepository,
	registry *MockSubscriptionRegistry,
	deliverer *MockDeliverer,
	deliveryMetrics *mockDeliveryMetrics,
) *dispatcherUseCase {
	uc := NewDispatcherUseCase(DispatcherConfig{
		Workers:          2,
		BatchSize:        5,
		PollInterval:     5 * time.Millisecond,
		MaxAttempts:      3,
		DeliveryTimeout:  time.Minute,
		RetryBackoffBase: time.Second,
		RetryBackoffMax:  4 * time.Second,
	}, repo, registry, deliverer, deliveryMetrics, nil).(*dispatcherUseCase)
	return uc
}

func claimedRecord(attempts int) *domain.NotificationRecord {
	rec := domain.NewNotificationRecord(1, domain.EventProductUpdated, []byte(`{}`), "", time.Now().UTC())
	rec.Status = domain.NotificationStatusDelivering
	rec.AttemptCount = attempts
	return rec
}

// TestDispatcherUseCase_Deliver tests the per-record delivery decisions.
func TestDispatcherUseCase_Deliver(t *testing.T) {
	ctx := context.Background()
	sub := &domain.Subscription{ID: 1, TargetURL: "http://example.com/hook", Active: true}

	t.Run("Success_BudgetIsWhatRemains", func(t *testing.T) {
		mockRepo := &MockNotificationRepository{}
		mockRegistry := &MockSubscriptionRegistry{}
		mockDeliverer := &MockDeliverer{}
		mockMetrics := &mockDeliveryMetrics{}
		uc := newMockDispatcher(mockRepo, mockRegistry, mockDeliverer, mockMetrics)

		rec := claimedRecord(2)
		mockRegistry.On("Get", mock.Anything, int64(1)).Return(sub, nil).Once()
		mockDeliverer.On("Deliver", mock.Anything, sub, rec, 1).Return(1, nil).Once()
		mockRepo.On("Transition", mock.Anything, rec, domain.NotificationStatusDelivering).Return(nil).Once()
		mockMetrics.On("RecordNotificationOutcome", ctx, "delivered").Return().Once()

		outcome := uc.deliver(ctx, rec)

		assert.Equal(t, outcomeDelivered, outcome)
		assert.Equal(t, 3, rec.AttemptCount)
		mockDeliverer.AssertExpectations(t)
		mockRepo.AssertExpectations(t)
		mockMetrics.AssertExpectations(t)
	})

	t.Run("Success_FailureSchedulesBackoff", func(t *testing.T) {
		mockRepo := &MockNotificationRepository{}
		mockRegistry := &MockSubscriptionRegistry{}
		mockDeliverer := &MockDeliverer{}
		mockMetrics := &mockDeliveryMetrics{}
		uc := newMockDispatcher(mockRepo, mockRegistry, mockDeliverer, mockMetrics)
		now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		uc.now = func() time.Time { return now }

		rec := claimedRecord(0)
		mockRegistry.On("Get", mock.Anything, int64(1)).Return(sub, nil).Once()
		mockDeliverer.On("Deliver", mock.Anything, sub, rec, 3).
			Return(2, &resilience.StatusError{StatusCode: http.StatusBadGateway}).
			Once()
		mockRepo.On("Transition", mock.Anything, rec, domain.NotificationStatusDelivering).Return(nil).Once()
		mockMetrics.On("RecordNotificationOutcome", mock.Anything, "failed").Return().Once()

		outcome := uc.deliver(ctx, rec)

		assert.Equal(t, outcomeFailed, outcome)
		assert.Equal(t, domain.NotificationStatusFailed, rec.Status)
		assert.Equal(t, 2, rec.AttemptCount)
		require.NotNil(t, rec.NextAttemptAt)
		assert.Equal(t, now.Add(2*time.Second), *rec.NextAttemptAt)
		mockRepo.AssertExpectations(t)
	})

	t.Run("Error_RegistryUnavailableIsRetried", func(t *testing.T) {
		mockRepo := &MockNotificationRepository{}
		mockRegistry := &MockSubscriptionRegistry{}
		mockDeliverer := &MockDeliverer{}
		mockMetrics := &mockDeliveryMetrics{}
		uc := newMockDispatcher(mockRepo, mockRegistry, mockDeliverer, mockMetrics)

		rec := claimedRecord(0)
		mockRegistry.On("Get", mock.Anything, int64(1)).Return(nil, errors.New("registry down")).Once()
		mockRepo.On("Transition", mock.Anything, rec, domain.NotificationStatusDelivering).Return(nil).Once()
		mockMetrics.On("RecordNotificationOutcome", mock.Anything, "failed").Return().Once()

		outcome := uc.deliver(ctx, rec)

		assert.Equal(t, outcomeFailed, outcome)
		assert.False(t, rec.Permanent)
		assert.Equal(t, 0, rec.AttemptCount)
		mockDeliverer.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Error_MissingSubscriptionGoesDead", func(t *testing.T) {
		mockRepo := &MockNotificationRepository{}
		mockRegistry := &MockSubscriptionRegistry{}
		mockDeliverer := &MockDeliverer{}
		mockMetrics := &mockDeliveryMetrics{}
		uc := newMockDispatcher(mockRepo, mockRegistry, mockDeliverer, mockMetrics)

		rec := claimedRecord(0)
		mockRegistry.On("Get", mock.Anything, int64(1)).Return(nil, domain.ErrSubscriptionNotFound).Once()
		mockRepo.On("Transition", mock.Anything, rec, domain.NotificationStatusDelivering).Return(nil).Once()
		mockRepo.On("Transition", mock.Anything, rec, domain.NotificationStatusFailed).Return(nil).Once()
		mockMetrics.On("RecordNotificationOutcome", mock.Anything, "dead").Return().Once()

		outcome := uc.deliver(ctx, rec)

		assert.Equal(t, outcomeDead, outcome)
		assert.Equal(t, domain.NotificationStatusDead, rec.Status)
		assert.True(t, rec.Permanent)
		mockRepo.AssertExpectations(t)
	})

	t.Run("Error_LostTransitionIsSkipped", func(t *testing.T) {
		mockRepo := &MockNotificationRepository{}
		mockRegistry := &MockSubscriptionRegistry{}
		mockDeliverer := &MockDeliverer{}
		mockMetrics := &mockDeliveryMetrics{}
		uc := newMockDispatcher(mockRepo, mockRegistry, mockDeliverer, mockMetrics)

		rec := claimedRecord(0)
		mockRegistry.On("Get", mock.Anything, int64(1)).Return(sub, nil).Once()
		mockDeliverer.On("Deliver", mock.Anything, sub, rec, 3).Return(1, nil).Once()
		mockRepo.On("Transition", mock.Anything, rec, domain.NotificationStatusDelivering).
			Return(domain.ErrInvalidTransition).
			Once()

		outcome := uc.deliver(ctx, rec)

		assert.Equal(t, outcomeSkipped, outcome)
		mockMetrics.AssertNotCalled(t, "RecordNotificationOutcome", mock.Anything, mock.Anything)
	})
}

func TestDispatcherUseCase_Deliver_BoundedByDeliveryTimeout(t *testing.T) {
	ctx := context.Background()
	sub := &domain.Subscription{ID: 1, TargetURL: "http://example.com/hook", Active: true}

	mockRepo := &MockNotificationRepository{}
	mockRegistry := &MockSubscriptionRegistry{}
	mockDeliverer := &MockDeliverer{}
	mockMetrics := &mockDeliveryMetrics{}
	uc := newMockDispatcher(mockRepo, mockRegistry, mockDeliverer, mockMetrics)

	rec := claimedRecord(0)
	claimedAt := time.Now().Add(-20 * time.Second)
	rec.LastAttemptAt = &claimedAt
	mockRegistry.On("Get", mock.Anything, int64(1)).Return(sub, nil).Once()
	mockDeliverer.On("Deliver", mock.Anything, sub, rec, 3).
		Run(func(args mock.Arguments) {
			deadline, ok := args.Get(0).(context.Context).Deadline()
			require.True(t, ok)
			assert.Equal(t, claimedAt.Add(time.Minute), deadline, "deadline counts from the claim")
		}).
		Return(1, nil).
		Once()
	mockRepo.On("Transition", mock.Anything, rec, domain.NotificationStatusDelivering).
		Run(func(args mock.Arguments) {
			_, ok := args.Get(0).(context.Context).Deadline()
			assert.False(t, ok)
		}).
		Return(nil).
		Once()
	mockMetrics.On("RecordNotificationOutcome", ctx, "delivered").Return().Once()

	assert.Equal(t, outcomeDelivered, uc.deliver(ctx, rec))
	mockDeliverer.AssertExpectations(t)
	mockRepo.AssertExpectations(t)
}

// TestDispatcherUseCase_Sweep tests the Sweep method of dispatcherUseCase.
func TestDispatcherUseCase_Sweep(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mockRepo := &MockNotificationRepository{}
		mockMetrics := &mockDeliveryMetrics{}
		uc := newMockDispatcher(mockRepo, &MockSubscriptionRegistry{}, &MockDeliverer{}, mockMetrics)
		now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		uc.now = func() time.Time { return now }

		mockRepo.On("ReclaimStale", ctx, now.Add(-time.Minute), now).Return(int64(1), nil).Once()
		mockRepo.On("RequeueFailed", ctx, now, 3).Return(int64(2), int64(1), nil).Once()
		mockMetrics.On("RecordNotificationOutcome", ctx, "dead").Return().Once()

		stats, err := uc.Sweep(ctx)

		require.NoError(t, err)
		assert.Equal(t, &SweepStats{Reclaimed: 1, Requeued: 2, Dead: 1}, stats)
		mockRepo.AssertExpectations(t)
		mockMetrics.AssertExpectations(t)
	})

	t.Run("Error_ReclaimFails", func(t *testing.T) {
		mockRepo := &MockNotificationRepository{}
		uc := newMockDispatcher(mockRepo, &MockSubscriptionRegistry{}, &MockDeliverer{}, &mockDeliveryMetrics{})

		mockRepo.On("ReclaimStale", ctx, mock.Anything, mock.Anything).Return(int64(0), errors.New("boom")).Once()

		stats, err := uc.Sweep(ctx)

		assert.Nil(t, stats)
		assert.EqualError(t, err, "boom")
		mockRepo.AssertNotCalled(t, "RequeueFailed", mock.Anything, mock.Anything, mock.Anything)
	})
}

// TestDispatcherUseCase_RetryBackoff tests the capped exponential schedule.
func TestDispatcherUseCase_RetryBackoff(t *testing.T) {
	uc := newMockDispatcher(&MockNotificationRepository{}, &MockSubscriptionRegistry{}, &MockDeliverer{}, nil)

	assert.Equal(t, time.Second, uc.retryBackoff(0))
	assert.Equal(t, time.Second, uc.retryBackoff(1))
	assert.Equal(t, 2*time.Second, uc.retryBackoff(2))
	assert.Equal(t, 4*time.Second, uc.retryBackoff(3))
	assert.Equal(t, 4*time.Second, uc.retryBackoff(10))
	assert.Equal(t, 4*time.Second, uc.retryBackoff(200))
}

// TestDispatcherUseCase_DispatchOnce tests the worker pool with mocked dependencies.
func TestDispatcherUseCase_DispatchOnce(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()

	t.Run("Success_EveryClaimedRecordDeliveredOnce", func(t *testing.T) {
		mockRepo := &MockNotificationRepository{}
		mockRegistry := &MockSubscriptionRegistry{}
		mockDeliverer := &MockDeliverer{}
		uc := newMockDispatcher(mockRepo, mockRegistry, mockDeliverer, nil)

		sub := &domain.Subscription{ID: 1, TargetURL: "http://example.com/hook", Active: true}
		records := []*domain.NotificationRecord{claimedRecord(0), claimedRecord(0), claimedRecord(0), claimedRecord(0)}

		mockRepo.On("ClaimPending", ctx, 5, mock.Anything).Return(records, nil).Once()
		mockRegistry.On("Get", mock.Anything, int64(1)).Return(sub, nil)
		for _, rec := range records {
			mockDeliverer.On("Deliver", mock.Anything, sub, rec, 3).Return(1, nil).Once()
			mockRepo.On("Transition", mock.Anything, rec, domain.NotificationStatusDelivering).Return(nil).Once()
		}

		stats, err := uc.DispatchOnce(ctx)

		require.NoError(t, err)
		assert.Equal(t, &DispatchStats{Claimed: 4, Delivered: 4}, stats)
		mockDeliverer.AssertExpectations(t)
		mockRepo.AssertExpectations(t)
	})

	t.Run("Success_NothingToClaim", func(t *testing.T) {
		mockRepo := &MockNotificationRepository{}
		uc := newMockDispatcher(mockRepo, &MockSubscriptionRegistry{}, &MockDeliverer{}, nil)

		mockRepo.On("ClaimPending", ctx, 5, mock.Anything).Return([]*domain.NotificationRecord{}, nil).Once()

		stats, err := uc.DispatchOnce(ctx)

		require.NoError(t, err)
		assert.Equal(t, 0, stats.Claimed)
	})

	t.Run("Error_ClaimFails", func(t *testing.T) {
		mockRepo := &MockNotificationRepository{}
		uc := newMockDispatcher(mockRepo, &MockSubscriptionRegistry{}, &MockDeliverer{}, nil)

		mockRepo.On("ClaimPending", ctx, 5, mock.Anything).Return(nil, errors.New("locked")).Once()

		stats, err := uc.DispatchOnce(ctx)

		assert.Nil(t, stats)
		assert.EqualError(t, err, "locked")
	})
}

// TestDispatcherUseCase_Start tests that the poll loop stops with its context and leaks nothing.
func TestDispatcherUseCase_Start(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	mockRepo := &MockNotificationRepository{}
	uc := newMockDispatcher(mockRepo, &MockSubscriptionRegistry{}, &MockDeliverer{}, nil)

	mockRepo.On("ReclaimStale", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), nil)
	mockRepo.On("RequeueFailed", mock.Anything, mock.Anything, 3).Return(int64(0), int64(0), nil)
	mockRepo.On("ClaimPending", mock.Anything, 5, mock.Anything).Return([]*domain.NotificationRecord{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := uc.Start(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	mockRepo.AssertCalled(t, "ClaimPending", mock.Anything, 5, mock.Anything)
}
