package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	changeeventService "github.com/allisson/hookrelay/internal/changeevent/service"
	"github.com/allisson/hookrelay/internal/database"
	apperrors "github.com/allisson/hookrelay/internal/errors"
	"github.com/allisson/hookrelay/internal/testutil"
	"github.com/allisson/hookrelay/internal/webhook/domain"
	"github.com/allisson/hookrelay/internal/webhook/repository"
	"github.com/allisson/hookrelay/internal/webhook/service"
)

const productUpdateEnvelope = `{
	"op": "u",
	"before": {"id": 42, "name": "Gadget"},
	"after": {"id": 42, "name": "Widget"},
	"source": {"table": "product", "lsn": 24023128, "ts_ms": 1700000000000}
}`

func newTestIngestUseCase(
	txManager *MockTxManager,
	repo *MockNotificationRepository,
	registry *MockSubscriptionRegistry,
) IngestUseCase {
	return NewIngestUseCase(
		txManager,
		repo,
		changeeventService.NewDecoder(),
		service.NewEventRegistry(registry),
		nil,
	)
}

// TestIngestUseCase_Ingest tests the Ingest method of ingestUseCase.
func TestIngestUseCase_Ingest(t *testing.T) {
	ctx := context.Background()

	t.Run("Success_ProductUpdateCreatesPendingRecord", func(t *testing.T) {
		mockTxManager := &MockTxManager{}
		mockRepo := &MockNotificationRepository{}
		mockRegistry := &MockSubscriptionRegistry{}
		uc := newTestIngestUseCase(mockTxManager, mockRepo, mockRegistry)

		mockRegistry.On("ListActiveSubscriptionsFor", ctx, domain.EventProductUpdated).
			Return([]*domain.Subscription{{ID: 7, TargetURL: "http://example.com/hook", Active: true}}, nil).
			Once()
		mockTxManager.On("WithTx", ctx, mock.Anything).Return(nil).Once()

		var created *domain.NotificationRecord
		mockRepo.On("Create", ctx, mock.AnythingOfType("*domain.NotificationRecord")).
			Run(func(args mock.Arguments) {
				created = args.Get(1).(*domain.NotificationRecord)
			}).
			Return(nil).
			Once()

		result, err := uc.Ingest(ctx, []byte(productUpdateEnvelope))

		require.NoError(t, err)
		assert.Equal(t, IngestStatusCreated, result.Status)
		assert.Equal(t, domain.EventProductUpdated, result.EventName)
		assert.Equal(t, 0, result.Duplicates)
		require.Len(t, result.NotificationIDs, 1)

		require.NotNil(t, created)
		assert.Equal(t, result.NotificationIDs[0], created.ID)
		assert.Equal(t, int64(7), created.SubscriptionID)
		assert.Equal(t, domain.NotificationStatusPending, created.Status)
		assert.Equal(t, 0, created.AttemptCount)
		assert.Equal(t, "product@lsn:24023128", created.DedupKey)
		assert.JSONEq(t, `{"id":42,"name":"Widget"}`, string(created.Payload))

		mockTxManager.AssertExpectations(t)
		mockRepo.AssertExpectations(t)
		mockRegistry.AssertExpectations(t)
	})

	t.Run("Success_OneRecordPerSubscriber", func(t *testing.T) {
		mockTxManager := &MockTxManager{}
		mockRepo := &MockNotificationRepository{}
		mockRegistry := &MockSubscriptionRegistry{}
		uc := newTestIngestUseCase(mockTxManager, mockRepo, mockRegistry)

		mockRegistry.On("ListActiveSubscriptionsFor", ctx, domain.EventProductUpdated).
			Return([]*domain.Subscription{
				{ID: 3, Active: true},
				{ID: 1, Active: true},
				{ID: 2, Active: false},
			}, nil).
			Once()
		mockTxManager.On("WithTx", ctx, mock.Anything).Return(nil).Once()

		var subscriptionIDs []int64
		mockRepo.On("Create", ctx, mock.AnythingOfType("*domain.NotificationRecord")).
			Run(func(args mock.Arguments) {
				subscriptionIDs = append(subscriptionIDs, args.Get(1).(*domain.NotificationRecord).SubscriptionID)
			}).
			Return(nil).
			Twice()

		result, err := uc.Ingest(ctx, []byte(productUpdateEnvelope))

		require.NoError(t, err)
		assert.Len(t, result.NotificationIDs, 2)
		assert.Equal(t, []int64{1, 3}, subscriptionIDs)
		mockRepo.AssertExpectations(t)
	})

	t.Run("Success_UnknownOperationIsIgnored", func(t *testing.T) {
		mockTxManager := &MockTxManager{}
		mockRepo := &MockNotificationRepository{}
		mockRegistry := &MockSubscriptionRegistry{}
		uc := newTestIngestUseCase(mockTxManager, mockRepo, mockRegistry)

		result, err := uc.Ingest(ctx, []byte(`{"op": "k", "source": {"table": "product"}}`))

		require.NoError(t, err)
		assert.Equal(t, IngestStatusIgnored, result.Status)
		assert.Empty(t, result.NotificationIDs)
		mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		mockRegistry.AssertNotCalled(t, "ListActiveSubscriptionsFor", mock.Anything, mock.Anything)
	})

	t.Run("Error_MissingSourceTable", func(t *testing.T) {
		mockTxManager := &MockTxManager{}
		mockRepo := &MockNotificationRepository{}
		mockRegistry := &MockSubscriptionRegistry{}
		uc := newTestIngestUseCase(mockTxManager, mockRepo, mockRegistry)

		result, err := uc.Ingest(ctx, []byte(`{"op": "u", "after": {"id": 1}, "source": {}}`))

		assert.Nil(t, result)
		assert.True(t, apperrors.Is(err, apperrors.ErrInvalidInput))
		mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("Success_NoMatchingEvent", func(t *testing.T) {
		mockTxManager := &MockTxManager{}
		mockRepo := &MockNotificationRepository{}
		mockRegistry := &MockSubscriptionRegistry{}
		uc := newTestIngestUseCase(mockTxManager, mockRepo, mockRegistry)

		result, err := uc.Ingest(ctx, []byte(`{"op": "c", "after": {"id": 1}, "source": {"table": "customer"}}`))

		require.NoError(t, err)
		assert.Equal(t, IngestStatusNoMatch, result.Status)
		mockRegistry.AssertNotCalled(t, "ListActiveSubscriptionsFor", mock.Anything, mock.Anything)
	})

	t.Run("Success_PayloadBuilderSkipsUnchangedOrderStatus", func(t *testing.T) {
		mockTxManager := &MockTxManager{}
		mockRepo := &MockNotificationRepository{}
		mockRegistry := &MockSubscriptionRegistry{}
		uc := newTestIngestUseCase(mockTxManager, mockRepo, mockRegistry)

		raw := `{"op": "u", "before": {"id": 1, "order_status": "PAID"},
			"after": {"id": 1, "order_status": "PAID"}, "source": {"table": "order"}}`

		result, err := uc.Ingest(ctx, []byte(raw))

		require.NoError(t, err)
		assert.Equal(t, IngestStatusNoMatch, result.Status)
		assert.Equal(t, domain.EventOrderStatusUpdated, result.EventName)
		mockRegistry.AssertNotCalled(t, "ListActiveSubscriptionsFor", mock.Anything, mock.Anything)
	})

	t.Run("Success_NoSubscribers", func(t *testing.T) {
		mockTxManager := &MockTxManager{}
		mockRepo := &MockNotificationRepository{}
		mockRegistry := &MockSubscriptionRegistry{}
		uc := newTestIngestUseCase(mockTxManager, mockRepo, mockRegistry)

		mockRegistry.On("ListActiveSubscriptionsFor", ctx, domain.EventProductUpdated).
			Return([]*domain.Subscription{}, nil).
			Once()

		result, err := uc.Ingest(ctx, []byte(productUpdateEnvelope))

		require.NoError(t, err)
		assert.Equal(t, IngestStatusNoSubscribers, result.Status)
		mockTxManager.AssertNotCalled(t, "WithTx", mock.Anything, mock.Anything)
	})

	t.Run("Success_DuplicateIsCountedAndSkipped", func(t *testing.T) {
		mockTxManager := &MockTxManager{}
		mockRepo := &MockNotificationRepository{}
		mockRegistry := &MockSubscriptionRegistry{}
		uc := newTestIngestUseCase(mockTxManager, mockRepo, mockRegistry)

		mockRegistry.On("ListActiveSubscriptionsFor", ctx, domain.EventProductUpdated).
			Return([]*domain.Subscription{{ID: 1, Active: true}, {ID: 2, Active: true}}, nil).
			Once()
		mockTxManager.On("WithTx", ctx, mock.Anything).Return(nil).Once()
		mockRepo.On("Create", ctx, mock.MatchedBy(func(rec *domain.NotificationRecord) bool {
			return rec.SubscriptionID == 1
		})).Return(domain.ErrDuplicateNotification).Once()
		mockRepo.On("Create", ctx, mock.MatchedBy(func(rec *domain.NotificationRecord) bool {
			return rec.SubscriptionID == 2
		})).Return(nil).Once()

		result, err := uc.Ingest(ctx, []byte(productUpdateEnvelope))

		require.NoError(t, err)
		assert.Equal(t, IngestStatusCreated, result.Status)
		assert.Equal(t, 1, result.Duplicates)
		assert.Len(t, result.NotificationIDs, 1)
		mockRepo.AssertExpectations(t)
	})

	t.Run("Error_CreateFails", func(t *testing.T) {
		mockTxManager := &MockTxManager{}
		mockRepo := &MockNotificationRepository{}
		mockRegistry := &MockSubscriptionRegistry{}
		uc := newTestIngestUseCase(mockTxManager, mockRepo, mockRegistry)

		storeErr := errors.New("disk full")
		mockRegistry.On("ListActiveSubscriptionsFor", ctx, domain.EventProductUpdated).
			Return([]*domain.Subscription{{ID: 1, Active: true}}, nil).
			Once()
		mockTxManager.On("WithTx", ctx, mock.Anything).Return(nil).Once()
		mockRepo.On("Create", ctx, mock.Anything).Return(storeErr).Once()

		result, err := uc.Ingest(ctx, []byte(productUpdateEnvelope))

		assert.Nil(t, result)
		assert.ErrorIs(t, err, storeErr)
	})

	t.Run("Error_RegistryUnavailable", func(t *testing.T) {
		mockTxManager := &MockTxManager{}
		mockRepo := &MockNotificationRepository{}
		mockRegistry := &MockSubscriptionRegistry{}
		uc := newTestIngestUseCase(mockTxManager, mockRepo, mockRegistry)

		mockRegistry.On("ListActiveSubscriptionsFor", ctx, domain.EventProductUpdated).
			Return(nil, apperrors.ErrUnavailable).
			Once()

		result, err := uc.Ingest(ctx, []byte(productUpdateEnvelope))

		assert.Nil(t, result)
		assert.True(t, apperrors.Is(err, apperrors.ErrUnavailable))
		mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})
}

// TestIngestUseCase_SQLite runs the ingest pipeline against a real store and registry.
func TestIngestUseCase_SQLite(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupSQLiteDB(t)

	subID := testutil.CreateTestSubscription(t, db, database.DriverSQLite, "http://example.com/hook", "ON_PRODUCT_UPDATED")
	testutil.CreateInactiveTestSubscription(t, db, database.DriverSQLite, "http://example.com/off", "ON_PRODUCT_UPDATED")
	testutil.CreateTestSubscription(t, db, database.DriverSQLite, "http://example.com/other", "ON_PRODUCT_CREATED")

	repo := repository.NewSQLiteNotificationRepository(db)
	uc := NewIngestUseCase(
		database.NewTxManager(db),
		repo,
		changeeventService.NewDecoder(),
		service.NewEventRegistry(repository.NewSQLSubscriptionRegistry(db, database.DriverSQLite)),
		nil,
	)

	result, err := uc.Ingest(ctx, []byte(productUpdateEnvelope))
	require.NoError(t, err)
	require.Len(t, result.NotificationIDs, 1)

	rec, err := repo.Get(ctx, result.NotificationIDs[0])
	require.NoError(t, err)
	assert.Equal(t, subID, rec.SubscriptionID)
	assert.Equal(t, domain.NotificationStatusPending, rec.Status)
	assert.JSONEq(t, `{"id":42,"name":"Widget"}`, string(rec.Payload))

	// The same source position is delivered once per subscription.
	again, err := uc.Ingest(ctx, []byte(productUpdateEnvelope))
	require.NoError(t, err)
	assert.Equal(t, 1, again.Duplicates)
	assert.Empty(t, again.NotificationIDs)
	assert.Equal(t, 1, testutil.CountNotifications(t, db))
}
