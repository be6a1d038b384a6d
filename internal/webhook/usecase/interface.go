// Package usecase defines the interfaces and implementations for the webhook notification use cases.
// Use cases orchestrate the decoder, the event registry, the notification store and the deliverer
// to turn change events into durable, retried webhook deliveries.
package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	changeevent "github.com/allisson/hookrelay/internal/changeevent/domain"
	"github.com/allisson/hookrelay/internal/webhook/domain"
)

// NotificationRepository defines the notification store operations.
type NotificationRepository interface {
	Create(ctx context.Context, rec *domain.NotificationRecord) error
	Get(ctx context.Context, id uuid.UUID) (*domain.NotificationRecord, error)
	List(
		ctx context.Context,
		filter domain.NotificationFilter,
		offset, limit int,
	) ([]*domain.NotificationRecord, error)
	ClaimPending(ctx context.Context, limit int, now time.Time) ([]*domain.NotificationRecord, error)
	Transition(ctx context.Context, rec *domain.NotificationRecord, from domain.NotificationStatus) error
	RequeueFailed(ctx context.Context, now time.Time, maxAttempts int) (requeued int64, dead int64, err error)
	ReclaimStale(ctx context.Context, staleBefore, now time.Time) (int64, error)
	DeleteBySubscription(ctx context.Context, subscriptionID int64) (int64, error)
	CountByStatus(ctx context.Context) (map[domain.NotificationStatus]int64, error)
}

// SubscriptionLookup resolves a subscription by id.
type SubscriptionLookup interface {
	Get(ctx context.Context, id int64) (*domain.Subscription, error)
}

// Decoder turns a raw change envelope into a change event.
type Decoder interface {
	Decode(raw []byte) (changeevent.DecodeResult, error)
}

// EventMatcher maps change events to catalog events, payloads and subscribers.
type EventMatcher interface {
	Match(event *changeevent.ChangeEvent) (domain.EventDefinition, bool)
	BuildPayload(def domain.EventDefinition, event *changeevent.ChangeEvent) (json.RawMessage, bool, error)
	Subscribers(ctx context.Context, def domain.EventDefinition) ([]*domain.Subscription, error)
}

// Deliverer performs a bounded number of delivery attempts and reports how many were made.
type Deliverer interface {
	Deliver(ctx context.Context, sub *domain.Subscription, rec *domain.NotificationRecord, budget int) (int, error)
}

// IngestUseCase turns one change envelope into PENDING notification records.
type IngestUseCase interface {
	// Ingest decodes raw and creates one record per active subscriber of the matched event.
	// Malformed envelopes return an error wrapping apperrors.ErrInvalidInput and create nothing.
	Ingest(ctx context.Context, raw []byte) (*IngestResult, error)
}

// DispatcherUseCase drives notification records through delivery.
type DispatcherUseCase interface {
	// Start polls until ctx is canceled.
	Start(ctx context.Context) error
	// Sweep reclaims stale deliveries and requeues or retires FAILED records.
	Sweep(ctx context.Context) (*SweepStats, error)
	// DispatchOnce claims one batch of PENDING records and delivers them.
	DispatchOnce(ctx context.Context) (*DispatchStats, error)
}

// ConsumerUseCase feeds change envelopes from a message broker into the ingest pipeline.
type ConsumerUseCase interface {
	Start(ctx context.Context) error
}

// NotificationUseCase defines the administrative notification operations.
type NotificationUseCase interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.NotificationRecord, error)
	List(
		ctx context.Context,
		filter domain.NotificationFilter,
		offset, limit int,
	) ([]*domain.NotificationRecord, error)
	Stats(ctx context.Context) (map[domain.NotificationStatus]int64, error)
	// Redeliver creates a new PENDING record with the payload of a DELIVERED or DEAD record.
	Redeliver(ctx context.Context, id uuid.UUID) (*domain.NotificationRecord, error)
	// DeleteForSubscription removes every record of a subscription and returns how many went away.
	DeleteForSubscription(ctx context.Context, subscriptionID int64) (int64, error)
}
