package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/allisson/hookrelay/internal/errors"
	"github.com/allisson/hookrelay/internal/metrics"
	"github.com/allisson/hookrelay/internal/webhook/domain"
)

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ingestUseCaseWithMetrics decorates IngestUseCase with metrics instrumentation.
type ingestUseCaseWithMetrics struct {
	next    IngestUseCase
	metrics metrics.BusinessMetrics
}

// NewIngestUseCaseWithMetrics wraps an IngestUseCase with metrics recording.
func NewIngestUseCaseWithMetrics(useCase IngestUseCase, m metrics.BusinessMetrics) IngestUseCase {
	return &ingestUseCaseWithMetrics{
		next:    useCase,
		metrics: m,
	}
}

// Ingest records the decode outcome, the match outcome and the overall ingest status.
func (i *ingestUseCaseWithMetrics) Ingest(ctx context.Context, raw []byte) (*IngestResult, error) {
	start := time.Now()
	result, err := i.next.Ingest(ctx, raw)

	var status string
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput):
		status = "malformed"
		i.metrics.RecordOperation(ctx, metrics.ComponentPipeline, "decode", "malformed")
	case err != nil:
		status = "error"
	default:
		status = string(result.Status)
		if result.Status == IngestStatusIgnored {
			i.metrics.RecordOperation(ctx, metrics.ComponentPipeline, "decode", "ignored")
		} else {
			i.metrics.RecordOperation(ctx, metrics.ComponentPipeline, "decode", "decoded")
			match := "matched"
			if result.Status == IngestStatusNoMatch {
				match = "no_match"
			}
			i.metrics.RecordOperation(ctx, metrics.ComponentPipeline, "match", match)
		}
		for range result.NotificationIDs {
			i.metrics.RecordOperation(ctx, metrics.ComponentPipeline, "notification_create", "success")
		}
		for range result.Duplicates {
			i.metrics.RecordOperation(ctx, metrics.ComponentPipeline, "notification_create", "duplicate")
		}
	}

	i.metrics.RecordOperation(ctx, metrics.ComponentPipeline, "ingest", status)
	i.metrics.RecordDuration(ctx, metrics.ComponentPipeline, "ingest", time.Since(start), status)

	return result, err
}

// dispatcherUseCaseWithMetrics decorates DispatcherUseCase with metrics instrumentation.
type dispatcherUseCaseWithMetrics struct {
	next    DispatcherUseCase
	metrics metrics.BusinessMetrics
}

// NewDispatcherUseCaseWithMetrics wraps a DispatcherUseCase with metrics recording. Start polls
// through the decorator so every tick is measured.
func NewDispatcherUseCaseWithMetrics(useCase DispatcherUseCase, m metrics.BusinessMetrics) DispatcherUseCase {
	return &dispatcherUseCaseWithMetrics{
		next:    useCase,
		metrics: m,
	}
}

func (d *dispatcherUseCaseWithMetrics) Start(ctx context.Context) error {
	if poller, ok := d.next.(*dispatcherUseCase); ok {
		return poller.poll(ctx, d)
	}
	return d.next.Start(ctx)
}

func (d *dispatcherUseCaseWithMetrics) Sweep(ctx context.Context) (*SweepStats, error) {
	start := time.Now()
	stats, err := d.next.Sweep(ctx)

	status := statusOf(err)
	d.metrics.RecordOperation(ctx, metrics.ComponentDispatch, "sweep", status)
	d.metrics.RecordDuration(ctx, metrics.ComponentDispatch, "sweep", time.Since(start), status)
	if stats != nil {
		for range stats.Dead {
			d.metrics.RecordOperation(ctx, metrics.ComponentDispatch, "deliver", "dead")
		}
	}

	return stats, err
}

func (d *dispatcherUseCaseWithMetrics) DispatchOnce(ctx context.Context) (*DispatchStats, error) {
	start := time.Now()
	stats, err := d.next.DispatchOnce(ctx)

	status := statusOf(err)
	d.metrics.RecordOperation(ctx, metrics.ComponentDispatch, "dispatch_once", status)
	d.metrics.RecordDuration(ctx, metrics.ComponentDispatch, "dispatch_once", time.Since(start), status)
	if stats != nil {
		for range stats.Delivered {
			d.metrics.RecordOperation(ctx, metrics.ComponentDispatch, "deliver", "delivered")
		}
		for range stats.Failed {
			d.metrics.RecordOperation(ctx, metrics.ComponentDispatch, "deliver", "failed")
		}
		for range stats.Dead {
			d.metrics.RecordOperation(ctx, metrics.ComponentDispatch, "deliver", "dead")
		}
	}

	return stats, err
}

// notificationUseCaseWithMetrics decorates NotificationUseCase with metrics instrumentation.
type notificationUseCaseWithMetrics struct {
	next    NotificationUseCase
	metrics metrics.BusinessMetrics
}

// NewNotificationUseCaseWithMetrics wraps a NotificationUseCase with metrics recording.
func NewNotificationUseCaseWithMetrics(useCase NotificationUseCase, m metrics.BusinessMetrics) NotificationUseCase {
	return &notificationUseCaseWithMetrics{
		next:    useCase,
		metrics: m,
	}
}

func (n *notificationUseCaseWithMetrics) record(ctx context.Context, operation string, start time.Time, err error) {
	status := statusOf(err)
	n.metrics.RecordOperation(ctx, metrics.ComponentNotification, operation, status)
	n.metrics.RecordDuration(ctx, metrics.ComponentNotification, operation, time.Since(start), status)
}

func (n *notificationUseCaseWithMetrics) Get(ctx context.Context, id uuid.UUID) (*domain.NotificationRecord, error) {
	start := time.Now()
	rec, err := n.next.Get(ctx, id)
	n.record(ctx, "notification_get", start, err)
	return rec, err
}

func (n *notificationUseCaseWithMetrics) List(
	ctx context.Context,
	filter domain.NotificationFilter,
	offset, limit int,
) ([]*domain.NotificationRecord, error) {
	start := time.Now()
	records, err := n.next.List(ctx, filter, offset, limit)
	n.record(ctx, "notification_list", start, err)
	return records, err
}

func (n *notificationUseCaseWithMetrics) Stats(ctx context.Context) (map[domain.NotificationStatus]int64, error) {
	start := time.Now()
	counts, err := n.next.Stats(ctx)
	n.record(ctx, "notification_stats", start, err)
	return counts, err
}

func (n *notificationUseCaseWithMetrics) Redeliver(ctx context.Context, id uuid.UUID) (*domain.NotificationRecord, error) {
	start := time.Now()
	rec, err := n.next.Redeliver(ctx, id)
	n.record(ctx, "notification_redeliver", start, err)
	return rec, err
}

func (n *notificationUseCaseWithMetrics) DeleteForSubscription(ctx context.Context, subscriptionID int64) (int64, error) {
	start := time.Now()
	deleted, err := n.next.DeleteForSubscription(ctx, subscriptionID)
	n.record(ctx, "notification_delete", start, err)
	return deleted, err
}
