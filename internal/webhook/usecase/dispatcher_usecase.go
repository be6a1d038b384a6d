package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/allisson/hookrelay/internal/metrics"
	"github.com/allisson/hookrelay/internal/resilience"
	"github.com/allisson/hookrelay/internal/webhook/domain"
)

// DispatcherConfig holds dispatcher configuration.
type DispatcherConfig struct {
	Workers      int
	BatchSize    int
	PollInterval time.Duration
	// MaxAttempts is the delivery budget of a notification across all dispatches.
	MaxAttempts int
	// DeliveryTimeout is how long a record may stay DELIVERING before Sweep reclaims it.
	DeliveryTimeout  time.Duration
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration
}

// DispatchStats counts the outcomes of one DispatchOnce call.
type DispatchStats struct {
	Claimed   int
	Delivered int
	Failed    int
	Dead      int
}

// SweepStats counts the records moved by one Sweep call.
type SweepStats struct {
	Reclaimed int64
	Requeued  int64
	Dead      int64
}

type deliveryOutcome int

const (
	outcomeDelivered deliveryOutcome = iota
	outcomeFailed
	outcomeDead
	outcomeSkipped
)

type dispatcherUseCase struct {
	config        DispatcherConfig
	repo          NotificationRepository
	subscriptions SubscriptionLookup
	deliverer     Deliverer
	metrics       metrics.DeliveryMetrics
	logger        *slog.Logger
	now           func() time.Time
}

// NewDispatcherUseCase creates a DispatcherUseCase. A nil metrics disables delivery metrics.
func NewDispatcherUseCase(
	config DispatcherConfig,
	repo NotificationRepository,
	subscriptions SubscriptionLookup,
	deliverer Deliverer,
	deliveryMetrics metrics.DeliveryMetrics,
	logger *slog.Logger,
) DispatcherUseCase {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.BatchSize < 1 {
		config.BatchSize = 1
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if deliveryMetrics == nil {
		deliveryMetrics = metrics.NewNoOpDeliveryMetrics()
	}
	return &dispatcherUseCase{
		config:        config,
		repo:          repo,
		subscriptions: subscriptions,
		deliverer:     deliverer,
		metrics:       deliveryMetrics,
		logger:        logger,
		now:           time.Now,
	}
}

func (uc *dispatcherUseCase) Start(ctx context.Context) error {
	return uc.poll(ctx, uc)
}

// poll runs cycle's Sweep and DispatchOnce every PollInterval until ctx is canceled.
func (uc *dispatcherUseCase) poll(ctx context.Context, cycle DispatcherUseCase) error {
	if uc.logger != nil {
		uc.logger.Info("starting notification dispatcher",
			slog.Duration("poll_interval", uc.config.PollInterval),
			slog.Int("batch_size", uc.config.BatchSize),
			slog.Int("workers", uc.config.Workers),
			slog.Int("max_attempts", uc.config.MaxAttempts),
		)
	}

	ticker := time.NewTicker(uc.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if uc.logger != nil {
				uc.logger.Info("stopping notification dispatcher")
			}
			return ctx.Err()
		case <-ticker.C:
			if _, err := cycle.Sweep(ctx); err != nil && ctx.Err() == nil && uc.logger != nil {
				uc.logger.Error("failed to sweep notifications", slog.Any("error", err))
			}
			if _, err := cycle.DispatchOnce(ctx); err != nil && ctx.Err() == nil && uc.logger != nil {
				uc.logger.Error("failed to dispatch notifications", slog.Any("error", err))
			}
		}
	}
}

func (uc *dispatcherUseCase) Sweep(ctx context.Context) (*SweepStats, error) {
	now := uc.now().UTC()
	stats := &SweepStats{}

	reclaimed, err := uc.repo.ReclaimStale(ctx, now.Add(-uc.config.DeliveryTimeout), now)
	if err != nil {
		return nil, err
	}
	stats.Reclaimed = reclaimed
	if reclaimed > 0 && uc.logger != nil {
		uc.logger.Warn("reclaimed stale deliveries", slog.Int64("count", reclaimed))
	}

	requeued, dead, err := uc.repo.RequeueFailed(ctx, now, uc.config.MaxAttempts)
	if err != nil {
		return nil, err
	}
	stats.Requeued = requeued
	stats.Dead = dead

	for i := int64(0); i < dead; i++ {
		uc.metrics.RecordNotificationOutcome(ctx, string(domain.NotificationStatusDead))
	}
	if dead > 0 && uc.logger != nil {
		uc.logger.Error("notifications retired as dead", slog.Int64("count", dead))
	}
	return stats, nil
}

func (uc *dispatcherUseCase) DispatchOnce(ctx context.Context) (*DispatchStats, error) {
	records, err := uc.repo.ClaimPending(ctx, uc.config.BatchSize, uc.now().UTC())
	if err != nil {
		return nil, err
	}

	stats := &DispatchStats{Claimed: len(records)}
	if len(records) == 0 {
		return stats, nil
	}

	if uc.logger != nil {
		uc.logger.Debug("dispatching notifications", slog.Int("count", len(records)))
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.config.Workers)

	for _, rec := range records {
		g.Go(func() error {
			outcome := uc.deliver(gctx, rec)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeDelivered:
				stats.Delivered++
			case outcomeFailed:
				stats.Failed++
			case outcomeDead:
				stats.Dead++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

// deliver runs one claimed record to its next resting state. The lookup and the delivery must end
// DeliveryTimeout after the claim, the age at which Sweep reclaims it. Persistence ignores ctx
// cancellation so a shutdown never leaves a record DELIVERING when the outcome is known.
func (uc *dispatcherUseCase) deliver(ctx context.Context, rec *domain.NotificationRecord) deliveryOutcome {
	persistCtx := context.WithoutCancel(ctx)
	logger := uc.recordLogger(rec)

	callCtx := ctx
	if uc.config.DeliveryTimeout > 0 {
		claimedAt := uc.now()
		if rec.LastAttemptAt != nil {
			claimedAt = *rec.LastAttemptAt
		}
		var cancel context.CancelFunc
		callCtx, cancel = context.WithDeadline(ctx, claimedAt.Add(uc.config.DeliveryTimeout))
		defer cancel()
	}

	sub, err := uc.subscriptions.Get(callCtx, rec.SubscriptionID)
	switch {
	case errors.Is(err, domain.ErrSubscriptionNotFound):
		return uc.fail(persistCtx, logger, rec, 0, err, true)
	case err != nil:
		return uc.fail(persistCtx, logger, rec, 0, fmt.Errorf("resolve subscription: %w", err), false)
	case !sub.Active:
		return uc.fail(persistCtx, logger, rec, 0, errors.New("subscription is inactive"), true)
	}

	budget := uc.config.MaxAttempts - rec.AttemptCount
	if budget < 1 {
		return uc.fail(persistCtx, logger, rec, 0, errors.New("delivery attempts exhausted"), false)
	}

	attempts, err := uc.deliverer.Deliver(callCtx, sub, rec, budget)
	if err != nil {
		return uc.fail(persistCtx, logger, rec, attempts, err, resilience.IsPermanent(err))
	}

	now := uc.now().UTC()
	if err := rec.MarkDelivered(attempts, now); err != nil {
		logger.Error("failed to mark notification delivered", slog.Any("error", err))
		return outcomeSkipped
	}
	if err := uc.repo.Transition(persistCtx, rec, domain.NotificationStatusDelivering); err != nil {
		logPersistFailure(logger, rec.Status, err)
		return outcomeSkipped
	}

	uc.metrics.RecordNotificationOutcome(ctx, string(domain.NotificationStatusDelivered))
	logger.Info("notification delivered", slog.Int("attempt_count", rec.AttemptCount))
	return outcomeDelivered
}

// fail moves a DELIVERING record to FAILED and, when no retry can help, on to DEAD.
func (uc *dispatcherUseCase) fail(
	ctx context.Context,
	logger *slog.Logger,
	rec *domain.NotificationRecord,
	attempts int,
	cause error,
	permanent bool,
) deliveryOutcome {
	now := uc.now().UTC()
	next := now.Add(uc.retryBackoff(rec.AttemptCount + attempts))
	if err := rec.MarkFailed(attempts, cause, permanent, next, now); err != nil {
		logger.Error("failed to mark notification failed", slog.Any("error", err))
		return outcomeSkipped
	}
	if err := uc.repo.Transition(ctx, rec, domain.NotificationStatusDelivering); err != nil {
		logPersistFailure(logger, rec.Status, err)
		return outcomeSkipped
	}

	if !rec.Exhausted(uc.config.MaxAttempts) {
		uc.metrics.RecordNotificationOutcome(ctx, string(domain.NotificationStatusFailed))
		logger.Warn("notification delivery failed",
			slog.Int("attempt_count", rec.AttemptCount),
			slog.Time("next_attempt_at", next),
			slog.Any("error", cause),
		)
		return outcomeFailed
	}

	if err := rec.TransitionTo(domain.NotificationStatusDead, now); err != nil {
		logger.Error("failed to retire notification", slog.Any("error", err))
		return outcomeFailed
	}
	rec.NextAttemptAt = nil
	if err := uc.repo.Transition(ctx, rec, domain.NotificationStatusFailed); err != nil {
		// RequeueFailed retires it on the next sweep.
		logPersistFailure(logger, rec.Status, err)
		return outcomeFailed
	}

	uc.metrics.RecordNotificationOutcome(ctx, string(domain.NotificationStatusDead))
	logger.Error("notification is dead",
		slog.Int("attempt_count", rec.AttemptCount),
		slog.Bool("permanent", rec.Permanent),
		slog.Any("error", cause),
	)
	return outcomeDead
}

// logPersistFailure reports an outcome the store refused. ErrInvalidTransition means the claim was
// reclaimed and another worker owns the record now.
func logPersistFailure(logger *slog.Logger, status domain.NotificationStatus, err error) {
	if errors.Is(err, domain.ErrInvalidTransition) {
		logger.Warn("notification claim lost, outcome discarded",
			slog.String("status", string(status)),
			slog.Any("error", err),
		)
		return
	}
	logger.Error("failed to persist notification",
		slog.String("status", string(status)),
		slog.Any("error", err),
	)
}

// retryBackoff doubles RetryBackoffBase per attempt made, capped at RetryBackoffMax.
func (uc *dispatcherUseCase) retryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(uc.config.RetryBackoffBase)
	next := time.Duration(base * math.Pow(2, float64(attempt-1)))
	if uc.config.RetryBackoffMax > 0 && (next < 0 || next > uc.config.RetryBackoffMax) {
		return uc.config.RetryBackoffMax
	}
	return next
}

func (uc *dispatcherUseCase) recordLogger(rec *domain.NotificationRecord) *slog.Logger {
	logger := uc.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return logger.With(
		slog.String("notification_id", rec.ID.String()),
		slog.Int64("subscription_id", rec.SubscriptionID),
		slog.String("event_name", string(rec.EventName)),
	)
}
