package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/hookrelay/internal/database"
	"github.com/allisson/hookrelay/internal/webhook/domain"
)

// IngestStatus summarizes what an ingested envelope produced.
type IngestStatus string

const (
	IngestStatusIgnored       IngestStatus = "ignored"
	IngestStatusNoMatch       IngestStatus = "no_match"
	IngestStatusNoSubscribers IngestStatus = "no_subscribers"
	IngestStatusCreated       IngestStatus = "created"
)

// IngestResult reports the outcome of one Ingest call.
type IngestResult struct {
	Status          IngestStatus
	EventName       domain.EventName
	NotificationIDs []uuid.UUID
	// Duplicates counts subscribers that already had a record for this source position.
	Duplicates int
}

type ingestUseCase struct {
	txManager database.TxManager
	repo      NotificationRepository
	decoder   Decoder
	events    EventMatcher
	logger    *slog.Logger
	now       func() time.Time
}

// NewIngestUseCase creates an IngestUseCase.
func NewIngestUseCase(
	txManager database.TxManager,
	repo NotificationRepository,
	decoder Decoder,
	events EventMatcher,
	logger *slog.Logger,
) IngestUseCase {
	return &ingestUseCase{
		txManager: txManager,
		repo:      repo,
		decoder:   decoder,
		events:    events,
		logger:    logger,
		now:       time.Now,
	}
}

func (uc *ingestUseCase) Ingest(ctx context.Context, raw []byte) (*IngestResult, error) {
	decoded, err := uc.decoder.Decode(raw)
	if err != nil {
		if uc.logger != nil {
			uc.logger.Warn("failed to decode change event", slog.Any("error", err))
		}
		return nil, err
	}
	if decoded.Ignored() {
		return &IngestResult{Status: IngestStatusIgnored}, nil
	}

	event := decoded.Event
	def, ok := uc.events.Match(event)
	if !ok {
		if uc.logger != nil {
			uc.logger.Debug("no event matches change",
				slog.String("entity", event.EntityName),
				slog.String("operation", string(event.Operation)),
			)
		}
		return &IngestResult{Status: IngestStatusNoMatch}, nil
	}

	payload, ok, err := uc.events.BuildPayload(def, event)
	if err != nil {
		return nil, err
	}
	if !ok {
		if uc.logger != nil {
			uc.logger.Debug("payload builder skipped change", slog.String("event_name", string(def.ID)))
		}
		return &IngestResult{Status: IngestStatusNoMatch, EventName: def.ID}, nil
	}

	subs, err := uc.events.Subscribers(ctx, def)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return &IngestResult{Status: IngestStatusNoSubscribers, EventName: def.ID}, nil
	}

	now := uc.now().UTC()
	result := &IngestResult{Status: IngestStatusCreated, EventName: def.ID}

	err = uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		result.NotificationIDs = result.NotificationIDs[:0]
		result.Duplicates = 0
		for _, sub := range subs {
			rec := domain.NewNotificationRecord(sub.ID, def.ID, payload, event.SourcePosition, now)
			if err := uc.repo.Create(ctx, rec); err != nil {
				if errors.Is(err, domain.ErrDuplicateNotification) {
					result.Duplicates++
					continue
				}
				return err
			}
			result.NotificationIDs = append(result.NotificationIDs, rec.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if uc.logger != nil {
		uc.logger.Info("notifications created",
			slog.String("event_name", string(def.ID)),
			slog.Int("created", len(result.NotificationIDs)),
			slog.Int("duplicates", result.Duplicates),
		)
	}
	return result, nil
}
