package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/hookrelay/internal/database"
	apperrors "github.com/allisson/hookrelay/internal/errors"
	"github.com/allisson/hookrelay/internal/webhook/domain"
)

// PostgreSQLNotificationRepository handles notification persistence for PostgreSQL
type PostgreSQLNotificationRepository struct {
	db *sql.DB
}

// NewPostgreSQLNotificationRepository creates a new PostgreSQLNotificationRepository
func NewPostgreSQLNotificationRepository(db *sql.DB) *PostgreSQLNotificationRepository {
	return &PostgreSQLNotificationRepository{
		db: db,
	}
}

// Create inserts a new notification record. A record with the same subscription and dedup key
// yields ErrDuplicateNotification and leaves the surrounding transaction usable.
func (r *PostgreSQLNotificationRepository) Create(ctx context.Context, rec *domain.NotificationRecord) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO notifications (` + notificationColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			  ON CONFLICT (subscription_id, dedup_key) DO NOTHING`

	result, err := querier.ExecContext(ctx, query,
		rec.ID, rec.SubscriptionID, string(rec.EventName), payloadValue(rec.Payload), string(rec.Status),
		rec.AttemptCount, rec.LastAttemptAt, rec.NextAttemptAt, rec.LastError, rec.Permanent, rec.DedupKey,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create notification")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to read affected rows")
	}
	if rows == 0 {
		return domain.ErrDuplicateNotification
	}
	rec.StoredAttemptCount = rec.AttemptCount
	return nil
}

// Get retrieves a notification by ID
func (r *PostgreSQLNotificationRepository) Get(ctx context.Context, id uuid.UUID) (*domain.NotificationRecord, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	rec, err := scanPostgreSQLNotification(querier.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotificationNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get notification")
	}
	return rec, nil
}

// List returns notifications matching filter, newest first.
func (r *PostgreSQLNotificationRepository) List(
	ctx context.Context,
	filter domain.NotificationFilter,
	offset, limit int,
) ([]*domain.NotificationRecord, error) {
	querier := database.GetTx(ctx, r.db)

	where, args := whereClause(filter, dollar)
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM notifications%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		notificationColumns, where, len(args)-1, len(args))

	rows, err := querier.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list notifications")
	}
	return collectRows(rows, scanPostgreSQLNotification)
}

// ClaimPending moves up to limit PENDING records to DELIVERING, oldest first. Rows locked by a
// concurrent claim are skipped so every record is claimed by exactly one caller.
func (r *PostgreSQLNotificationRepository) ClaimPending(
	ctx context.Context,
	limit int,
	now time.Time,
) ([]*domain.NotificationRecord, error) {
	querier := database.GetTx(ctx, r.db)

	query := `WITH candidates AS (
				SELECT id FROM notifications
				WHERE status = $1
				ORDER BY created_at ASC, id ASC
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			  )
			  UPDATE notifications n
			  SET status = $3, last_attempt_at = $4, updated_at = $4
			  FROM candidates c
			  WHERE n.id = c.id
			  RETURNING n.id, n.subscription_id, n.event_name, n.payload, n.status, n.attempt_count,
			            n.last_attempt_at, n.next_attempt_at, n.last_error, n.permanent, n.dedup_key,
			            n.created_at, n.updated_at`

	rows, err := querier.QueryContext(ctx, query,
		string(domain.NotificationStatusPending), limit, string(domain.NotificationStatusDelivering), now,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to claim pending notifications")
	}

	records, err := collectRows(rows, scanPostgreSQLNotification)
	if err != nil {
		return nil, err
	}
	sortClaimed(records)
	return records, nil
}

// Transition persists rec if its stored status is still from and nobody else changed its attempt count since
// rec was read. The stored attempt count never decreases.
func (r *PostgreSQLNotificationRepository) Transition(
	ctx context.Context,
	rec *domain.NotificationRecord,
	from domain.NotificationStatus,
) error {
	if !domain.CanTransition(from, rec.Status) {
		return domain.ErrInvalidTransition
	}

	querier := database.GetTx(ctx, r.db)

	query := `UPDATE notifications
			  SET status = $1, attempt_count = $2, last_attempt_at = $3, next_attempt_at = $4,
			      last_error = $5, permanent = $6, updated_at = $7
			  WHERE id = $8 AND status = $9 AND attempt_count = $10 AND attempt_count <= $2`

	result, err := querier.ExecContext(ctx, query,
		string(rec.Status), rec.AttemptCount, rec.LastAttemptAt, rec.NextAttemptAt, rec.LastError,
		rec.Permanent, rec.UpdatedAt, rec.ID, string(from), rec.StoredAttemptCount,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to transition notification")
	}
	if err := requireOneRow(result); err != nil {
		return err
	}
	rec.StoredAttemptCount = rec.AttemptCount
	return nil
}

// RequeueFailed retires exhausted or permanent FAILED records to DEAD and returns due ones to PENDING.
func (r *PostgreSQLNotificationRepository) RequeueFailed(
	ctx context.Context,
	now time.Time,
	maxAttempts int,
) (requeued, dead int64, err error) {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx,
		`UPDATE notifications SET status = $1, next_attempt_at = NULL, updated_at = $2
		 WHERE status = $3 AND (permanent = TRUE OR attempt_count >= $4)`,
		string(domain.NotificationStatusDead), now, string(domain.NotificationStatusFailed), maxAttempts,
	)
	if err != nil {
		return 0, 0, apperrors.Wrap(err, "failed to retire exhausted notifications")
	}
	if dead, err = result.RowsAffected(); err != nil {
		return 0, 0, apperrors.Wrap(err, "failed to read affected rows")
	}

	result, err = querier.ExecContext(ctx,
		`UPDATE notifications SET status = $1, updated_at = $2
		 WHERE status = $3 AND next_attempt_at <= $2`,
		string(domain.NotificationStatusPending), now, string(domain.NotificationStatusFailed),
	)
	if err != nil {
		return 0, dead, apperrors.Wrap(err, "failed to requeue failed notifications")
	}
	if requeued, err = result.RowsAffected(); err != nil {
		return 0, dead, apperrors.Wrap(err, "failed to read affected rows")
	}
	return requeued, dead, nil
}

// ReclaimStale fails DELIVERING records whose attempt started before staleBefore. A reclaim adds exactly
// one to attempt_count, however many in-call attempts the lost worker made; the count strictly rises so
// the lost worker's Transition is refused.
func (r *PostgreSQLNotificationRepository) ReclaimStale(
	ctx context.Context,
	staleBefore, now time.Time,
) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx,
		`UPDATE notifications
		 SET status = $1, attempt_count = attempt_count + 1, last_error = $2, next_attempt_at = $3, updated_at = $3
		 WHERE status = $4 AND last_attempt_at < $5`,
		string(domain.NotificationStatusFailed), reclaimedError, now,
		string(domain.NotificationStatusDelivering), staleBefore,
	)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to reclaim stale notifications")
	}
	return result.RowsAffected()
}

// DeleteBySubscription removes every notification of a subscription.
func (r *PostgreSQLNotificationRepository) DeleteBySubscription(ctx context.Context, subscriptionID int64) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx, `DELETE FROM notifications WHERE subscription_id = $1`, subscriptionID)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete notifications")
	}
	return result.RowsAffected()
}

// CountByStatus returns the number of notifications per status, including zero counts.
func (r *PostgreSQLNotificationRepository) CountByStatus(ctx context.Context) (map[domain.NotificationStatus]int64, error) {
	querier := database.GetTx(ctx, r.db)

	rows, err := querier.QueryContext(ctx, `SELECT status, COUNT(*) FROM notifications GROUP BY status`)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to count notifications")
	}
	return collectCounts(rows)
}

func scanPostgreSQLNotification(row scanner) (*domain.NotificationRecord, error) {
	var rec domain.NotificationRecord
	var eventName, status string
	var payload []byte

	err := row.Scan(&rec.ID, &rec.SubscriptionID, &eventName, &payload, &status, &rec.AttemptCount,
		&rec.LastAttemptAt, &rec.NextAttemptAt, &rec.LastError, &rec.Permanent, &rec.DedupKey,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rec.EventName = domain.EventName(eventName)
	rec.Status = domain.NotificationStatus(status)
	rec.Payload = payload
	rec.StoredAttemptCount = rec.AttemptCount
	return &rec, nil
}
