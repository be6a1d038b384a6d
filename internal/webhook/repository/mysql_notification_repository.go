package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/allisson/hookrelay/internal/database"
	apperrors "github.com/allisson/hookrelay/internal/errors"
	"github.com/allisson/hookrelay/internal/webhook/domain"
)

// mysqlDuplicateEntry is the MySQL error number for a unique key violation.
const mysqlDuplicateEntry = 1062

// MySQLNotificationRepository handles notification persistence for MySQL
type MySQLNotificationRepository struct {
	db *sql.DB
}

// NewMySQLNotificationRepository creates a new MySQLNotificationRepository
func NewMySQLNotificationRepository(db *sql.DB) *MySQLNotificationRepository {
	return &MySQLNotificationRepository{
		db: db,
	}
}

// Create inserts a new notification record
func (r *MySQLNotificationRepository) Create(ctx context.Context, rec *domain.NotificationRecord) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO notifications (` + notificationColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	// Convert UUID to bytes for MySQL BINARY(16)
	idBytes, err := rec.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal UUID")
	}

	_, err = querier.ExecContext(ctx, query,
		idBytes, rec.SubscriptionID, string(rec.EventName), payloadValue(rec.Payload), string(rec.Status),
		rec.AttemptCount, rec.LastAttemptAt, rec.NextAttemptAt, rec.LastError, rec.Permanent, rec.DedupKey,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return domain.ErrDuplicateNotification
		}
		return apperrors.Wrap(err, "failed to create notification")
	}
	rec.StoredAttemptCount = rec.AttemptCount
	return nil
}

// Get retrieves a notification by ID
func (r *MySQLNotificationRepository) Get(ctx context.Context, id uuid.UUID) (*domain.NotificationRecord, error) {
	querier := database.GetTx(ctx, r.db)

	idBytes, err := id.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal UUID")
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = ?`

	rec, err := scanMySQLNotification(querier.QueryRowContext(ctx, query, idBytes))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotificationNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get notification")
	}
	return rec, nil
}

// List returns notifications matching filter, newest first.
func (r *MySQLNotificationRepository) List(
	ctx context.Context,
	filter domain.NotificationFilter,
	offset, limit int,
) ([]*domain.NotificationRecord, error) {
	querier := database.GetTx(ctx, r.db)

	where, args := whereClause(filter, question)
	args = append(args, limit, offset)
	query := `SELECT ` + notificationColumns + ` FROM notifications` + where +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`

	rows, err := querier.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list notifications")
	}
	return collectRows(rows, scanMySQLNotification)
}

// ClaimPending moves up to limit PENDING records to DELIVERING, oldest first. Each candidate is
// claimed with a compare-and-set on its status, so a record lost to a concurrent claim is dropped.
func (r *MySQLNotificationRepository) ClaimPending(
	ctx context.Context,
	limit int,
	now time.Time,
) ([]*domain.NotificationRecord, error) {
	querier := database.GetTx(ctx, r.db)

	rows, err := querier.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?`,
		string(domain.NotificationStatusPending), limit,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to select pending notifications")
	}
	candidates, err := collectRows(rows, scanMySQLNotification)
	if err != nil {
		return nil, err
	}

	claimed := make([]*domain.NotificationRecord, 0, len(candidates))
	for _, rec := range candidates {
		idBytes, err := rec.ID.MarshalBinary()
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to marshal UUID")
		}

		result, err := querier.ExecContext(ctx,
			`UPDATE notifications SET status = ?, last_attempt_at = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			string(domain.NotificationStatusDelivering), now, now, idBytes, string(domain.NotificationStatusPending),
		)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to claim notification")
		}
		if n, err := result.RowsAffected(); err != nil || n == 0 {
			continue
		}

		rec.Status = domain.NotificationStatusDelivering
		rec.LastAttemptAt = &now
		rec.UpdatedAt = now
		claimed = append(claimed, rec)
	}
	return claimed, nil
}

// Transition persists rec if its stored status is still from and nobody else changed its attempt count since
// rec was read. The stored attempt count never decreases.
func (r *MySQLNotificationRepository) Transition(
	ctx context.Context,
	rec *domain.NotificationRecord,
	from domain.NotificationStatus,
) error {
	if !domain.CanTransition(from, rec.Status) {
		return domain.ErrInvalidTransition
	}

	querier := database.GetTx(ctx, r.db)

	idBytes, err := rec.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal UUID")
	}

	query := `UPDATE notifications
			  SET status = ?, attempt_count = ?, last_attempt_at = ?, next_attempt_at = ?,
			      last_error = ?, permanent = ?, updated_at = ?
			  WHERE id = ? AND status = ? AND attempt_count = ? AND attempt_count <= ?`

	result, err := querier.ExecContext(ctx, query,
		string(rec.Status), rec.AttemptCount, rec.LastAttemptAt, rec.NextAttemptAt, rec.LastError,
		rec.Permanent, rec.UpdatedAt, idBytes, string(from), rec.StoredAttemptCount, rec.AttemptCount,
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
func (r *MySQLNotificationRepository) RequeueFailed(
	ctx context.Context,
	now time.Time,
	maxAttempts int,
) (requeued, dead int64, err error) {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx,
		`UPDATE notifications SET status = ?, next_attempt_at = NULL, updated_at = ?
		 WHERE status = ? AND (permanent = TRUE OR attempt_count >= ?)`,
		string(domain.NotificationStatusDead), now, string(domain.NotificationStatusFailed), maxAttempts,
	)
	if err != nil {
		return 0, 0, apperrors.Wrap(err, "failed to retire exhausted notifications")
	}
	if dead, err = result.RowsAffected(); err != nil {
		return 0, 0, apperrors.Wrap(err, "failed to read affected rows")
	}

	result, err = querier.ExecContext(ctx,
		`UPDATE notifications SET status = ?, updated_at = ?
		 WHERE status = ? AND next_attempt_at <= ?`,
		string(domain.NotificationStatusPending), now, string(domain.NotificationStatusFailed), now,
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
func (r *MySQLNotificationRepository) ReclaimStale(ctx context.Context, staleBefore, now time.Time) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx,
		`UPDATE notifications
		 SET status = ?, attempt_count = attempt_count + 1, last_error = ?, next_attempt_at = ?, updated_at = ?
		 WHERE status = ? AND last_attempt_at < ?`,
		string(domain.NotificationStatusFailed), reclaimedError, now, now,
		string(domain.NotificationStatusDelivering), staleBefore,
	)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to reclaim stale notifications")
	}
	return result.RowsAffected()
}

// DeleteBySubscription removes every notification of a subscription.
func (r *MySQLNotificationRepository) DeleteBySubscription(ctx context.Context, subscriptionID int64) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx, `DELETE FROM notifications WHERE subscription_id = ?`, subscriptionID)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete notifications")
	}
	return result.RowsAffected()
}

// CountByStatus returns the number of notifications per status, including zero counts.
func (r *MySQLNotificationRepository) CountByStatus(ctx context.Context) (map[domain.NotificationStatus]int64, error) {
	querier := database.GetTx(ctx, r.db)

	rows, err := querier.QueryContext(ctx, `SELECT status, COUNT(*) FROM notifications GROUP BY status`)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to count notifications")
	}
	return collectCounts(rows)
}

func scanMySQLNotification(row scanner) (*domain.NotificationRecord, error) {
	var rec domain.NotificationRecord
	var idBytes, payload []byte
	var eventName, status string

	err := row.Scan(&idBytes, &rec.SubscriptionID, &eventName, &payload, &status, &rec.AttemptCount,
		&rec.LastAttemptAt, &rec.NextAttemptAt, &rec.LastError, &rec.Permanent, &rec.DedupKey,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	// Convert bytes back to UUID
	if err := rec.ID.UnmarshalBinary(idBytes); err != nil {
		return nil, err
	}

	rec.EventName = domain.EventName(eventName)
	rec.Status = domain.NotificationStatus(status)
	rec.Payload = payload
	rec.StoredAttemptCount = rec.AttemptCount
	return &rec, nil
}
