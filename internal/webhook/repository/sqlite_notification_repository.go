package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/hookrelay/internal/database"
	apperrors "github.com/allisson/hookrelay/internal/errors"
	"github.com/allisson/hookrelay/internal/webhook/domain"
)

// sqliteTimeLayout is fixed width so stored timestamps order correctly as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteNotificationRepository handles notification persistence for SQLite
type SQLiteNotificationRepository struct {
	db *sql.DB
}

// NewSQLiteNotificationRepository creates a new SQLiteNotificationRepository
func NewSQLiteNotificationRepository(db *sql.DB) *SQLiteNotificationRepository {
	return &SQLiteNotificationRepository{
		db: db,
	}
}

// Create inserts a new notification record
func (r *SQLiteNotificationRepository) Create(ctx context.Context, rec *domain.NotificationRecord) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO notifications (` + notificationColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT (subscription_id, dedup_key) DO NOTHING`

	result, err := querier.ExecContext(ctx, query,
		rec.ID.String(), rec.SubscriptionID, string(rec.EventName), payloadValue(rec.Payload), string(rec.Status),
		rec.AttemptCount, sqliteNullTime(rec.LastAttemptAt), sqliteNullTime(rec.NextAttemptAt), rec.LastError,
		rec.Permanent, rec.DedupKey, sqliteTime(rec.CreatedAt), sqliteTime(rec.UpdatedAt),
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
func (r *SQLiteNotificationRepository) Get(ctx context.Context, id uuid.UUID) (*domain.NotificationRecord, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = ?`

	rec, err := scanSQLiteNotification(querier.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotificationNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get notification")
	}
	return rec, nil
}

// List returns notifications matching filter, newest first.
func (r *SQLiteNotificationRepository) List(
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
	return collectRows(rows, scanSQLiteNotification)
}

// ClaimPending moves up to limit PENDING records to DELIVERING, oldest first. Each candidate is
// claimed with a compare-and-set on its status, so a record lost to a concurrent claim is dropped.
func (r *SQLiteNotificationRepository) ClaimPending(
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
	candidates, err := collectRows(rows, scanSQLiteNotification)
	if err != nil {
		return nil, err
	}

	claimedAt := sqliteTime(now)
	claimed := make([]*domain.NotificationRecord, 0, len(candidates))
	for _, rec := range candidates {
		result, err := querier.ExecContext(ctx,
			`UPDATE notifications SET status = ?, last_attempt_at = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			string(domain.NotificationStatusDelivering), claimedAt, claimedAt, rec.ID.String(),
			string(domain.NotificationStatusPending),
		)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to claim notification")
		}
		if n, err := result.RowsAffected(); err != nil || n == 0 {
			continue
		}

		claimedTime := now.UTC()
		rec.Status = domain.NotificationStatusDelivering
		rec.LastAttemptAt = &claimedTime
		rec.UpdatedAt = claimedTime
		claimed = append(claimed, rec)
	}
	return claimed, nil
}

// Transition persists rec if its stored status is still from and nobody else changed its attempt count since
// rec was read. The stored attempt count never decreases.
func (r *SQLiteNotificationRepository) Transition(
	ctx context.Context,
	rec *domain.NotificationRecord,
	from domain.NotificationStatus,
) error {
	if !domain.CanTransition(from, rec.Status) {
		return domain.ErrInvalidTransition
	}

	querier := database.GetTx(ctx, r.db)

	query := `UPDATE notifications
			  SET status = ?, attempt_count = ?, last_attempt_at = ?, next_attempt_at = ?,
			      last_error = ?, permanent = ?, updated_at = ?
			  WHERE id = ? AND status = ? AND attempt_count = ? AND attempt_count <= ?`

	result, err := querier.ExecContext(ctx, query,
		string(rec.Status), rec.AttemptCount, sqliteNullTime(rec.LastAttemptAt), sqliteNullTime(rec.NextAttemptAt),
		rec.LastError, rec.Permanent, sqliteTime(rec.UpdatedAt), rec.ID.String(), string(from),
		rec.StoredAttemptCount, rec.AttemptCount,
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
func (r *SQLiteNotificationRepository) RequeueFailed(
	ctx context.Context,
	now time.Time,
	maxAttempts int,
) (requeued, dead int64, err error) {
	querier := database.GetTx(ctx, r.db)
	at := sqliteTime(now)

	result, err := querier.ExecContext(ctx,
		`UPDATE notifications SET status = ?, next_attempt_at = NULL, updated_at = ?
		 WHERE status = ? AND (permanent = 1 OR attempt_count >= ?)`,
		string(domain.NotificationStatusDead), at, string(domain.NotificationStatusFailed), maxAttempts,
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
		string(domain.NotificationStatusPending), at, string(domain.NotificationStatusFailed), at,
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
func (r *SQLiteNotificationRepository) ReclaimStale(ctx context.Context, staleBefore, now time.Time) (int64, error) {
	querier := database.GetTx(ctx, r.db)
	at := sqliteTime(now)

	result, err := querier.ExecContext(ctx,
		`UPDATE notifications
		 SET status = ?, attempt_count = attempt_count + 1, last_error = ?, next_attempt_at = ?, updated_at = ?
		 WHERE status = ? AND last_attempt_at < ?`,
		string(domain.NotificationStatusFailed), reclaimedError, at, at,
		string(domain.NotificationStatusDelivering), sqliteTime(staleBefore),
	)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to reclaim stale notifications")
	}
	return result.RowsAffected()
}

// DeleteBySubscription removes every notification of a subscription.
func (r *SQLiteNotificationRepository) DeleteBySubscription(ctx context.Context, subscriptionID int64) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx, `DELETE FROM notifications WHERE subscription_id = ?`, subscriptionID)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete notifications")
	}
	return result.RowsAffected()
}

// CountByStatus returns the number of notifications per status, including zero counts.
func (r *SQLiteNotificationRepository) CountByStatus(ctx context.Context) (map[domain.NotificationStatus]int64, error) {
	querier := database.GetTx(ctx, r.db)

	rows, err := querier.QueryContext(ctx, `SELECT status, COUNT(*) FROM notifications GROUP BY status`)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to count notifications")
	}
	return collectCounts(rows)
}

func sqliteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func sqliteNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return sqliteTime(*t)
}

func parseSQLiteTime(value string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, value)
}

func parseSQLiteNullTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	t, err := parseSQLiteTime(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanSQLiteNotification(row scanner) (*domain.NotificationRecord, error) {
	var rec domain.NotificationRecord
	var id, eventName, status, payload, createdAt, updatedAt string
	var lastAttemptAt, nextAttemptAt sql.NullString

	err := row.Scan(&id, &rec.SubscriptionID, &eventName, &payload, &status, &rec.AttemptCount,
		&lastAttemptAt, &nextAttemptAt, &rec.LastError, &rec.Permanent, &rec.DedupKey,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if rec.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if rec.LastAttemptAt, err = parseSQLiteNullTime(lastAttemptAt); err != nil {
		return nil, err
	}
	if rec.NextAttemptAt, err = parseSQLiteNullTime(nextAttemptAt); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseSQLiteTime(updatedAt); err != nil {
		return nil, err
	}

	rec.EventName = domain.EventName(eventName)
	rec.Status = domain.NotificationStatus(status)
	rec.Payload = []byte(payload)
	rec.StoredAttemptCount = rec.AttemptCount
	return &rec, nil
}
