// Package repository provides data persistence implementations for notification records and
// the SQL-backed subscription registry.
package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/allisson/hookrelay/internal/errors"
	"github.com/allisson/hookrelay/internal/webhook/domain"
)

const notificationColumns = `id, subscription_id, event_name, payload, status, attempt_count, last_attempt_at,
	next_attempt_at, last_error, permanent, dedup_key, created_at, updated_at`

// reclaimedError is stored on records whose delivery outlived the delivery timeout.
const reclaimedError = "delivery timed out before completion"

// whereClause renders the filter with placeholders produced by ph(n), n starting at 1.
func whereClause(filter domain.NotificationFilter, ph func(n int) string) (string, []any) {
	var conds []string
	var args []any

	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conds = append(conds, "status = "+ph(len(args)))
	}
	if filter.SubscriptionID != nil {
		args = append(args, *filter.SubscriptionID)
		conds = append(conds, "subscription_id = "+ph(len(args)))
	}
	if filter.EventName != nil {
		args = append(args, string(*filter.EventName))
		conds = append(conds, "event_name = "+ph(len(args)))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func dollar(n int) string {
	return fmt.Sprintf("$%d", n)
}

func question(int) string {
	return "?"
}

// sortClaimed orders claimed records oldest first, ties broken by id.
func sortClaimed(records []*domain.NotificationRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID.String() < records[j].ID.String()
	})
}

func payloadValue(payload json.RawMessage) string {
	if len(payload) == 0 {
		return "{}"
	}
	return string(payload)
}

func statusCounts() map[domain.NotificationStatus]int64 {
	counts := make(map[domain.NotificationStatus]int64, len(domain.NotificationStatuses))
	for _, status := range domain.NotificationStatuses {
		counts[status] = 0
	}
	return counts
}

type scanner interface {
	Scan(dest ...any) error
}

// collectRows scans every row with scan and closes rows.
func collectRows(
	rows *sql.Rows,
	scan func(scanner) (*domain.NotificationRecord, error),
) ([]*domain.NotificationRecord, error) {
	defer rows.Close() //nolint:errcheck

	records := make([]*domain.NotificationRecord, 0)
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan notification")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate notifications")
	}
	return records, nil
}

func collectCounts(rows *sql.Rows) (map[domain.NotificationStatus]int64, error) {
	defer rows.Close() //nolint:errcheck

	counts := statusCounts()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan status count")
		}
		counts[domain.NotificationStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate status counts")
	}
	return counts, nil
}

// requireOneRow maps a compare-and-set that matched nothing to ErrInvalidTransition.
func requireOneRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to read affected rows")
	}
	if rows == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}
