package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/allisson/hookrelay/internal/database"
	apperrors "github.com/allisson/hookrelay/internal/errors"
	"github.com/allisson/hookrelay/internal/webhook/domain"
)

// SQLSubscriptionRegistry reads subscriptions from the webhooks and webhook_events tables.
// The schema is identical across drivers; only the placeholder style differs.
type SQLSubscriptionRegistry struct {
	db          *sql.DB
	placeholder func(n int) string
}

// NewSQLSubscriptionRegistry creates a SQLSubscriptionRegistry for the given driver.
func NewSQLSubscriptionRegistry(db *sql.DB, driver string) *SQLSubscriptionRegistry {
	placeholder := question
	if driver == database.DriverPostgres {
		placeholder = dollar
	}
	return &SQLSubscriptionRegistry{
		db:          db,
		placeholder: placeholder,
	}
}

// ListActiveSubscriptionsFor returns active subscriptions registered for name ordered by id.
func (r *SQLSubscriptionRegistry) ListActiveSubscriptionsFor(
	ctx context.Context,
	name domain.EventName,
) ([]*domain.Subscription, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT w.id, w.payload_url, w.secret, w.is_active
			  FROM webhooks w
			  JOIN webhook_events e ON e.webhook_id = w.id
			  WHERE e.event_name = ` + r.placeholder(1) + ` AND w.is_active = ` + r.placeholder(2) + `
			  ORDER BY w.id ASC`

	rows, err := querier.QueryContext(ctx, query, string(name), true)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list subscriptions")
	}

	subs := make([]*domain.Subscription, 0)
	err = func() error {
		defer rows.Close() //nolint:errcheck
		for rows.Next() {
			var sub domain.Subscription
			if err := rows.Scan(&sub.ID, &sub.TargetURL, &sub.Secret, &sub.Active); err != nil {
				return apperrors.Wrap(err, "failed to scan subscription")
			}
			subs = append(subs, &sub)
		}
		return rows.Err()
	}()
	if err != nil {
		return nil, err
	}

	if err := r.loadEventNames(ctx, subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// Get returns a subscription by id, active or not.
func (r *SQLSubscriptionRegistry) Get(ctx context.Context, id int64) (*domain.Subscription, error) {
	querier := database.GetTx(ctx, r.db)

	var sub domain.Subscription
	err := querier.QueryRowContext(ctx,
		`SELECT id, payload_url, secret, is_active FROM webhooks WHERE id = `+r.placeholder(1),
		id,
	).Scan(&sub.ID, &sub.TargetURL, &sub.Secret, &sub.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get subscription")
	}

	if err := r.loadEventNames(ctx, []*domain.Subscription{&sub}); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *SQLSubscriptionRegistry) loadEventNames(ctx context.Context, subs []*domain.Subscription) error {
	if len(subs) == 0 {
		return nil
	}

	querier := database.GetTx(ctx, r.db)

	byID := make(map[int64]*domain.Subscription, len(subs))
	placeholders := make([]string, 0, len(subs))
	args := make([]any, 0, len(subs))
	for i, sub := range subs {
		byID[sub.ID] = sub
		placeholders = append(placeholders, r.placeholder(i+1))
		args = append(args, sub.ID)
	}

	query := `SELECT webhook_id, event_name FROM webhook_events WHERE webhook_id IN (` +
		strings.Join(placeholders, ", ") + `) ORDER BY webhook_id ASC, event_name ASC`

	rows, err := querier.QueryContext(ctx, query, args...)
	if err != nil {
		return apperrors.Wrap(err, "failed to list subscription events")
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var webhookID int64
		var eventName string
		if err := rows.Scan(&webhookID, &eventName); err != nil {
			return apperrors.Wrap(err, "failed to scan subscription event")
		}
		if sub, ok := byID[webhookID]; ok {
			sub.EventNames = append(sub.EventNames, domain.EventName(eventName))
		}
	}
	return rows.Err()
}
