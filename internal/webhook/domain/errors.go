// Package domain defines the webhook notification entities, their state machine and the event catalog.
package domain

import (
	"github.com/allisson/hookrelay/internal/errors"
)

// Webhook-specific error definitions.
var (
	// ErrNotificationNotFound indicates the notification record does not exist.
	ErrNotificationNotFound = errors.Wrap(errors.ErrNotFound, "notification not found")

	// ErrSubscriptionNotFound indicates the subscription does not exist in the registry.
	ErrSubscriptionNotFound = errors.Wrap(errors.ErrNotFound, "subscription not found")

	// ErrEventNotFound indicates the event name is not part of the catalog.
	ErrEventNotFound = errors.Wrap(errors.ErrNotFound, "event not found")

	// ErrInvalidTransition indicates a status change the state machine does not allow,
	// or a record that changed since it was read.
	ErrInvalidTransition = errors.Wrap(errors.ErrConflict, "invalid notification status transition")

	// ErrDuplicateNotification indicates a record already exists for the subscription and dedup key.
	ErrDuplicateNotification = errors.Wrap(errors.ErrConflict, "duplicate notification")

	// ErrNotRedeliverable indicates a redelivery was requested for a record that is not terminal.
	ErrNotRedeliverable = errors.Wrap(errors.ErrConflict, "notification is not in a terminal state")
)
