package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NotificationStatus is the lifecycle state of a notification record.
type NotificationStatus string

const (
	NotificationStatusPending    NotificationStatus = "pending"
	NotificationStatusDelivering NotificationStatus = "delivering"
	NotificationStatusDelivered  NotificationStatus = "delivered"
	NotificationStatusFailed     NotificationStatus = "failed"
	NotificationStatusDead       NotificationStatus = "dead"
)

// NotificationStatuses lists every status in lifecycle order.
var NotificationStatuses = []NotificationStatus{
	NotificationStatusPending,
	NotificationStatusDelivering,
	NotificationStatusDelivered,
	NotificationStatusFailed,
	NotificationStatusDead,
}

var transitions = map[NotificationStatus][]NotificationStatus{
	NotificationStatusPending:    {NotificationStatusDelivering},
	NotificationStatusDelivering: {NotificationStatusDelivered, NotificationStatusFailed},
	NotificationStatusFailed:     {NotificationStatusPending, NotificationStatusDead},
}

// IsTerminal reports whether no transition leaves s.
func (s NotificationStatus) IsTerminal() bool {
	return s == NotificationStatusDelivered || s == NotificationStatusDead
}

// Valid reports whether s is a known status.
func (s NotificationStatus) Valid() bool {
	for _, known := range NotificationStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to NotificationStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// NotificationRecord is one delivery obligation for a (change event, subscription) pair.
// Once created only the status and attempt bookkeeping change.
type NotificationRecord struct {
	ID             uuid.UUID
	SubscriptionID int64
	EventName      EventName
	Payload        json.RawMessage
	Status         NotificationStatus
	AttemptCount   int
	LastAttemptAt  *time.Time
	NextAttemptAt  *time.Time
	LastError      *string
	// Permanent marks a failure that retrying cannot fix, such as a 4xx response or a removed subscription.
	Permanent bool
	// DedupKey is unique per subscription. Envelopes without a source position get the record id.
	DedupKey  string
	CreatedAt time.Time
	UpdatedAt time.Time
	// StoredAttemptCount is attempt_count as this copy last read it from or wrote it to the store.
	// Transition applies only while the stored count still equals it. ReclaimStale always raises the
	// count, so a worker whose claim was reclaimed cannot overwrite the claim that replaced it.
	StoredAttemptCount int
}

// NewNotificationRecord creates a PENDING record with a time-ordered id.
func NewNotificationRecord(
	subscriptionID int64,
	eventName EventName,
	payload json.RawMessage,
	dedupKey string,
	now time.Time,
) *NotificationRecord {
	id := uuid.Must(uuid.NewV7())
	if dedupKey == "" {
		dedupKey = id.String()
	}
	return &NotificationRecord{
		ID:             id,
		SubscriptionID: subscriptionID,
		EventName:      eventName,
		Payload:        payload,
		Status:         NotificationStatusPending,
		DedupKey:       dedupKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// TransitionTo moves the record to status, refusing moves the state machine does not allow.
func (r *NotificationRecord) TransitionTo(status NotificationStatus, now time.Time) error {
	if !CanTransition(r.Status, status) {
		return ErrInvalidTransition
	}
	r.Status = status
	r.UpdatedAt = now
	return nil
}

// MarkDelivered records a successful delivery after attempts more attempts.
func (r *NotificationRecord) MarkDelivered(attempts int, now time.Time) error {
	if err := r.TransitionTo(NotificationStatusDelivered, now); err != nil {
		return err
	}
	r.AttemptCount += attempts
	r.LastAttemptAt = &now
	r.NextAttemptAt = nil
	r.LastError = nil
	return nil
}

// MarkFailed records a failed delivery after attempts more attempts and schedules the next try.
func (r *NotificationRecord) MarkFailed(
	attempts int,
	cause error,
	permanent bool,
	nextAttemptAt time.Time,
	now time.Time,
) error {
	if err := r.TransitionTo(NotificationStatusFailed, now); err != nil {
		return err
	}
	r.AttemptCount += attempts
	r.LastAttemptAt = &now
	r.NextAttemptAt = &nextAttemptAt
	r.Permanent = permanent
	if cause != nil {
		msg := cause.Error()
		r.LastError = &msg
	}
	return nil
}

// Exhausted reports whether a FAILED record must go DEAD instead of being retried.
func (r *NotificationRecord) Exhausted(maxAttempts int) bool {
	return r.Permanent || r.AttemptCount >= maxAttempts
}

// Redelivery returns a fresh PENDING record carrying the same payload. The receiver must be terminal
// and is left untouched.
func (r *NotificationRecord) Redelivery(now time.Time) (*NotificationRecord, error) {
	if !r.Status.IsTerminal() {
		return nil, ErrNotRedeliverable
	}
	payload := make(json.RawMessage, len(r.Payload))
	copy(payload, r.Payload)
	return NewNotificationRecord(r.SubscriptionID, r.EventName, payload, "", now), nil
}

// NotificationFilter narrows a notification listing. Nil fields match everything.
type NotificationFilter struct {
	Status         *NotificationStatus
	SubscriptionID *int64
	EventName      *EventName
}
