// Package dto provides data transfer objects for HTTP request and response handling.
package dto

import (
	"encoding/json"
	"fmt"
	"strconv"

	validation "github.com/jellydator/validation"

	customValidation "github.com/allisson/hookrelay/internal/validation"
	"github.com/allisson/hookrelay/internal/webhook/domain"
)

// IngestEventRequest is a raw change envelope posted to the ingest endpoint.
type IngestEventRequest struct {
	Envelope json.RawMessage
}

// Validate checks that the envelope is a JSON object.
func (r *IngestEventRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Envelope, validation.Required, customValidation.JSONObject),
	)
}

// ListNotificationsQuery holds the optional filters of the notification listing.
type ListNotificationsQuery struct {
	Status         string
	SubscriptionID string
	EventName      string
}

// Validate checks the filter values.
func (q *ListNotificationsQuery) Validate() error {
	statuses := make([]interface{}, 0, len(domain.NotificationStatuses))
	for _, status := range domain.NotificationStatuses {
		statuses = append(statuses, string(status))
	}

	return validation.ValidateStruct(q,
		validation.Field(&q.Status, validation.In(statuses...)),
		validation.Field(&q.SubscriptionID, validation.By(positiveInt)),
		validation.Field(&q.EventName, customValidation.NoWhitespace),
	)
}

// Filter converts the query into a domain filter. Call Validate first.
func (q *ListNotificationsQuery) Filter() domain.NotificationFilter {
	var filter domain.NotificationFilter
	if q.Status != "" {
		status := domain.NotificationStatus(q.Status)
		filter.Status = &status
	}
	if q.SubscriptionID != "" {
		id, _ := strconv.ParseInt(q.SubscriptionID, 10, 64)
		filter.SubscriptionID = &id
	}
	if q.EventName != "" {
		name := domain.EventName(q.EventName)
		filter.EventName = &name
	}
	return filter
}

// ResetCircuitBreakerRequest selects the breaker to reset. An empty target resets all of them.
type ResetCircuitBreakerRequest struct {
	Target string `json:"target"`
}

// Validate checks if the reset request is valid.
func (r *ResetCircuitBreakerRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Target, customValidation.NoWhitespace),
	)
}

// ParseSubscriptionID parses a positive subscription id from a path parameter.
func ParseSubscriptionID(raw string) (int64, error) {
	if err := positiveInt(raw); err != nil {
		return 0, fmt.Errorf("invalid subscription id: %w", err)
	}
	return strconv.ParseInt(raw, 10, 64)
}

func positiveInt(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return validation.NewError("validation_positive_int", "must be a positive integer")
	}
	return nil
}
