package dto

import (
	"encoding/json"
	"time"

	"github.com/allisson/hookrelay/internal/resilience"
	"github.com/allisson/hookrelay/internal/webhook/domain"
	"github.com/allisson/hookrelay/internal/webhook/usecase"
)

// NotificationResponse represents a notification record in API responses.
type NotificationResponse struct {
	ID             string          `json:"id"`
	SubscriptionID int64           `json:"subscription_id"`
	EventName      string          `json:"event_name"`
	Payload        json.RawMessage `json:"payload"`
	Status         string          `json:"status"`
	AttemptCount   int             `json:"attempt_count"`
	LastAttemptAt  *time.Time      `json:"last_attempt_at,omitempty"`
	NextAttemptAt  *time.Time      `json:"next_attempt_at,omitempty"`
	LastError      *string         `json:"last_error,omitempty"`
	Permanent      bool            `json:"permanent"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// MapNotificationToResponse converts a domain notification record to an API response.
func MapNotificationToResponse(rec *domain.NotificationRecord) NotificationResponse {
	return NotificationResponse{
		ID:             rec.ID.String(),
		SubscriptionID: rec.SubscriptionID,
		EventName:      string(rec.EventName),
		Payload:        rec.Payload,
		Status:         string(rec.Status),
		AttemptCount:   rec.AttemptCount,
		LastAttemptAt:  rec.LastAttemptAt,
		NextAttemptAt:  rec.NextAttemptAt,
		LastError:      rec.LastError,
		Permanent:      rec.Permanent,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

// ListNotificationsResponse represents a page of notifications in API responses.
type ListNotificationsResponse struct {
	Data []NotificationResponse `json:"data"`
}

// MapNotificationsToListResponse converts domain notification records to a list response.
func MapNotificationsToListResponse(records []*domain.NotificationRecord) ListNotificationsResponse {
	data := make([]NotificationResponse, 0, len(records))
	for _, rec := range records {
		data = append(data, MapNotificationToResponse(rec))
	}
	return ListNotificationsResponse{Data: data}
}

// StatsResponse reports how many notifications are in each status.
type StatsResponse struct {
	Data map[string]int64 `json:"data"`
}

// MapStatsToResponse converts per-status counts to a stats response.
func MapStatsToResponse(counts map[domain.NotificationStatus]int64) StatsResponse {
	data := make(map[string]int64, len(counts))
	for status, count := range counts {
		data[string(status)] = count
	}
	return StatsResponse{Data: data}
}

// IngestEventResponse reports what an ingested envelope produced.
type IngestEventResponse struct {
	Status          string   `json:"status"`
	EventName       string   `json:"event_name,omitempty"`
	NotificationIDs []string `json:"notification_ids"`
	Duplicates      int      `json:"duplicates"`
}

// MapIngestResultToResponse converts an ingest result to an API response.
func MapIngestResultToResponse(result *usecase.IngestResult) IngestEventResponse {
	ids := make([]string, 0, len(result.NotificationIDs))
	for _, id := range result.NotificationIDs {
		ids = append(ids, id.String())
	}
	return IngestEventResponse{
		Status:          string(result.Status),
		EventName:       string(result.EventName),
		NotificationIDs: ids,
		Duplicates:      result.Duplicates,
	}
}

// DeleteNotificationsResponse reports how many notifications a cascade delete removed.
type DeleteNotificationsResponse struct {
	Deleted int64 `json:"deleted"`
}

// CircuitBreakerResponse represents a circuit breaker in API responses.
type CircuitBreakerResponse struct {
	Target      string     `json:"target"`
	State       string     `json:"state"`
	Calls       int        `json:"calls"`
	Failures    int        `json:"failures"`
	FailureRate float64    `json:"failure_rate"`
	OpenedAt    *time.Time `json:"opened_at,omitempty"`
}

// ListCircuitBreakersResponse lists every known circuit breaker.
type ListCircuitBreakersResponse struct {
	Data []CircuitBreakerResponse `json:"data"`
}

// MapSnapshotsToListResponse converts breaker snapshots to a list response.
func MapSnapshotsToListResponse(snapshots []resilience.Snapshot) ListCircuitBreakersResponse {
	data := make([]CircuitBreakerResponse, 0, len(snapshots))
	for _, s := range snapshots {
		resp := CircuitBreakerResponse{
			Target:      s.Target,
			State:       s.State.String(),
			Calls:       s.Calls,
			Failures:    s.Failures,
			FailureRate: s.FailureRate,
		}
		if !s.OpenedAt.IsZero() {
			openedAt := s.OpenedAt
			resp.OpenedAt = &openedAt
		}
		data = append(data, resp)
	}
	return ListCircuitBreakersResponse{Data: data}
}

// ResetCircuitBreakersResponse reports how many breakers were closed.
type ResetCircuitBreakersResponse struct {
	Reset int `json:"reset"`
}
