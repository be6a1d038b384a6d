// Package service provides event matching, payload building and webhook delivery.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	changeevent "github.com/allisson/hookrelay/internal/changeevent/domain"
	"github.com/allisson/hookrelay/internal/webhook/domain"
)

// SubscriptionRegistry is the read-only view of subscriber registrations.
type SubscriptionRegistry interface {
	// ListActiveSubscriptionsFor returns active subscriptions registered for name.
	ListActiveSubscriptionsFor(ctx context.Context, name domain.EventName) ([]*domain.Subscription, error)

	// Get returns a subscription by id, active or not.
	Get(ctx context.Context, id int64) (*domain.Subscription, error)
}

// PayloadBuilder renders the notification payload for a matched event.
// ok is false when the event should not produce notifications after all.
type PayloadBuilder func(event *changeevent.ChangeEvent) (payload json.RawMessage, ok bool, err error)

type matchKey struct {
	entityName string
	operation  changeevent.Operation
}

// EventRegistry resolves change events to catalog events and their subscribers.
type EventRegistry struct {
	definitions   map[matchKey]domain.EventDefinition
	builders      map[domain.EventName]PayloadBuilder
	subscriptions SubscriptionRegistry
}

// NewEventRegistry creates an EventRegistry over the static catalog.
func NewEventRegistry(subscriptions SubscriptionRegistry) *EventRegistry {
	definitions := make(map[matchKey]domain.EventDefinition)
	for _, def := range domain.Catalog() {
		definitions[matchKey{entityName: def.EntityName, operation: def.Operation}] = def
	}
	return &EventRegistry{
		definitions: definitions,
		builders: map[domain.EventName]PayloadBuilder{
			domain.EventProductCreated:     afterState,
			domain.EventProductUpdated:     afterState,
			domain.EventProductDeleted:     beforeState,
			domain.EventOrderCreated:       afterState,
			domain.EventOrderStatusUpdated: orderStatusChange,
		},
		subscriptions: subscriptions,
	}
}

// Match returns the definition for the event's (entity, operation) pair.
func (r *EventRegistry) Match(event *changeevent.ChangeEvent) (domain.EventDefinition, bool) {
	def, ok := r.definitions[matchKey{entityName: event.EntityName, operation: event.Operation}]
	return def, ok
}

// BuildPayload renders the payload for def. ok is false when def's builder skips the event.
func (r *EventRegistry) BuildPayload(
	def domain.EventDefinition,
	event *changeevent.ChangeEvent,
) (json.RawMessage, bool, error) {
	build, found := r.builders[def.ID]
	if !found {
		return nil, false, fmt.Errorf("no payload builder for %s", def.ID)
	}
	return build(event)
}

// Subscribers returns the active subscriptions interested in def ordered by id.
func (r *EventRegistry) Subscribers(ctx context.Context, def domain.EventDefinition) ([]*domain.Subscription, error) {
	subs, err := r.subscriptions.ListActiveSubscriptionsFor(ctx, def.ID)
	if err != nil {
		return nil, err
	}

	active := make([]*domain.Subscription, 0, len(subs))
	for _, sub := range subs {
		if sub.Active {
			active = append(active, sub)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return active, nil
}

func afterState(event *changeevent.ChangeEvent) (json.RawMessage, bool, error) {
	return marshalState(event.After)
}

func beforeState(event *changeevent.ChangeEvent) (json.RawMessage, bool, error) {
	return marshalState(event.Before)
}

func marshalState(state changeevent.State) (json.RawMessage, bool, error) {
	if state == nil {
		state = changeevent.State{}
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

type orderStatusPayload struct {
	BeforeStatus any               `json:"before_status"`
	AfterStatus  any               `json:"after_status"`
	Order        changeevent.State `json:"order"`
}

// orderStatusChange fires only when order_status differs between the row images.
func orderStatusChange(event *changeevent.ChangeEvent) (json.RawMessage, bool, error) {
	before := event.Before["order_status"]
	after, hasAfter := event.After["order_status"]
	if !hasAfter || fmt.Sprint(before) == fmt.Sprint(after) {
		return nil, false, nil
	}

	payload, err := json.Marshal(orderStatusPayload{
		BeforeStatus: before,
		AfterStatus:  after,
		Order:        event.After,
	})
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}
