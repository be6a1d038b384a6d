package domain

import (
	"sort"

	changeevent "github.com/allisson/hookrelay/internal/changeevent/domain"
)

// EventName identifies a catalog event.
type EventName string

const (
	EventProductCreated     EventName = "ON_PRODUCT_CREATED"
	EventProductUpdated     EventName = "ON_PRODUCT_UPDATED"
	EventProductDeleted     EventName = "ON_PRODUCT_DELETED"
	EventOrderCreated       EventName = "ON_ORDER_CREATED"
	EventOrderStatusUpdated EventName = "ON_ORDER_STATUS_UPDATED"
)

// EventDefinition maps an (entity, operation) pair to a named event. Static reference data.
type EventDefinition struct {
	ID          EventName
	EntityName  string
	Operation   changeevent.Operation
	Description string
}

var catalog = []EventDefinition{
	{
		ID:          EventProductCreated,
		EntityName:  "product",
		Operation:   changeevent.OperationCreate,
		Description: "A product was created",
	},
	{
		ID:          EventProductUpdated,
		EntityName:  "product",
		Operation:   changeevent.OperationUpdate,
		Description: "A product was updated",
	},
	{
		ID:          EventProductDeleted,
		EntityName:  "product",
		Operation:   changeevent.OperationDelete,
		Description: "A product was deleted",
	},
	{
		ID:          EventOrderCreated,
		EntityName:  "order",
		Operation:   changeevent.OperationCreate,
		Description: "An order was placed",
	},
	{
		ID:          EventOrderStatusUpdated,
		EntityName:  "order",
		Operation:   changeevent.OperationUpdate,
		Description: "An order moved to a new status",
	},
}

// Catalog returns every event definition ordered by name.
func Catalog() []EventDefinition {
	defs := make([]EventDefinition, len(catalog))
	copy(defs, catalog)
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// LookupEvent returns the definition for name.
func LookupEvent(name EventName) (EventDefinition, bool) {
	for _, def := range catalog {
		if def.ID == name {
			return def, true
		}
	}
	return EventDefinition{}, false
}

// ParseEventName validates s against the catalog.
func ParseEventName(s string) (EventName, error) {
	if _, ok := LookupEvent(EventName(s)); !ok {
		return "", ErrEventNotFound
	}
	return EventName(s), nil
}
