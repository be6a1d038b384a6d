// Package domain defines the change events observed from upstream change-data-capture streams.
package domain

import "time"

// Operation is the kind of row change an event describes.
type Operation string

const (
	OperationCreate  Operation = "CREATE"
	OperationUpdate  Operation = "UPDATE"
	OperationDelete  Operation = "DELETE"
	OperationUnknown Operation = "UNKNOWN"
)

// OperationFromMarker maps the envelope's op marker to an Operation.
// Snapshot reads ("r") and anything unrecognized map to OperationUnknown.
func OperationFromMarker(marker string) Operation {
	switch marker {
	case "c":
		return OperationCreate
	case "u":
		return OperationUpdate
	case "d":
		return OperationDelete
	default:
		return OperationUnknown
	}
}

// State is a row image. Numbers are kept as json.Number so payloads re-encode unchanged.
type State map[string]any

// ChangeEvent is a decoded change envelope. It is never persisted.
type ChangeEvent struct {
	EntityName string
	Operation  Operation
	Before     State
	After      State
	// SourcePosition identifies the change in the upstream log. Empty when the envelope carries none.
	SourcePosition string
	OccurredAt     time.Time
}

// DecodeStatus tells callers whether a decoded event needs further processing.
type DecodeStatus string

const (
	DecodeStatusDecoded DecodeStatus = "decoded"
	DecodeStatusIgnored DecodeStatus = "ignored"
)

// DecodeResult is the outcome of decoding one envelope. Event is nil when Status is DecodeStatusIgnored.
type DecodeResult struct {
	Status DecodeStatus
	Event  *ChangeEvent
}

// Ignored reports whether the envelope required no work.
func (r DecodeResult) Ignored() bool {
	return r.Status == DecodeStatusIgnored
}
