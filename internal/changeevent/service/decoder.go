// Package service decodes raw change envelopes into domain change events.
package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/allisson/hookrelay/internal/changeevent/domain"
)

// dbzSource is the subset of a Debezium source block the decoder reads.
type dbzSource struct {
	Table      string      `json:"table"`
	Collection string      `json:"collection"`
	LSN        logPosition `json:"lsn"`
	File       string      `json:"file"`
	Pos        logPosition `json:"pos"`
	Row        logPosition `json:"row"`
	TsMs       *int64      `json:"ts_ms"`
}

// logPosition accepts a log coordinate encoded either as a JSON number or a string.
type logPosition string

func (p *logPosition) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = logPosition(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*p = logPosition(n)
	return nil
}

// dbzEnvelope is the typed view of a bare (or unwrapped) change envelope.
type dbzEnvelope struct {
	Before         json.RawMessage `json:"before"`
	After          json.RawMessage `json:"after"`
	Source         *dbzSource      `json:"source"`
	Table          string          `json:"table"`
	SourcePosition string          `json:"source_position"`
	TsMs           *int64          `json:"ts_ms"`
}

// Decoder turns raw change envelopes into change events.
type Decoder struct{}

// NewDecoder creates a Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode parses raw. An unknown, missing or non-string op marker yields an ignored result and no error,
// whatever the rest of the envelope holds. Input that is not a JSON object, or a create/update/delete event
// without a source table, yields *domain.MalformedEventError.
func (d *Decoder) Decode(raw []byte) (domain.DecodeResult, error) {
	fields, err := objectFields(raw)
	if err != nil {
		return domain.DecodeResult{}, err
	}

	// Debezium wraps the change in "payload" when schemas are enabled.
	if op, ok := fields["op"]; (!ok || isNull(op)) && isObject(fields["payload"]) {
		raw = fields["payload"]
		if fields, err = objectFields(raw); err != nil {
			return domain.DecodeResult{}, err
		}
	}

	operation := operationOf(fields["op"])
	if operation == domain.OperationUnknown {
		return domain.DecodeResult{Status: domain.DecodeStatusIgnored}, nil
	}

	env, err := unmarshalEnvelope(raw)
	if err != nil {
		return domain.DecodeResult{}, err
	}

	entityName := entityNameOf(env)
	if entityName == "" {
		return domain.DecodeResult{}, domain.NewMalformedEventError("missing source table")
	}

	before, err := decodeState("before", env.Before)
	if err != nil {
		return domain.DecodeResult{}, err
	}
	after, err := decodeState("after", env.After)
	if err != nil {
		return domain.DecodeResult{}, err
	}

	event := &domain.ChangeEvent{
		EntityName:     entityName,
		Operation:      operation,
		Before:         before,
		After:          after,
		SourcePosition: sourcePositionOf(entityName, env),
		OccurredAt:     occurredAtOf(env),
	}

	return domain.DecodeResult{Status: domain.DecodeStatusDecoded, Event: event}, nil
}

// objectFields splits a JSON object into its raw top-level members.
func objectFields(raw []byte) (map[string]json.RawMessage, error) {
	if !isObject(raw) {
		return nil, domain.NewMalformedEventError("envelope is not a JSON object")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, domain.NewMalformedEventError("invalid envelope: %v", err)
	}
	return fields, nil
}

// operationOf maps the op member. Absent, null and non-string markers are unknown.
func operationOf(raw json.RawMessage) domain.Operation {
	var marker string
	if len(raw) == 0 || json.Unmarshal(raw, &marker) != nil {
		return domain.OperationUnknown
	}
	return domain.OperationFromMarker(marker)
}

// unmarshalEnvelope decodes the typed envelope once the op marker is known to be c, u or d.
func unmarshalEnvelope(raw []byte) (*dbzEnvelope, error) {
	var env dbzEnvelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, domain.NewMalformedEventError("invalid envelope: %v", err)
	}
	return &env, nil
}

func decodeState(field string, raw json.RawMessage) (domain.State, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return domain.State{}, nil
	}
	if !isObject(trimmed) {
		return nil, domain.NewMalformedEventError("%s must be an object", field)
	}
	var state domain.State
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&state); err != nil {
		return nil, domain.NewMalformedEventError("invalid %s: %v", field, err)
	}
	return state, nil
}

func entityNameOf(env *dbzEnvelope) string {
	if env.Source != nil {
		if env.Source.Table != "" {
			return env.Source.Table
		}
		if env.Source.Collection != "" {
			return env.Source.Collection
		}
	}
	return env.Table
}

// sourcePositionOf returns "<entity>@<position>" for envelopes that carry a log position.
func sourcePositionOf(entityName string, env *dbzEnvelope) string {
	var position string
	switch {
	case env.Source != nil && env.Source.LSN != "":
		position = "lsn:" + string(env.Source.LSN)
	case env.Source != nil && env.Source.File != "":
		position = fmt.Sprintf("binlog:%s:%s:%s", env.Source.File, numberOrZero(env.Source.Pos),
			numberOrZero(env.Source.Row))
	case env.SourcePosition != "":
		position = env.SourcePosition
	default:
		return ""
	}
	return entityName + "@" + position
}

func occurredAtOf(env *dbzEnvelope) time.Time {
	switch {
	case env.Source != nil && env.Source.TsMs != nil:
		return time.UnixMilli(*env.Source.TsMs).UTC()
	case env.TsMs != nil:
		return time.UnixMilli(*env.TsMs).UTC()
	default:
		return time.Time{}
	}
}

func numberOrZero(p logPosition) string {
	if p == "" {
		return "0"
	}
	return string(p)
}

func isNull(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func isObject(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{' && strings.HasSuffix(string(trimmed), "}")
}
