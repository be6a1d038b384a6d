package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/hookrelay/internal/changeevent/domain"
	apperrors "github.com/allisson/hookrelay/internal/errors"
)

func TestDecoder_Decode(t *testing.T) {
	decoder := NewDecoder()

	t.Run("Success_ProductUpdate", func(t *testing.T) {
		raw := []byte(`{
			"op": "u",
			"before": {"id": 42, "name": "Gadget"},
			"after": {"id": 42, "name": "Widget"},
			"source": {"table": "product", "lsn": 24023128, "ts_ms": 1700000000000}
		}`)

		result, err := decoder.Decode(raw)

		require.NoError(t, err)
		assert.Equal(t, domain.DecodeStatusDecoded, result.Status)
		require.NotNil(t, result.Event)
		assert.Equal(t, "product", result.Event.EntityName)
		assert.Equal(t, domain.OperationUpdate, result.Event.Operation)
		assert.Equal(t, json.Number("42"), result.Event.After["id"])
		assert.Equal(t, "Widget", result.Event.After["name"])
		assert.Equal(t, "Gadget", result.Event.Before["name"])
		assert.Equal(t, "product@lsn:24023128", result.Event.SourcePosition)
		assert.Equal(t, time.UnixMilli(1700000000000).UTC(), result.Event.OccurredAt)
	})

	t.Run("Success_SchemaPayloadWrapper", func(t *testing.T) {
		raw := []byte(`{
			"schema": {"type": "struct"},
			"payload": {
				"op": "c",
				"before": null,
				"after": {"id": 7},
				"source": {"table": "order", "file": "mysql-bin.000003", "pos": 154, "row": 0}
			}
		}`)

		result, err := decoder.Decode(raw)

		require.NoError(t, err)
		require.NotNil(t, result.Event)
		assert.Equal(t, "order", result.Event.EntityName)
		assert.Equal(t, domain.OperationCreate, result.Event.Operation)
		assert.Empty(t, result.Event.Before)
		assert.Equal(t, "order@binlog:mysql-bin.000003:154:0", result.Event.SourcePosition)
	})

	t.Run("Success_DeleteWithoutAfter", func(t *testing.T) {
		raw := []byte(`{"op": "d", "before": {"id": 1}, "source": {"collection": "product"}}`)

		result, err := decoder.Decode(raw)

		require.NoError(t, err)
		require.NotNil(t, result.Event)
		assert.Equal(t, domain.OperationDelete, result.Event.Operation)
		assert.Equal(t, "product", result.Event.EntityName)
		assert.Empty(t, result.Event.After)
		assert.Empty(t, result.Event.SourcePosition)
		assert.True(t, result.Event.OccurredAt.IsZero())
	})

	t.Run("Success_TopLevelTableAndPosition", func(t *testing.T) {
		raw := []byte(`{"op": "c", "table": "product", "after": {"id": 3}, "source_position": "42", "ts_ms": 1000}`)

		result, err := decoder.Decode(raw)

		require.NoError(t, err)
		assert.Equal(t, "product", result.Event.EntityName)
		assert.Equal(t, "product@42", result.Event.SourcePosition)
		assert.Equal(t, time.UnixMilli(1000).UTC(), result.Event.OccurredAt)
	})

	t.Run("Success_StringLSN", func(t *testing.T) {
		raw := []byte(`{"op": "u", "after": {}, "source": {"table": "product", "lsn": "0/16B3748"}}`)

		result, err := decoder.Decode(raw)

		require.NoError(t, err)
		assert.Equal(t, "product@lsn:0/16B3748", result.Event.SourcePosition)
	})

	t.Run("Ignored_UnknownOperation", func(t *testing.T) {
		for _, op := range []string{"k", "r", "t", ""} {
			raw := []byte(`{"op": "` + op + `", "source": {"table": "product"}}`)

			result, err := decoder.Decode(raw)

			require.NoError(t, err, op)
			assert.True(t, result.Ignored(), op)
			assert.Nil(t, result.Event, op)
		}
	})

	t.Run("Ignored_NonStringOp", func(t *testing.T) {
		for _, raw := range []string{
			`{"op": 1, "table": "product"}`,
			`{"op": true, "source": {"table": "product"}}`,
			`{"op": {"code": "u"}, "source": {"table": "product"}}`,
			`{"op": null, "source": {"table": "product"}}`,
		} {
			result, err := decoder.Decode([]byte(raw))

			require.NoError(t, err, raw)
			assert.True(t, result.Ignored(), raw)
			assert.Nil(t, result.Event, raw)
		}
	})

	t.Run("Ignored_UnknownOpWithMistypedSource", func(t *testing.T) {
		for _, raw := range []string{
			`{"op": "k", "source": "product"}`,
			`{"op": "k", "table": 5}`,
			`{"op": "r", "before": "oops", "after": [1], "source": {"table": "product", "ts_ms": "soon"}}`,
			`{"payload": {"op": 7, "source": 3}}`,
		} {
			result, err := decoder.Decode([]byte(raw))

			require.NoError(t, err, raw)
			assert.True(t, result.Ignored(), raw)
		}
	})

	t.Run("Error_KnownOpWithMistypedSource", func(t *testing.T) {
		_, err := decoder.Decode([]byte(`{"op": "u", "source": "product"}`))

		var malformed *domain.MalformedEventError
		assert.ErrorAs(t, err, &malformed)
	})

	t.Run("Ignored_MissingOperation", func(t *testing.T) {
		result, err := decoder.Decode([]byte(`{"after": {"id": 1}, "source": {"table": "product"}}`))

		require.NoError(t, err)
		assert.True(t, result.Ignored())
	})

	t.Run("Ignored_Tombstone", func(t *testing.T) {
		result, err := decoder.Decode([]byte(`{"schema": null, "payload": null}`))

		require.NoError(t, err)
		assert.True(t, result.Ignored())
	})

	t.Run("Error_MissingSourceTable", func(t *testing.T) {
		result, err := decoder.Decode([]byte(`{"op": "u", "after": {"id": 1}, "source": {"lsn": 1}}`))

		var malformed *domain.MalformedEventError
		require.ErrorAs(t, err, &malformed)
		assert.Contains(t, malformed.Reason, "missing source table")
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		assert.Nil(t, result.Event)
	})

	t.Run("Error_NotJSON", func(t *testing.T) {
		for _, raw := range []string{"", "not json", "[1,2,3]", `{"op": "u"`} {
			_, err := decoder.Decode([]byte(raw))

			var malformed *domain.MalformedEventError
			assert.ErrorAs(t, err, &malformed, raw)
		}
	})

	t.Run("Error_StateNotObject", func(t *testing.T) {
		_, err := decoder.Decode([]byte(`{"op": "c", "after": "oops", "source": {"table": "product"}}`))

		var malformed *domain.MalformedEventError
		require.ErrorAs(t, err, &malformed)
		assert.Contains(t, malformed.Reason, "after must be an object")
	})
}
