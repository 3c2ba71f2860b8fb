package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayloadSingle(t *testing.T) {
	body := []byte(`{"action":"lead.created","lead":{"id":"42","name":"Maria","phone":"+5511998765432","email":"maria@example.com","document":"12345678901","updated_at":"2026-03-01T11:59:00Z"},"campaign":"spring"}`)

	events, err := DecodePayload(body)
	require.NoError(t, err)
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, "42", event.LeadID)
	assert.Equal(t, "lead.created", event.Action)
	assert.Equal(t, "Maria", event.Name)
	assert.Equal(t, "12345678901", event.Document)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC), event.UpdatedAt)
	// Unknown fields survive verbatim in the raw payload.
	assert.Contains(t, string(event.Raw), "campaign")
	assert.Equal(t, "42:lead.created:2026-03-01T11:59:00Z", event.EventID())
}

func TestDecodePayloadBatch(t *testing.T) {
	body := []byte(`[
		{"action":"lead.created","lead":{"id":1,"updated_at":"2026-03-01 11:59:00"}},
		{"event":"lead.updated","lead_id":"2","updated_at":1772366340}
	]`)

	events, err := DecodePayload(body)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "1", events[0].LeadID)
	assert.Equal(t, "2", events[1].LeadID)
	assert.Equal(t, "lead.updated", events[1].Action)
}

func TestDecodePayloadLeadIDShapes(t *testing.T) {
	cases := map[string]struct {
		body []byte
		want string
	}{
		"opaque string id": {
			body: []byte(`{"lead":{"id":"abc-123","updated_at":"2026-03-01T11:59:00Z"}}`),
			want: "abc-123",
		},
		"uuid string id": {
			body: []byte(`{"lead_id":"6f1e9d2c-8f04-4a75-9d34-6d1f0a4c9b11","updated_at":"2026-03-01T11:59:00Z"}`),
			want: "6f1e9d2c-8f04-4a75-9d34-6d1f0a4c9b11",
		},
		"quoted numeric id": {
			body: []byte(`{"lead":{"id":"42","updated_at":"2026-03-01T11:59:00Z"}}`),
			want: "42",
		},
		"large numeric id keeps exact digits": {
			body: []byte(`{"lead":{"id":9007199254740993,"updated_at":"2026-03-01T11:59:00Z"}}`),
			want: "9007199254740993",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			events, err := DecodePayload(tc.body)
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, tc.want, events[0].LeadID)
		})
	}
}

func TestDecodePayloadErrors(t *testing.T) {
	cases := map[string][]byte{
		"empty body":         []byte(" "),
		"empty batch":        []byte(`[]`),
		"invalid json":       []byte(`{`),
		"missing lead id":    []byte(`{"action":"lead.created","updated_at":"2026-03-01T11:59:00Z"}`),
		"missing updated_at": []byte(`{"lead":{"id":"42"}}`),
		"bad timestamp":      []byte(`{"lead":{"id":"42","updated_at":"not a date"}}`),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodePayload(body)
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC)
	for name, value := range map[string]any{
		"rfc3339":        "2026-03-01T11:59:00Z",
		"no zone":        "2026-03-01T11:59:00",
		"space separate": "2026-03-01 11:59:00",
		"unix number":    float64(want.Unix()),
		"unix string":    "1772366340",
	} {
		t.Run(name, func(t *testing.T) {
			ts, err := ParseTimestamp(value)
			require.NoError(t, err)
			assert.Equal(t, want, ts)
		})
	}

	t.Run("bare date", func(t *testing.T) {
		ts, err := ParseTimestamp("2026-03-01")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), ts)
	})

	t.Run("nil", func(t *testing.T) {
		_, err := ParseTimestamp(nil)
		assert.ErrorIs(t, err, ErrMissingUpdatedAt)
	})
}
