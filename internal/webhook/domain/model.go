package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrStaleRequest     = errors.New("webhook timestamp outside allowed skew")
	ErrMalformedPayload = errors.New("malformed webhook payload")
	ErrMissingLeadID    = fmt.Errorf("%w: missing lead id", ErrMalformedPayload)
	ErrMissingUpdatedAt = fmt.Errorf("%w: missing updated_at", ErrMalformedPayload)
	ErrLockContended    = errors.New("event is being processed by another instance")
	ErrEnrichmentFailed = errors.New("enrichment failed for all providers")
	ErrDeliveryFailed   = errors.New("delivery to crm failed")
)

// Event is one decoded lead notification. Raw keeps the original body of
// this event verbatim for the ledger.
type Event struct {
	LeadID    string
	Action    string
	UpdatedAt time.Time
	Name      string
	Phone     string
	Email     string
	Document  string
	Raw       json.RawMessage
}

// EventID derives the deduplication key. A lead updated twice produces two
// distinct events because the source's own update timestamp is part of the
// identity.
func (e Event) EventID() string {
	return e.LeadID + ":" + e.Action + ":" + e.UpdatedAt.UTC().Format(time.RFC3339)
}

// flexID accepts a lead identifier sent either as a JSON string or as a bare
// number; numeric ids keep their exact text.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type wireLead struct {
	ID        flexID `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	Document  string `json:"document"`
	UpdatedAt any    `json:"updated_at"`
}

type wireEvent struct {
	Action    string    `json:"action"`
	Event     string    `json:"event"`
	Lead      *wireLead `json:"lead"`
	LeadID    flexID    `json:"lead_id"`
	UpdatedAt any       `json:"updated_at"`
}

// DecodePayload accepts a single event object or an array of them. Required
// fields are validated here; everything else rides along in Raw untouched.
func DecodePayload(body []byte) ([]Event, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedPayload)
	}

	var rawEvents []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(body, &rawEvents); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	} else {
		rawEvents = []json.RawMessage{json.RawMessage(body)}
	}
	if len(rawEvents) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrMalformedPayload)
	}

	events := make([]Event, 0, len(rawEvents))
	for _, raw := range rawEvents {
		event, err := decodeEvent(raw)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func decodeEvent(raw json.RawMessage) (Event, error) {
	var wire wireEvent
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	event := Event{Action: wire.Action, Raw: raw}
	if event.Action == "" {
		event.Action = wire.Event
	}
	if event.Action == "" {
		event.Action = "lead.updated"
	}

	updatedAt := wire.UpdatedAt
	if wire.Lead != nil {
		event.LeadID = string(wire.Lead.ID)
		event.Name = wire.Lead.Name
		event.Phone = wire.Lead.Phone
		event.Email = wire.Lead.Email
		event.Document = wire.Lead.Document
		if wire.Lead.UpdatedAt != nil {
			updatedAt = wire.Lead.UpdatedAt
		}
	}
	if event.LeadID == "" {
		event.LeadID = string(wire.LeadID)
	}
	if event.LeadID == "" {
		return Event{}, ErrMissingLeadID
	}

	ts, err := ParseTimestamp(updatedAt)
	if err != nil {
		return Event{}, err
	}
	event.UpdatedAt = ts
	return event, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp tolerates the timestamp shapes the source is known to emit:
// RFC 3339 with or without zone, a date-time with a space, a bare date, or
// unix seconds as a number or numeric string.
func ParseTimestamp(value any) (time.Time, error) {
	switch v := value.(type) {
	case nil:
		return time.Time{}, ErrMissingUpdatedAt
	case float64:
		return time.Unix(int64(v), 0).UTC(), nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return time.Unix(n, 0).UTC(), nil
		}
		return parseTimestampString(v.String())
	case string:
		return parseTimestampString(v)
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported updated_at type %T", ErrMalformedPayload, value)
	}
}

func parseTimestampString(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, ErrMissingUpdatedAt
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable updated_at %q", ErrMalformedPayload, value)
}
