package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Field names an optional descriptive attribute of an event.
type Field string

const (
	FieldTitle    Field = "title"
	FieldSubtitle Field = "subtitle"
	FieldHost     Field = "host"
	FieldDate     Field = "date"
	FieldLocation Field = "location"
)

// Fields lists every known field in display order.
var Fields = []Field{FieldTitle, FieldSubtitle, FieldHost, FieldDate, FieldLocation}

// ErrInvalidResponse marks a fetch payload that is not a list of event records.
var ErrInvalidResponse = errors.New("invalid events response")

// Event is one calendar event as delivered by an event source.
//
// Every field is optional. A nil pointer means the key was absent or null;
// an empty string is kept as-is but is not considered present.
type Event struct {
	Title    *string `json:"title,omitempty"`
	Subtitle *string `json:"subtitle,omitempty"`
	Date     *string `json:"date,omitempty"`
	Host     *string `json:"host,omitempty"`
	Location *string `json:"location,omitempty"`
}

// Get returns the value of f and whether it is present (non-nil, non-empty).
func (e Event) Get(f Field) (string, bool) {
	var p *string
	switch f {
	case FieldTitle:
		p = e.Title
	case FieldSubtitle:
		p = e.Subtitle
	case FieldHost:
		p = e.Host
	case FieldDate:
		p = e.Date
	case FieldLocation:
		p = e.Location
	}
	if p == nil || *p == "" {
		return "", false
	}
	return *p, true
}

// Value returns the field's text, or "" when it is not present.
func (e Event) Value(f Field) string {
	v, _ := e.Get(f)
	return v
}

// Text returns a pointer to s, for building events in code.
func Text(s string) *string {
	return &s
}

// DecodeEvents validates a raw fetch payload and converts it into events.
//
// The payload must be a JSON array whose elements are all JSON objects.
// Known fields must be strings or null; unknown keys are ignored. Any
// violation rejects the whole batch.
func DecodeEvents(data []byte) ([]Event, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidResponse)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: expected a list of events, got %s", ErrInvalidResponse, jsonKind(trimmed))
	}

	events := make([]Event, 0, len(items))
	for i, raw := range items {
		ev, err := decodeEvent(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: event at index %d: %v", ErrInvalidResponse, i, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func decodeEvent(raw json.RawMessage) (Event, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return Event{}, fmt.Errorf("must be an object, got %s", jsonKind(raw))
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Event{}, err
	}

	var ev Event
	for _, f := range Fields {
		v, ok := obj[string(f)]
		if !ok {
			continue
		}
		s, err := decodeOptionalString(v)
		if err != nil {
			return Event{}, fmt.Errorf("field %q %v", f, err)
		}
		switch f {
		case FieldTitle:
			ev.Title = s
		case FieldSubtitle:
			ev.Subtitle = s
		case FieldHost:
			ev.Host = s
		case FieldDate:
			ev.Date = s
		case FieldLocation:
			ev.Location = s
		}
	}
	return ev, nil
}

func decodeOptionalString(v json.RawMessage) (*string, error) {
	v = bytes.TrimSpace(v)
	if bytes.Equal(v, []byte("null")) {
		return nil, nil
	}
	if len(v) == 0 || v[0] != '"' {
		return nil, fmt.Errorf("must be a string, got %s", jsonKind(v))
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// jsonKind names the JSON type of a raw value for error messages.
func jsonKind(v []byte) string {
	if len(v) == 0 {
		return "nothing"
	}
	switch v[0] {
	case '{':
		return "object"
	case '[':
		return "list"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}
