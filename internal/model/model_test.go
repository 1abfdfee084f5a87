package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventGet_Presence(t *testing.T) {
	ev := Event{
		Title:    Text("Fossil Talk"),
		Subtitle: Text(""),
	}

	v, ok := ev.Get(FieldTitle)
	assert.True(t, ok)
	assert.Equal(t, "Fossil Talk", v)

	_, ok = ev.Get(FieldSubtitle)
	assert.False(t, ok, "empty string is not present")

	_, ok = ev.Get(FieldHost)
	assert.False(t, ok, "nil is not present")

	assert.Equal(t, "", ev.Value(FieldLocation))
}

func TestDecodeEvents_Valid(t *testing.T) {
	body := []byte(`[
		{"title": "Talk", "date": "2024-12-05", "location": "Calgary", "host": "Dr. X", "extra": 42},
		{"subtitle": null},
		{}
	]`)

	events, err := DecodeEvents(body)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, "Talk", events[0].Value(FieldTitle))
	assert.Equal(t, "2024-12-05", events[0].Value(FieldDate))
	assert.Equal(t, "Calgary", events[0].Value(FieldLocation))
	assert.Equal(t, "Dr. X", events[0].Value(FieldHost))
	assert.Nil(t, events[1].Subtitle)
	assert.Equal(t, Event{}, events[2])
}

func TestDecodeEvents_EmptyList(t *testing.T) {
	events, err := DecodeEvents([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDecodeEvents_NotAList(t *testing.T) {
	_, err := DecodeEvents([]byte(`{"events": []}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidResponse)
	assert.Contains(t, err.Error(), "got object")
}

func TestDecodeEvents_ElementNotObject(t *testing.T) {
	_, err := DecodeEvents([]byte(`[{"title": "ok"}, "not an event"]`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidResponse)
	assert.Contains(t, err.Error(), "index 1")
	assert.Contains(t, err.Error(), "got string")
}

func TestDecodeEvents_NonStringField(t *testing.T) {
	_, err := DecodeEvents([]byte(`[{"title": 7}]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "title"`)
}

func TestDecodeEvents_InvalidJSON(t *testing.T) {
	_, err := DecodeEvents([]byte(`<html>oops</html>`))
	assert.ErrorIs(t, err, ErrInvalidResponse)

	_, err = DecodeEvents(nil)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}
