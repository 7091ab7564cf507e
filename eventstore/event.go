package eventstore

import (
	"bytes"
	"slices"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var emptyJSONObject = []byte("{}")

// Event is an immutable, not yet persisted event: a type, a set of tags, and JSON data and metadata.
//
// It is built on scalars to be completely agnostic of the implementation of domain events in the client code.
// Construct it with BuildEvent or BuildEventWithEmptyMetadata.
type Event struct {
	eventType string
	tags      Tags
	data      []byte
	metadata  []byte
}

// BuildEvent is a factory method for Event.
//
// Empty data or metadata default to an empty JSON object.
// Returns ErrValidation wrapping ErrEmptyEventType, ErrInvalidDataJSON, or ErrInvalidMetadataJSON.
func BuildEvent(eventType string, tags Tags, data []byte, metadata []byte) (Event, error) {
	if eventType == "" {
		return Event{}, validationError(ErrEmptyEventType, "")
	}

	if len(data) == 0 {
		data = emptyJSONObject
	}

	if len(metadata) == 0 {
		metadata = emptyJSONObject
	}

	if !jsoniter.Valid(data) {
		return Event{}, validationError(ErrInvalidDataJSON, eventType)
	}

	if !jsoniter.Valid(metadata) {
		return Event{}, validationError(ErrInvalidMetadataJSON, eventType)
	}

	return Event{
		eventType: eventType,
		tags:      tags,
		data:      slices.Clone(data),
		metadata:  slices.Clone(metadata),
	}, nil
}

// BuildEventWithEmptyMetadata is like BuildEvent with "{}" as metadata.
func BuildEventWithEmptyMetadata(eventType string, tags Tags, data []byte) (Event, error) {
	return BuildEvent(eventType, tags, data, emptyJSONObject)
}

func (e Event) Type() string {
	return e.eventType
}

func (e Event) Tags() Tags {
	return e.tags
}

// Data returns a copy of the JSON data.
func (e Event) Data() []byte {
	return slices.Clone(e.data)
}

// Metadata returns a copy of the JSON metadata.
func (e Event) Metadata() []byte {
	return slices.Clone(e.metadata)
}

// Equals compares type, tags (as a set), data, and metadata.
func (e Event) Equals(other Event) bool {
	return e.eventType == other.eventType &&
		e.tags.Equals(other.tags) &&
		bytes.Equal(e.data, other.data) &&
		bytes.Equal(e.metadata, other.metadata)
}

// EventEnvelope is a persisted Event together with its store-assigned SequencePosition and recording time.
// Envelopes are only produced by EventStore implementations.
type EventEnvelope struct {
	Event            Event
	SequencePosition SequencePosition
	RecordedAt       time.Time
}

// RestoreEvent rebuilds an Event from persisted columns without re-validating the payloads.
// Engines use it when scanning rows they wrote themselves.
func RestoreEvent(eventType string, tags Tags, data []byte, metadata []byte) Event {
	return Event{
		eventType: eventType,
		tags:      tags,
		data:      data,
		metadata:  metadata,
	}
}
