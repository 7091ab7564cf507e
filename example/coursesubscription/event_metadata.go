package coursesubscription

import (
	"errors"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

// EventMetadata contains event tracking information.
type EventMetadata struct {
	MessageID     string
	CausationID   string
	CorrelationID string
}

// BuildEventMetadata creates EventMetadata from UUID values.
func BuildEventMetadata(messageID uuid.UUID, causationID uuid.UUID, correlationID uuid.UUID) EventMetadata {
	return EventMetadata{
		MessageID:     messageID.String(),
		CausationID:   causationID.String(),
		CorrelationID: correlationID.String(),
	}
}

// newEventMetadata starts a new causal chain, the message is its own cause and correlation.
func newEventMetadata() EventMetadata {
	uid := uuid.New()
	return BuildEventMetadata(uid, uid, uid)
}

// EventMetadataOf extracts EventMetadata from a stored event.
func EventMetadataOf(envelope eventstore.EventEnvelope) (EventMetadata, error) {
	metadata := new(EventMetadata)
	if err := jsoniter.ConfigFastest.Unmarshal(envelope.Event.Metadata(), metadata); err != nil {
		return EventMetadata{}, errors.Join(ErrMappingEventFailed, err)
	}

	return *metadata, nil
}
