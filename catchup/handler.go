package catchup

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

var (
	ErrNoHandlers         = errors.New("registry needs at least one handler")
	ErrEmptyHandlerID     = errors.New("handler id must not be empty")
	ErrDuplicateHandlerID = errors.New("handler id is registered more than once")
	ErrNoEventTypes       = errors.New("handler must handle at least one event type")
	ErrNilCallback        = errors.New("handler callback must not be nil")
	ErrHandlerFailed      = errors.New("event handler failed")
)

// Callback is invoked once per delivered event, in position order.
type Callback func(ctx context.Context, envelope eventstore.EventEnvelope) error

// Handler consumes events of the types it has callbacks for.
type Handler struct {
	ID   string
	When map[string]Callback
}

// EventTypes returns the handled event types, sorted.
func (h Handler) EventTypes() []string {
	return slices.Sorted(maps.Keys(h.When))
}

func (h Handler) query() eventstore.Query {
	types := h.EventTypes()

	return eventstore.BuildQuery().
		Matching().
		AnyEventTypeOf(types[0], types[1:]...).
		Finalize()
}

// Registry is an explicitly constructed, immutable set of handlers with unique ids.
type Registry struct {
	handlers []Handler
}

// NewRegistry validates the handlers and returns them as a Registry.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	if len(handlers) == 0 {
		return nil, fmt.Errorf("%w: %w", eventstore.ErrValidation, ErrNoHandlers)
	}

	seen := make(map[string]struct{}, len(handlers))

	for _, handler := range handlers {
		if handler.ID == "" {
			return nil, fmt.Errorf("%w: %w", eventstore.ErrValidation, ErrEmptyHandlerID)
		}

		if _, ok := seen[handler.ID]; ok {
			return nil, fmt.Errorf("%w: %w: %q", eventstore.ErrValidation, ErrDuplicateHandlerID, handler.ID)
		}

		if len(handler.When) == 0 {
			return nil, fmt.Errorf("%w: %w: %q", eventstore.ErrValidation, ErrNoEventTypes, handler.ID)
		}

		for eventType, callback := range handler.When {
			if eventType == "" || callback == nil {
				return nil, fmt.Errorf("%w: %w: %q", eventstore.ErrValidation, ErrNilCallback, handler.ID)
			}
		}

		seen[handler.ID] = struct{}{}
	}

	return &Registry{handlers: slices.Clone(handlers)}, nil
}

func (r *Registry) Handlers() []Handler {
	return slices.Clone(r.handlers)
}

// IDs returns the handler ids in registration order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.handlers))
	for _, handler := range r.handlers {
		ids = append(ids, handler.ID)
	}

	return ids
}
