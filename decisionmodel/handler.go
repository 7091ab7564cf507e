package decisionmodel

import (
	"errors"
	"maps"
	"slices"

	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

var (
	ErrNoHandlers        = errors.New("at least one state handler is required")
	ErrNoEventTypes      = errors.New("state handler folds no event types")
	ErrNilFold           = errors.New("state handler has a nil fold function")
	ErrUnknownHandler    = errors.New("no state for handler")
	ErrStateTypeMismatch = errors.New("state has a different type")
)

// Fold applies one event to a state and returns the new state.
type Fold[S any] func(state S, envelope eventstore.EventEnvelope) S

// StateHandler is the type-erased view of a Handler, so handlers of different state types fit into one map.
type StateHandler interface {
	queryItem() eventstore.QueryItem
	appliesTo(event eventstore.Event) bool
	onlyLastEvent() bool
	initialState() any
	fold(state any, envelope eventstore.EventEnvelope) any
	validate() error
}

// Handler folds the events of its types, restricted by its tag filter, into a state of type S.
type Handler[S any] struct {
	initial S
	when    map[string]Fold[S]
	config  handlerConfig
}

type handlerConfig struct {
	tagFilter eventstore.Tags
	onlyLast  bool
}

// HandlerOption configures a Handler.
type HandlerOption func(*handlerConfig)

// WithTagFilter restricts the handler to events carrying all given tags.
func WithTagFilter(tags eventstore.Tags) HandlerOption {
	return func(c *handlerConfig) {
		c.tagFilter = tags
	}
}

// OnlyLastEvent makes the handler fold just the newest event it applies to.
func OnlyLastEvent() HandlerOption {
	return func(c *handlerConfig) {
		c.onlyLast = true
	}
}

// NewHandler creates a handler starting from initial and folding with the function registered per event type.
func NewHandler[S any](initial S, when map[string]Fold[S], options ...HandlerOption) *Handler[S] {
	h := &Handler[S]{initial: initial, when: maps.Clone(when)}

	for _, option := range options {
		option(&h.config)
	}

	return h
}

func (h *Handler[S]) eventTypes() []string {
	return slices.Sorted(maps.Keys(h.when))
}

func (h *Handler[S]) queryItem() eventstore.QueryItem {
	return eventstore.NewQueryItem(h.eventTypes(), h.config.tagFilter, h.config.onlyLast)
}

func (h *Handler[S]) appliesTo(event eventstore.Event) bool {
	if _, ok := h.when[event.Type()]; !ok {
		return false
	}

	return eventstore.MatchTags(event.Tags(), h.config.tagFilter)
}

func (h *Handler[S]) onlyLastEvent() bool {
	return h.config.onlyLast
}

func (h *Handler[S]) initialState() any {
	return h.initial
}

func (h *Handler[S]) fold(state any, envelope eventstore.EventEnvelope) any {
	return h.when[envelope.Event.Type()](state.(S), envelope)
}

func (h *Handler[S]) validate() error {
	if len(h.when) == 0 {
		return ErrNoEventTypes
	}

	for eventType, fold := range h.when {
		if fold == nil {
			return errors.Join(ErrNilFold, errors.New(eventType))
		}
	}

	return nil
}
