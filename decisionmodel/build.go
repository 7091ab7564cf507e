package decisionmodel

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

// DecisionModel holds the folded state per handler name and the condition for the subsequent append.
type DecisionModel struct {
	states    map[string]any
	condition *eventstore.AppendCondition
}

// AppendCondition returns the condition under which events decided on this model may be appended.
func (m DecisionModel) AppendCondition() *eventstore.AppendCondition {
	return m.condition
}

// State returns the raw state of a handler.
func (m DecisionModel) State(name string) (any, bool) {
	state, ok := m.states[name]
	return state, ok
}

// Build reads once and folds the result into every handler. The read always uses strong consistency.
func Build(ctx context.Context, reader eventstore.EventReader, handlers map[string]StateHandler) (DecisionModel, error) {
	if len(handlers) == 0 {
		return DecisionModel{}, fmt.Errorf("%w: %w", eventstore.ErrValidation, ErrNoHandlers)
	}

	names := slices.Sorted(maps.Keys(handlers))
	items := make([]eventstore.QueryItem, 0, len(names))
	states := make(map[string]any, len(names))

	for _, name := range names {
		handler := handlers[name]
		if handler == nil {
			return DecisionModel{}, fmt.Errorf("%w: %w: %q", eventstore.ErrValidation, ErrNoEventTypes, name)
		}

		if err := handler.validate(); err != nil {
			return DecisionModel{}, fmt.Errorf("%w: %w: %q", eventstore.ErrValidation, err, name)
		}

		items = append(items, handler.queryItem())
		states[name] = handler.initialState()
	}

	query, err := eventstore.NewQuery(items...)
	if err != nil {
		return DecisionModel{}, err
	}

	var ceiling eventstore.SequencePosition
	lastApplicable := make(map[string]eventstore.EventEnvelope)

	for envelope, readErr := range reader.Read(eventstore.WithStrongConsistency(ctx), query) {
		if readErr != nil {
			return DecisionModel{}, readErr
		}

		ceiling = max(ceiling, envelope.SequencePosition)

		for _, name := range names {
			handler := handlers[name]
			if !handler.appliesTo(envelope.Event) {
				continue
			}

			if handler.onlyLastEvent() {
				if envelope.SequencePosition > lastApplicable[name].SequencePosition {
					lastApplicable[name] = envelope
				}

				continue
			}

			states[name] = handler.fold(states[name], envelope)
		}
	}

	for name, envelope := range lastApplicable {
		states[name] = handlers[name].fold(states[name], envelope)
	}

	return DecisionModel{
		states:    states,
		condition: eventstore.NewAppendCondition(query, ceiling),
	}, nil
}

// StateOf returns the state of the named handler as S.
func StateOf[S any](model DecisionModel, name string) (S, error) {
	var zero S

	raw, ok := model.states[name]
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrUnknownHandler, name)
	}

	state, ok := raw.(S)
	if !ok {
		return zero, fmt.Errorf("%w: %q holds %T", ErrStateTypeMismatch, name, raw)
	}

	return state, nil
}

// Reconstitute builds the model of a single handler and returns its state directly.
func Reconstitute[S any](
	ctx context.Context,
	reader eventstore.EventReader,
	handler *Handler[S],
) (S, *eventstore.AppendCondition, error) {

	const name = "state"

	var zero S

	model, err := Build(ctx, reader, map[string]StateHandler{name: handler})
	if err != nil {
		return zero, nil, err
	}

	state, err := StateOf[S](model, name)
	if err != nil {
		return zero, nil, err
	}

	return state, model.AppendCondition(), nil
}
