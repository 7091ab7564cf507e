package catchup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

const (
	logMsgCatchupCompleted = "catch-up completed"
	logMsgCatchupFailed    = "catch-up failed"
	logAttrHandlerID       = "handler_id"
	logAttrDelivered       = "delivered"
	logAttrCeiling         = "ceiling"
	logAttrDurationMS      = "duration_ms"
	logAttrError           = "error"
)

// Store is the storage view a catch-up run needs. Engines provide it bound to one transaction or lock scope.
type Store interface {
	eventstore.EventReader

	// TailPosition returns the highest assigned position, zero for an empty log.
	TailPosition(ctx context.Context) (eventstore.SequencePosition, error)

	// RegisterHandlers creates missing bookmarks at position zero.
	RegisterHandlers(ctx context.Context, handlerIDs []string) error

	// LockBookmarks locks all bookmarks without waiting and returns their positions.
	// It fails with eventstore.ErrHandlerLocked if any bookmark is held by someone else.
	LockBookmarks(ctx context.Context, handlerIDs []string) (map[string]eventstore.SequencePosition, error)

	// AdvanceBookmarks writes all given positions in one batch.
	AdvanceBookmarks(ctx context.Context, positions map[string]eventstore.SequencePosition) error
}

type options struct {
	upTo    eventstore.SequencePosition
	hasUpTo bool
	logger  eventstore.Logger
}

// Option configures Run.
type Option func(*options)

// UpTo sets an explicit ceiling instead of the current tail position.
func UpTo(position eventstore.SequencePosition) Option {
	return func(o *options) {
		o.upTo = position
		o.hasUpTo = true
	}
}

// WithLogger logs a summary per handler at info level and failures at error level.
func WithLogger(logger eventstore.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// HandlerReport describes what one handler received in a run.
type HandlerReport struct {
	From      eventstore.SequencePosition
	To        eventstore.SequencePosition
	Delivered int
}

// Report is the outcome of a successful run, keyed by handler id.
type Report struct {
	Handlers map[string]HandlerReport
}

// Delivered returns the total number of callback invocations.
func (r Report) Delivered() int {
	total := 0
	for _, handlerReport := range r.Handlers {
		total += handlerReport.Delivered
	}

	return total
}

// Run catches up all handlers of the registry against store.
//
// Bookmarks never move backwards: with an UpTo ceiling below a bookmark, that handler is left untouched.
// On error nothing is advanced, the caller must roll back its transaction or release its locks.
func Run(ctx context.Context, store Store, registry *Registry, opts ...Option) (Report, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	ids := registry.IDs()

	// a zero Registry has nothing to register, lock, or advance
	if len(ids) == 0 {
		return Report{Handlers: map[string]HandlerReport{}}, nil
	}

	if err := store.RegisterHandlers(ctx, ids); err != nil {
		return Report{}, err
	}

	bookmarks, err := store.LockBookmarks(ctx, ids)
	if err != nil {
		return Report{}, err
	}

	ceiling := o.upTo
	if !o.hasUpTo {
		if ceiling, err = store.TailPosition(ctx); err != nil {
			return Report{}, err
		}
	}

	report := Report{Handlers: make(map[string]HandlerReport, len(ids))}
	advances := make(map[string]eventstore.SequencePosition, len(ids))

	for _, handler := range registry.handlers {
		last := bookmarks[handler.ID]
		handlerReport := HandlerReport{From: last, To: last}

		if last < ceiling {
			delivered, deliverErr := deliver(ctx, store, handler, last, ceiling)
			if deliverErr != nil {
				logError(o.logger, handler.ID, deliverErr)

				return Report{}, deliverErr
			}

			handlerReport.To = ceiling
			handlerReport.Delivered = delivered
			advances[handler.ID] = ceiling
		}

		report.Handlers[handler.ID] = handlerReport
	}

	if len(advances) > 0 {
		if err = store.AdvanceBookmarks(ctx, advances); err != nil {
			return Report{}, err
		}
	}

	if o.logger != nil {
		for id, handlerReport := range report.Handlers {
			o.logger.Info(
				logMsgCatchupCompleted,
				logAttrHandlerID, id,
				logAttrDelivered, handlerReport.Delivered,
				logAttrCeiling, uint64(handlerReport.To),
				logAttrDurationMS, time.Since(start).Milliseconds(),
			)
		}
	}

	return report, nil
}

func deliver(
	ctx context.Context,
	store Store,
	handler Handler,
	last eventstore.SequencePosition,
	ceiling eventstore.SequencePosition,
) (int, error) {

	delivered := 0

	for envelope, err := range store.Read(ctx, handler.query(), eventstore.FromSequencePosition(last.Next())) {
		if err != nil {
			return delivered, err
		}

		if envelope.SequencePosition > ceiling {
			break
		}

		callback := handler.When[envelope.Event.Type()]
		if callbackErr := callback(ctx, envelope); callbackErr != nil {
			return delivered, errors.Join(
				ErrHandlerFailed,
				fmt.Errorf("handler %q at position %d: %w", handler.ID, envelope.SequencePosition, callbackErr),
			)
		}

		delivered++
	}

	return delivered, nil
}

func logError(logger eventstore.Logger, handlerID string, err error) {
	if logger != nil {
		logger.Error(logMsgCatchupFailed, logAttrHandlerID, handlerID, logAttrError, err.Error())
	}
}
