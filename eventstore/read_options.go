package eventstore

import (
	"strconv"
)

// ReadOptions controls direction, start position, and maximum number of events of a Read.
// Build it with BuildReadOptions from ReadOption(s).
type ReadOptions struct {
	backwards bool
	hasFrom   bool
	from      SequencePosition
	limit     int
}

// ReadOption configures a Read.
type ReadOption func(*ReadOptions) error

// Backwards reads in descending position order.
func Backwards() ReadOption {
	return func(o *ReadOptions) error {
		o.backwards = true

		return nil
	}
}

// FromSequencePosition sets an inclusive start position:
// a lower bound when reading forwards, an upper bound when reading backwards.
func FromSequencePosition(position SequencePosition) ReadOption {
	return func(o *ReadOptions) error {
		o.hasFrom = true
		o.from = position

		return nil
	}
}

// Limit caps the number of returned events after ordering.
func Limit(limit int) ReadOption {
	return func(o *ReadOptions) error {
		if limit <= 0 {
			return validationError(ErrInvalidLimit, strconv.Itoa(limit))
		}

		o.limit = limit

		return nil
	}
}

// BuildReadOptions applies all options in order and returns the first error.
func BuildReadOptions(options ...ReadOption) (ReadOptions, error) {
	o := ReadOptions{}

	for _, option := range options {
		if err := option(&o); err != nil {
			return ReadOptions{}, err
		}
	}

	return o, nil
}

func (o ReadOptions) Backwards() bool {
	return o.backwards
}

// From returns the start position and whether one was set.
func (o ReadOptions) From() (SequencePosition, bool) {
	return o.from, o.hasFrom
}

// Limit returns the limit and whether one was set.
func (o ReadOptions) Limit() (int, bool) {
	return o.limit, o.limit > 0
}

// InRange reports whether position satisfies the start bound for the read direction.
func (o ReadOptions) InRange(position SequencePosition) bool {
	if !o.hasFrom {
		return true
	}

	if o.backwards {
		return position <= o.from
	}

	return position >= o.from
}
