package eventstore

import (
	"strconv"
)

// SequencePosition is the store-assigned, strictly increasing position of an event in the global log.
//
// Assigned positions start at 1. The zero value means "before anything" and is used as the
// expected ceiling when nothing has been observed yet.
type SequencePosition uint64

// SequencePositionFrom converts a raw integer into a SequencePosition.
// Returns ErrValidation wrapping ErrInvalidSequencePosition for negative input.
func SequencePositionFrom(raw int64) (SequencePosition, error) {
	if raw < 0 {
		return 0, validationError(ErrInvalidSequencePosition, strconv.FormatInt(raw, 10))
	}

	return SequencePosition(raw), nil
}

func (p SequencePosition) Next() SequencePosition {
	return p + 1
}

func (p SequencePosition) Add(n uint64) SequencePosition {
	return p + SequencePosition(n)
}

func (p SequencePosition) IsZero() bool {
	return p == 0
}

func (p SequencePosition) String() string {
	return strconv.FormatUint(uint64(p), 10)
}
