package eventstore

// AppendCondition guards an append: it is violated if any stored event with a position greater than
// ExpectedCeiling matches Query.
//
// A nil *AppendCondition means an unconditional append.
type AppendCondition struct {
	Query           Query
	ExpectedCeiling SequencePosition
}

func NewAppendCondition(query Query, expectedCeiling SequencePosition) *AppendCondition {
	return &AppendCondition{Query: query, ExpectedCeiling: expectedCeiling}
}

// IsViolatedBy reports whether the stored envelope violates the condition.
func (c AppendCondition) IsViolatedBy(envelope EventEnvelope) bool {
	return envelope.SequencePosition > c.ExpectedCeiling && c.Query.Matches(envelope.Event)
}
