package eventstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

func Test_TagsFrom_Validation(t *testing.T) {
	tests := []struct {
		name    string
		tokens  []string
		wantErr bool
	}{
		{name: "simple_token", tokens: []string{"course=c1"}},
		{name: "hyphens_and_digits", tokens: []string{"student-id=abc-123"}},
		{name: "no_tokens", tokens: nil},
		{name: "missing_equals", tokens: []string{"course"}, wantErr: true},
		{name: "two_equals", tokens: []string{"a=b=c"}, wantErr: true},
		{name: "empty_key", tokens: []string{"=c1"}, wantErr: true},
		{name: "empty_value", tokens: []string{"course="}, wantErr: true},
		{name: "underscore", tokens: []string{"course_id=c1"}, wantErr: true},
		{name: "whitespace", tokens: []string{"course= c1"}, wantErr: true},
		{name: "second_token_invalid", tokens: []string{"course=c1", "bad"}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// act
			_, err := eventstore.TagsFrom(tc.tokens...)

			// assert
			if tc.wantErr {
				assert.ErrorIs(t, err, eventstore.ErrValidation)
				assert.ErrorIs(t, err, eventstore.ErrInvalidTag)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func Test_TagsFrom_RemovesDuplicatesKeepingFirstOccurrence(t *testing.T) {
	// act
	tags, err := eventstore.TagsFrom("b=2", "a=1", "b=2")

	// assert
	assert.NoError(t, err)
	assert.Equal(t, []string{"b=2", "a=1"}, tags.Strings())
}

func Test_TagsFromMap(t *testing.T) {
	t.Run("orders_by_key", func(t *testing.T) {
		tags, err := eventstore.TagsFromMap(map[string]string{"student": "s1", "course": "c1"})

		assert.NoError(t, err)
		assert.Equal(t, []string{"course=c1", "student=s1"}, tags.Strings())
	})

	t.Run("rejects_empty_map", func(t *testing.T) {
		_, err := eventstore.TagsFromMap(map[string]string{})

		assert.ErrorIs(t, err, eventstore.ErrValidation)
		assert.ErrorIs(t, err, eventstore.ErrEmptyTags)
	})

	t.Run("rejects_invalid_value", func(t *testing.T) {
		_, err := eventstore.TagsFromMap(map[string]string{"course": "c 1"})

		assert.ErrorIs(t, err, eventstore.ErrInvalidTag)
	})
}

func Test_Tags_EqualsIsOrderInsensitive(t *testing.T) {
	a := eventstore.MustTagsFrom("course=c1", "student=s1")
	b := eventstore.MustTagsFrom("student=s1", "course=c1")
	c := eventstore.MustTagsFrom("course=c1")

	assert.True(t, a.Equals(b))
	assert.False(t, a.Equals(c))
	assert.False(t, c.Equals(a))
}

func Test_MatchTags(t *testing.T) {
	eventTags := eventstore.MustTagsFrom("course=c1", "student=s1")

	assert.True(t, eventstore.MatchTags(eventTags, eventstore.Tags{}))
	assert.True(t, eventstore.MatchTags(eventTags, eventstore.MustTagsFrom("student=s1")))
	assert.True(t, eventstore.MatchTags(eventTags, eventstore.MustTagsFrom("student=s1", "course=c1")))
	assert.False(t, eventstore.MatchTags(eventTags, eventstore.MustTagsFrom("course=c2")))
	assert.False(t, eventstore.MatchTags(eventTags, eventstore.MustTagsFrom("course=c1", "student=s2")))
	assert.False(t, eventstore.MatchTags(eventstore.Tags{}, eventstore.MustTagsFrom("course=c1")))
}

func Test_MustTagsFrom_PanicsOnInvalidInput(t *testing.T) {
	assert.Panics(t, func() { eventstore.MustTagsFrom("invalid") })
}

func Test_SequencePositionFrom(t *testing.T) {
	p, err := eventstore.SequencePositionFrom(42)
	assert.NoError(t, err)
	assert.Equal(t, eventstore.SequencePosition(42), p)
	assert.Equal(t, eventstore.SequencePosition(43), p.Next())

	_, err = eventstore.SequencePositionFrom(-1)
	assert.ErrorIs(t, err, eventstore.ErrValidation)
	assert.ErrorIs(t, err, eventstore.ErrInvalidSequencePosition)
}
