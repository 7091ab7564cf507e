package eventstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

//nolint:funlen
func Test_QueryBuilder_ValidCombinations(t *testing.T) {
	courseTags := eventstore.MustTagsFrom("course=c1")

	tests := []struct {
		name     string
		build    func() eventstore.Query
		validate func(t *testing.T, q eventstore.Query)
	}{
		{
			name: "matching_all",
			build: func() eventstore.Query {
				return eventstore.BuildQuery().MatchingAll()
			},
			validate: func(t *testing.T, q eventstore.Query) {
				assert.True(t, q.IsAll())
				assert.Empty(t, q.Items())
			},
		},
		{
			name: "event_types_are_sanitized",
			build: func() eventstore.Query {
				return eventstore.BuildQuery().
					Matching().
					AnyEventTypeOf("B", "", "A", "B").
					Finalize()
			},
			validate: func(t *testing.T, q eventstore.Query) {
				assert.False(t, q.IsAll())
				assert.Len(t, q.Items(), 1)
				assert.Equal(t, []string{"A", "B"}, q.Items()[0].EventTypes())
				assert.True(t, q.Items()[0].Tags().IsEmpty())
				assert.False(t, q.Items()[0].OnlyLastEvent())
			},
		},
		{
			name: "tags_only",
			build: func() eventstore.Query {
				return eventstore.BuildQuery().
					Matching().
					AllTagsOf(courseTags).
					Finalize()
			},
			validate: func(t *testing.T, q eventstore.Query) {
				assert.Len(t, q.Items(), 1)
				assert.Empty(t, q.Items()[0].EventTypes())
				assert.True(t, q.Items()[0].Tags().Equals(courseTags))
			},
		},
		{
			name: "types_and_tags_only_last",
			build: func() eventstore.Query {
				return eventstore.BuildQuery().
					Matching().
					AnyEventTypeOf("CourseCapacityChanged").
					AndAllTagsOf(courseTags).
					OnlyLastEvent().
					Finalize()
			},
			validate: func(t *testing.T, q eventstore.Query) {
				assert.Len(t, q.Items(), 1)
				assert.Equal(t, []string{"CourseCapacityChanged"}, q.Items()[0].EventTypes())
				assert.True(t, q.Items()[0].OnlyLastEvent())
			},
		},
		{
			name: "multiple_items",
			build: func() eventstore.Query {
				return eventstore.BuildQuery().
					Matching().
					AllTagsOf(courseTags).
					AndAnyEventTypeOf("CourseDefined").
					OrMatching().
					AnyEventTypeOf("StudentRegistered").
					Finalize()
			},
			validate: func(t *testing.T, q eventstore.Query) {
				assert.Len(t, q.Items(), 2)
				assert.Equal(t, []string{"CourseDefined"}, q.Items()[0].EventTypes())
				assert.Equal(t, []string{"StudentRegistered"}, q.Items()[1].EventTypes())
				assert.True(t, q.Items()[1].Tags().IsEmpty())
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.validate(t, tc.build())
		})
	}
}

func Test_NewQuery_RejectsZeroItems(t *testing.T) {
	_, err := eventstore.NewQuery()

	assert.ErrorIs(t, err, eventstore.ErrValidation)
	assert.ErrorIs(t, err, eventstore.ErrEmptyQuery)
}

func Test_Query_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   eventstore.Query
		wantErr bool
	}{
		{name: "all", query: eventstore.QueryAll()},
		{name: "with items", query: eventstore.BuildQuery().Matching().AnyEventTypeOf("A").Finalize()},
		{name: "zero value", query: eventstore.Query{}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.query.Validate()

			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}

			assert.ErrorIs(t, err, eventstore.ErrValidation)
			assert.ErrorIs(t, err, eventstore.ErrEmptyQuery)
		})
	}
}

func Test_MatchesQueryItem(t *testing.T) {
	event, err := eventstore.BuildEventWithEmptyMetadata(
		"StudentSubscribedToCourse",
		eventstore.MustTagsFrom("course=c1", "student=s1"),
		nil,
	)
	assert.NoError(t, err)

	tests := []struct {
		name  string
		item  eventstore.QueryItem
		match bool
	}{
		{name: "empty_filters", item: eventstore.NewQueryItem(nil, eventstore.Tags{}, false), match: true},
		{name: "type_matches", item: eventstore.NewQueryItem([]string{"X", "StudentSubscribedToCourse"}, eventstore.Tags{}, false), match: true},
		{name: "type_differs", item: eventstore.NewQueryItem([]string{"X"}, eventstore.Tags{}, false), match: false},
		{name: "tag_subset", item: eventstore.NewQueryItem(nil, eventstore.MustTagsFrom("student=s1"), false), match: true},
		{name: "tag_not_contained", item: eventstore.NewQueryItem(nil, eventstore.MustTagsFrom("student=s2"), false), match: false},
		{name: "type_and_tag", item: eventstore.NewQueryItem([]string{"StudentSubscribedToCourse"}, eventstore.MustTagsFrom("course=c1"), true), match: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.match, eventstore.MatchesQueryItem(tc.item, event))
		})
	}
}

func Test_BuildReadOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		o, err := eventstore.BuildReadOptions()

		assert.NoError(t, err)
		assert.False(t, o.Backwards())
		_, hasFrom := o.From()
		assert.False(t, hasFrom)
		_, hasLimit := o.Limit()
		assert.False(t, hasLimit)
	})

	t.Run("from_zero_is_kept", func(t *testing.T) {
		o, err := eventstore.BuildReadOptions(eventstore.FromSequencePosition(0), eventstore.Backwards())

		assert.NoError(t, err)
		from, hasFrom := o.From()
		assert.True(t, hasFrom)
		assert.Equal(t, eventstore.SequencePosition(0), from)
		assert.True(t, o.Backwards())
	})

	t.Run("invalid_limit", func(t *testing.T) {
		_, err := eventstore.BuildReadOptions(eventstore.Limit(0))

		assert.ErrorIs(t, err, eventstore.ErrValidation)
		assert.ErrorIs(t, err, eventstore.ErrInvalidLimit)
	})
}
