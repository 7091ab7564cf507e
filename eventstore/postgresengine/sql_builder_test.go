package postgresengine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

func givenBuilderStore() *EventStore {
	return &EventStore{
		eventTableName:     "events",
		bookmarksTableName: "bookmarks",
		fetchSize:          defaultFetchSize,
	}
}

func Test_BuildSelectQuery(t *testing.T) {
	courseTags := eventstore.MustTagsFrom("course=c1")

	testCases := []struct {
		name         string
		query        eventstore.Query
		options      []eventstore.ReadOption
		contains     []string
		doesNotMatch []string
	}{
		{
			name:     "all events ascending",
			query:    eventstore.QueryAll(),
			contains: []string{`FROM "events"`, `ORDER BY "sequence_position" ASC`},
			doesNotMatch: []string{
				"UNION",
				"LIMIT",
			},
		},
		{
			name: "types and tags",
			query: eventstore.BuildQuery().
				Matching().AnyEventTypeOf("CourseDefined", "CourseRenamed").AndAllTagsOf(courseTags).
				Finalize(),
			contains: []string{
				`"type" IN ('CourseDefined', 'CourseRenamed')`,
				`"tags" @> ARRAY['course=c1']::text[]`,
			},
		},
		{
			name: "two items are combined with union",
			query: eventstore.BuildQuery().
				Matching().AnyEventTypeOf("A").
				OrMatching().AllTagsOf(courseTags).
				Finalize(),
			contains: []string{"UNION"},
		},
		{
			name: "only last event selects the maximum",
			query: eventstore.BuildQuery().
				Matching().AnyEventTypeOf("A").OnlyLastEvent().
				Finalize(),
			contains: []string{`MAX("sequence_position")`},
		},
		{
			name:     "backwards from position with limit",
			query:    eventstore.QueryAll(),
			options:  []eventstore.ReadOption{eventstore.Backwards(), eventstore.FromSequencePosition(7), eventstore.Limit(3)},
			contains: []string{`"sequence_position" <= 7`, `ORDER BY "sequence_position" DESC`, "LIMIT 3"},
		},
		{
			name:     "forwards from position",
			query:    eventstore.QueryAll(),
			options:  []eventstore.ReadOption{eventstore.FromSequencePosition(7)},
			contains: []string{`"sequence_position" >= 7`},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// arrange
			options, err := eventstore.BuildReadOptions(tc.options...)
			require.NoError(t, err)

			// act
			sqlQuery, err := givenBuilderStore().buildSelectQuery(tc.query, options)

			// assert
			require.NoError(t, err)
			for _, fragment := range tc.contains {
				assert.Contains(t, sqlQuery, fragment)
			}
			for _, fragment := range tc.doesNotMatch {
				assert.NotContains(t, sqlQuery, fragment)
			}
		})
	}
}

func Test_BuildAppendQuery(t *testing.T) {
	event, err := eventstore.BuildEvent("CourseDefined", eventstore.MustTagsFrom("course=c1"), []byte(`{"name":"O'Hara"}`), nil)
	require.NoError(t, err)
	query := eventstore.BuildQuery().Matching().AllTagsOf(eventstore.MustTagsFrom("course=c1")).Finalize()

	t.Run("unconditional", func(t *testing.T) {
		sqlQuery, err := givenBuilderStore().buildAppendQuery([]eventstore.Event{event, event}, nil)

		require.NoError(t, err)
		assert.Contains(t, sqlQuery, `INSERT INTO "events"`)
		assert.Contains(t, sqlQuery, "UNION ALL")
		assert.Contains(t, sqlQuery, `RETURNING "sequence_position", "timestamp"`)
		assert.Contains(t, sqlQuery, `'{"name":"O''Hara"}'::jsonb`)
		assert.NotContains(t, sqlQuery, "NOT EXISTS")
	})

	t.Run("conditional", func(t *testing.T) {
		sqlQuery, err := givenBuilderStore().buildAppendQuery(
			[]eventstore.Event{event},
			eventstore.NewAppendCondition(query, 42),
		)

		require.NoError(t, err)
		assert.Contains(t, sqlQuery, "NOT EXISTS")
		assert.Contains(t, sqlQuery, `"sequence_position" > 42`)
		assert.Contains(t, sqlQuery, `"tags" @> ARRAY['course=c1']::text[]`)
	})
}

func Test_BuildBookmarkQueries(t *testing.T) {
	es := givenBuilderStore()

	register, err := es.buildRegisterHandlersQuery([]string{"h1", "h2"})
	require.NoError(t, err)
	assert.Contains(t, register, `INSERT INTO "bookmarks"`)
	assert.Contains(t, register, "ON CONFLICT DO NOTHING")

	lock, err := es.buildLockBookmarksQuery([]string{"h1", "h2"})
	require.NoError(t, err)
	assert.Contains(t, lock, "FOR UPDATE NOWAIT")

	advance, err := es.buildAdvanceBookmarksQuery(map[string]eventstore.SequencePosition{"h1": 5})
	require.NoError(t, err)
	assert.Contains(t, advance, `UPDATE "bookmarks"`)
	assert.Contains(t, advance, "WHEN 'h1' THEN 5")
	assert.Contains(t, advance, `GREATEST("last_sequence_position", `)
}

func Test_ClassifyError(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		wantErrs []error
	}{
		{
			name:     "pgx serialization failure",
			err:      &pgconn.PgError{Code: "40001"},
			wantErrs: []error{eventstore.ErrConcurrencyConflict, eventstore.ErrSerializationFailure},
		},
		{
			name:     "lib/pq serialization failure",
			err:      fmt.Errorf("commit: %w", &pq.Error{Code: "40001"}),
			wantErrs: []error{eventstore.ErrConcurrencyConflict, eventstore.ErrSerializationFailure},
		},
		{
			name:     "pgx lock not available",
			err:      &pgconn.PgError{Code: "55P03"},
			wantErrs: []error{eventstore.ErrHandlerLocked},
		},
		{
			name:     "lib/pq lock not available",
			err:      &pq.Error{Code: "55P03"},
			wantErrs: []error{eventstore.ErrHandlerLocked},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			classified := classifyError(tc.err)

			for _, wantErr := range tc.wantErrs {
				assert.ErrorIs(t, classified, wantErr)
			}
			assert.ErrorIs(t, classified, tc.err)
		})
	}

	t.Run("other errors pass through", func(t *testing.T) {
		err := errors.New("boom")

		assert.Equal(t, err, classifyError(err))
	})
}

func Test_ErrorTypeOf(t *testing.T) {
	assert.Equal(t, errorTypeConcurrencyConflict, errorTypeOf(classifyError(&pgconn.PgError{Code: "40001"})))
	assert.Equal(t, errorTypeHandlerLocked, errorTypeOf(classifyError(&pgconn.PgError{Code: "55P03"})))
	assert.Equal(t, errorTypeBeginTx, errorTypeOf(errors.Join(eventstore.ErrBeginTransactionFailed, errors.New("x"))))
	assert.Equal(t, errorTypeRowScan, errorTypeOf(errors.Join(eventstore.ErrScanningDBRowFailed, errors.New("x"))))
	assert.Equal(t, errorTypeHandlerFailed, errorTypeOf(errors.New("x")))
}
