package sqliteengine_test

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/dcb-eventstore-go/catchup"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore/eventstoretest"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore/sqliteengine"
	"github.com/AntonStoeckl/dcb-eventstore-go/testutil/observability/testdoubles"
)

// givenFreshStore opens a new database file in the test's temp dir and creates the schema.
func givenFreshStore(t *testing.T, options ...sqliteengine.Option) *sqliteengine.EventStore {
	t.Helper()

	es, db, err := sqliteengine.Open(t.Context(), filepath.Join(t.TempDir(), "events.db"), options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, es.CreateSchema(t.Context()))

	return es
}

func Test_SQLiteEngine_EventStoreSuite(t *testing.T) {
	eventstoretest.RunEventStoreSuite(t, func(t *testing.T) eventstore.EventStore {
		return givenFreshStore(t)
	})
}

func Test_SQLiteEngine_CatchupSuite(t *testing.T) {
	eventstoretest.RunCatchupSuite(t, func(t *testing.T) (eventstore.EventStore, eventstoretest.CatchupRunner) {
		es := givenFreshStore(t)
		return es, es
	})
}

func Test_SQLiteEngine_UsesClockForRecordedAt(t *testing.T) {
	// arrange
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	es := givenFreshStore(t, sqliteengine.WithClock(func() time.Time { return fixed }))

	// act
	envelopes := eventstoretest.GivenEventsWereAppended(t, es, eventstoretest.FixtureEvent(t, "A"))

	// assert
	assert.True(t, fixed.Equal(envelopes[0].RecordedAt))
	assert.True(t, fixed.Equal(eventstoretest.ReadAll(t, es, eventstore.QueryAll())[0].RecordedAt))
}

func Test_SQLiteEngine_SerializableTransactionDiscardsAppendsOnError(t *testing.T) {
	// arrange
	es := givenFreshStore(t)
	errAbort := assert.AnError

	// act
	err := es.WithinSerializableTransaction(t.Context(), func(ctx context.Context, store eventstore.EventStore) error {
		if _, appendErr := store.Append(ctx, []eventstore.Event{eventstoretest.FixtureEvent(t, "A")}, nil); appendErr != nil {
			return appendErr
		}

		return errAbort
	})

	// assert
	assert.ErrorIs(t, err, errAbort)
	assert.Empty(t, eventstoretest.ReadAll(t, es, eventstore.QueryAll()))
}

func Test_SQLiteEngine_SerializableTransactionSeesItsOwnAppends(t *testing.T) {
	// arrange
	es := givenFreshStore(t)
	var seen int

	// act
	err := es.WithinSerializableTransaction(t.Context(), func(ctx context.Context, store eventstore.EventStore) error {
		if _, appendErr := store.Append(ctx, []eventstore.Event{eventstoretest.FixtureEvent(t, "A")}, nil); appendErr != nil {
			return appendErr
		}

		envelopes, readErr := eventstore.Collect(store.Read(ctx, eventstore.QueryAll()))
		seen = len(envelopes)

		return readErr
	})

	// assert
	require.NoError(t, err)
	assert.Equal(t, 1, seen)
}

func Test_SQLiteEngine_BookmarkIsStored(t *testing.T) {
	// arrange
	es := givenFreshStore(t)
	eventstoretest.GivenEventsWereAppended(t, es, eventstoretest.FixtureEvent(t, "A"), eventstoretest.FixtureEvent(t, "B"))
	registry, err := catchup.NewRegistry(catchup.Handler{
		ID:   "projection",
		When: map[string]catchup.Callback{"A": func(context.Context, eventstore.EventEnvelope) error { return nil }},
	})
	require.NoError(t, err)

	// act
	_, err = es.CatchupHandlers(t.Context(), registry)

	// assert
	require.NoError(t, err)
	bookmark, err := es.Bookmark(t.Context(), "projection")
	require.NoError(t, err)
	assert.Equal(t, eventstore.SequencePosition(2), bookmark)
}

func Test_SQLiteEngine_BookmarkNeverMovesBackwardsAcrossStores(t *testing.T) {
	// arrange
	path := filepath.Join(t.TempDir(), "events.db")
	fast, fastDB, err := sqliteengine.Open(t.Context(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fastDB.Close() })
	require.NoError(t, fast.CreateSchema(t.Context()))

	slow, slowDB, err := sqliteengine.Open(t.Context(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = slowDB.Close() })

	eventstoretest.GivenEventsWereAppended(t, fast, eventstoretest.FixtureEvent(t, "A"), eventstoretest.FixtureEvent(t, "A"))

	noop := func(context.Context, eventstore.EventEnvelope) error { return nil }
	fastRegistry, err := catchup.NewRegistry(catchup.Handler{ID: "projection", When: map[string]catchup.Callback{"A": noop}})
	require.NoError(t, err)

	var fastErr error
	slowRegistry, err := catchup.NewRegistry(catchup.Handler{
		ID: "projection",
		When: map[string]catchup.Callback{"A": func(ctx context.Context, _ eventstore.EventEnvelope) error {
			// the other store finishes a full run while this one is still delivering
			_, fastErr = fast.CatchupHandlers(ctx, fastRegistry)
			return nil
		}},
	})
	require.NoError(t, err)

	// act
	_, slowErr := slow.CatchupHandlers(t.Context(), slowRegistry, catchup.UpTo(1))

	// assert
	require.NoError(t, slowErr)
	require.NoError(t, fastErr)
	bookmark, err := fast.Bookmark(t.Context(), "projection")
	require.NoError(t, err)
	assert.Equal(t, eventstore.SequencePosition(2), bookmark)
}

func Test_SQLiteEngine_LogsAppendsAndConflicts(t *testing.T) {
	// arrange
	logHandler := testdoubles.NewLogHandlerSpy(false)
	es := givenFreshStore(t, sqliteengine.WithLogger(logHandler.Logger()))
	eventstoretest.GivenEventsWereAppended(t, es, eventstoretest.FixtureEvent(t, "A"))

	// act
	_, err := es.Append(
		t.Context(),
		[]eventstore.Event{eventstoretest.FixtureEvent(t, "A")},
		eventstore.NewAppendCondition(eventstore.QueryAll(), 0),
	)

	// assert
	require.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
	assert.True(t, logHandler.HasMessageAt(slog.LevelInfo, "eventstore operation: events appended"))
	assert.True(t, logHandler.HasMessageAt(slog.LevelInfo, "concurrency conflict detected"))
	assert.True(t, logHandler.HasMessageAt(slog.LevelDebug, "executed sql"))
}

func Test_SQLiteEngine_RejectsInvalidConfiguration(t *testing.T) {
	_, nilErr := sqliteengine.NewEventStore(nil)
	_, _, tableErr := sqliteengine.Open(t.Context(), filepath.Join(t.TempDir(), "events.db"), sqliteengine.WithTableName(""))
	_, _, bookmarksErr := sqliteengine.Open(t.Context(), filepath.Join(t.TempDir(), "events.db"), sqliteengine.WithBookmarksTableName(""))

	assert.ErrorIs(t, nilErr, eventstore.ErrNilDatabaseConnection)
	assert.ErrorIs(t, tableErr, eventstore.ErrEmptyEventsTableName)
	assert.ErrorIs(t, bookmarksErr, sqliteengine.ErrEmptyBookmarksTableName)
}

func Test_SQLiteEngine_SchemaSQLQuotesConfiguredTables(t *testing.T) {
	es := givenFreshStore(t, sqliteengine.WithTableName("course_events"), sqliteengine.WithBookmarksTableName("course_bookmarks"))

	ddl, err := es.SchemaSQL()

	require.NoError(t, err)
	assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS `course_events`")
	assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS `course_bookmarks`")
}

func Test_DSN(t *testing.T) {
	dsn := sqliteengine.DSN("/tmp/events.db")

	assert.Contains(t, dsn, "file:/tmp/events.db?")
	assert.Contains(t, dsn, "_txlock=immediate")
	assert.Contains(t, dsn, "journal_mode%28WAL%29")
}
