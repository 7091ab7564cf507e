package postgresengine

import (
	"errors"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

const (
	dialectPostgres         = "postgres"
	colSequencePosition     = "sequence_position"
	colType                 = "type"
	colTags                 = "tags"
	colData                 = "data"
	colMetadata             = "metadata"
	colTimestamp            = "timestamp"
	colOrdinal              = "ordinal"
	colHandlerID            = "handler_id"
	colLastSequencePosition = "last_sequence_position"
	cteVals                 = "vals"
	castBigint              = "?::bigint"
	castText                = "?::text"
	castJsonb               = "?::jsonb"
	castTimestamptz         = "?::timestamptz"
	emptyTextArray          = "ARRAY[]::text[]"
)

type sqlQueryString = string

func (es *EventStore) builder() goqu.DialectWrapper {
	return goqu.Dialect(dialectPostgres)
}

// buildSelectQuery renders the read algorithm: per-item sub-selects (MAX for onlyLastEvent items)
// combined with UNION for deduplication, the range bound, ordering, and limit.
func (es *EventStore) buildSelectQuery(query eventstore.Query, options eventstore.ReadOptions) (sqlQueryString, error) {
	if err := query.Validate(); err != nil {
		return "", err
	}

	builder := es.builder()
	rangeExpr := rangeExpression(options)

	selectStmt := builder.
		From(es.eventTableName).
		Select(colSequencePosition, colType, colTags, colData, colMetadata, colTimestamp)

	if !query.IsAll() {
		var union *goqu.SelectDataset

		for _, item := range query.Items() {
			sub := builder.From(es.eventTableName).Where(itemExpression(item))

			if rangeExpr != nil {
				sub = sub.Where(rangeExpr)
			}

			if item.OnlyLastEvent() {
				sub = sub.Select(goqu.MAX(colSequencePosition))
			} else {
				sub = sub.Select(colSequencePosition)
			}

			if union == nil {
				union = sub
			} else {
				union = union.Union(sub)
			}
		}

		selectStmt = selectStmt.Where(goqu.C(colSequencePosition).In(union))
	}

	if rangeExpr != nil {
		selectStmt = selectStmt.Where(rangeExpr)
	}

	if options.Backwards() {
		selectStmt = selectStmt.Order(goqu.C(colSequencePosition).Desc())
	} else {
		selectStmt = selectStmt.Order(goqu.C(colSequencePosition).Asc())
	}

	if limit, ok := options.Limit(); ok {
		selectStmt = selectStmt.Limit(uint(limit))
	}

	return toSQL(selectStmt)
}

// buildAppendQuery renders one INSERT ... SELECT that inserts all events in input order
// only if no event beyond the expected ceiling matches the condition's query.
func (es *EventStore) buildAppendQuery(
	events []eventstore.Event,
	condition *eventstore.AppendCondition,
) (sqlQueryString, error) {

	if condition != nil {
		if err := condition.Query.Validate(); err != nil {
			return "", err
		}
	}

	builder := es.builder()
	withTimestamp := es.clock != nil
	cols := []any{colType, colTags, colData, colMetadata}

	if withTimestamp {
		cols = append(cols, colTimestamp)
	}

	var valuesStmt *goqu.SelectDataset

	for i, event := range events {
		selectCols := []any{
			goqu.L(castBigint, i).As(colOrdinal),
			goqu.L(castText, event.Type()).As(colType),
			textArray(event.Tags().Strings()).As(colTags),
			goqu.L(castJsonb, string(event.Data())).As(colData),
			goqu.L(castJsonb, string(event.Metadata())).As(colMetadata),
		}

		if withTimestamp {
			selectCols = append(selectCols, goqu.L(castTimestamptz, es.clock()).As(colTimestamp))
		}

		row := builder.Select(selectCols...)

		if valuesStmt == nil {
			valuesStmt = row
		} else {
			valuesStmt = valuesStmt.UnionAll(row)
		}
	}

	selectStmt := builder.
		From(cteVals).
		Select(cols...).
		Order(goqu.C(colOrdinal).Asc())

	if condition != nil {
		selectStmt = selectStmt.Where(goqu.L("NOT EXISTS ?", es.conflictingEventsQuery(*condition)))
	}

	insertStmt := builder.
		Insert(es.eventTableName).
		With(cteVals, valuesStmt).
		Cols(cols...).
		FromQuery(selectStmt).
		Returning(colSequencePosition, colTimestamp)

	return toSQL(insertStmt)
}

func (es *EventStore) conflictingEventsQuery(condition eventstore.AppendCondition) *goqu.SelectDataset {
	sub := es.builder().
		From(es.eventTableName).
		Select(goqu.L("1")).
		Where(goqu.C(colSequencePosition).Gt(int64(condition.ExpectedCeiling)))

	if condition.Query.IsAll() {
		return sub
	}

	itemExprs := make([]exp.Expression, 0, len(condition.Query.Items()))
	for _, item := range condition.Query.Items() {
		itemExprs = append(itemExprs, itemExpression(item))
	}

	return sub.Where(goqu.Or(itemExprs...))
}

func (es *EventStore) buildTailPositionQuery() (sqlQueryString, error) {
	selectStmt := es.builder().
		From(es.eventTableName).
		Select(goqu.COALESCE(goqu.MAX(colSequencePosition), 0))

	return toSQL(selectStmt)
}

func (es *EventStore) buildRegisterHandlersQuery(handlerIDs []string) (sqlQueryString, error) {
	records := make([]any, 0, len(handlerIDs))
	for _, id := range handlerIDs {
		records = append(records, goqu.Record{colHandlerID: id, colLastSequencePosition: 0})
	}

	insertStmt := es.builder().
		Insert(es.bookmarksTableName).
		Rows(records...).
		OnConflict(goqu.DoNothing())

	return toSQL(insertStmt)
}

func (es *EventStore) buildLockBookmarksQuery(handlerIDs []string) (sqlQueryString, error) {
	selectStmt := es.builder().
		From(es.bookmarksTableName).
		Select(colHandlerID, colLastSequencePosition).
		Where(goqu.C(colHandlerID).In(handlerIDs)).
		Order(goqu.C(colHandlerID).Asc()).
		ForUpdate(exp.NoWait)

	return toSQL(selectStmt)
}

func (es *EventStore) buildAdvanceBookmarksQuery(positions map[string]eventstore.SequencePosition) (sqlQueryString, error) {
	caseExpr := goqu.Case().Value(goqu.C(colHandlerID))
	ids := make([]string, 0, len(positions))

	for id, position := range positions {
		caseExpr = caseExpr.When(id, int64(position))
		ids = append(ids, id)
	}

	updateStmt := es.builder().
		Update(es.bookmarksTableName).
		Set(goqu.Record{colLastSequencePosition: goqu.L("GREATEST(?, ?)", goqu.C(colLastSequencePosition), caseExpr)}).
		Where(goqu.C(colHandlerID).In(ids))

	return toSQL(updateStmt)
}

// itemExpression renders "type IN (...) AND tags @> ARRAY[...]::text[]", TRUE for an item without filters.
func itemExpression(item eventstore.QueryItem) exp.Expression {
	exprs := make([]exp.Expression, 0, 2)

	if eventTypes := item.EventTypes(); len(eventTypes) > 0 {
		exprs = append(exprs, goqu.C(colType).In(eventTypes))
	}

	if !item.Tags().IsEmpty() {
		exprs = append(exprs, goqu.L("? @> ?", goqu.C(colTags), textArray(item.Tags().Strings())))
	}

	if len(exprs) == 0 {
		return goqu.L("TRUE")
	}

	return goqu.And(exprs...)
}

func rangeExpression(options eventstore.ReadOptions) exp.Expression {
	from, ok := options.From()
	if !ok {
		return nil
	}

	if options.Backwards() {
		return goqu.C(colSequencePosition).Lte(int64(from))
	}

	return goqu.C(colSequencePosition).Gte(int64(from))
}

func textArray(tokens []string) exp.LiteralExpression {
	if len(tokens) == 0 {
		return goqu.L(emptyTextArray)
	}

	args := make([]any, 0, len(tokens))
	for _, token := range tokens {
		args = append(args, token)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(tokens)), ", ")

	return goqu.L("ARRAY["+placeholders+"]::text[]", args...)
}

type sqlRenderer interface {
	ToSQL() (string, []any, error)
}

func toSQL(stmt sqlRenderer) (sqlQueryString, error) {
	sqlQuery, _, err := stmt.ToSQL()
	if err != nil {
		return "", errors.Join(eventstore.ErrBuildingQueryFailed, err)
	}

	return sqlQuery, nil
}
