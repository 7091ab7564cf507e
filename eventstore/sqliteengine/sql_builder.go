package sqliteengine

import (
	"errors"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

const (
	dialectSQLite3          = "sqlite3"
	colSequencePosition     = "sequence_position"
	colType                 = "type"
	colTags                 = "tags"
	colData                 = "data"
	colMetadata             = "metadata"
	colRecordedAt           = "recorded_at"
	colHandlerID            = "handler_id"
	colLastSequencePosition = "last_sequence_position"
	tagContained            = "EXISTS (SELECT 1 FROM json_each(?) WHERE json_each.value = ?)"
)

func (es *EventStore) builder() goqu.DialectWrapper {
	return goqu.Dialect(dialectSQLite3)
}

// buildSelectQuery renders the read algorithm as one WHERE clause: an OR over the query items,
// where an onlyLastEvent item matches just the position of its newest event within range.
func (es *EventStore) buildSelectQuery(query eventstore.Query, options eventstore.ReadOptions) (string, error) {
	if err := query.Validate(); err != nil {
		return "", err
	}

	rangeExpr := rangeExpression(options)

	selectStmt := es.builder().
		From(es.eventTableName).
		Select(colSequencePosition, colType, colTags, colData, colMetadata, colRecordedAt)

	if !query.IsAll() {
		itemExprs := make([]exp.Expression, 0, len(query.Items()))

		for _, item := range query.Items() {
			if !item.OnlyLastEvent() {
				itemExprs = append(itemExprs, itemExpression(item))
				continue
			}

			last := es.builder().
				From(es.eventTableName).
				Select(goqu.MAX(colSequencePosition)).
				Where(itemExpression(item))

			if rangeExpr != nil {
				last = last.Where(rangeExpr)
			}

			itemExprs = append(itemExprs, goqu.C(colSequencePosition).Eq(last))
		}

		selectStmt = selectStmt.Where(goqu.Or(itemExprs...))
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

// buildConflictQuery selects one event beyond the expected ceiling matching the condition's query, if any.
func (es *EventStore) buildConflictQuery(condition eventstore.AppendCondition) (string, error) {
	if err := condition.Query.Validate(); err != nil {
		return "", err
	}

	selectStmt := es.builder().
		From(es.eventTableName).
		Select(colSequencePosition).
		Where(goqu.C(colSequencePosition).Gt(int64(condition.ExpectedCeiling))).
		Limit(1)

	if !condition.Query.IsAll() {
		itemExprs := make([]exp.Expression, 0, len(condition.Query.Items()))
		for _, item := range condition.Query.Items() {
			itemExprs = append(itemExprs, itemExpression(item))
		}

		selectStmt = selectStmt.Where(goqu.Or(itemExprs...))
	}

	return toSQL(selectStmt)
}

func (es *EventStore) buildInsertQuery(rows []eventRow) (string, error) {
	records := make([]any, 0, len(rows))
	for _, row := range rows {
		records = append(records, goqu.Record{
			colType:       row.eventType,
			colTags:       row.tags,
			colData:       row.data,
			colMetadata:   row.metadata,
			colRecordedAt: row.recordedAt,
		})
	}

	return toSQL(es.builder().Insert(es.eventTableName).Rows(records...))
}

func (es *EventStore) buildTailPositionQuery() (string, error) {
	return toSQL(es.builder().From(es.eventTableName).Select(goqu.COALESCE(goqu.MAX(colSequencePosition), 0)))
}

func (es *EventStore) buildRegisterHandlersQuery(handlerIDs []string) (string, error) {
	records := make([]any, 0, len(handlerIDs))
	for _, id := range handlerIDs {
		records = append(records, goqu.Record{colHandlerID: id, colLastSequencePosition: 0})
	}

	return toSQL(es.builder().Insert(es.bookmarksTableName).Rows(records...).OnConflict(goqu.DoNothing()))
}

func (es *EventStore) buildSelectBookmarksQuery(handlerIDs []string) (string, error) {
	selectStmt := es.builder().
		From(es.bookmarksTableName).
		Select(colHandlerID, colLastSequencePosition).
		Where(goqu.C(colHandlerID).In(handlerIDs))

	return toSQL(selectStmt)
}

// buildAdvanceBookmarksQuery never lowers a stored position, so a slower run from another process
// with a lower ceiling cannot move a bookmark backwards.
func (es *EventStore) buildAdvanceBookmarksQuery(positions map[string]eventstore.SequencePosition) (string, error) {
	caseExpr := goqu.Case().Value(goqu.C(colHandlerID))
	ids := make([]string, 0, len(positions))

	for id, position := range positions {
		caseExpr = caseExpr.When(id, int64(position))
		ids = append(ids, id)
	}

	updateStmt := es.builder().
		Update(es.bookmarksTableName).
		Set(goqu.Record{colLastSequencePosition: goqu.L("MAX(?, ?)", goqu.C(colLastSequencePosition), caseExpr)}).
		Where(goqu.C(colHandlerID).In(ids))

	return toSQL(updateStmt)
}

// itemExpression matches the item's types and requires every tag of the item in the JSON tags array.
func itemExpression(item eventstore.QueryItem) exp.Expression {
	exprs := make([]exp.Expression, 0, 1+item.Tags().Len())

	if eventTypes := item.EventTypes(); len(eventTypes) > 0 {
		exprs = append(exprs, goqu.C(colType).In(eventTypes))
	}

	for _, token := range item.Tags().Strings() {
		exprs = append(exprs, goqu.L(tagContained, goqu.C(colTags), token))
	}

	if len(exprs) == 0 {
		return goqu.L("1 = 1")
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

type sqlRenderer interface {
	ToSQL() (string, []any, error)
}

func toSQL(stmt sqlRenderer) (string, error) {
	sqlQuery, _, err := stmt.ToSQL()
	if err != nil {
		return "", errors.Join(eventstore.ErrBuildingQueryFailed, err)
	}

	return sqlQuery, nil
}
