package eventstore

import (
	"slices"
	"strings"
)

/***** Query *****/

// Query selects events either as "all events" or as the union (OR) of one or more QueryItem(s).
//
// The "all" query is a distinct case and not an item with empty filters.
type Query struct {
	all   bool
	items []QueryItem
}

// QueryAll returns the query matching every event.
func QueryAll() Query {
	return Query{all: true}
}

// NewQuery returns a query matching any of the given items.
// Returns ErrValidation wrapping ErrEmptyQuery if no items are given.
func NewQuery(items ...QueryItem) (Query, error) {
	if len(items) == 0 {
		return Query{}, validationError(ErrEmptyQuery, "")
	}

	return Query{items: slices.Clone(items)}, nil
}

// Validate fails for the zero Query, which is neither "all" nor has items.
// Engines reject it on Read and as the query of an AppendCondition.
func (q Query) Validate() error {
	if !q.all && len(q.items) == 0 {
		return validationError(ErrEmptyQuery, "")
	}

	return nil
}

func (q Query) IsAll() bool {
	return q.all
}

// Items returns a copy of the items, nil for the "all" query.
func (q Query) Items() []QueryItem {
	return slices.Clone(q.items)
}

// Matches reports whether the event would be selected by this query (ignoring onlyLastEvent).
func (q Query) Matches(event Event) bool {
	if q.all {
		return true
	}

	for _, item := range q.items {
		if MatchesQueryItem(item, event) {
			return true
		}
	}

	return false
}

func (q Query) String() string {
	if q.all {
		return "All"
	}

	parts := make([]string, 0, len(q.items))
	for _, item := range q.items {
		parts = append(parts, item.String())
	}

	return strings.Join(parts, " OR ")
}

/***** QueryItem *****/

// QueryItem matches events whose type is one of EventTypes (empty means any type)
// AND whose tags contain all Tags (empty means no restriction).
//
// With OnlyLastEvent, only the single highest-positioned match of this item is selected.
type QueryItem struct {
	eventTypes    []string
	tags          Tags
	onlyLastEvent bool
}

// NewQueryItem builds a QueryItem.
//
// It sanitizes the event types:
//   - removing empty event types ("")
//   - sorting the event types
//   - removing duplicate event types
func NewQueryItem(eventTypes []string, tags Tags, onlyLastEvent bool) QueryItem {
	return QueryItem{
		eventTypes:    sanitizeEventTypes(eventTypes),
		tags:          tags,
		onlyLastEvent: onlyLastEvent,
	}
}

func (qi QueryItem) EventTypes() []string {
	return slices.Clone(qi.eventTypes)
}

func (qi QueryItem) Tags() Tags {
	return qi.tags
}

func (qi QueryItem) OnlyLastEvent() bool {
	return qi.onlyLastEvent
}

func (qi QueryItem) String() string {
	var b strings.Builder

	b.WriteString("(types=[")
	b.WriteString(strings.Join(qi.eventTypes, ", "))
	b.WriteString("] tags=")
	b.WriteString(qi.tags.String())
	if qi.onlyLastEvent {
		b.WriteString(" onlyLast")
	}
	b.WriteString(")")

	return b.String()
}

// MatchesQueryItem reports whether the event satisfies the type and tag filters of the item.
func MatchesQueryItem(item QueryItem, event Event) bool {
	if len(item.eventTypes) > 0 && !slices.Contains(item.eventTypes, event.Type()) {
		return false
	}

	return MatchTags(event.Tags(), item.tags)
}

func sanitizeEventTypes(eventTypes []string) []string {
	sanitized := slices.DeleteFunc(
		slices.Clone(eventTypes),
		func(e string) bool {
			return e == ""
		})
	slices.Sort(sanitized)
	sanitized = slices.Compact(sanitized)

	return slices.Clip(sanitized)
}

/***** QueryBuilder *****/

// QueryBuilder builds a Query step by step, allowing only complete combinations:
//
//   - all events
//   - (eventType OR eventType...)
//   - (tag AND tag...)
//   - ((eventType OR eventType...) AND (tag AND tag...))
//   - any of the above restricted to the last matching event
//   - (item) OR (item)... -> multiple QueryItem(s)
type QueryBuilder interface {
	// Matching starts a new QueryItem.
	Matching() EmptyQueryItemBuilder

	// MatchingAll directly returns the query matching every event.
	MatchingAll() Query
}

type EmptyQueryItemBuilder interface {
	// AnyEventTypeOf adds one or multiple event types to the current QueryItem.
	AnyEventTypeOf(eventType string, eventTypes ...string) QueryItemBuilderLackingTags

	// AllTagsOf restricts the current QueryItem to events carrying all given tags.
	AllTagsOf(tags Tags) QueryItemBuilderLackingEventTypes
}

type QueryItemBuilderLackingTags interface {
	AndAllTagsOf(tags Tags) CompletedQueryItemBuilder
	CompletedQueryItemBuilder
}

type QueryItemBuilderLackingEventTypes interface {
	AndAnyEventTypeOf(eventType string, eventTypes ...string) CompletedQueryItemBuilder
	CompletedQueryItemBuilder
}

type CompletedQueryItemBuilder interface {
	// OnlyLastEvent restricts the current QueryItem to its highest-positioned match.
	OnlyLastEvent() CompletedQueryItemBuilder

	// OrMatching finalizes the current QueryItem and starts a new one.
	OrMatching() EmptyQueryItemBuilder

	// Finalize returns the Query with all QueryItem(s) built so far.
	Finalize() Query
}

// queryBuilder implements all the interfaces of QueryBuilder
type queryBuilder struct {
	items   []QueryItem
	current QueryItem
}

// BuildQuery creates a QueryBuilder which must eventually be finalized with Finalize() or MatchingAll().
func BuildQuery() QueryBuilder {
	return queryBuilder{}
}

func (qb queryBuilder) Matching() EmptyQueryItemBuilder {
	qb.current = QueryItem{}

	return qb
}

func (qb queryBuilder) MatchingAll() Query {
	return QueryAll()
}

func (qb queryBuilder) AnyEventTypeOf(eventType string, eventTypes ...string) QueryItemBuilderLackingTags {
	qb.current.eventTypes = sanitizeEventTypes(append([]string{eventType}, eventTypes...))

	return qb
}

func (qb queryBuilder) AndAnyEventTypeOf(eventType string, eventTypes ...string) CompletedQueryItemBuilder {
	return qb.AnyEventTypeOf(eventType, eventTypes...)
}

func (qb queryBuilder) AllTagsOf(tags Tags) QueryItemBuilderLackingEventTypes {
	qb.current.tags = tags

	return qb
}

func (qb queryBuilder) AndAllTagsOf(tags Tags) CompletedQueryItemBuilder {
	return qb.AllTagsOf(tags)
}

func (qb queryBuilder) OnlyLastEvent() CompletedQueryItemBuilder {
	qb.current.onlyLastEvent = true

	return qb
}

func (qb queryBuilder) OrMatching() EmptyQueryItemBuilder {
	qb.items = append(slices.Clip(qb.items), qb.current)

	return qb.Matching()
}

func (qb queryBuilder) Finalize() Query {
	return Query{items: append(slices.Clip(qb.items), qb.current)}
}
