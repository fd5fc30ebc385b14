package storage

import (
	"fmt"

	"github.com/huandu/go-sqlbuilder"

	"github.com/zefrenchwan/registries.git/model"
)

const (
	ENTITIES_TABLE = "registries.entities"
	EVENTS_TABLE   = "registries.events"
	MARKS_TABLE    = "registries.marks"
)

var entityColumns = []string{
	"catalog", "collection", "tid", "id", "seqnr", "source", "application", "hash",
	"valid_from", "valid_until", "expiration_date", "last_event", "last_confirmed", "deleted_at", "attributes",
}

var eventColumns = []string{
	"event_id", "event_timestamp", "catalog", "collection", "version", "action", "source", "source_id", "tid", "contents",
}

// entitiesWhere returns the conditions of a query, order and limit excluded
func entitiesWhere(sb *sqlbuilder.SelectBuilder, query Query) []string {
	where := []string{
		sb.Equal("catalog", query.Catalog),
		sb.Equal("collection", query.Collection),
	}

	if query.Source != "" {
		where = append(where, sb.Equal("source", query.Source))
	}
	if !query.IncludeDeleted {
		where = append(where, sb.IsNull("deleted_at"))
	}
	if len(query.IDs) != 0 {
		where = append(where, sb.In("id", sqlbuilder.Flatten(query.IDs)...))
	}
	if len(query.TIDs) != 0 {
		where = append(where, sb.In("tid", sqlbuilder.Flatten(query.TIDs)...))
	}
	if query.IDAfter != "" {
		where = append(where, sb.GreaterThan("id", query.IDAfter))
	}
	if query.LastEventAfter != nil {
		where = append(where, sb.GreaterThan("last_event", *query.LastEventAfter))
	}
	if query.LastEventUpTo != nil {
		where = append(where, sb.LessEqualThan("last_event", *query.LastEventUpTo))
	}

	if filter := query.AttributeIn; filter != nil {
		where = append(where, fmt.Sprintf("(attributes ->> %s) = any(%s)", sb.Var(filter.Attribute), sb.Var(filter.Values)))
	}

	if filter := query.ReferenceIn; filter != nil {
		// single references are objects, many references are arrays of objects
		where = append(where, fmt.Sprintf(
			`(case jsonb_typeof(attributes -> %s)
				when 'array' then exists (select 1 from jsonb_array_elements(attributes -> %s) REF where (REF ->> 'bronwaarde') = any(%s))
				when 'object' then (attributes -> %s ->> 'bronwaarde') = any(%s)
				else false end)`,
			sb.Var(filter.Attribute), sb.Var(filter.Attribute), sb.Var(filter.Values),
			sb.Var(filter.Attribute), sb.Var(filter.Values),
		))
	}

	return where
}

// buildEntitiesQuery returns the sql and arguments to scan entities
func buildEntitiesQuery(query Query) (string, []any) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(entityColumns...)
	sb.From(ENTITIES_TABLE)
	sb.Where(entitiesWhere(sb, query)...)

	switch query.OrderBy {
	case OrderByLastEvent:
		sb.OrderBy("last_event", "tid")
	case OrderByIDSeqnr:
		sb.OrderBy("id", `(case when seqnr ~ '^[0-9]+$' then seqnr::bigint end)`, "seqnr")
	default:
		sb.OrderBy("tid")
	}

	if query.Limit > 0 {
		sb.Limit(query.Limit)
	}

	return sb.Build()
}

// buildIDsQuery returns the sql and arguments to list distinct functional ids
func buildIDsQuery(query Query) (string, []any) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id")
	sb.Distinct()
	sb.From(ENTITIES_TABLE)
	sb.Where(entitiesWhere(sb, query)...)
	sb.OrderBy("id")
	if query.Limit > 0 {
		sb.Limit(query.Limit)
	}

	return sb.Build()
}

// buildUpsertEntity returns the sql and arguments to insert or replace an entity
func buildUpsertEntity(entity model.Entity, attributes []byte) (string, []any) {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(ENTITIES_TABLE)
	ib.Cols(entityColumns...)
	ib.Values(
		entity.Catalog, entity.Collection, entity.TID, entity.ID, entity.Seqnr, entity.Source, entity.Application, entity.Hash,
		entity.ValidFrom, entity.ValidUntil, entity.ExpirationDate, entity.LastEvent, entity.LastConfirmed, entity.DeletedAt, string(attributes),
	)

	sql, args := ib.Build()
	sql += ` on conflict (catalog, collection, tid) do update set
		id = excluded.id, seqnr = excluded.seqnr, source = excluded.source, application = excluded.application,
		hash = excluded.hash, valid_from = excluded.valid_from, valid_until = excluded.valid_until,
		expiration_date = excluded.expiration_date, last_event = excluded.last_event,
		last_confirmed = excluded.last_confirmed, deleted_at = excluded.deleted_at, attributes = excluded.attributes`
	return sql, args
}

// buildEventsQuery returns the sql and arguments to read events
func buildEventsQuery(filter EventFilter) (string, []any) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(eventColumns...)
	sb.From(EVENTS_TABLE)
	sb.Where(eventsWhere(sb, filter)...)
	sb.OrderBy("event_id")
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
	}

	return sb.Build()
}

func eventsWhere(sb *sqlbuilder.SelectBuilder, filter EventFilter) []string {
	where := []string{sb.GreaterThan("event_id", filter.AfterID)}
	if filter.Catalog != "" {
		where = append(where, sb.Equal("catalog", filter.Catalog))
	}
	if filter.Collection != "" {
		where = append(where, sb.Equal("collection", filter.Collection))
	}
	if filter.Source != "" {
		where = append(where, sb.Equal("source", filter.Source))
	}
	if filter.UpToID > 0 {
		where = append(where, sb.LessEqualThan("event_id", filter.UpToID))
	}

	return where
}

// buildHasEventsQuery returns the sql and arguments to test if events exist
func buildHasEventsQuery(catalog, collection, source string) (string, []any) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("1")
	sb.From(EVENTS_TABLE)
	sb.Where(eventsWhere(sb, EventFilter{Catalog: catalog, Collection: collection, Source: source})...)
	sb.Limit(1)
	sql, args := sb.Build()
	return "select exists (" + sql + ")", args
}

// buildAggregateQuery returns the sql and arguments of an aggregate over entities of a collection
func buildAggregateQuery(expression, table, catalog, collection string, extra ...string) (string, []any) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(expression)
	sb.From(table)
	where := append([]string{sb.Equal("catalog", catalog), sb.Equal("collection", collection)}, extra...)
	sb.Where(where...)
	return sb.Build()
}

// buildAppendEvent returns the sql and arguments to insert an event and get its id back
func buildAppendEvent(event model.Event, contents []byte) (string, []any) {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(EVENTS_TABLE)
	ib.Cols("event_timestamp", "catalog", "collection", "version", "action", "source", "source_id", "tid", "contents")
	ib.Values(event.Timestamp, event.Catalog, event.Collection, event.Version, event.Action.String(), event.Source, event.SourceID, event.TID, string(contents))
	sql, args := ib.Build()
	return sql + " returning event_id", args
}

// buildSetMark returns the sql and arguments to upsert a mark
func buildSetMark(key string, value int64) (string, []any) {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(MARKS_TABLE)
	ib.Cols("mark_key", "mark_value")
	ib.Values(key, value)
	sql, args := ib.Build()
	return sql + " on conflict (mark_key) do update set mark_value = excluded.mark_value", args
}
