package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zefrenchwan/registries.git/model"
)

func TestBuildEntitiesQuery(t *testing.T) {
	after := int64(10)
	sql, args := buildEntitiesQuery(Query{
		Catalog:        "gebieden",
		Collection:     "buurten",
		Source:         "src",
		LastEventAfter: &after,
		AttributeIn:    &ValuesFilter{Attribute: "code", Values: []string{"a", "b"}},
		OrderBy:        OrderByLastEvent,
		Limit:          100,
	})

	assert.Contains(t, sql, "FROM registries.entities")
	assert.Contains(t, sql, "deleted_at IS NULL")
	assert.Contains(t, sql, "last_event > $")
	assert.Contains(t, sql, "(attributes ->> $")
	assert.Contains(t, sql, "ORDER BY last_event, tid")
	assert.Contains(t, sql, "LIMIT")
	assert.NotContains(t, sql, "'gebieden'", "values are bound, never inlined")
	assert.Contains(t, args, "gebieden")
	assert.Contains(t, args, []string{"a", "b"})
}

func TestBuildEntitiesQueryReferences(t *testing.T) {
	sql, _ := buildEntitiesQuery(Query{
		Catalog:        "gebieden",
		Collection:     "buurten",
		IncludeDeleted: true,
		ReferenceIn:    &ValuesFilter{Attribute: "ligt_in_wijk", Values: []string{"W1"}},
		OrderBy:        OrderByIDSeqnr,
	})

	assert.NotContains(t, sql, "deleted_at IS NULL")
	assert.Contains(t, sql, "jsonb_array_elements")
	assert.True(t, strings.Contains(sql, "ORDER BY id,"))
}

func TestBuildEventQueries(t *testing.T) {
	sql, args := buildEventsQuery(EventFilter{Catalog: "gebieden", AfterID: 5, Limit: 10})
	assert.Contains(t, sql, "event_id > $1")
	assert.Contains(t, sql, "ORDER BY event_id")
	assert.Equal(t, int64(5), args[0])

	sql, _ = buildHasEventsQuery("gebieden", "buurten", "")
	assert.True(t, strings.HasPrefix(sql, "select exists ("))
	assert.NotContains(t, sql, "source =")

	sql, _ = buildAppendEvent(model.Event{Action: model.ActionBulkConfirm}, []byte("{}"))
	assert.True(t, strings.HasSuffix(sql, "returning event_id"))

	sql, _ = buildSetMark("key", 1)
	assert.Contains(t, sql, "on conflict (mark_key)")
}

func TestFindCodeInPSQLException(t *testing.T) {
	assert.Empty(t, FindCodeInPSQLException(assert.AnError))
	assert.False(t, IsRetryable(assert.AnError))
}
