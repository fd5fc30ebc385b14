package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zefrenchwan/registries.git/model"
	"github.com/zefrenchwan/registries.git/tracing"
)

//go:embed schema.sql
var schemaDefinition string

// querier is what both a pool and a transaction can do
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Dao defines all database operations.
// It implements Store on a postgresql database.
type Dao struct {
	// pool to deal with multiple connections
	pool *pgxpool.Pool
	// db is either the pool or the current transaction
	db querier
	// inTransaction is true when db is a transaction
	inTransaction bool
}

// NewDao builds a new dao to connect a database via its url
func NewDao(ctx context.Context, url string) (*Dao, error) {
	pool, errPool := pgxpool.New(ctx, url)
	if errPool != nil {
		return nil, fmt.Errorf("dao creation failed: %w", errPool)
	}

	return &Dao{pool: pool, db: pool}, nil
}

// Migrate creates tables and functions if they do not exist
func (d *Dao) Migrate(ctx context.Context) error {
	if d == nil || d.db == nil {
		return errors.New("nil value")
	}

	_, err := d.db.Exec(ctx, schemaDefinition)
	return err
}

// Ping tests the connection
func (d *Dao) Ping(ctx context.Context) error {
	if d == nil || d.pool == nil {
		return errors.New("nil value")
	}

	return d.pool.Ping(ctx)
}

// Close closes the dao and the underlying pool
func (d *Dao) Close() {
	if d != nil && d.pool != nil && !d.inTransaction {
		d.pool.Close()
	}
}

// CheckUser returns true if login and password match
func (d *Dao) CheckUser(ctx context.Context, login, password string) (bool, error) {
	if d == nil || d.db == nil {
		return false, errors.New("nil value")
	}

	var result bool
	err := d.db.QueryRow(ctx, "select registries.test_user_password($1, $2)", login, password).Scan(&result)
	return result, err
}

// FindSecretForActiveUser returns the secret for an active user
func (d *Dao) FindSecretForActiveUser(ctx context.Context, login string) (string, error) {
	if d == nil || d.db == nil {
		return "", errors.New("nil value")
	}

	var result *string
	if err := d.db.QueryRow(ctx, "select registries.find_secret_for_user($1)", login).Scan(&result); err != nil {
		return "", err
	} else if result == nil {
		return "", fmt.Errorf("user %s: %w", login, model.ErrNotFound)
	}

	return *result, nil
}

// UpsertUser changes user authentication if it exists, or insert user
func (d *Dao) UpsertUser(ctx context.Context, login, password string) error {
	if d == nil || d.db == nil {
		return errors.New("nil value")
	}

	_, errExec := d.db.Exec(ctx, "call registries.upsert_user($1,$2)", login, password)
	return errExec
}

// ScanEntities streams matching entities from a cursor
func (d *Dao) ScanEntities(ctx context.Context, query Query, fn func(model.Entity) error) error {
	ctx, span := tracing.StartSpan(ctx, "storage.Dao.ScanEntities")
	defer span.End()

	sql, args := buildEntitiesQuery(query)
	rows, err := d.db.Query(ctx, sql, args...)
	if err != nil {
		return err
	}

	defer rows.Close()
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return err
		} else if err := fn(entity); err != nil {
			return err
		}
	}

	return rows.Err()
}

// ListIDs returns distinct sorted functional ids
func (d *Dao) ListIDs(ctx context.Context, query Query) ([]string, error) {
	sql, args := buildIDsQuery(query)
	rows, err := d.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// GetEntity returns an entity by tid, deleted or not
func (d *Dao) GetEntity(ctx context.Context, catalog, collection, tid string) (model.Entity, bool, error) {
	var result model.Entity
	found := false
	query := Query{Catalog: catalog, Collection: collection, TIDs: []string{tid}, IncludeDeleted: true}
	err := d.ScanEntities(ctx, query, func(e model.Entity) error {
		result, found = e, true
		return nil
	})

	return result, found, err
}

// CountEntities counts entities of a collection
func (d *Dao) CountEntities(ctx context.Context, catalog, collection string, includeDeleted bool) (int64, error) {
	var extra []string
	if !includeDeleted {
		extra = append(extra, "deleted_at is null")
	}

	sql, args := buildAggregateQuery("count(*)", ENTITIES_TABLE, catalog, collection, extra...)
	var result int64
	err := d.db.QueryRow(ctx, sql, args...).Scan(&result)
	return result, err
}

// MaxLastEvent returns the greatest last event of a collection, 0 if empty
func (d *Dao) MaxLastEvent(ctx context.Context, catalog, collection string) (int64, error) {
	sql, args := buildAggregateQuery("coalesce(max(last_event), 0)", ENTITIES_TABLE, catalog, collection)
	var result int64
	err := d.db.QueryRow(ctx, sql, args...).Scan(&result)
	return result, err
}

// DistinctApplications returns sorted applications of non deleted entities
func (d *Dao) DistinctApplications(ctx context.Context, catalog, collection string) ([]string, error) {
	sql, args := buildAggregateQuery("distinct application", ENTITIES_TABLE, catalog, collection, "deleted_at is null")
	rows, err := d.db.Query(ctx, sql+" order by application", args...)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// PutEntity inserts or replaces an entity by tid
func (d *Dao) PutEntity(ctx context.Context, entity model.Entity) error {
	attributes, err := json.Marshal(entity.Attributes)
	if err != nil {
		return err
	}

	sql, args := buildUpsertEntity(entity, attributes)
	_, err = d.db.Exec(ctx, sql, args...)
	return err
}

// AppendEvents inserts events and sets their ids
func (d *Dao) AppendEvents(ctx context.Context, events []model.Event) error {
	ctx, span := tracing.StartSpan(ctx, "storage.Dao.AppendEvents")
	defer span.End()

	for index := range events {
		if events[index].Timestamp.IsZero() {
			events[index].Timestamp = time.Now().UTC()
		}

		contents, err := json.Marshal(events[index].Contents)
		if err != nil {
			return err
		}

		sql, args := buildAppendEvent(events[index], contents)
		if err := d.db.QueryRow(ctx, sql, args...).Scan(&events[index].ID); err != nil {
			return err
		}
	}

	return nil
}

// ReadEvents streams events in id order
func (d *Dao) ReadEvents(ctx context.Context, filter EventFilter, fn func(model.Event) error) error {
	sql, args := buildEventsQuery(filter)
	rows, err := d.db.Query(ctx, sql, args...)
	if err != nil {
		return err
	}

	defer rows.Close()
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return err
		} else if err := fn(event); err != nil {
			return err
		}
	}

	return rows.Err()
}

// LastEventID returns the greatest event id of a collection, 0 if none
func (d *Dao) LastEventID(ctx context.Context, catalog, collection string) (int64, error) {
	sql, args := buildAggregateQuery("coalesce(max(event_id), 0)", EVENTS_TABLE, catalog, collection)
	var result int64
	err := d.db.QueryRow(ctx, sql, args...).Scan(&result)
	return result, err
}

// HasEvents returns true if events exist for the triple. Empty source means any
func (d *Dao) HasEvents(ctx context.Context, catalog, collection, source string) (bool, error) {
	sql, args := buildHasEventsQuery(catalog, collection, source)
	var result bool
	err := d.db.QueryRow(ctx, sql, args...).Scan(&result)
	return result, err
}

// Mark returns a high water mark, 0 if never set
func (d *Dao) Mark(ctx context.Context, key string) (int64, error) {
	var result int64
	err := d.db.QueryRow(ctx, "select mark_value from "+MARKS_TABLE+" where mark_key = $1", key).Scan(&result)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}

	return result, err
}

// SetMark sets a high water mark
func (d *Dao) SetMark(ctx context.Context, key string, value int64) error {
	sql, args := buildSetMark(key, value)
	_, err := d.db.Exec(ctx, sql, args...)
	return err
}

// Atomically runs fn in a transaction. Nested calls reuse the current transaction
func (d *Dao) Atomically(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	if d.inTransaction {
		return fn(ctx, d)
	}

	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Dao{pool: d.pool, db: tx, inTransaction: true})
	})
}
