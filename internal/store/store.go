// Package store defines a backend-agnostic contract for row-level entity
// storage with change notification. Backends implement Store; everything
// above it (mapper, dal, sub) is backend-neutral.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoRow indicates the requested row does not exist.
	ErrNoRow = errors.New("store: no row")
	// ErrWatchUnsupported is returned by backends without a change feed.
	ErrWatchUnsupported = errors.New("store: watch unsupported")
)

// Row is a single storage row keyed by column name. Values are restricted to
// JSON-compatible types: string, float64, bool, nil and RFC 3339 timestamp
// strings.
type Row map[string]any

// Clone returns a shallow copy of the row. Values are JSON scalars, so a
// shallow copy is sufficient to isolate callers from later mutation.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Filter matches rows whose column equals the given value.
type Filter struct {
	Column string
	Value  any
}

// Sort orders query results by one column.
type Sort struct {
	Column string
	Desc   bool
}

// Query narrows a Select: optional equality filter, optional sort and
// offset/limit pagination. A zero Limit means no limit.
type Query struct {
	Filter *Filter
	Sort   *Sort
	Offset int
	Limit  int
}

// EventKind classifies a change event.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
	EventAny    EventKind = "any"
)

// Event is a single row-level change with before/after images. Before is nil
// on insert, After is nil on delete.
type Event struct {
	Table  string
	Kind   EventKind
	Before Row
	After  Row
	At     time.Time
}

// WatchState reports the lifecycle of an open watch.
type WatchState string

const (
	WatchActive   WatchState = "active"
	WatchError    WatchState = "error"
	WatchTimedOut WatchState = "timed_out"
	WatchClosed   WatchState = "closed"
)

// WatchRequest registers interest in changes to one table, optionally
// narrowed to rows matching Filter and to one event kind.
type WatchRequest struct {
	Table  string
	Filter *Filter
	Kind   EventKind

	// OnState, when set, receives watch lifecycle transitions, e.g. a
	// dropped backend connection.
	OnState func(WatchState)
}

// EventFunc receives change events for an open watch.
type EventFunc func(Event)

// UnwatchFunc tears down an open watch. Calling it more than once is a
// no-op.
type UnwatchFunc func()

// Store is the row-level persistence contract shared by all backends.
type Store interface {
	// Get returns the row with the given id, or ErrNoRow.
	Get(ctx context.Context, table, id string) (Row, error)
	// Select returns rows matching the query in a stable order.
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	// Upsert creates or wholesale-replaces the row with the given id. The
	// id is also written to the row's "id" column.
	Upsert(ctx context.Context, table, id string, row Row) error
	// Delete removes the row. Deleting an absent row is not an error.
	Delete(ctx context.Context, table, id string) error
	// Watch opens a change feed matching req and delivers events to fn
	// until the returned UnwatchFunc is called or ctx is cancelled.
	Watch(ctx context.Context, req WatchRequest, fn EventFunc) (UnwatchFunc, error)
}

// Atomic is optionally implemented by backends that can group several writes
// into one transaction. Callers fall back to sequential writes when the
// backend does not implement it.
type Atomic interface {
	RunAtomic(ctx context.Context, fn func(Store) error) error
}

// Matches reports whether the filter matches the row. A nil filter matches
// everything.
func (f *Filter) Matches(row Row) bool {
	if f == nil {
		return true
	}
	if row == nil {
		return false
	}
	return row[f.Column] == f.Value
}

// MatchesKind reports whether an event kind satisfies the requested kind.
func MatchesKind(want, got EventKind) bool {
	return want == "" || want == EventAny || want == got
}
