// Package memstore provides an in-process store.Store with full watch
// support. It backs unit tests and local development runs.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tanklink/tanklink/internal/store"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu      sync.RWMutex
	tables  map[string]map[string]store.Row
	watches map[int64]*watch
	nextID  int64
	closed  bool
}

type watch struct {
	req store.WatchRequest
	fn  store.EventFunc
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		tables:  make(map[string]map[string]store.Row),
		watches: make(map[int64]*watch),
	}
}

// Get implements store.Store.
func (s *Store) Get(_ context.Context, table, id string) (store.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.tables[table][id]
	if !ok {
		return nil, store.ErrNoRow
	}
	return row.Clone(), nil
}

// Select implements store.Store.
func (s *Store) Select(_ context.Context, table string, q store.Query) ([]store.Row, error) {
	s.mu.RLock()
	rows := make([]store.Row, 0, len(s.tables[table]))
	for _, row := range s.tables[table] {
		if q.Filter.Matches(row) {
			rows = append(rows, row.Clone())
		}
	}
	s.mu.RUnlock()

	sortColumn, desc := "id", false
	if q.Sort != nil {
		sortColumn, desc = q.Sort.Column, q.Sort.Desc
	}
	sort.SliceStable(rows, func(i, j int) bool {
		less := lessValue(rows[i][sortColumn], rows[j][sortColumn])
		if desc {
			return !less && !equalValue(rows[i][sortColumn], rows[j][sortColumn])
		}
		return less
	})

	if q.Offset > 0 {
		if q.Offset >= len(rows) {
			return nil, nil
		}
		rows = rows[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(rows) {
		rows = rows[:q.Limit]
	}
	return rows, nil
}

// Upsert implements store.Store.
func (s *Store) Upsert(_ context.Context, table, id string, row store.Row) error {
	stored := row.Clone()
	if stored == nil {
		stored = store.Row{}
	}
	stored["id"] = id

	s.mu.Lock()
	t, ok := s.tables[table]
	if !ok {
		t = make(map[string]store.Row)
		s.tables[table] = t
	}
	before, existed := t[id]
	t[id] = stored
	kind := store.EventInsert
	if existed {
		kind = store.EventUpdate
	}
	evt := store.Event{
		Table:  table,
		Kind:   kind,
		Before: before.Clone(),
		After:  stored.Clone(),
		At:     time.Now(),
	}
	targets := s.matchingWatches(evt)
	s.mu.Unlock()

	dispatch(targets, evt)
	return nil
}

// Delete implements store.Store.
func (s *Store) Delete(_ context.Context, table, id string) error {
	s.mu.Lock()
	before, existed := s.tables[table][id]
	if existed {
		delete(s.tables[table], id)
	}
	var targets []*watch
	evt := store.Event{
		Table:  table,
		Kind:   store.EventDelete,
		Before: before.Clone(),
		At:     time.Now(),
	}
	if existed {
		targets = s.matchingWatches(evt)
	}
	s.mu.Unlock()

	if existed {
		dispatch(targets, evt)
	}
	return nil
}

// Watch implements store.Store.
func (s *Store) Watch(_ context.Context, req store.WatchRequest, fn store.EventFunc) (store.UnwatchFunc, error) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.watches[id] = &watch{req: req, fn: fn}
	s.mu.Unlock()

	if req.OnState != nil {
		req.OnState(store.WatchActive)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watches, id)
			s.mu.Unlock()
			if req.OnState != nil {
				req.OnState(store.WatchClosed)
			}
		})
	}, nil
}

// RunAtomic implements store.Atomic. The in-memory store has no real
// transactions; writes are applied sequentially.
func (s *Store) RunAtomic(ctx context.Context, fn func(store.Store) error) error {
	return fn(s)
}

// matchingWatches must be called with s.mu held. The delete-event filter is
// checked against the before image since there is no after image.
func (s *Store) matchingWatches(evt store.Event) []*watch {
	var out []*watch
	for _, w := range s.watches {
		if w.req.Table != evt.Table {
			continue
		}
		if !store.MatchesKind(w.req.Kind, evt.Kind) {
			continue
		}
		target := evt.After
		if evt.Kind == store.EventDelete {
			target = evt.Before
		}
		if !w.req.Filter.Matches(target) {
			continue
		}
		out = append(out, w)
	}
	return out
}

func dispatch(targets []*watch, evt store.Event) {
	for _, w := range targets {
		w.fn(evt)
	}
}

func lessValue(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av < bv
	case float64:
		bv, ok := b.(float64)
		return ok && av < bv
	case bool:
		bv, ok := b.(bool)
		return ok && !av && bv
	default:
		return false
	}
}

func equalValue(a, b any) bool {
	return a == b
}
