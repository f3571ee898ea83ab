// Package redisblob implements the store contract on Redis. Each entity kind
// maps to one hash whose fields are entity ids and whose values are opaque
// JSON blobs, replaced wholesale on write. This backend has no change feed;
// Watch reports store.ErrWatchUnsupported.
package redisblob

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/tanklink/tanklink/internal/store"
)

// Store is a Redis-backed store.Store without change notification.
type Store struct {
	client *redis.Client
	prefix string
}

// New constructs a Store. prefix namespaces the hashes, e.g. "tanklink".
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "tanklink"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(table string) string {
	return s.prefix + ":" + table
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, table, id string) (store.Row, error) {
	blob, err := s.client.HGet(ctx, s.key(table), id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, store.ErrNoRow
		}
		return nil, fmt.Errorf("redisblob: get %s: %w", table, err)
	}
	return decode(blob)
}

// Select implements store.Store. The blob layout has no secondary indexes,
// so selection scans the whole hash and filters in memory.
func (s *Store) Select(ctx context.Context, table string, q store.Query) ([]store.Row, error) {
	all, err := s.client.HGetAll(ctx, s.key(table)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisblob: select %s: %w", table, err)
	}
	rows := make([]store.Row, 0, len(all))
	for _, blob := range all {
		row, err := decode([]byte(blob))
		if err != nil {
			return nil, err
		}
		if q.Filter.Matches(row) {
			rows = append(rows, row)
		}
	}

	sortColumn, desc := "id", false
	if q.Sort != nil {
		sortColumn, desc = q.Sort.Column, q.Sort.Desc
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a := fmt.Sprint(rows[i][sortColumn])
		b := fmt.Sprint(rows[j][sortColumn])
		if desc {
			return a > b
		}
		return a < b
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
func (s *Store) Upsert(ctx context.Context, table, id string, row store.Row) error {
	stored := row.Clone()
	if stored == nil {
		stored = store.Row{}
	}
	stored["id"] = id
	blob, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("redisblob: encode row: %w", err)
	}
	if err := s.client.HSet(ctx, s.key(table), id, blob).Err(); err != nil {
		return fmt.Errorf("redisblob: upsert %s: %w", table, err)
	}
	return nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, table, id string) error {
	if err := s.client.HDel(ctx, s.key(table), id).Err(); err != nil {
		return fmt.Errorf("redisblob: delete %s: %w", table, err)
	}
	return nil
}

// Watch implements store.Store. The blob backend is non-real-time.
func (s *Store) Watch(context.Context, store.WatchRequest, store.EventFunc) (store.UnwatchFunc, error) {
	return nil, store.ErrWatchUnsupported
}

func decode(blob []byte) (store.Row, error) {
	var row store.Row
	if err := json.Unmarshal(blob, &row); err != nil {
		return nil, fmt.Errorf("redisblob: decode row: %w", err)
	}
	return row, nil
}
