package pgstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tanklink/tanklink/internal/store"
)

// notifier owns the single LISTEN connection and fans decoded notifications
// out to registered watches. The connection is acquired lazily on the first
// watch and released when the last watch is cancelled.
type notifier struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	mu      sync.Mutex
	watches map[int64]*pgWatch
	nextID  int64
	cancel  context.CancelFunc
	running bool
}

type pgWatch struct {
	req store.WatchRequest
	fn  store.EventFunc
}

// notification mirrors the JSON payload emitted by the notify trigger.
type notification struct {
	Table  string    `json:"table"`
	Kind   string    `json:"kind"`
	Before store.Row `json:"before"`
	After  store.Row `json:"after"`
}

func newNotifier(pool *pgxpool.Pool, logger *slog.Logger) *notifier {
	return &notifier{
		pool:    pool,
		logger:  logger,
		watches: make(map[int64]*pgWatch),
	}
}

func (n *notifier) watch(ctx context.Context, req store.WatchRequest, fn store.EventFunc) (store.UnwatchFunc, error) {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.watches[id] = &pgWatch{req: req, fn: fn}
	if !n.running {
		listenCtx, cancel := context.WithCancel(context.Background())
		n.cancel = cancel
		n.running = true
		go n.listen(listenCtx)
	}
	n.mu.Unlock()

	if req.OnState != nil {
		req.OnState(store.WatchActive)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.watches, id)
			if len(n.watches) == 0 && n.running {
				n.cancel()
				n.running = false
			}
			n.mu.Unlock()
			if req.OnState != nil {
				req.OnState(store.WatchClosed)
			}
		})
	}, nil
}

// listen holds one dedicated connection on LISTEN and dispatches payloads
// until cancelled. A dropped connection flips every watch to the error state
// and ends the loop; resubscription is the caller's decision.
func (n *notifier) listen(ctx context.Context) {
	conn, err := n.pool.Acquire(ctx)
	if err != nil {
		n.fail(err)
		return
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		n.fail(err)
		return
	}

	for {
		msg, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			n.fail(err)
			return
		}
		var payload notification
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			n.logger.Warn("pgstore: undecodable notification", slog.Any("error", err))
			continue
		}
		n.dispatch(store.Event{
			Table:  payload.Table,
			Kind:   store.EventKind(payload.Kind),
			Before: payload.Before,
			After:  payload.After,
			At:     time.Now(),
		})
	}
}

func (n *notifier) dispatch(evt store.Event) {
	n.mu.Lock()
	targets := make([]*pgWatch, 0, len(n.watches))
	for _, w := range n.watches {
		if w.req.Table != evt.Table {
			continue
		}
		if !store.MatchesKind(w.req.Kind, evt.Kind) {
			continue
		}
		image := evt.After
		if evt.Kind == store.EventDelete {
			image = evt.Before
		}
		if !w.req.Filter.Matches(image) {
			continue
		}
		targets = append(targets, w)
	}
	n.mu.Unlock()

	for _, w := range targets {
		w.fn(evt)
	}
}

// fail marks every open watch as errored. The listen loop does not restart
// on its own.
func (n *notifier) fail(err error) {
	n.logger.Error("pgstore: listener failed", slog.Any("error", err))
	n.mu.Lock()
	watches := make([]*pgWatch, 0, len(n.watches))
	for _, w := range n.watches {
		watches = append(watches, w)
	}
	n.running = false
	n.mu.Unlock()
	for _, w := range watches {
		if w.req.OnState != nil {
			w.req.OnState(store.WatchError)
		}
	}
}
