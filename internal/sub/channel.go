package sub

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tanklink/tanklink/internal/store"
)

// Status reflects the backend connection lifecycle of one channel.
type Status string

const (
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusTimedOut     Status = "TIMED_OUT"
	StatusClosed       Status = "CLOSED"
)

// Metrics is a point-in-time snapshot of one channel's delivery counters.
// AvgLatency is the running average from event arrival to callback
// completion.
type Metrics struct {
	Events     int64
	Errors     int64
	FirstEvent time.Time
	LastEvent  time.Time
	AvgLatency time.Duration
}

// Unsubscribe detaches one subscriber from its channel. Calling it more than
// once, or on a channel that never opened, is a no-op. No callback for this
// subscriber fires after it returns. It must not be called from inside that
// subscriber's own callback: delivery holds the subscriber's lock, so the
// call would deadlock. To detach from within a callback, return
// ErrUnsubscribe instead.
type Unsubscribe func()

// ErrUnsubscribe, returned from a callback, detaches that subscriber once the
// current delivery completes. It is not counted as a callback failure.
var ErrUnsubscribe = errors.New("sub: unsubscribe")

// subscriber is one caller attached to a channel. deliver runs under mu so
// an in-flight callback blocks Unsubscribe until it completes, which is what
// guarantees no delivery after Unsubscribe returns.
type subscriber struct {
	mu      sync.Mutex
	removed bool
	deliver func(payload any) error
	onError func(error)
}

// channel is one logical subscription unit: a (entity kind, filter) pair
// shared by every caller subscribed to that key. It owns the low-level
// watches and tears them down when the last subscriber detaches.
type channel struct {
	key string
	mgr *Manager

	// gen counts arrived events; user re-fetches compare it against the
	// generation observed when their shared read began.
	gen atomic.Int64

	mu       sync.Mutex
	subs     map[int64]*subscriber
	nextSub  int64
	cancels  []store.UnwatchFunc
	status   Status
	opened   bool
	closed   bool
	events   int64
	errCount int64
	first    time.Time
	last     time.Time
	totalLat time.Duration
}

func newChannel(key string, mgr *Manager) *channel {
	return &channel{
		key:    key,
		mgr:    mgr,
		subs:   make(map[int64]*subscriber),
		status: StatusSubscribed,
	}
}

// attach registers one subscriber and returns its detach handle.
func (c *channel) attach(s *subscriber) Unsubscribe {
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = s
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			// Block until an in-flight delivery for this subscriber
			// completes.
			s.mu.Lock()
			s.removed = true
			s.mu.Unlock()

			c.mu.Lock()
			delete(c.subs, id)
			empty := len(c.subs) == 0
			c.mu.Unlock()
			if empty {
				c.close()
			}
		})
	}
}

// dispatch fans one normalized payload out to every attached subscriber,
// isolating callback failures and recording per-channel metrics. arrival is
// when the raw backend event was received. A callback returning
// ErrUnsubscribe detaches its subscriber after the delivery.
func (c *channel) dispatch(payload any, arrival time.Time) {
	type target struct {
		id int64
		s  *subscriber
	}
	c.mu.Lock()
	targets := make([]target, 0, len(c.subs))
	for id, s := range c.subs {
		targets = append(targets, target{id: id, s: s})
	}
	c.mu.Unlock()

	var failures int64
	var detached []int64
	for _, t := range targets {
		t.s.mu.Lock()
		if !t.s.removed {
			if err := invoke(t.s.deliver, payload); err != nil {
				if errors.Is(err, ErrUnsubscribe) {
					t.s.removed = true
					detached = append(detached, t.id)
				} else {
					failures++
					if t.s.onError != nil {
						t.s.onError(err)
					}
				}
			}
		}
		t.s.mu.Unlock()
	}

	latency := time.Since(arrival)
	c.mu.Lock()
	c.events++
	c.errCount += failures
	if c.first.IsZero() {
		c.first = arrival
	}
	c.last = arrival
	c.totalLat += latency
	c.mu.Unlock()

	if c.mgr.observer != nil {
		c.mgr.observer.EventDelivered(c.key, latency)
		for i := int64(0); i < failures; i++ {
			c.mgr.observer.CallbackError(c.key)
		}
	}

	if len(detached) > 0 {
		c.mu.Lock()
		for _, id := range detached {
			delete(c.subs, id)
		}
		empty := len(c.subs) == 0 && !c.closed
		c.mu.Unlock()
		if empty {
			c.close()
		}
	}
}

// recordError counts a failure that happened before any callback could run,
// e.g. a broken re-fetch.
func (c *channel) recordError() {
	c.mu.Lock()
	c.errCount++
	c.mu.Unlock()
	if c.mgr.observer != nil {
		c.mgr.observer.CallbackError(c.key)
	}
}

// notifyError forwards a delivery-path failure to every subscriber that
// installed an error hook.
func (c *channel) notifyError(err error) {
	c.mu.Lock()
	hooks := make([]func(error), 0, len(c.subs))
	for _, s := range c.subs {
		if s.onError != nil {
			hooks = append(hooks, s.onError)
		}
	}
	c.mu.Unlock()
	for _, hook := range hooks {
		hook(err)
	}
}

// invoke runs one callback, converting a panic into an error so a bad
// subscriber cannot halt delivery to the rest.
func invoke(fn func(any) error, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscription callback panic: %v", r)
		}
	}()
	return fn(payload)
}

// addCancel records one watch teardown under the channel lock, so concurrent
// attach/close cannot race the slice.
func (c *channel) addCancel(cancel store.UnwatchFunc) {
	c.mu.Lock()
	c.cancels = append(c.cancels, cancel)
	c.mu.Unlock()
}

// markOpened flags the first successful registration. Reports whether this
// call made the transition.
func (c *channel) markOpened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened {
		return false
	}
	c.opened = true
	return true
}

func (c *channel) wasOpened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened
}

func (c *channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// resetForReopen claims an errored, watchless channel for a fresh
// registration attempt. Claiming flips the status back so concurrent
// subscribers join instead of opening a second set of watches.
func (c *channel) resetForReopen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.status != StatusChannelError || len(c.cancels) > 0 {
		return false
	}
	c.status = StatusSubscribed
	return true
}

// failOpen tears down whichever watches a failed registration did open and
// parks the channel in its error state.
func (c *channel) failOpen() {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.status = StatusChannelError
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// onWatchState tracks the backend connection lifecycle.
func (c *channel) onWatchState(state store.WatchState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	switch state {
	case store.WatchActive:
		c.status = StatusSubscribed
	case store.WatchError:
		c.status = StatusChannelError
	case store.WatchTimedOut:
		c.status = StatusTimedOut
	case store.WatchClosed:
		c.status = StatusClosed
	}
}

// close tears down every underlying watch and removes the channel from the
// manager registry.
func (c *channel) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancels := c.cancels
	c.cancels = nil
	c.status = StatusClosed
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	c.mgr.removeChannel(c)
}

func (c *channel) metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := Metrics{
		Events:     c.events,
		Errors:     c.errCount,
		FirstEvent: c.first,
		LastEvent:  c.last,
	}
	if c.events > 0 {
		m.AvgLatency = c.totalLat / time.Duration(c.events)
	}
	return m
}

func (c *channel) currentStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}
