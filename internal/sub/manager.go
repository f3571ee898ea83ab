// Package sub translates "notify me when entity X changes" into low-level
// store watches and re-emits normalized, entity-shaped callbacks. A single
// User spans up to five backing tables; the manager aggregates their row
// events into one consistent callback by re-reading the materialized user on
// every event instead of merging partial rows client-side.
package sub

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tanklink/tanklink/internal/dal"
	"github.com/tanklink/tanklink/internal/entity"
	"github.com/tanklink/tanklink/internal/mapper"
	"github.com/tanklink/tanklink/internal/store"
)

// Observer receives channel lifecycle and delivery signals, e.g. for a
// Prometheus registry. All methods must be safe for concurrent use.
type Observer interface {
	ChannelOpened(key string)
	ChannelClosed(key string)
	EventDelivered(key string, latency time.Duration)
	CallbackError(key string)
}

// Option configures one subscribe call.
type Option func(*subscriber)

// WithErrorHook installs a per-subscriber hook receiving callback and
// re-fetch failures. Without it, failures are logged and counted.
func WithErrorHook(hook func(error)) Option {
	return func(s *subscriber) { s.onError = hook }
}

// UserCallback receives the freshly materialized projections of one logical
// user: one entry per role, or nil when the identity or all its roles were
// removed.
type UserCallback func(projections []entity.User) error

// BookingCallback receives the booking image carried by a change event. On
// delete events it carries the last stored image.
type BookingCallback func(b entity.Booking, kind store.EventKind) error

// VehicleCallback receives the vehicle image carried by a change event.
type VehicleCallback func(v entity.Vehicle, kind store.EventKind) error

// Manager owns every open subscription channel. It is constructed once at
// startup and torn down with Close; there is no package-level registry.
type Manager struct {
	dal      *dal.DAL
	store    store.Store
	logger   *slog.Logger
	observer Observer

	mu       sync.Mutex
	channels map[string]*channel
	fetches  singleflight.Group
}

// NewManager constructs a subscription manager over the DAL's backend.
// observer may be nil.
func NewManager(d *dal.DAL, logger *slog.Logger, observer Observer) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dal:      d,
		store:    d.Store(),
		logger:   logger,
		observer: observer,
		channels: make(map[string]*channel),
	}
}

// SubscribeToUserUpdates watches every table a User projection can span,
// filtered to one identity. Any row event triggers one fresh read-through
// and exactly one callback carrying the fully materialized projections,
// never a partially merged entity. The returned handle tears all underlying
// watches down together once the last subscriber detaches.
func (m *Manager) SubscribeToUserUpdates(ctx context.Context, identityID string, cb UserCallback, opts ...Option) (Unsubscribe, error) {
	if identityID == "" {
		return noop, errors.New("sub: missing identity id")
	}
	key := "user/" + identityID
	s := newSubscriber(func(payload any) error {
		projections, _ := payload.([]entity.User)
		return cb(projections)
	}, opts)

	return m.subscribe(ctx, key, s, func(ch *channel) error {
		requests := []store.WatchRequest{
			{Table: dal.TableIdentities, Filter: &store.Filter{Column: "id", Value: identityID}, Kind: store.EventAny, OnState: ch.onWatchState},
			{Table: dal.TableRoleAssignments, Filter: &store.Filter{Column: "identity_id", Value: identityID}, Kind: store.EventAny, OnState: ch.onWatchState},
			{Table: dal.TableCustomerProfiles, Filter: &store.Filter{Column: "id", Value: identityID}, Kind: store.EventAny, OnState: ch.onWatchState},
			{Table: dal.TableDriverProfiles, Filter: &store.Filter{Column: "id", Value: identityID}, Kind: store.EventAny, OnState: ch.onWatchState},
			{Table: dal.TableAdminProfiles, Filter: &store.Filter{Column: "id", Value: identityID}, Kind: store.EventAny, OnState: ch.onWatchState},
		}
		handler := func(evt store.Event) {
			m.refetchUser(ctx, ch, identityID, evt.At)
		}
		for _, req := range requests {
			cancel, err := m.store.Watch(ctx, req, handler)
			if err != nil {
				return err
			}
			ch.addCancel(cancel)
		}
		return nil
	})
}

// userFetch carries one shared read together with the channel generation
// observed when it began.
type userFetch struct {
	gen         int64
	projections []entity.User
}

// refetchUser re-reads the materialized user on any backing-row event.
// Concurrent re-fetches for the same identity coalesce onto one read, but a
// joined read that began before this event's write is stale: no later event
// exists to surface the write, so the caller fetches again until the shared
// read is at least as new as its own event.
func (m *Manager) refetchUser(ctx context.Context, ch *channel, identityID string, arrival time.Time) {
	myGen := ch.gen.Add(1)
	for {
		v, err, _ := m.fetches.Do(ch.key, func() (any, error) {
			gen := ch.gen.Load()
			projections, err := m.dal.GetUserProjections(ctx, identityID)
			if errors.Is(err, dal.ErrNotFound) {
				// Identity or all roles removed: deliver an explicit nil.
				return userFetch{gen: gen}, nil
			}
			return userFetch{gen: gen, projections: projections}, err
		})
		if err != nil {
			m.logger.Warn("user re-fetch failed",
				slog.String("channel", ch.key), slog.Any("error", err))
			ch.recordError()
			ch.notifyError(err)
			return
		}
		if res := v.(userFetch); res.gen >= myGen {
			ch.dispatch(res.projections, arrival)
			return
		}
	}
}

// SubscribeToBooking watches a single booking id. The raw row image is
// mapped directly: a booking row is already the complete entity, so no
// re-fetch is needed.
func (m *Manager) SubscribeToBooking(ctx context.Context, bookingID string, cb BookingCallback, opts ...Option) (Unsubscribe, error) {
	if bookingID == "" {
		return noop, errors.New("sub: missing booking id")
	}
	return m.subscribeRows(ctx, "booking/"+bookingID, dal.TableBookings,
		&store.Filter{Column: "id", Value: bookingID},
		bookingDeliverer(cb), opts)
}

// SubscribeToBookings watches every booking row.
func (m *Manager) SubscribeToBookings(ctx context.Context, cb BookingCallback, opts ...Option) (Unsubscribe, error) {
	return m.subscribeRows(ctx, "booking/*", dal.TableBookings, nil, bookingDeliverer(cb), opts)
}

// SubscribeToVehicle watches a single vehicle id.
func (m *Manager) SubscribeToVehicle(ctx context.Context, vehicleID string, cb VehicleCallback, opts ...Option) (Unsubscribe, error) {
	if vehicleID == "" {
		return noop, errors.New("sub: missing vehicle id")
	}
	return m.subscribeRows(ctx, "vehicle/"+vehicleID, dal.TableVehicles,
		&store.Filter{Column: "id", Value: vehicleID},
		vehicleDeliverer(cb), opts)
}

// SubscribeToVehicles watches every vehicle row.
func (m *Manager) SubscribeToVehicles(ctx context.Context, cb VehicleCallback, opts ...Option) (Unsubscribe, error) {
	return m.subscribeRows(ctx, "vehicle/*", dal.TableVehicles, nil, vehicleDeliverer(cb), opts)
}

func bookingDeliverer(cb BookingCallback) func(any) error {
	return func(payload any) error {
		evt, _ := payload.(store.Event)
		return cb(mapper.BookingFromRow(eventImage(evt)), evt.Kind)
	}
}

func vehicleDeliverer(cb VehicleCallback) func(any) error {
	return func(payload any) error {
		evt, _ := payload.(store.Event)
		return cb(mapper.VehicleFromRow(eventImage(evt)), evt.Kind)
	}
}

// eventImage picks the row image that describes the entity after the event:
// the after image, or the before image for deletes.
func eventImage(evt store.Event) store.Row {
	if evt.Kind == store.EventDelete {
		return evt.Before
	}
	return evt.After
}

// subscribeRows opens one single-table channel delivering raw row events.
func (m *Manager) subscribeRows(ctx context.Context, key, table string, filter *store.Filter, deliver func(any) error, opts []Option) (Unsubscribe, error) {
	s := newSubscriber(deliver, opts)
	return m.subscribe(ctx, key, s, func(ch *channel) error {
		cancel, err := m.store.Watch(ctx, store.WatchRequest{
			Table:   table,
			Filter:  filter,
			Kind:    store.EventAny,
			OnState: ch.onWatchState,
		}, func(evt store.Event) {
			ch.dispatch(evt, evt.At)
		})
		if err != nil {
			return err
		}
		ch.addCancel(cancel)
		return nil
	})
}

// subscribe attaches the subscriber to the channel for key, opening the
// channel on first use. Repeated subscribes on the same key share one open
// channel; each caller holds an independent unsubscribe. A registration
// failure invokes the subscriber's error hook when present, otherwise it is
// logged; the failed channel stays registered with status CHANNEL_ERROR and
// is never retried automatically. An explicit re-subscribe on that key claims
// the errored channel and opens its watches afresh.
func (m *Manager) subscribe(ctx context.Context, key string, s *subscriber, open func(*channel) error) (Unsubscribe, error) {
	m.mu.Lock()
	ch, exists := m.channels[key]
	if exists && ch.isClosed() {
		// The last subscriber is mid-teardown; start over with a new
		// channel rather than attaching to cancelled watches.
		exists = false
	}
	needOpen := !exists
	if !exists {
		ch = newChannel(key, m)
		m.channels[key] = ch
	} else if ch.resetForReopen() {
		needOpen = true
	}
	m.mu.Unlock()

	if needOpen {
		if err := open(ch); err != nil {
			ch.failOpen()
			if s.onError != nil {
				s.onError(err)
			} else {
				m.logger.Error("subscription registration failed",
					slog.String("channel", key), slog.Any("error", err))
			}
			return noop, err
		}
		if ch.markOpened() && m.observer != nil {
			m.observer.ChannelOpened(key)
		}
	}
	return ch.attach(s), nil
}

// removeChannel drops a closed channel from the registry, unless the key has
// already been claimed by a replacement channel.
func (m *Manager) removeChannel(ch *channel) {
	m.mu.Lock()
	if m.channels[ch.key] == ch {
		delete(m.channels, ch.key)
	}
	m.mu.Unlock()
	if ch.wasOpened() && m.observer != nil {
		m.observer.ChannelClosed(ch.key)
	}
}

// ChannelMetrics returns the metrics snapshot for one open channel.
func (m *Manager) ChannelMetrics(key string) (Metrics, bool) {
	m.mu.Lock()
	ch, ok := m.channels[key]
	m.mu.Unlock()
	if !ok {
		return Metrics{}, false
	}
	return ch.metrics(), true
}

// ChannelStatus returns the connection status for one open channel.
func (m *Manager) ChannelStatus(key string) (Status, bool) {
	m.mu.Lock()
	ch, ok := m.channels[key]
	m.mu.Unlock()
	if !ok {
		return "", false
	}
	return ch.currentStatus(), true
}

// Channels lists open channel keys in a stable order.
func (m *Manager) Channels() []string {
	m.mu.Lock()
	keys := make([]string, 0, len(m.channels))
	for key := range m.channels {
		keys = append(keys, key)
	}
	m.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Close tears down every open channel. Subscribers receive no further
// callbacks.
func (m *Manager) Close() {
	m.mu.Lock()
	open := make([]*channel, 0, len(m.channels))
	for _, ch := range m.channels {
		open = append(open, ch)
	}
	m.mu.Unlock()
	for _, ch := range open {
		ch.close()
	}
}

func newSubscriber(deliver func(any) error, opts []Option) *subscriber {
	s := &subscriber{deliver: deliver}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func noop() {}
