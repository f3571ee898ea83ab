package sub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanklink/tanklink/internal/dal"
	"github.com/tanklink/tanklink/internal/entity"
	"github.com/tanklink/tanklink/internal/mapper"
	"github.com/tanklink/tanklink/internal/store"
	"github.com/tanklink/tanklink/internal/store/memstore"
)

func newTestManager(t *testing.T) (*Manager, *dal.DAL) {
	t.Helper()
	d := dal.New(memstore.New(), nil)
	m := NewManager(d, nil, nil)
	t.Cleanup(m.Close)
	return m, d
}

func saveCustomer(t *testing.T, d *dal.DAL, id string) {
	t.Helper()
	require.NoError(t, d.SaveUser(context.Background(), entity.User{
		Identity: entity.Identity{ID: id, Email: id + "@example.com", Name: "Pat"},
		Role:     entity.RoleCustomer,
		Customer: &entity.CustomerProfile{SavedAddresses: []string{"Home"}},
	}))
}

// A change to any one of the user's backing tables produces exactly one
// callback carrying the fully materialized projections.
func TestUserSubscriptionAggregatesTables(t *testing.T) {
	ctx := context.Background()
	m, d := newTestManager(t)
	saveCustomer(t, d, "u-1")

	var calls int
	var last []entity.User
	unsub, err := m.SubscribeToUserUpdates(ctx, "u-1", func(projections []entity.User) error {
		calls++
		last = projections
		return nil
	})
	require.NoError(t, err)
	defer unsub()

	// Touch a single backing table directly: one event, one callback.
	require.NoError(t, d.Store().Upsert(ctx, dal.TableCustomerProfiles, "u-1",
		mapper.RowFromCustomerProfile("u-1", entity.CustomerProfile{SavedAddresses: []string{"Home", "Depot"}})))

	require.Equal(t, 1, calls)
	require.Len(t, last, 1)
	assert.Equal(t, entity.RoleCustomer, last[0].Role)
	assert.Equal(t, []string{"Home", "Depot"}, last[0].Customer.SavedAddresses)
	assert.Equal(t, "u-1@example.com", last[0].Email, "projections carry the identity, not a bare row")
}

func TestUserSubscriptionIgnoresOtherIdentities(t *testing.T) {
	ctx := context.Background()
	m, d := newTestManager(t)
	saveCustomer(t, d, "u-1")

	var calls int
	unsub, err := m.SubscribeToUserUpdates(ctx, "u-1", func([]entity.User) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	defer unsub()

	saveCustomer(t, d, "u-2")
	assert.Equal(t, 0, calls)
}

func TestUserSubscriptionDeliversNilWhenUserRemoved(t *testing.T) {
	ctx := context.Background()
	m, d := newTestManager(t)
	saveCustomer(t, d, "u-1")

	var last []entity.User
	var calls int
	unsub, err := m.SubscribeToUserUpdates(ctx, "u-1", func(projections []entity.User) error {
		calls++
		last = projections
		return nil
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, d.RemoveUser(ctx, "u-1"))

	require.Greater(t, calls, 0)
	assert.Nil(t, last, "removal must surface as nil projections")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	m, d := newTestManager(t)
	saveCustomer(t, d, "u-1")

	var calls int
	unsub, err := m.SubscribeToUserUpdates(ctx, "u-1", func([]entity.User) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	saveCustomer(t, d, "u-1")
	delivered := calls

	unsub()
	unsub() // second call is a no-op

	saveCustomer(t, d, "u-1")
	assert.Equal(t, delivered, calls, "no callback may fire after Unsubscribe returns")
	assert.Empty(t, m.Channels(), "last unsubscribe closes the channel")
}

func TestBookingSubscriptionCarriesEntityAndKind(t *testing.T) {
	ctx := context.Background()
	m, d := newTestManager(t)

	created, err := d.CreateBooking(ctx, entity.Booking{
		CustomerID: "cust-1", BasePrice: 100, DistanceCharge: 40, TotalPrice: 140,
	})
	require.NoError(t, err)

	type seen struct {
		booking entity.Booking
		kind    store.EventKind
	}
	var got []seen
	unsub, err := m.SubscribeToBooking(ctx, created.ID, func(b entity.Booking, kind store.EventKind) error {
		got = append(got, seen{b, kind})
		return nil
	})
	require.NoError(t, err)
	defer unsub()

	accepted := entity.BookingAccepted
	driver := "drv-1"
	_, err = d.UpdateBooking(ctx, created.ID, dal.BookingPatch{Status: &accepted, DriverID: &driver})
	require.NoError(t, err)
	require.NoError(t, d.DeleteBooking(ctx, created.ID))

	require.Len(t, got, 2)
	assert.Equal(t, store.EventUpdate, got[0].kind)
	assert.Equal(t, entity.BookingAccepted, got[0].booking.Status)
	assert.Equal(t, store.EventDelete, got[1].kind)
	assert.Equal(t, created.ID, got[1].booking.ID, "delete events carry the last stored image")
}

func TestChannelReuseAndMetrics(t *testing.T) {
	ctx := context.Background()
	m, d := newTestManager(t)

	var a, b int
	unsubA, err := m.SubscribeToBookings(ctx, func(entity.Booking, store.EventKind) error {
		a++
		return nil
	})
	require.NoError(t, err)
	defer unsubA()
	unsubB, err := m.SubscribeToBookings(ctx, func(entity.Booking, store.EventKind) error {
		b++
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"booking/*"}, m.Channels(), "same key shares one channel")

	_, err = d.CreateBooking(ctx, entity.Booking{CustomerID: "c", TotalPrice: 0})
	require.NoError(t, err)

	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)

	metrics, ok := m.ChannelMetrics("booking/*")
	require.True(t, ok)
	assert.Equal(t, int64(1), metrics.Events)
	assert.Equal(t, int64(0), metrics.Errors)
	assert.False(t, metrics.FirstEvent.IsZero())

	status, ok := m.ChannelStatus("booking/*")
	require.True(t, ok)
	assert.Equal(t, StatusSubscribed, status)

	// First detach keeps the shared channel open.
	unsubB()
	assert.Equal(t, []string{"booking/*"}, m.Channels())
}

func TestCallbackFailuresAreIsolatedAndCounted(t *testing.T) {
	ctx := context.Background()
	m, d := newTestManager(t)

	var hookErr error
	unsubBad, err := m.SubscribeToBookings(ctx, func(entity.Booking, store.EventKind) error {
		return errors.New("subscriber broke")
	}, WithErrorHook(func(err error) { hookErr = err }))
	require.NoError(t, err)
	defer unsubBad()

	var healthy int
	unsubOK, err := m.SubscribeToBookings(ctx, func(entity.Booking, store.EventKind) error {
		healthy++
		return nil
	})
	require.NoError(t, err)
	defer unsubOK()

	_, err = d.CreateBooking(ctx, entity.Booking{CustomerID: "c"})
	require.NoError(t, err)

	assert.Equal(t, 1, healthy, "one failing subscriber must not halt the rest")
	assert.EqualError(t, hookErr, "subscriber broke")

	metrics, ok := m.ChannelMetrics("booking/*")
	require.True(t, ok)
	assert.Equal(t, int64(1), metrics.Errors)
}

func TestCallbackPanicIsRecovered(t *testing.T) {
	ctx := context.Background()
	m, d := newTestManager(t)

	unsub, err := m.SubscribeToBookings(ctx, func(entity.Booking, store.EventKind) error {
		panic("boom")
	})
	require.NoError(t, err)
	defer unsub()

	_, err = d.CreateBooking(ctx, entity.Booking{CustomerID: "c"})
	require.NoError(t, err)

	metrics, ok := m.ChannelMetrics("booking/*")
	require.True(t, ok)
	assert.Equal(t, int64(1), metrics.Errors)
}

// watchlessStore wraps a Store and refuses watches, like a blob backend.
type watchlessStore struct {
	store.Store
}

func (watchlessStore) Watch(context.Context, store.WatchRequest, store.EventFunc) (store.UnwatchFunc, error) {
	return nil, store.ErrWatchUnsupported
}

func TestRegistrationFailureSurfacesError(t *testing.T) {
	ctx := context.Background()
	d := dal.New(watchlessStore{memstore.New()}, nil)
	m := NewManager(d, nil, nil)
	defer m.Close()

	var hookErr error
	unsub, err := m.SubscribeToBookings(ctx, func(entity.Booking, store.EventKind) error {
		return nil
	}, WithErrorHook(func(err error) { hookErr = err }))

	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrWatchUnsupported))
	assert.True(t, errors.Is(hookErr, store.ErrWatchUnsupported))
	assert.NotNil(t, unsub)
	unsub() // noop handle must be safe

	status, ok := m.ChannelStatus("booking/*")
	require.True(t, ok, "failed channel stays visible")
	assert.Equal(t, StatusChannelError, status)
}

// flakyWatchStore fails the first n Watch registrations, then recovers.
type flakyWatchStore struct {
	store.Store
	failures int
}

func (s *flakyWatchStore) Watch(ctx context.Context, req store.WatchRequest, fn store.EventFunc) (store.UnwatchFunc, error) {
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("backend unavailable")
	}
	return s.Store.Watch(ctx, req, fn)
}

func TestResubscribeReopensErroredChannel(t *testing.T) {
	ctx := context.Background()
	st := &flakyWatchStore{Store: memstore.New(), failures: 1}
	d := dal.New(st, nil)
	m := NewManager(d, nil, nil)
	defer m.Close()

	_, err := m.SubscribeToBookings(ctx, func(entity.Booking, store.EventKind) error { return nil })
	require.Error(t, err)
	status, ok := m.ChannelStatus("booking/*")
	require.True(t, ok)
	require.Equal(t, StatusChannelError, status)

	// Backend recovered; an explicit re-subscribe must open fresh watches
	// instead of silently joining the dead channel.
	var calls int
	unsub, err := m.SubscribeToBookings(ctx, func(entity.Booking, store.EventKind) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	defer unsub()

	_, err = d.CreateBooking(ctx, entity.Booking{CustomerID: "c"})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	status, ok = m.ChannelStatus("booking/*")
	require.True(t, ok)
	assert.Equal(t, StatusSubscribed, status)
}

// gateStore blocks one customer-profile read until released, pinning an
// in-flight user re-fetch open after it has already read the identity row.
type gateStore struct {
	store.Store
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func (g *gateStore) Get(ctx context.Context, table, id string) (store.Row, error) {
	g.mu.Lock()
	trip := g.armed && table == dal.TableCustomerProfiles
	if trip {
		g.armed = false
	}
	g.mu.Unlock()
	if trip {
		close(g.entered)
		<-g.release
	}
	return g.Store.Get(ctx, table, id)
}

// A write landing while a user re-fetch is already in flight must still end
// up delivered: the pinned fetch read the identity row before the write, so
// sharing its snapshot alone would leave every subscriber stuck on the stale
// name forever.
func TestUserRefetchSeesWriteDuringInflightFetch(t *testing.T) {
	ctx := context.Background()
	gate := &gateStore{
		Store:   memstore.New(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	d := dal.New(gate, nil)
	m := NewManager(d, nil, nil)
	defer m.Close()
	saveCustomer(t, d, "u-1")

	var mu sync.Mutex
	var delivered []string
	unsub, err := m.SubscribeToUserUpdates(ctx, "u-1", func(projections []entity.User) error {
		mu.Lock()
		defer mu.Unlock()
		if len(projections) == 1 {
			delivered = append(delivered, projections[0].Name)
		}
		return nil
	})
	require.NoError(t, err)
	defer unsub()

	gate.mu.Lock()
	gate.armed = true
	gate.mu.Unlock()

	// First write: its re-fetch reads the identity (name "Pat"), then blocks
	// at the profile read.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = d.Store().Upsert(ctx, dal.TableCustomerProfiles, "u-1",
			mapper.RowFromCustomerProfile("u-1", entity.CustomerProfile{SavedAddresses: []string{"Depot"}}))
	}()
	<-gate.entered

	// Second write renames the identity while the first fetch is pinned.
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = d.Store().Upsert(ctx, dal.TableIdentities, "u-1",
			mapper.RowFromIdentity(entity.Identity{ID: "u-1", Email: "u-1@example.com", Name: "Patricia"}))
	}()
	// Give the second event time to join the pinned fetch.
	time.Sleep(50 * time.Millisecond)
	close(gate.release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, delivered)
	assert.Contains(t, delivered, "Patricia", "the rename during the in-flight fetch must be delivered")
}

func TestCallbackCanDetachItself(t *testing.T) {
	ctx := context.Background()
	m, d := newTestManager(t)

	var once, healthy int
	_, err := m.SubscribeToBookings(ctx, func(entity.Booking, store.EventKind) error {
		once++
		return ErrUnsubscribe
	})
	require.NoError(t, err)
	unsub, err := m.SubscribeToBookings(ctx, func(entity.Booking, store.EventKind) error {
		healthy++
		return nil
	})
	require.NoError(t, err)
	defer unsub()

	_, err = d.CreateBooking(ctx, entity.Booking{CustomerID: "c"})
	require.NoError(t, err)
	assert.Equal(t, 1, once)
	assert.Equal(t, 1, healthy)

	metrics, ok := m.ChannelMetrics("booking/*")
	require.True(t, ok)
	assert.Equal(t, int64(0), metrics.Errors, "self-detach is not a callback failure")

	_, err = d.CreateBooking(ctx, entity.Booking{CustomerID: "c"})
	require.NoError(t, err)
	assert.Equal(t, 1, once, "no delivery after self-detach")
	assert.Equal(t, 2, healthy)
}

func TestConcurrentSubscribeAndUnsubscribe(t *testing.T) {
	ctx := context.Background()
	m, d := newTestManager(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				unsub, err := m.SubscribeToBookings(ctx, func(entity.Booking, store.EventKind) error { return nil })
				if err != nil {
					continue
				}
				unsub()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 25; j++ {
			_, _ = d.CreateBooking(ctx, entity.Booking{CustomerID: "c"})
		}
	}()
	wg.Wait()

	assert.Empty(t, m.Channels(), "churn must settle with no channel left open")
}

func TestSubscribeRejectsEmptyIDs(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	_, err := m.SubscribeToUserUpdates(ctx, "", func([]entity.User) error { return nil })
	assert.Error(t, err)
	_, err = m.SubscribeToBooking(ctx, "", func(entity.Booking, store.EventKind) error { return nil })
	assert.Error(t, err)
	_, err = m.SubscribeToVehicle(ctx, "", func(entity.Vehicle, store.EventKind) error { return nil })
	assert.Error(t, err)
}

func TestCloseTearsDownAllChannels(t *testing.T) {
	ctx := context.Background()
	m, d := newTestManager(t)
	saveCustomer(t, d, "u-1")

	var calls int
	_, err := m.SubscribeToUserUpdates(ctx, "u-1", func([]entity.User) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	_, err = m.SubscribeToBookings(ctx, func(entity.Booking, store.EventKind) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	m.Close()
	assert.Empty(t, m.Channels())

	saveCustomer(t, d, "u-1")
	_, err = d.CreateBooking(ctx, entity.Booking{CustomerID: "c"})
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}
