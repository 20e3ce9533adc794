package fetcher

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/picnic-sensors/internal/domain"
)

var _ domain.PicnicClient = (*stubClient)(nil)

type stubClient struct {
	cartCalls     atomic.Int32
	currentCalls  atomic.Int32
	allCalls      atomic.Int32
	gate          chan struct{}
	started       chan struct{}
	mu            sync.Mutex
	err           error
	cartItemCount int
}

func (s *stubClient) GetCart(ctx context.Context) (domain.Cart, error) {
	s.cartCalls.Add(1)
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.Cart{}, s.err
	}
	return domain.Cart{
		TotalCount: s.cartItemCount,
		TotalPrice: decimal.NewFromInt(10),
		DeliverySlots: []domain.TimeSlot{
			{WindowStart: domain.TextSlotTime("2021-03-03T17:00:00+01:00")},
		},
	}, nil
}

func (s *stubClient) GetDeliveries(context.Context) ([]domain.Delivery, error) {
	s.allCalls.Add(1)
	return []domain.Delivery{{ID: "d1", Status: domain.DeliveryStatusCompleted}}, nil
}

func (s *stubClient) GetCurrentDeliveries(context.Context) ([]domain.Delivery, error) {
	s.currentCalls.Add(1)
	return []domain.Delivery{}, nil
}

func (s *stubClient) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func quietLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "test")
}

func TestRefresh_CoalescesConcurrentCalls(t *testing.T) {
	t.Parallel()

	client := &stubClient{gate: make(chan struct{}), started: make(chan struct{}, 1), cartItemCount: 3}
	f := New(client, WithLogger(quietLogger()))

	const callers = 20
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.Refresh(context.Background())
		}()
	}

	<-client.started
	close(client.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, client.cartCalls.Load())
	require.EqualValues(t, 1, client.allCalls.Load())

	snap := f.Snapshot()
	require.NotNil(t, snap)
	require.Equal(t, 3, snap.Cart.TotalCount)
	require.Len(t, snap.TimeSlots, 1)

	require.NoError(t, f.Refresh(context.Background()))
	require.Same(t, snap, f.Snapshot())
}

func TestRefresh_ThrottlesWithinWindow(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	client := &stubClient{}
	f := New(client, WithLogger(quietLogger()), WithClock(clock.Now))

	require.NoError(t, f.Refresh(context.Background()))
	first := f.Snapshot()

	for range 5 {
		clock.Advance(2 * time.Minute)
		require.NoError(t, f.Refresh(context.Background()))
	}
	require.EqualValues(t, 1, client.cartCalls.Load())
	require.Same(t, first, f.Snapshot())

	clock.Advance(5 * time.Minute)
	require.NoError(t, f.Refresh(context.Background()))
	require.EqualValues(t, 2, client.cartCalls.Load())
	require.NotSame(t, first, f.Snapshot())
	require.Equal(t, clock.Now(), f.Status().LastSuccess)
}

func TestRefresh_FailureKeepsPreviousSnapshot(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	client := &stubClient{}
	f := New(client, WithLogger(quietLogger()), WithClock(clock.Now))

	require.NoError(t, f.Refresh(context.Background()))
	good := f.Snapshot()
	successAt := f.Status().LastSuccess

	clock.Advance(DefaultMinInterval)
	upstreamErr := errors.Join(domain.ErrUpstreamUnavailable, errors.New("connection reset"))
	client.setErr(upstreamErr)

	err := f.Refresh(context.Background())
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	require.Same(t, good, f.Snapshot())

	status := f.Status()
	require.Equal(t, 1, status.ConsecutiveFailures)
	require.Equal(t, successAt, status.LastSuccess)
	require.ErrorIs(t, status.LastError, domain.ErrUpstreamUnavailable)

	// Неудача не открывает окно троттлинга: следующий вызов снова идёт в Picnic.
	require.Error(t, f.Refresh(context.Background()))
	require.EqualValues(t, 3, client.cartCalls.Load())
	require.Equal(t, 2, f.Status().ConsecutiveFailures)

	client.setErr(nil)
	require.NoError(t, f.Refresh(context.Background()))
	require.Zero(t, f.Status().ConsecutiveFailures)
	require.NotSame(t, good, f.Snapshot())
}

func TestRefresh_FirstFailureLeavesNoSnapshot(t *testing.T) {
	t.Parallel()

	client := &stubClient{err: domain.ErrUnauthorized}
	f := New(client, WithLogger(quietLogger()))

	require.ErrorIs(t, f.Refresh(context.Background()), domain.ErrUnauthorized)
	require.Nil(t, f.Snapshot())
	require.False(t, f.Status().HasSnapshot())
}

func TestForceRefresh_BypassesThrottle(t *testing.T) {
	t.Parallel()

	client := &stubClient{}
	f := New(client, WithLogger(quietLogger()))

	require.NoError(t, f.Refresh(context.Background()))
	require.NoError(t, f.ForceRefresh(context.Background()))
	require.NoError(t, f.Refresh(context.Background()))
	require.EqualValues(t, 2, client.cartCalls.Load())
}

func TestForceRefresh_DoesNotJoinThrottledFlight(t *testing.T) {
	t.Parallel()

	client := &stubClient{gate: make(chan struct{}), started: make(chan struct{}, 2)}
	f := New(client, WithLogger(quietLogger()))

	regular := make(chan error, 1)
	go func() { regular <- f.Refresh(context.Background()) }()
	<-client.started

	forced := make(chan error, 1)
	go func() { forced <- f.ForceRefresh(context.Background()) }()

	select {
	case <-client.started:
	case <-time.After(time.Second):
		t.Fatal("forced refresh did not start its own fetch")
	}

	close(client.gate)
	require.NoError(t, <-regular)
	require.NoError(t, <-forced)
	require.EqualValues(t, 2, client.cartCalls.Load())
}

func TestRefresh_CallerCancelDoesNotAbortFetch(t *testing.T) {
	t.Parallel()

	client := &stubClient{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	f := New(client, WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Refresh(ctx) }()

	<-client.started
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(client.gate)
	require.Eventually(t, func() bool { return f.Snapshot() != nil }, time.Second, 5*time.Millisecond)
}

func TestRefresh_CurrentScope(t *testing.T) {
	t.Parallel()

	client := &stubClient{}
	f := New(client, WithLogger(quietLogger()), WithDeliveryScope(ScopeCurrent))

	require.NoError(t, f.Refresh(context.Background()))
	require.EqualValues(t, 1, client.currentCalls.Load())
	require.Zero(t, client.allCalls.Load())
	require.Empty(t, f.Snapshot().Deliveries)
}

func TestParseDeliveryScope(t *testing.T) {
	t.Parallel()

	scope, err := ParseDeliveryScope("")
	require.NoError(t, err)
	require.Equal(t, ScopeAll, scope)

	scope, err = ParseDeliveryScope("current")
	require.NoError(t, err)
	require.Equal(t, ScopeCurrent, scope)

	_, err = ParseDeliveryScope("recent")
	require.ErrorIs(t, err, domain.ErrConfigInvalid)
}
