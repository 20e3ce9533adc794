package poller

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/picnic-sensors/internal/domain"
	"github.com/vladislavdragonenkov/picnic-sensors/internal/metrics"
	"github.com/vladislavdragonenkov/picnic-sensors/internal/sensor"
)

var (
	_ domain.SnapshotSource = (*stubSource)(nil)
	_ domain.StatePublisher = (*stubPublisher)(nil)
)

type stubSource struct {
	mu        sync.Mutex
	snap      *domain.Snapshot
	refreshes int
}

func (s *stubSource) Refresh(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	return nil
}

func (s *stubSource) Snapshot() *domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *stubSource) publish(snap *domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

type stubPublisher struct {
	mu      sync.Mutex
	changes []domain.StateChange
	err     error
}

func (p *stubPublisher) PublishState(_ context.Context, change domain.StateChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
	return p.err
}

func (p *stubPublisher) published() []domain.StateChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.StateChange(nil), p.changes...)
}

func quietLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "test")
}

func newSensors(src domain.SnapshotSource) []sensor.Sensor {
	logger := quietLogger()
	return []sensor.Sensor{
		sensor.NewCart(src, logger),
		sensor.NewDelivery(src, logger),
		sensor.NewDeliverySlots(src, logger),
	}
}

func snapshot(items int, status domain.DeliveryStatus) *domain.Snapshot {
	return &domain.Snapshot{
		Cart:       &domain.Cart{TotalCount: items, TotalPrice: decimal.RequireFromString("12.50")},
		Deliveries: []domain.Delivery{{ID: "d1", Status: status}},
		TimeSlots: []domain.TimeSlot{{
			WindowStart: domain.TextSlotTime("2021-03-03T17:00:00+01:00"),
		}},
	}
}

func TestWorker_UpdateOncePublishesChangesOnly(t *testing.T) {
	t.Parallel()

	src := &stubSource{snap: snapshot(2, domain.DeliveryStatusCurrent)}
	publisher := &stubPublisher{}
	fixed := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	worker := NewWorker(src, newSensors(src),
		WithLogger(quietLogger()),
		WithPublisher(publisher),
		WithClock(func() time.Time { return fixed }),
	)

	require.NoError(t, worker.UpdateOnce(context.Background()))
	first := publisher.published()
	require.Len(t, first, 3)
	require.Equal(t, "sensor.picnic_cart", first[0].EntityID)
	require.Nil(t, first[0].OldState)
	require.Equal(t, 2, first[0].NewState)
	require.Equal(t, sensor.Attribution, first[0].Attributes[sensor.AttrAttribution])
	require.Equal(t, fixed, first[0].ChangedAt)
	require.Equal(t, "order_placed", first[1].NewState)

	// Тот же снимок, событий нет.
	require.NoError(t, worker.UpdateOnce(context.Background()))
	require.Len(t, publisher.published(), 3)

	// Новый снимок с теми же слотами: меняются корзина и доставка.
	src.publish(snapshot(5, domain.DeliveryStatusCompleted))
	require.NoError(t, worker.UpdateOnce(context.Background()))
	all := publisher.published()
	require.Len(t, all, 5)
	require.Equal(t, 2, all[3].OldState)
	require.Equal(t, 5, all[3].NewState)
	require.Equal(t, "order_placed", all[4].OldState)
	require.Equal(t, "order_delivered", all[4].NewState)
	require.Equal(t, 3*3, src.refreshes)
}

func TestWorker_NoEventsWithoutSnapshot(t *testing.T) {
	t.Parallel()

	src := &stubSource{}
	publisher := &stubPublisher{}
	worker := NewWorker(src, newSensors(src), WithLogger(quietLogger()), WithPublisher(publisher))

	require.NoError(t, worker.UpdateOnce(context.Background()))
	require.Empty(t, publisher.published())
}

func TestWorker_PublishErrorDoesNotStopCycle(t *testing.T) {
	t.Parallel()

	src := &stubSource{snap: snapshot(1, domain.DeliveryStatusCurrent)}
	publisher := &stubPublisher{err: errors.New("broker down")}
	reg := prometheus.NewRegistry()
	m := metrics.NewSensorMetricsWithRegisterer(reg)
	worker := NewWorker(src, newSensors(src), WithLogger(quietLogger()), WithPublisher(publisher), WithMetrics(m))

	require.NoError(t, worker.UpdateOnce(context.Background()))
	require.Len(t, publisher.published(), 3)

	count, err := testutil.GatherAndCount(reg, "picnic_state_events_published_total", "picnic_cart_items", "picnic_sensor_updates_total")
	require.NoError(t, err)
	require.Equal(t, 1+1+3, count)
}

func TestWorker_UpdateOnceHonoursContext(t *testing.T) {
	t.Parallel()

	src := &stubSource{snap: snapshot(1, domain.DeliveryStatusCurrent)}
	worker := NewWorker(src, []sensor.Sensor{sensor.NewCart(cancelledSource{src}, quietLogger())}, WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, worker.UpdateOnce(ctx), context.Canceled)
}

type cancelledSource struct {
	*stubSource
}

func (c cancelledSource) Refresh(ctx context.Context) error {
	return ctx.Err()
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	src := &stubSource{snap: snapshot(1, domain.DeliveryStatusCurrent)}
	worker := NewWorker(src, newSensors(src), WithLogger(quietLogger()), WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.refreshes >= 6
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestSameState(t *testing.T) {
	t.Parallel()

	utc := time.Date(2021, 3, 3, 16, 0, 0, 0, time.UTC)
	local := utc.In(time.FixedZone("CET", 3600))

	require.True(t, sameState(utc, local))
	require.True(t, sameState(nil, nil))
	require.True(t, sameState(3, 3))
	require.False(t, sameState(3, "3"))
	require.False(t, sameState(nil, "order_placed"))
}
