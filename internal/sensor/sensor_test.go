package sensor

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/picnic-sensors/internal/domain"
)

var (
	_ Sensor                = (*CartSensor)(nil)
	_ Sensor                = (*DeliverySensor)(nil)
	_ Sensor                = (*DeliverySlotsSensor)(nil)
	_ domain.SnapshotSource = (*stubSource)(nil)
)

type stubSource struct {
	mu        sync.Mutex
	snap      *domain.Snapshot
	err       error
	refreshes int
}

func (s *stubSource) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.err
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

func quietLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "test")
}

func slot(start, end, cutoff string) domain.TimeSlot {
	return domain.TimeSlot{
		WindowStart: domain.TextSlotTime(start),
		WindowEnd:   domain.TextSlotTime(end),
		CutOffTime:  domain.TextSlotTime(cutoff),
	}
}

func mustTime(t *testing.T, raw string) time.Time {
	t.Helper()
	at, err := time.Parse(time.RFC3339, raw)
	require.NoError(t, err)
	return at
}

func TestFind(t *testing.T) {
	src := &stubSource{}
	sensors := []Sensor{NewCart(src, nil), NewDelivery(src, nil), NewDeliverySlots(src, nil)}

	s, err := Find(sensors, DeliveryName)
	require.NoError(t, err)
	require.Equal(t, DeliveryIcon, s.Icon())

	s, err = Find(sensors, "sensor.picnic_delivery_time_slots")
	require.NoError(t, err)
	require.Equal(t, DeliverySlotsName, s.Name())
	require.Equal(t, "sensor.picnic_delivery_time_slots", EntityID(s))

	_, err = Find(sensors, "picnic_basket")
	require.ErrorIs(t, err, domain.ErrSensorNotFound)
}

func TestCartSensor(t *testing.T) {
	t.Parallel()

	src := &stubSource{}
	s := NewCart(src, quietLogger())

	require.NoError(t, s.Update(context.Background()))
	require.Nil(t, s.State())
	require.Equal(t, map[string]any{AttrAttribution: Attribution}, s.Attributes())

	src.publish(&domain.Snapshot{Cart: &domain.Cart{TotalCount: 5, TotalPrice: decimal.RequireFromString("12.50")}})
	require.NoError(t, s.Update(context.Background()))
	require.Equal(t, 5, s.State())

	attrs := s.Attributes()
	require.Equal(t, Attribution, attrs[AttrAttribution])
	price, ok := attrs[AttrPrice].(decimal.Decimal)
	require.True(t, ok)
	require.True(t, decimal.RequireFromString("12.5").Equal(price))
	require.Equal(t, CartIcon, s.Icon())
}

func TestCartSensor_UpstreamFailureKeepsLastState(t *testing.T) {
	t.Parallel()

	src := &stubSource{snap: &domain.Snapshot{Cart: &domain.Cart{TotalCount: 2}}}
	s := NewCart(src, quietLogger())
	require.NoError(t, s.Update(context.Background()))

	src.err = domain.ErrUpstreamUnavailable
	require.NoError(t, s.Update(context.Background()))
	require.Equal(t, 2, s.State())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.Update(ctx), context.Canceled)
	require.Equal(t, 2, s.State())
}

func TestCartSensor_AttributesAreCopies(t *testing.T) {
	t.Parallel()

	src := &stubSource{snap: &domain.Snapshot{Cart: &domain.Cart{TotalCount: 1}}}
	s := NewCart(src, quietLogger())
	require.NoError(t, s.Update(context.Background()))

	attrs := s.Attributes()
	attrs[AttrAttribution] = "mine"
	delete(attrs, AttrPrice)
	require.Equal(t, Attribution, s.Attributes()[AttrAttribution])
	require.Contains(t, s.Attributes(), AttrPrice)
}

func TestDeliverySensor_StatePriority(t *testing.T) {
	t.Parallel()

	eta := &domain.Window{
		Start: domain.TextSlotTime("2021-03-03T17:10:00+01:00"),
		End:   domain.TextSlotTime("2021-03-03T17:30:00+01:00"),
	}

	tests := []struct {
		name     string
		delivery domain.Delivery
		want     any
	}{
		{name: "completed with eta", delivery: domain.Delivery{Status: domain.DeliveryStatusCompleted, ETA: eta}, want: "order_delivered"},
		{name: "current with eta", delivery: domain.Delivery{Status: domain.DeliveryStatusCurrent, ETA: eta}, want: "order_announced"},
		{name: "current without eta", delivery: domain.Delivery{Status: domain.DeliveryStatusCurrent}, want: "order_placed"},
		{name: "cancelled", delivery: domain.Delivery{Status: domain.DeliveryStatusCancelled}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &stubSource{snap: &domain.Snapshot{Deliveries: []domain.Delivery{tt.delivery}}}
			s := NewDelivery(src, quietLogger())
			require.NoError(t, s.Update(context.Background()))
			require.Equal(t, tt.want, s.State())
		})
	}
}

func TestDeliverySensor_Bag(t *testing.T) {
	t.Parallel()

	primary := domain.Delivery{
		ID:           "d2",
		Status:       domain.DeliveryStatusCurrent,
		CreationTime: domain.TextSlotTime("2021-03-01T10:00:00+01:00"),
		Slot:         slot("2021-03-03T17:00:00+01:00", "2021-03-03T18:00:00+01:00", "2021-03-02T22:00:00+01:00"),
		ETA: &domain.Window{
			Start: domain.TextSlotTime("2021-03-03T17:10:00+01:00"),
			End:   domain.TextSlotTime("2021-03-03T17:30:00+01:00"),
		},
	}
	older := domain.Delivery{
		ID:     "d1",
		Status: domain.DeliveryStatusCurrent,
		Slot:   slot("2021-03-05T17:00:00+01:00", "2021-03-05T18:00:00+01:00", "2021-03-04T22:00:00+01:00"),
	}
	done := domain.Delivery{ID: "d0", Status: domain.DeliveryStatusCompleted}

	src := &stubSource{snap: &domain.Snapshot{Deliveries: []domain.Delivery{primary, older, done}}}
	s := NewDelivery(src, quietLogger())
	require.NoError(t, s.Update(context.Background()))

	require.Equal(t, "order_announced", s.State())

	attrs := s.Attributes()
	bag, ok := attrs[AttrDelivery].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "d2", bag[AttrDeliveryID])
	require.Equal(t, "2021-03-01T10:00:00+01:00", bag[AttrCreationTime])
	require.Equal(t, mustTime(t, "2021-03-03T17:10:00+01:00"), bag[domain.SlotWindowStart])
	require.Equal(t, mustTime(t, "2021-03-03T17:30:00+01:00"), bag[domain.SlotWindowEnd])
	require.Equal(t, mustTime(t, "2021-03-02T22:00:00+01:00"), bag[domain.SlotCutOffTime])

	open, ok := attrs[AttrDeliveries].([]map[string]any)
	require.True(t, ok)
	require.Len(t, open, 2)
	require.Equal(t, "d2", open[0][AttrDeliveryID])
	require.Equal(t, "order_announced", open[0][AttrState])
	require.Equal(t, "d1", open[1][AttrDeliveryID])
	require.Equal(t, "order_placed", open[1][AttrState])

	// Общий снимок не изменился.
	require.False(t, src.snap.Deliveries[0].Slot.WindowStart.IsParsed())
	require.False(t, src.snap.Deliveries[0].ETA.Start.IsParsed())
}

func TestDeliverySensor_Empty(t *testing.T) {
	t.Parallel()

	src := &stubSource{snap: &domain.Snapshot{Deliveries: []domain.Delivery{}}}
	s := NewDelivery(src, quietLogger())
	require.NoError(t, s.Update(context.Background()))

	require.Nil(t, s.State())
	attrs := s.Attributes()
	require.Equal(t, map[string]any{}, attrs[AttrDelivery])
	require.Equal(t, []map[string]any{}, attrs[AttrDeliveries])
	require.Equal(t, Attribution, attrs[AttrAttribution])
}

func TestDeliverySensor_UnparseableSlotStaysText(t *testing.T) {
	t.Parallel()

	d := domain.Delivery{ID: "d1", Status: domain.DeliveryStatusCurrent, Slot: slot("soon", "2021-03-03T18:00:00+01:00", "")}
	src := &stubSource{snap: &domain.Snapshot{Deliveries: []domain.Delivery{d}}}
	s := NewDelivery(src, quietLogger())
	require.NoError(t, s.Update(context.Background()))

	bag := s.Attributes()[AttrDelivery].(map[string]any)
	require.Equal(t, "soon", bag[domain.SlotWindowStart])
	require.IsType(t, time.Time{}, bag[domain.SlotWindowEnd])
	require.Nil(t, bag[domain.SlotCutOffTime])
}

func TestDeliverySlotsSensor(t *testing.T) {
	t.Parallel()

	slots := []domain.TimeSlot{
		slot("2021-03-03T17:00:00+01:00", "2021-03-03T18:00:00+01:00", "2021-03-02T22:00:00+01:00"),
		slot("2021-03-04T08:00:00+01:00", "2021-03-04T09:00:00+01:00", "2021-03-03T22:00:00+01:00"),
		slot("2021-03-02T19:00:00+01:00", "2021-03-02T20:00:00+01:00", "2021-03-01T22:00:00+01:00"),
	}
	slots[1].Extra = map[string]any{"slot_id": "s2"}

	src := &stubSource{snap: &domain.Snapshot{TimeSlots: slots}}
	s := NewDeliverySlots(src, quietLogger())
	require.NoError(t, s.Update(context.Background()))

	require.Equal(t, mustTime(t, "2021-03-03T17:00:00+01:00"), s.State())

	list, ok := s.Attributes()[AttrTimeSlots].([]map[string]any)
	require.True(t, ok)
	require.Len(t, list, 3)
	require.Equal(t, mustTime(t, "2021-03-04T08:00:00+01:00"), list[1][domain.SlotWindowStart])
	require.Equal(t, "s2", list[1]["slot_id"])
	require.Equal(t, mustTime(t, "2021-03-02T19:00:00+01:00"), list[2][domain.SlotWindowStart])
	for _, bag := range list {
		require.IsType(t, time.Time{}, bag[domain.SlotCutOffTime])
	}
	require.False(t, src.snap.TimeSlots[0].WindowStart.IsParsed())
}

func TestDeliverySlotsSensor_NoSlots(t *testing.T) {
	t.Parallel()

	src := &stubSource{snap: &domain.Snapshot{}}
	s := NewDeliverySlots(src, quietLogger())
	require.NoError(t, s.Update(context.Background()))

	require.Nil(t, s.State())
	require.Empty(t, s.Attributes()[AttrTimeSlots])
}

func TestSensors_ShareOneSnapshot(t *testing.T) {
	t.Parallel()

	src := &stubSource{snap: &domain.Snapshot{
		Cart:       &domain.Cart{TotalCount: 4},
		Deliveries: []domain.Delivery{{ID: "d1", Status: domain.DeliveryStatusCurrent}},
		TimeSlots:  []domain.TimeSlot{slot("2021-03-03T17:00:00+01:00", "", "")},
	}}
	sensors := []Sensor{NewCart(src, quietLogger()), NewDelivery(src, quietLogger()), NewDeliverySlots(src, quietLogger())}

	var wg sync.WaitGroup
	for _, s := range sensors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Update(context.Background()))
		}()
	}
	wg.Wait()

	require.Equal(t, 4, sensors[0].State())
	require.Equal(t, "order_placed", sensors[1].State())
	require.NotNil(t, sensors[2].State())
	require.Equal(t, 3, src.refreshes)
}

func TestReading_SkipsAlreadySeenSnapshot(t *testing.T) {
	t.Parallel()

	src := &stubSource{snap: &domain.Snapshot{Cart: &domain.Cart{TotalCount: 1}}}
	s := NewCart(src, quietLogger())
	require.NoError(t, s.Update(context.Background()))

	// Чужая ошибка обновления не сбрасывает состояние, повторный снимок не пересчитывается.
	src.err = errors.New("boom")
	require.NoError(t, s.Update(context.Background()))
	require.Equal(t, 1, s.State())

	src.publish(&domain.Snapshot{Cart: &domain.Cart{TotalCount: 7}})
	require.NoError(t, s.Update(context.Background()))
	require.Equal(t, 7, s.State())
}
