package poller

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/picnic-sensors/internal/domain"
	"github.com/vladislavdragonenkov/picnic-sensors/internal/metrics"
	"github.com/vladislavdragonenkov/picnic-sensors/internal/sensor"
)

const defaultScanInterval = 30 * time.Second

// WorkerOptions задаёт параметры планировщика.
type WorkerOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	Publisher domain.StatePublisher
	Metrics   *metrics.SensorMetrics
	Clock     func() time.Time
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithInterval задаёт частоту обновления сенсоров.
func WithInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.Interval = interval
	}
}

// WithPublisher задаёт получателя событий смены состояния.
func WithPublisher(publisher domain.StatePublisher) Option {
	return func(opts *WorkerOptions) {
		opts.Publisher = publisher
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.SensorMetrics) Option {
	return func(opts *WorkerOptions) {
		opts.Metrics = m
	}
}

// WithClock подменяет источник времени для событий.
func WithClock(clock func() time.Time) Option {
	return func(opts *WorkerOptions) {
		opts.Clock = clock
	}
}

// Worker периодически обновляет все сенсоры и публикует смены их состояний.
type Worker struct {
	source    domain.SnapshotSource
	sensors   []sensor.Sensor
	publisher domain.StatePublisher
	metrics   *metrics.SensorMetrics
	logger    *log.Entry
	interval  time.Duration
	clock     func() time.Time

	mu     sync.Mutex
	states map[string]any
}

// NewWorker создаёт планировщик поверх общего источника и набора сенсоров.
func NewWorker(source domain.SnapshotSource, sensors []sensor.Sensor, options ...Option) *Worker {
	opts := WorkerOptions{Interval: defaultScanInterval}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "poller")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultScanInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Worker{
		source:    source,
		sensors:   sensors,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		logger:    logger,
		interval:  opts.Interval,
		clock:     opts.Clock,
		states:    make(map[string]any, len(sensors)),
	}
}

// Run обновляет сенсоры сразу и затем по таймеру до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if len(w.sensors) == 0 {
		w.logger.Warn("poller is disabled: no sensors")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	if err := w.UpdateOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		w.logger.WithError(err).Warn("sensor update cycle interrupted")
	}
}

// UpdateOnce обновляет все сенсоры одновременно; Picnic опрашивается не более одного раза.
func (w *Worker) UpdateOnce(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range w.sensors {
		g.Go(func() error {
			if err := s.Update(gctx); err != nil {
				return err
			}
			w.metrics.RecordSensorUpdate(s.Name())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	w.recordValues(w.source.Snapshot())
	for _, s := range w.sensors {
		w.detectChange(ctx, s)
	}
	return nil
}

func (w *Worker) detectChange(ctx context.Context, s sensor.Sensor) {
	name := s.Name()
	current := s.State()
	previous, known := w.states[name]
	w.states[name] = current

	if (known && sameState(previous, current)) || (!known && current == nil) {
		return
	}

	w.metrics.RecordStateChange(name)
	w.logger.WithFields(log.Fields{
		"sensor": name,
		"old":    previous,
		"new":    current,
	}).Info("sensor state changed")

	if w.publisher == nil {
		return
	}

	change := domain.StateChange{
		EntityID:   sensor.EntityID(s),
		OldState:   previous,
		NewState:   current,
		Attributes: s.Attributes(),
		ChangedAt:  w.clock().UTC(),
	}
	err := w.publisher.PublishState(ctx, change)
	w.metrics.RecordEventPublished(err == nil)
	if err != nil {
		w.logger.WithError(err).WithField("sensor", name).Warn("failed to publish state change")
	}
}

func (w *Worker) recordValues(snap *domain.Snapshot) {
	if snap == nil {
		return
	}

	if snap.Cart != nil {
		price, _ := snap.Cart.TotalPrice.Float64()
		w.metrics.SetCart(snap.Cart.TotalCount, price)
	}

	open := 0
	for _, d := range snap.Deliveries {
		if d.IsOpen() {
			open++
		}
	}
	phase := domain.PhaseNone
	if primary, ok := snap.PrimaryDelivery(); ok {
		phase = primary.Phase()
	}
	w.metrics.SetDeliveries(string(phase), open)
	w.metrics.SetSlots(len(snap.TimeSlots))
}

// sameState сравнивает состояния; время сравнивается по моменту, а не по зоне.
func sameState(a, b any) bool {
	at, aok := a.(time.Time)
	bt, bok := b.(time.Time)
	if aok && bok {
		return at.Equal(bt)
	}
	return reflect.DeepEqual(a, b)
}
