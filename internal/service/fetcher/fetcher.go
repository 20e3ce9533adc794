package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/picnic-sensors/internal/domain"
	"github.com/vladislavdragonenkov/picnic-sensors/internal/metrics"
)

const (
	// DefaultMinInterval — минимальный интервал между успешными обращениями к Picnic.
	DefaultMinInterval = 15 * time.Minute
	defaultTimeout     = 30 * time.Second
	flightKey          = "picnic"
	forcedFlightKey    = "picnic:force"
)

// DeliveryScope определяет, какие доставки запрашиваются у Picnic.
type DeliveryScope string

const (
	ScopeAll     DeliveryScope = "all"
	ScopeCurrent DeliveryScope = "current"
)

var _ domain.SnapshotSource = (*Fetcher)(nil)

// Options задает параметры Fetcher.
type Options struct {
	Logger      *log.Entry
	MinInterval time.Duration
	Timeout     time.Duration
	Clock       func() time.Time
	Metrics     *metrics.SensorMetrics
	Scope       DeliveryScope
}

// Option настраивает Fetcher.
type Option func(*Options)

// WithLogger задает logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMinInterval задает интервал троттлинга.
func WithMinInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.MinInterval = interval
	}
}

// WithTimeout ограничивает длительность одного обращения к Picnic.
func WithTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.Timeout = timeout
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// WithMetrics задает метрики.
func WithMetrics(m *metrics.SensorMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithDeliveryScope выбирает полный список доставок или только текущие.
func WithDeliveryScope(scope DeliveryScope) Option {
	return func(opts *Options) {
		opts.Scope = scope
	}
}

// Status описывает состояние опроса.
type Status struct {
	LastAttempt         time.Time
	LastSuccess         time.Time
	LastError           error
	ConsecutiveFailures int
}

// HasSnapshot сообщает, что хотя бы один опрос завершился успешно.
func (s Status) HasSnapshot() bool {
	return !s.LastSuccess.IsZero()
}

// Fetcher — общий для всех сенсоров источник данных Picnic. Не чаще одного
// успешного обращения за интервал; одновременные вызовы объединяются в один.
type Fetcher struct {
	client      domain.PicnicClient
	logger      *log.Entry
	minInterval time.Duration
	timeout     time.Duration
	clock       func() time.Time
	metrics     *metrics.SensorMetrics
	scope       DeliveryScope

	group    singleflight.Group
	snapshot atomic.Pointer[domain.Snapshot]

	mu     sync.Mutex
	status Status
}

// New создает Fetcher поверх клиента Picnic.
func New(client domain.PicnicClient, options ...Option) *Fetcher {
	opts := Options{
		MinInterval: DefaultMinInterval,
		Timeout:     defaultTimeout,
		Scope:       ScopeAll,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "fetcher")
	}
	if opts.MinInterval < 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Scope == "" {
		opts.Scope = ScopeAll
	}

	return &Fetcher{
		client:      client,
		logger:      logger,
		minInterval: opts.MinInterval,
		timeout:     opts.Timeout,
		clock:       opts.Clock,
		metrics:     opts.Metrics,
		scope:       opts.Scope,
	}
}

// Refresh обновляет снимок, если с последнего успешного опроса прошло не меньше интервала.
// Ошибка возвращается для информации: предыдущий снимок остаётся доступным.
func (f *Fetcher) Refresh(ctx context.Context) error {
	return f.refresh(ctx, false)
}

// ForceRefresh обновляет снимок без учёта интервала.
func (f *Fetcher) ForceRefresh(ctx context.Context) error {
	return f.refresh(ctx, true)
}

// Snapshot возвращает последний успешный снимок или nil. Не блокируется на текущем опросе.
func (f *Fetcher) Snapshot() *domain.Snapshot {
	return f.snapshot.Load()
}

// Status возвращает копию состояния опроса.
func (f *Fetcher) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *Fetcher) refresh(ctx context.Context, force bool) error {
	if !force && !f.due() {
		f.metrics.RecordThrottled()
		return nil
	}

	// Принудительный вызов не должен присоединяться к обычному опросу,
	// который внутри может решить, что обновляться рано.
	key := flightKey
	if force {
		key = forcedFlightKey
	}

	ch := f.group.DoChan(key, func() (any, error) {
		// Опрос мог завершиться между проверкой и входом в группу.
		if !force && !f.due() {
			f.metrics.RecordThrottled()
			return nil, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		defer cancel()
		return nil, f.fetch(fetchCtx)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (f *Fetcher) due() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status.LastSuccess.IsZero() {
		return true
	}
	return f.clock().Sub(f.status.LastSuccess) >= f.minInterval
}

func (f *Fetcher) fetch(ctx context.Context) error {
	started := f.clock()

	snap, err := f.load(ctx, started)
	duration := f.clock().Sub(started)
	f.metrics.RecordFetch(domain.Classify(err), duration, started)

	if err != nil {
		f.recordFailure(started, err)
		return err
	}

	f.snapshot.Store(snap)
	f.recordSuccess(started, snap, duration)
	return nil
}

func (f *Fetcher) load(ctx context.Context, at time.Time) (*domain.Snapshot, error) {
	cart, err := f.client.GetCart(ctx)
	if err != nil {
		return nil, err
	}

	var deliveries []domain.Delivery
	if f.scope == ScopeCurrent {
		deliveries, err = f.client.GetCurrentDeliveries(ctx)
	} else {
		deliveries, err = f.client.GetDeliveries(ctx)
	}
	if err != nil {
		return nil, err
	}

	return &domain.Snapshot{
		Cart:       &cart,
		Deliveries: deliveries,
		TimeSlots:  cart.DeliverySlots,
		FetchedAt:  at,
	}, nil
}

func (f *Fetcher) recordFailure(at time.Time, err error) {
	f.mu.Lock()
	f.status.LastAttempt = at
	f.status.LastError = err
	f.status.ConsecutiveFailures++
	failures := f.status.ConsecutiveFailures
	lastSuccess := f.status.LastSuccess
	f.mu.Unlock()

	entry := f.logger.WithError(err).WithFields(log.Fields{
		"kind":     domain.Classify(err),
		"failures": failures,
	})
	if !lastSuccess.IsZero() {
		entry = entry.WithField("stale_since", lastSuccess)
	}

	if failures == 1 {
		if errors.Is(err, domain.ErrUnauthorized) {
			entry.Error("picnic rejected credentials")
			return
		}
		entry.Error("picnic fetch failed, keeping previous snapshot")
		return
	}
	entry.Debug("picnic fetch still failing")
}

func (f *Fetcher) recordSuccess(at time.Time, snap *domain.Snapshot, duration time.Duration) {
	f.mu.Lock()
	failures := f.status.ConsecutiveFailures
	f.status.LastAttempt = at
	f.status.LastSuccess = at
	f.status.LastError = nil
	f.status.ConsecutiveFailures = 0
	f.mu.Unlock()

	fields := log.Fields{
		"deliveries": len(snap.Deliveries),
		"slots":      len(snap.TimeSlots),
		"duration":   duration,
	}
	if failures > 0 {
		f.logger.WithFields(fields).WithField("failed_attempts", failures).Info("picnic data available again")
		return
	}
	f.logger.WithFields(fields).Debug("picnic snapshot refreshed")
}

// ParseDeliveryScope разбирает значение из конфигурации.
func ParseDeliveryScope(value string) (DeliveryScope, error) {
	switch DeliveryScope(value) {
	case ScopeAll, "":
		return ScopeAll, nil
	case ScopeCurrent:
		return ScopeCurrent, nil
	default:
		return "", fmt.Errorf("%w: unknown delivery scope %q", domain.ErrConfigInvalid, value)
	}
}
