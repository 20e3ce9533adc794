// Package sensor содержит три чтения Picnic: корзину, доставку и слоты доставки.
// Все они берут данные из общего снимка и никогда не изменяют его.
package sensor

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/picnic-sensors/internal/domain"
)

// Attribution добавляется в атрибуты каждого сенсора.
const Attribution = "Information provided by Picnic.app"

// Имена и иконки сенсоров.
const (
	CartName          = "picnic_cart"
	CartIcon          = "mdi:cart"
	DeliveryName      = "picnic_delivery"
	DeliveryIcon      = "mdi:truck-delivery"
	DeliverySlotsName = "picnic_delivery_time_slots"
	DeliverySlotsIcon = "mdi:calendar-clock"
)

// Ключи атрибутов.
const (
	AttrAttribution  = "attribution"
	AttrPrice        = "price"
	AttrDelivery     = "delivery"
	AttrDeliveries   = "deliveries"
	AttrTimeSlots    = "time_slots"
	AttrState        = "state"
	AttrDeliveryID   = "delivery_id"
	AttrCreationTime = "creation_time"
)

// Sensor — периодически обновляемое чтение.
type Sensor interface {
	Name() string
	Icon() string
	// State возвращает текущее значение или nil, если его нет.
	State() any
	// Attributes возвращает копию атрибутов; attribution присутствует всегда.
	Attributes() map[string]any
	// Update обновляет чтение. Ошибки Picnic не возвращаются: чтение сохраняет
	// последнее известное состояние. Возвращается только ошибка контекста.
	Update(ctx context.Context) error
}

// EntityID возвращает идентификатор сущности вида sensor.<name>.
func EntityID(s Sensor) string {
	return "sensor." + s.Name()
}

// Find ищет сенсор по имени или entity id.
func Find(sensors []Sensor, name string) (Sensor, error) {
	for _, s := range sensors {
		if s.Name() == name || EntityID(s) == name {
			return s, nil
		}
	}
	return nil, domain.ErrSensorNotFound
}

// reading хранит общее для всех сенсоров состояние.
type reading struct {
	name   string
	icon   string
	source domain.SnapshotSource
	logger *log.Entry

	mu       sync.RWMutex
	state    any
	attrs    map[string]any
	lastSeen *domain.Snapshot
}

func newReading(name, icon string, source domain.SnapshotSource, logger *log.Entry) reading {
	if logger == nil {
		logger = log.WithField("component", "sensor")
	}
	return reading{
		name:   name,
		icon:   icon,
		source: source,
		logger: logger.WithField("sensor", name),
		attrs:  map[string]any{AttrAttribution: Attribution},
	}
}

func (r *reading) Name() string { return r.name }

func (r *reading) Icon() string { return r.icon }

func (r *reading) State() any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *reading) Attributes() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]any, len(r.attrs))
	for k, v := range r.attrs {
		out[k] = v
	}
	return out
}

// next обновляет общий снимок и возвращает его, если он ещё не был обработан этим сенсором.
func (r *reading) next(ctx context.Context) (*domain.Snapshot, bool, error) {
	if err := r.source.Refresh(ctx); err != nil && ctx.Err() != nil {
		return nil, false, ctx.Err()
	}

	snap := r.source.Snapshot()
	if snap == nil {
		return nil, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if snap == r.lastSeen {
		return nil, false, nil
	}
	r.lastSeen = snap
	return snap, true, nil
}

func (r *reading) set(state any, attrs map[string]any) {
	attrs[AttrAttribution] = Attribution

	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
	r.attrs = attrs
}

// normalize разбирает временные поля слота; нераспознанные значения остаются текстом.
func (r *reading) normalize(slot domain.TimeSlot, fields log.Fields) domain.TimeSlot {
	out, err := slot.Normalize()
	if err != nil {
		r.logger.WithError(err).WithFields(fields).Warn("slot time left unparsed")
	}
	return out
}
