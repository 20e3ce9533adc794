package sensor

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/picnic-sensors/internal/domain"
)

// DeliverySensor показывает фазу самой свежей доставки.
// Атрибут deliveries перечисляет все незавершённые доставки.
type DeliverySensor struct {
	reading
}

// NewDelivery создает сенсор доставки.
func NewDelivery(source domain.SnapshotSource, logger *log.Entry) *DeliverySensor {
	return &DeliverySensor{reading: newReading(DeliveryName, DeliveryIcon, source, logger)}
}

// Update пересчитывает состояние по первой (самой свежей) доставке снимка.
func (s *DeliverySensor) Update(ctx context.Context) error {
	snap, fresh, err := s.next(ctx)
	if err != nil || !fresh {
		return err
	}

	open := make([]map[string]any, 0, len(snap.Deliveries))
	for _, d := range snap.Deliveries {
		if !d.IsOpen() {
			continue
		}
		bag := s.bag(d)
		bag[AttrState] = phaseValue(d.Phase())
		open = append(open, bag)
	}

	primary, ok := snap.PrimaryDelivery()
	if !ok {
		s.set(nil, map[string]any{
			AttrDelivery:   map[string]any{},
			AttrDeliveries: open,
		})
		return nil
	}

	s.set(phaseValue(primary.Phase()), map[string]any{
		AttrDelivery:   s.bag(primary),
		AttrDeliveries: open,
	})
	return nil
}

// bag собирает атрибуты доставки: слот (с учётом ETA), идентификатор и время создания.
func (s *DeliverySensor) bag(d domain.Delivery) map[string]any {
	slot := s.normalize(d.EffectiveSlot(), log.Fields{"delivery_id": d.ID})

	bag := slot.Attributes()
	bag[AttrCreationTime] = d.CreationTime.Value()
	bag[AttrDeliveryID] = d.ID
	if d.Price.Valid {
		bag[AttrPrice] = d.Price.Decimal
	}
	return bag
}

func phaseValue(phase domain.DeliveryPhase) any {
	if phase == domain.PhaseNone {
		return nil
	}
	return string(phase)
}
