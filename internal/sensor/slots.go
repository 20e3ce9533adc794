package sensor

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/picnic-sensors/internal/domain"
)

// DeliverySlotsSensor показывает начало ближайшего слота и список всех слотов.
type DeliverySlotsSensor struct {
	reading
}

// NewDeliverySlots создает сенсор слотов доставки.
func NewDeliverySlots(source domain.SnapshotSource, logger *log.Entry) *DeliverySlotsSensor {
	return &DeliverySlotsSensor{reading: newReading(DeliverySlotsName, DeliverySlotsIcon, source, logger)}
}

// Update разбирает слоты снимка, сохраняя порядок Picnic.
func (s *DeliverySlotsSensor) Update(ctx context.Context) error {
	snap, fresh, err := s.next(ctx)
	if err != nil || !fresh {
		return err
	}

	slots := make([]map[string]any, 0, len(snap.TimeSlots))
	var state any
	for i, slot := range snap.TimeSlots {
		parsed := s.normalize(slot, log.Fields{"slot": i})
		if i == 0 {
			state = parsed.WindowStart.Value()
		}
		slots = append(slots, parsed.Attributes())
	}

	s.set(state, map[string]any{AttrTimeSlots: slots})
	return nil
}
