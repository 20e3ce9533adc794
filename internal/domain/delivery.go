package domain

import "github.com/shopspring/decimal"

// DeliveryStatus — статус доставки в терминах Picnic.
type DeliveryStatus string

const (
	DeliveryStatusCurrent   DeliveryStatus = "CURRENT"
	DeliveryStatusCompleted DeliveryStatus = "COMPLETED"
	DeliveryStatusCancelled DeliveryStatus = "CANCELLED"
)

// DeliveryPhase — производное состояние доставки, которое публикует сенсор.
type DeliveryPhase string

const (
	PhaseNone      DeliveryPhase = ""
	PhasePlaced    DeliveryPhase = "order_placed"
	PhaseAnnounced DeliveryPhase = "order_announced"
	PhaseDelivered DeliveryPhase = "order_delivered"
)

// Window — уточнённое окно прибытия (ETA).
type Window struct {
	Start SlotTime
	End   SlotTime
}

// Delivery — запись о доставке. ETA == nil, если курьер ещё не объявил время.
type Delivery struct {
	ID           string
	Status       DeliveryStatus
	CreationTime SlotTime
	Slot         TimeSlot
	ETA          *Window
	Price        decimal.NullDecimal
}

// Phase выводит состояние доставки. Завершённая доставка важнее объявленного ETA.
func (d Delivery) Phase() DeliveryPhase {
	switch {
	case d.Status == DeliveryStatusCompleted:
		return PhaseDelivered
	case d.ETA != nil:
		return PhaseAnnounced
	case d.Status == DeliveryStatusCurrent:
		return PhasePlaced
	default:
		return PhaseNone
	}
}

// IsOpen сообщает, что доставка ещё не завершена и не отменена.
func (d Delivery) IsOpen() bool {
	return d.Status == DeliveryStatusCurrent
}

// EffectiveSlot возвращает слот, в котором ETA (если есть) заменяет границы окна.
func (d Delivery) EffectiveSlot() TimeSlot {
	slot := d.Slot
	slot.Extra = cloneMap(d.Slot.Extra)
	if d.ETA != nil {
		slot.WindowStart = d.ETA.Start
		slot.WindowEnd = d.ETA.End
	}
	return slot
}
