package picnic

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/picnic-sensors/internal/domain"
)

type loginRequest struct {
	Key      string `json:"key"`
	Secret   string `json:"secret"`
	ClientID int    `json:"client_id"`
}

type cartPayload struct {
	TotalCount    int               `json:"total_count"`
	TotalPrice    decimal.Decimal   `json:"total_price"`
	DeliverySlots []json.RawMessage `json:"delivery_slots"`
}

func (p cartPayload) toDomain() (domain.Cart, error) {
	slots := make([]domain.TimeSlot, 0, len(p.DeliverySlots))
	for i, raw := range p.DeliverySlots {
		slot, err := decodeSlot(raw)
		if err != nil {
			return domain.Cart{}, fmt.Errorf("delivery slot %d: %w", i, err)
		}
		slots = append(slots, slot)
	}

	return domain.Cart{
		TotalCount:    p.TotalCount,
		TotalPrice:    p.TotalPrice,
		DeliverySlots: slots,
	}, nil
}

type windowPayload struct {
	Start domain.SlotTime `json:"start"`
	End   domain.SlotTime `json:"end"`
}

type deliveryPayload struct {
	DeliveryID   string              `json:"delivery_id"`
	Status       string              `json:"status"`
	CreationTime domain.SlotTime     `json:"creation_time"`
	Slot         json.RawMessage     `json:"slot"`
	ETA2         *windowPayload      `json:"eta2"`
	Price        decimal.NullDecimal `json:"price"`
}

func (p deliveryPayload) toDomain() (domain.Delivery, error) {
	slot, err := decodeSlot(p.Slot)
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("delivery %s slot: %w", p.DeliveryID, err)
	}

	delivery := domain.Delivery{
		ID:           p.DeliveryID,
		Status:       domain.DeliveryStatus(p.Status),
		CreationTime: p.CreationTime,
		Slot:         slot,
		Price:        p.Price,
	}
	if p.ETA2 != nil && (!p.ETA2.Start.IsZero() || !p.ETA2.End.IsZero()) {
		delivery.ETA = &domain.Window{Start: p.ETA2.Start, End: p.ETA2.End}
	}
	return delivery, nil
}

// decodeSlot разбирает слот в свободной форме: три временных поля выделяются,
// остальные сохраняются как есть.
func decodeSlot(raw json.RawMessage) (domain.TimeSlot, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return domain.TimeSlot{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return domain.TimeSlot{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	slot := domain.TimeSlot{Extra: make(map[string]any, len(fields))}
	for key, value := range fields {
		switch key {
		case domain.SlotWindowStart:
			slot.WindowStart = slotTimeValue(value)
		case domain.SlotWindowEnd:
			slot.WindowEnd = slotTimeValue(value)
		case domain.SlotCutOffTime:
			slot.CutOffTime = slotTimeValue(value)
		default:
			slot.Extra[key] = value
		}
	}
	return slot, nil
}

func slotTimeValue(value any) domain.SlotTime {
	switch v := value.(type) {
	case string:
		return domain.TextSlotTime(v)
	case nil:
		return domain.SlotTime{}
	default:
		return domain.TextSlotTime(fmt.Sprint(v))
	}
}
