package sensor

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/picnic-sensors/internal/domain"
)

// CartSensor показывает число товаров в корзине и её стоимость.
type CartSensor struct {
	reading
}

// NewCart создает сенсор корзины.
func NewCart(source domain.SnapshotSource, logger *log.Entry) *CartSensor {
	return &CartSensor{reading: newReading(CartName, CartIcon, source, logger)}
}

// Update берёт корзину из общего снимка.
func (s *CartSensor) Update(ctx context.Context) error {
	snap, fresh, err := s.next(ctx)
	if err != nil || !fresh || snap.Cart == nil {
		return err
	}

	s.set(snap.Cart.TotalCount, map[string]any{
		AttrPrice: snap.Cart.TotalPrice,
	})
	return nil
}
