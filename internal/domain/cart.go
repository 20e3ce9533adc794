package domain

import "github.com/shopspring/decimal"

// Cart — текущее содержимое корзины.
type Cart struct {
	TotalCount    int
	TotalPrice    decimal.Decimal
	DeliverySlots []TimeSlot
}
