package domain

import "time"

// Snapshot — результат одного успешного обращения к Picnic.
// После публикации не изменяется, новый снимок заменяет предыдущий целиком.
type Snapshot struct {
	Cart       *Cart
	Deliveries []Delivery
	TimeSlots  []TimeSlot
	FetchedAt  time.Time
}

// PrimaryDelivery возвращает самую свежую доставку.
func (s *Snapshot) PrimaryDelivery() (Delivery, bool) {
	if s == nil || len(s.Deliveries) == 0 {
		return Delivery{}, false
	}
	return s.Deliveries[0], true
}
