package domain

import (
	"context"
	"time"
)

// PicnicClient описывает обращения к API Picnic. Реализация отвечает за аутентификацию.
type PicnicClient interface {
	// GetCart возвращает корзину вместе с доступными слотами доставки.
	GetCart(ctx context.Context) (Cart, error)
	// GetDeliveries возвращает все доставки, самая свежая первой.
	GetDeliveries(ctx context.Context) ([]Delivery, error)
	// GetCurrentDeliveries возвращает только незавершённые доставки.
	GetCurrentDeliveries(ctx context.Context) ([]Delivery, error)
}

// SnapshotSource — общий источник данных для сенсоров.
type SnapshotSource interface {
	// Refresh обновляет снимок, если истёк интервал троттлинга.
	Refresh(ctx context.Context) error
	// Snapshot возвращает последний успешный снимок или nil.
	Snapshot() *Snapshot
}

// StateChange описывает смену состояния сенсора.
type StateChange struct {
	EntityID   string
	OldState   any
	NewState   any
	Attributes map[string]any
	ChangedAt  time.Time
}

// StatePublisher публикует смены состояний сенсоров наружу.
type StatePublisher interface {
	PublishState(ctx context.Context, change StateChange) error
}
