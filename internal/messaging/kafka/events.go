package kafka

import (
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/picnic-sensors/internal/domain"
)

// EventType определяет тип события.
type EventType string

// EventTypeSensorStateChanged — смена состояния сенсора.
const EventTypeSensorStateChanged EventType = "sensor.state_changed"

// TopicSensorEvents — topic по умолчанию.
const TopicSensorEvents = "picnic.sensor.events"

// SensorEvent — сообщение о смене состояния сенсора.
type SensorEvent struct {
	EventID    string         `json:"event_id"`
	EventType  EventType      `json:"event_type"`
	EntityID   string         `json:"entity_id"`
	OldState   any            `json:"old_state"`
	NewState   any            `json:"new_state"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// NewSensorEvent строит событие из смены состояния.
func NewSensorEvent(change domain.StateChange) *SensorEvent {
	ts := change.ChangedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &SensorEvent{
		EventID:    uuid.NewString(),
		EventType:  EventTypeSensorStateChanged,
		EntityID:   change.EntityID,
		OldState:   change.OldState,
		NewState:   change.NewState,
		Attributes: change.Attributes,
		Timestamp:  ts,
	}
}
