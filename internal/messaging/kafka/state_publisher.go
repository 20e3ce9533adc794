package kafka

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/picnic-sensors/internal/domain"
)

var _ domain.StatePublisher = (*StatePublisher)(nil)

// StatePublisher отправляет смены состояний сенсоров в Kafka topic.
type StatePublisher struct {
	producer *Producer
	topic    string
}

// NewStatePublisher создаёт паблишер; пустой topic заменяется TopicSensorEvents.
func NewStatePublisher(producer *Producer, topic string) *StatePublisher {
	if topic == "" {
		topic = TopicSensorEvents
	}
	return &StatePublisher{
		producer: producer,
		topic:    topic,
	}
}

// PublishState публикует событие с ключом entity id, чтобы события одного сенсора шли по порядку.
func (p *StatePublisher) PublishState(ctx context.Context, change domain.StateChange) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka state publisher is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.producer.PublishEvent(p.topic, change.EntityID, NewSensorEvent(change))
}
