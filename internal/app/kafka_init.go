package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/picnic-sensors/internal/config"
	"github.com/vladislavdragonenkov/picnic-sensors/internal/domain"
	"github.com/vladislavdragonenkov/picnic-sensors/internal/health"
	"github.com/vladislavdragonenkov/picnic-sensors/internal/messaging/kafka"
)

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой.
func initKafkaProducer(cfg config.KafkaConfig, logger *log.Entry) (*kafka.Producer, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	producer, err := kafka.NewProducer(cfg.Brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithFields(log.Fields{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Info("kafka producer initialized")
	return producer, nil
}

// statePublisher возвращает паблишер поверх producer или nil-интерфейс, если Kafka выключена.
func statePublisher(producer *kafka.Producer, topic string) domain.StatePublisher {
	if producer == nil {
		return nil
	}
	return kafka.NewStatePublisher(producer, topic)
}

type sendErrorReporter interface {
	LastSendError() error
}

// registerKafkaChecker добавляет проверку kafka, если producer настроен.
func registerKafkaChecker(h *health.Handler, producer sendErrorReporter) {
	if h == nil || producer == nil {
		return
	}
	h.RegisterChecker("kafka", health.NewSimpleChecker("kafka", producer.LastSendError))
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
