package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/reservation"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/saga"
)

// eventTopics — входящие topic-и saga-координатора.
var eventTopics = []string{
	kafka.TopicOrderEvents,
	kafka.TopicStockEvents,
	kafka.TopicCouponEvents,
	kafka.TopicPointEvents,
	kafka.TopicPaymentEvents,
	kafka.TopicDeliveryEvents,
}

// initKafkaProducer инициализирует Kafka producer, если brokers заданы.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// initConsumers создаёт consumer-ы саги и резервирований. Оба отправляют
// необработанные сообщения в DLQ после исчерпания retry.
func initConsumers(
	cfg Config,
	sagaHandler *saga.Handler,
	reservationHandler *reservation.Handler,
	dlqProducer *kafka.Producer,
) (*kafka.Consumer, *kafka.Consumer, error) {
	sagaConsumer, err := kafka.NewConsumerWithDLQ(
		cfg.KafkaBrokers,
		cfg.KafkaGroupID+"-saga",
		eventTopics,
		kafka.EnvelopeAdapter(sagaHandler.HandleEnvelope),
		dlqProducer,
		cfg.ConsumerMaxRetries,
	)
	if err != nil {
		return nil, nil, err
	}

	reservationConsumer, err := kafka.NewConsumerWithDLQ(
		cfg.KafkaBrokers,
		cfg.KafkaGroupID+"-reservation",
		[]string{kafka.TopicReservationCommands},
		kafka.EnvelopeAdapter(reservationHandler.HandleEnvelope),
		dlqProducer,
		cfg.ConsumerMaxRetries,
	)
	if err != nil {
		_ = sagaConsumer.Stop()
		return nil, nil, err
	}

	return sagaConsumer, reservationConsumer, nil
}

// closeProducer закрывает Kafka producer, если он был создан.
func closeProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}
