package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Ranidpz/qrinfo-sub004/internal/models"
	"github.com/segmentio/kafka-go"
)

// Topics for guest lifecycle events.
const (
	TopicGuestRegistered = "qrinfo.guest.registered"
	TopicGuestVerified   = "qrinfo.guest.verified"
	TopicGuestCancelled  = "qrinfo.guest.cancelled"
	TopicGuestArrived    = "qrinfo.guest.arrived"
	TopicGuestUndo       = "qrinfo.guest.arrival_undone"
)

// AllTopics lists every topic the service publishes, for startup creation.
var AllTopics = []string{
	TopicGuestRegistered,
	TopicGuestVerified,
	TopicGuestCancelled,
	TopicGuestArrived,
	TopicGuestUndo,
}

type Producer struct {
	Writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return &Producer{Writer: writer}
}

// Publish writes one message to topic, keyed for per-guest ordering.
func (p *Producer) Publish(topic, key string, value []byte) error {
	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: value,
		},
	)
}

func (p *Producer) publishRegistration(topic string, reg models.Registration) error {
	msgBytes, err := json.Marshal(reg)
	if err != nil {
		return err
	}
	fmt.Printf("Publishing to Kafka [%s]: registration %s\n", topic, reg.ID)
	return p.Publish(topic, reg.ID, msgBytes)
}

// PublishGuestRegistered streams a freshly admitted registration
func (p *Producer) PublishGuestRegistered(reg models.Registration) error {
	return p.publishRegistration(TopicGuestRegistered, reg)
}

// PublishGuestVerified streams the OTP promotion of a registration
func (p *Producer) PublishGuestVerified(reg models.Registration) error {
	return p.publishRegistration(TopicGuestVerified, reg)
}

// PublishGuestCancelled streams an unregister
func (p *Producer) PublishGuestCancelled(reg models.Registration) error {
	return p.publishRegistration(TopicGuestCancelled, reg)
}

// PublishGuestArrived streams a successful check-in
func (p *Producer) PublishGuestArrived(reg models.Registration) error {
	return p.publishRegistration(TopicGuestArrived, reg)
}

// PublishGuestArrivalUndone streams an operator undo of a check-in
func (p *Producer) PublishGuestArrivalUndone(reg models.Registration) error {
	return p.publishRegistration(TopicGuestUndo, reg)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}

// Noop satisfies the publisher interfaces for deployments without a broker.
type Noop struct{}

func (Noop) PublishGuestRegistered(models.Registration) error    { return nil }
func (Noop) PublishGuestVerified(models.Registration) error      { return nil }
func (Noop) PublishGuestCancelled(models.Registration) error     { return nil }
func (Noop) PublishGuestArrived(models.Registration) error       { return nil }
func (Noop) PublishGuestArrivalUndone(models.Registration) error { return nil }
