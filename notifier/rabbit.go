// Package queue publishes CommitReceipt notifications to RabbitMQ after a
// successful commit. Publishing is best-effort: a failure here is logged
// and never fails the commit that triggered it.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// CommitReceipt summarizes one successful CommitPipeline.Apply call.
type CommitReceipt struct {
	ChangesetID  int64    `json:"changeset_id"`
	TypedIds     []uint64 `json:"typed_ids"`
	SequenceFrom uint64   `json:"sequence_from"`
	SequenceTo   uint64   `json:"sequence_to"`
	CommittedAt  int64    `json:"committed_at"` // unix nanos
}

// Publisher publishes CommitReceipts. CommitPipeline holds one optional
// Publisher; nil means "no notification configured."
type Publisher interface {
	Publish(receipt CommitReceipt) error
	Close() error
}

// Config configures a RabbitMQService.
type Config struct {
	URL       string
	QueueName string
}

// RabbitMQService implements Publisher over a durable RabbitMQ queue.
type RabbitMQService struct {
	connection AMQPConnection
	channel    AMQPChannel
	config     Config
	log        *logrus.Entry
}

// NewRabbitMQService connects to RabbitMQ and declares config.QueueName as a
// durable queue.
func NewRabbitMQService(config Config, log *logrus.Entry) (*RabbitMQService, error) {
	return NewRabbitMQServiceWithDialer(config, &RealAMQPDialer{}, log)
}

// NewRabbitMQServiceWithDialer allows injecting a custom dialer for testing.
func NewRabbitMQServiceWithDialer(config Config, dialer AMQPDialer, log *logrus.Entry) (*RabbitMQService, error) {
	conn, err := dialer.Dial(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	_, err = ch.QueueDeclare(config.QueueName, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	return &RabbitMQService{connection: conn, channel: ch, config: config, log: log}, nil
}

// Publish serializes receipt to JSON and publishes it to the configured
// queue on the default exchange.
func (r *RabbitMQService) Publish(receipt CommitReceipt) error {
	body, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("failed to marshal commit receipt: %w", err)
	}

	err = r.channel.Publish(
		"",
		r.config.QueueName,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish commit receipt: %w", err)
	}

	r.log.WithField("changeset_id", receipt.ChangesetID).Debug("published commit receipt")
	return nil
}

// Close closes the channel and connection, tolerating either being nil.
func (r *RabbitMQService) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.connection != nil {
		r.connection.Close()
	}
	return nil
}
