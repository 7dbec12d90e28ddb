package mq

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/realtimebid/auctionserver/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange and queue names for the Queue component's topology
// (spec.md §4.3): one exchange per message family, each backed by a
// durable queue, plus a shared dead-letter exchange/queue pair for
// messages that exhaust their TTL or are repeatedly nacked.
const (
	ExchangeBidEvents     = "auction-events"
	ExchangeNotifications = "notifications"
	ExchangeAudit         = "audit"

	QueueBidPlaced = "bid-placed"
	QueueNotify    = "notifications"
	QueueAudit     = "audit-log"

	exchangeDeadLetter = "dead-letter"
	queueDeadLetter    = "dead-letter"
)

// RabbitMQClient wraps a RabbitMQ connection/channel pair and declares
// the fixed topology above on construction.
type RabbitMQClient struct {
	conn            *amqp.Connection
	channel         *amqp.Channel
	queueDurable    bool
	queueAutoDelete bool
	prefetchCount   int
	messageTTL      time.Duration
}

// NewRabbitMQClient connects, opens a channel, applies the configured
// prefetch count, and declares the bid-events/notifications/audit
// exchanges with their bound queues and a shared dead-letter path.
func NewRabbitMQClient(cfg config.RabbitMQConfig) (*RabbitMQClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if cfg.PrefetchCount > 0 {
		if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, err
		}
	}

	client := &RabbitMQClient{
		conn:            conn,
		channel:         ch,
		queueDurable:    cfg.QueueDurable,
		queueAutoDelete: cfg.QueueAutoDelete,
		prefetchCount:   cfg.PrefetchCount,
		messageTTL:      cfg.MessageTTL,
	}

	if err := client.declareTopology(); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return client, nil
}

func (r *RabbitMQClient) declareTopology() error {
	if err := r.channel.ExchangeDeclare(exchangeDeadLetter, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := r.channel.QueueDeclare(queueDeadLetter, true, false, false, false, nil); err != nil {
		return err
	}
	if err := r.channel.QueueBind(queueDeadLetter, "", exchangeDeadLetter, false, nil); err != nil {
		return err
	}

	bindings := []struct {
		exchange string
		queue    string
	}{
		{ExchangeBidEvents, QueueBidPlaced},
		{ExchangeNotifications, QueueNotify},
		{ExchangeAudit, QueueAudit},
	}
	for _, b := range bindings {
		if err := r.channel.ExchangeDeclare(b.exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
			return err
		}
		if _, err := r.declareQueue(b.queue); err != nil {
			return err
		}
		if err := r.channel.QueueBind(b.queue, b.queue, b.exchange, false, nil); err != nil {
			return err
		}
	}
	return nil
}

// Publish sends a message to the exchange matching channel, routed by
// a routing key equal to the queue name bound above.
func (r *RabbitMQClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("rabbitmq channel is required")
	}
	exchange, ok := exchangeForChannel(channel)
	if !ok {
		return "", fmt.Errorf("rabbitmq: unknown channel %q", channel)
	}

	headers := amqp.Table{}
	for key, value := range attrs {
		headers[key] = value
	}

	messageID := newMessageID()
	publishing := amqp.Publishing{
		ContentType: "application/json",
		MessageId:   messageID,
		Headers:     headers,
		Body:        data,
		Timestamp:   time.Now(),
	}
	if r.messageTTL > 0 {
		publishing.Expiration = fmt.Sprintf("%d", r.messageTTL.Milliseconds())
	}

	err := r.channel.PublishWithContext(ctx, exchange, channel, false, false, publishing)
	if err != nil {
		return "", err
	}
	return messageID, nil
}

// Subscribe consumes messages from the named queue, requeueing once on
// handler failure and otherwise relying on the queue's dead-letter
// binding to catch messages that are nacked a second time or that
// exceed the configured TTL while still unconsumed.
func (r *RabbitMQClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("rabbitmq channel is required")
	}
	if _, err := r.declareQueue(channel); err != nil {
		return err
	}

	consumerTag := fmt.Sprintf("consumer-%s", newMessageID())
	deliveries, err := r.channel.Consume(channel, consumerTag, false, false, false, false, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = r.channel.Cancel(consumerTag, false)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			message := Message{
				ID:         delivery.MessageId,
				Data:       delivery.Body,
				Attributes: headersToAttributes(delivery.Headers),
			}
			if err := handler(ctx, message); err != nil {
				requeue := delivery.Redelivered == false
				_ = delivery.Nack(false, requeue)
				continue
			}
			_ = delivery.Ack(false)
		}
	}
}

// Close closes the underlying channel and connection.
func (r *RabbitMQClient) Close() error {
	if r.channel != nil {
		_ = r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// declareQueue declares a durable queue dead-lettered into the shared
// fanout exchange above, with per-message TTL applied when a message
// sits unconsumed.
func (r *RabbitMQClient) declareQueue(name string) (amqp.Queue, error) {
	args := amqp.Table{
		"x-dead-letter-exchange": exchangeDeadLetter,
	}
	if r.messageTTL > 0 {
		args["x-message-ttl"] = r.messageTTL.Milliseconds()
	}
	return r.channel.QueueDeclare(
		name,
		r.queueDurable,
		r.queueAutoDelete,
		false,
		false,
		args,
	)
}

func exchangeForChannel(channel string) (string, bool) {
	switch channel {
	case QueueBidPlaced:
		return ExchangeBidEvents, true
	case QueueNotify:
		return ExchangeNotifications, true
	case QueueAudit:
		return ExchangeAudit, true
	default:
		return "", false
	}
}

func headersToAttributes(headers amqp.Table) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(headers))
	for key, value := range headers {
		switch typed := value.(type) {
		case string:
			attrs[key] = typed
		case []byte:
			attrs[key] = string(typed)
		default:
			attrs[key] = fmt.Sprint(value)
		}
	}
	return attrs
}

func newMessageID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return ""
	}
	return hex.EncodeToString(buf[:])
}
