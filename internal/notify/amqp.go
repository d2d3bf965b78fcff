package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// DefaultQueue is the durable queue notices are published to.
const DefaultQueue = "parking.notifications"

// AMQPDispatcher publishes each Notice as a persistent JSON message on a
// durable RabbitMQ queue. A connection is dialled per notice; notices are
// rare enough that holding a connection open is not worth the reconnect
// handling.
type AMQPDispatcher struct {
	url   string
	queue string
	log   zerolog.Logger
}

func NewAMQPDispatcher(url, queue string, logger zerolog.Logger) *AMQPDispatcher {
	if queue == "" {
		queue = DefaultQueue
	}
	return &AMQPDispatcher{url: url, queue: queue, log: logger.With().Str("component", "notify").Logger()}
}

// Notify publishes n. Errors are returned for the caller to log.
func (d *AMQPDispatcher) Notify(ctx context.Context, n Notice) error {
	conn, err := dial(ctx, d.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := declareQueue(ch, d.queue); err != nil {
		return err
	}

	pub, err := publishing(n)
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx,
		"",      // default exchange
		d.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		pub,
	); err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	d.log.Debug().Str("message_id", pub.MessageId).Int("slot", n.Slot).Str("action", string(n.Action)).Msg("notice published")
	return nil
}

// dialTimeout bounds the TCP connect and AMQP handshake when ctx has no
// deadline of its own.
const dialTimeout = 30 * time.Second

// dial is amqp.Dial with the connect and handshake bounded by ctx's deadline.
func dial(ctx context.Context, url string) (*amqp.Connection, error) {
	timeout := dialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}
	return amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
}

func publishing(n Notice) (amqp.Publishing, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal notice: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Type:         "parking.reservation." + string(n.Action),
		Body:         body,
	}, nil
}

// declareQueue is idempotent. Durable so notices survive broker restarts.
func declareQueue(ch *amqp.Channel, name string) error {
	if _, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		return fmt.Errorf("queue declare %s: %w", name, err)
	}
	return nil
}

// LogDispatcher records notices in the log instead of sending them. It is
// used when no broker is configured.
type LogDispatcher struct {
	log zerolog.Logger
}

func NewLogDispatcher(logger zerolog.Logger) LogDispatcher {
	return LogDispatcher{log: logger.With().Str("component", "notify").Logger()}
}

func (d LogDispatcher) Notify(_ context.Context, n Notice) error {
	d.log.Info().
		Uint64("reservation_id", n.ReservationID).
		Int("slot", n.Slot).
		Str("email", n.Email).
		Str("action", string(n.Action)).
		Msg("notice not delivered, no broker configured")
	return nil
}
