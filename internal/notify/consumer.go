package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Consumer drains the notice queue and mails each confirmation.
type Consumer struct {
	URL    string
	Queue  string
	Mailer Mailer
	Log    zerolog.Logger

	// MaxBackoff caps the delay between reconnect attempts (30s).
	MaxBackoff time.Duration
}

// Run connects to the broker and consumes until ctx is cancelled. Lost
// connections are redialled with exponential backoff. A message that
// cannot be decoded or mailed is rejected without requeue so one bad
// notice cannot wedge the queue.
func (c *Consumer) Run(ctx context.Context) error {
	queue := c.Queue
	if queue == "" {
		queue = DefaultQueue
	}
	maxBackoff := c.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	backoff := time.Second
	for {
		conn, err := dial(ctx, c.URL)
		if err != nil {
			c.Log.Warn().Err(err).Dur("retry_in", backoff).Msg("notice consumer: dial failed")
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn, queue)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Log.Warn().Err(err).Msg("notice consumer: consume loop ended, reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection, queue string) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(10, 0, false); err != nil {
		c.Log.Warn().Err(err).Msg("notice consumer: set QoS failed")
	}
	if err := declareQueue(ch, queue); err != nil {
		return err
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.Log.Info().Str("queue", queue).Msg("notice consumer: consuming")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.Handle(ctx, d.Body); err != nil {
				c.Log.Error().Err(err).Str("message_id", d.MessageId).Msg("notice consumer: handle failed")
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Handle decodes one queued notice and mails it.
func (c *Consumer) Handle(ctx context.Context, body []byte) error {
	var n Notice
	if err := json.Unmarshal(body, &n); err != nil {
		return fmt.Errorf("unmarshal notice: %w", err)
	}
	if n.Email == "" {
		return errors.New("notice has no recipient")
	}
	msg, err := Compose(n)
	if err != nil {
		return err
	}
	if err := c.Mailer.Send(ctx, msg); err != nil {
		return err
	}
	c.Log.Info().
		Uint64("reservation_id", n.ReservationID).
		Int("slot", n.Slot).
		Str("action", string(n.Action)).
		Msg("confirmation sent")
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// MailDispatcher mails notices directly without a broker in between.
type MailDispatcher struct {
	Mailer Mailer
}

func (d MailDispatcher) Notify(ctx context.Context, n Notice) error {
	msg, err := Compose(n)
	if err != nil {
		return err
	}
	return d.Mailer.Send(ctx, msg)
}
