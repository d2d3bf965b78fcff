// Package events republishes observed slot and gate changes to NATS for
// consumers outside the process (signage, dashboards, the gate controller).
package events

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/iliyamo/smart-parking/internal/model"
)

const (
	TopicSlotChanged = "parking.slot.changed"
	TopicGateChanged = "parking.gate.changed"
)

// Publisher publishes an event to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// TopicFor returns the topic a change is published on.
func TopicFor(c model.StateChange) string {
	if c.IsGate() {
		return TopicGateChanged
	}
	return TopicSlotChanged
}

// Forward returns a change callback that publishes every change it receives.
// Publish errors are logged and dropped.
func Forward(pub Publisher, logger zerolog.Logger) func(model.StateChange) {
	return func(c model.StateChange) {
		topic := TopicFor(c)
		if err := pub.Publish(context.Background(), topic, c); err != nil {
			logger.Warn().Err(err).Str("topic", topic).Str("key", c.Key).Msg("event publish failed")
		}
	}
}
