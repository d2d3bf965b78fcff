package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/smart-parking/internal/model"
)

func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	require.NoError(t, err, "starting embedded NATS")
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func TestPublishersImplementInterface(t *testing.T) {
	var _ Publisher = (*NATSPublisher)(nil)
	var _ Publisher = NoopPublisher{}
}

func TestTopicFor(t *testing.T) {
	assert.Equal(t, TopicGateChanged, TopicFor(model.StateChange{Key: "gate"}))
	assert.Equal(t, TopicSlotChanged, TopicFor(model.StateChange{Key: "slot1", Slot: 1}))
}

func TestForwardPublishesOverNATS(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	require.NoError(t, err)
	defer pub.Close()

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	msgs := make(chan *nats.Msg, 4)
	sub, err := nc.ChanSubscribe("parking.>", msgs)
	require.NoError(t, err)
	defer sub.Unsubscribe() //nolint:errcheck
	require.NoError(t, nc.Flush())

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	forward := Forward(pub, zerolog.Nop())
	forward(model.StateChange{Key: "slot1", Slot: 1, OldValue: "Free", NewValue: "Occupied", At: at})
	forward(model.StateChange{Key: "gate", OldValue: "Closed", NewValue: "Open", At: at})
	require.NoError(t, pub.Flush(context.Background()))

	got := map[string]model.StateChange{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-msgs:
			var c model.StateChange
			require.NoError(t, json.Unmarshal(msg.Data, &c))
			got[msg.Subject] = c
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for published change")
		}
	}
	assert.Equal(t, "Occupied", got[TopicSlotChanged].NewValue)
	assert.Equal(t, 1, got[TopicSlotChanged].Slot)
	assert.Equal(t, "Open", got[TopicGateChanged].NewValue)
}

func TestNewNATSPublisherBadURL(t *testing.T) {
	_, err := NewNATSPublisher("nats://127.0.0.1:1", nats.MaxReconnects(0), nats.Timeout(100*time.Millisecond))
	require.Error(t, err)
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(context.Context, string, any) error {
	p.calls++
	return errors.New("down")
}
func (p *failingPublisher) Close() error { return nil }

func TestForwardSwallowsErrors(t *testing.T) {
	p := &failingPublisher{}
	forward := Forward(p, zerolog.Nop())
	forward(model.StateChange{Key: "slot1", Slot: 1})
	assert.Equal(t, 1, p.calls)
	require.NoError(t, NoopPublisher{}.Publish(context.Background(), TopicSlotChanged, nil))
}
