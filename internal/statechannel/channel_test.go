package statechannel

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	k := Keys{Prefix: "parking."}
	assert.Equal(t, "parking.slot1", k.Slot(1))
	assert.Equal(t, "parking.gate", k.Gate())
	assert.Equal(t, "parking.reservations", k.Reservations())
	assert.Equal(t, "slot2", Keys{}.Slot(2))
}

func TestMemoryChannel(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryChannel()

	_, err := c.Read(ctx, "slot1")
	require.ErrorIs(t, err, ErrNoValue)

	c.Set("slot1", "Occupied")
	v, err := c.Read(ctx, "slot1")
	require.NoError(t, err)
	assert.Equal(t, "Occupied", v)
	assert.Zero(t, c.Writes("slot1"), "Set simulates the sensor and is not counted")

	require.NoError(t, c.Write(ctx, "slot1", "Free"))
	require.NoError(t, c.Append(ctx, "reservations", "1|1|Bob|bob@x.com"))
	require.NoError(t, c.Append(ctx, "reservations", "1|0|Bob|bob@x.com"))
	assert.Equal(t, 1, c.Writes("slot1"))
	assert.Equal(t, 3, c.TotalWrites())
	assert.Equal(t, []string{"1|1|Bob|bob@x.com", "1|0|Bob|bob@x.com"}, c.Log("reservations"))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, c.Write(cancelled, "slot1", "Reserved"))
	v, _ = c.Value("slot1")
	assert.Equal(t, "Free", v)
}

func newRedisChannel(t *testing.T) (*RedisChannel, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	ch := NewRedisChannel(rdb)
	t.Cleanup(func() { ch.Close() })
	return ch, srv
}

func TestRedisChannelReadWrite(t *testing.T) {
	ctx := context.Background()
	ch, srv := newRedisChannel(t)

	_, err := ch.Read(ctx, "parking.slot1")
	require.ErrorIs(t, err, ErrNoValue)

	require.NoError(t, srv.Set("parking.slot1", "Occupied"))
	v, err := ch.Read(ctx, "parking.slot1")
	require.NoError(t, err)
	assert.Equal(t, "Occupied", v)

	require.NoError(t, ch.Write(ctx, "parking.slot1", "Free"))
	got, err := srv.Get("parking.slot1")
	require.NoError(t, err)
	assert.Equal(t, "Free", got)
}

func TestRedisChannelWritePublishes(t *testing.T) {
	ctx := context.Background()
	ch, srv := newRedisChannel(t)

	sub := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer sub.Close()
	ps := sub.Subscribe(ctx, "parking.gate")
	defer ps.Close()
	_, err := ps.Receive(ctx) // subscription confirmation
	require.NoError(t, err)

	require.NoError(t, ch.Write(ctx, "parking.gate", "Open"))

	select {
	case msg := <-ps.Channel():
		assert.Equal(t, "Open", msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published gate value")
	}
}

func TestRedisChannelAppend(t *testing.T) {
	ctx := context.Background()
	ch, srv := newRedisChannel(t)

	require.NoError(t, ch.Append(ctx, "parking.reservations", "1|1|Bob|bob@x.com"))
	require.NoError(t, ch.Append(ctx, "parking.reservations", "1|0|Bob|bob@x.com"))

	list, err := srv.List("parking.reservations")
	require.NoError(t, err)
	assert.Equal(t, []string{"1|1|Bob|bob@x.com", "1|0|Bob|bob@x.com"}, list)
}

func TestRedisChannelUnavailable(t *testing.T) {
	ctx := context.Background()
	ch, srv := newRedisChannel(t)
	srv.SetError("LOADING dataset")

	_, err := ch.Read(ctx, "parking.slot1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoValue)
	assert.Error(t, ch.Write(ctx, "parking.slot1", "Free"))
}
