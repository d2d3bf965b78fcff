package main

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/smart-parking/internal/database"
	"github.com/iliyamo/smart-parking/internal/engine"
	"github.com/iliyamo/smart-parking/internal/events"
	"github.com/iliyamo/smart-parking/internal/model"
	"github.com/iliyamo/smart-parking/internal/repository"
	"github.com/iliyamo/smart-parking/internal/statechannel"
)

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.topics)
}

func runParkd(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	return out.String()
}

func setupLocalEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("PARKING_CONFIG", "")
	t.Setenv("LEDGER_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "ledger.db"))
	t.Setenv("CHANNEL_DRIVER", "memory")
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func TestMigrateAndListEmptyLedger(t *testing.T) {
	setupLocalEnv(t)
	runParkd(t, "migrate")

	out := runParkd(t, "reservations")
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "RESERVED AT")

	out = runParkd(t, "reservations", "--jsonl")
	assert.Contains(t, out, `"type":"header"`)
	assert.Contains(t, out, `"reservation_count":0`)
}

func TestReconcileOnFreshChannel(t *testing.T) {
	setupLocalEnv(t)
	out := runParkd(t, "reconcile")
	assert.Contains(t, out, "nothing to reconcile")
}

func TestSubscribeAllDetachesFeeds(t *testing.T) {
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, database.SQLite))

	ch := statechannel.NewMemoryChannel()
	eng := engine.New(repository.NewReservationRepo(db, database.SQLite), ch, nil, zerolog.Nop(), engine.Options{Slots: 1})
	ctx := context.Background()

	pub := &recordingPublisher{}
	var seen []model.StateChange
	unsubscribe := subscribeAll(eng, events.Forward(pub, zerolog.Nop()), func(c model.StateChange) {
		seen = append(seen, c)
	})

	ch.Set("slot1", "Occupied")
	require.Len(t, eng.Poll(ctx), 1)
	assert.Equal(t, 1, pub.count())
	assert.Len(t, seen, 1)

	unsubscribe()
	ch.Set("slot1", "Free")
	require.Len(t, eng.Poll(ctx), 1)
	assert.Equal(t, 1, pub.count())
	assert.Len(t, seen, 1)
}
