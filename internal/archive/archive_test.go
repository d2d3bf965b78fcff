package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/smart-parking/internal/model"
)

type staticSource struct {
	rows []model.Reservation
	err  error
}

func (s staticSource) ListAll(context.Context) ([]model.Reservation, error) {
	return s.rows, s.err
}

// mockDestination records calls to Write.
type mockDestination struct {
	writes atomic.Int64
	last   atomic.Value // []byte
	err    error
}

func (d *mockDestination) Write(_ context.Context, data []byte) error {
	d.writes.Add(1)
	cp := make([]byte, len(data))
	copy(cp, data)
	d.last.Store(cp)
	return d.err
}

func sampleRows() []model.Reservation {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return []model.Reservation{
		{ID: 2, Slot: 1, Name: "Ann", Email: "ann@x.com", Status: model.StatusActive, CreatedAt: at.Add(time.Minute)},
		{ID: 1, Slot: 1, Name: "Bob", Email: "bob@x.com", Status: model.StatusCancelled, CreatedAt: at},
	}
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

func TestExportJSONL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportJSONL(context.Background(), staticSource{rows: sampleRows()}, &buf))

	lines := nonEmptyLines(buf.String())
	require.Len(t, lines, 3)

	var h header
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &h))
	assert.Equal(t, "header", h.Type)
	assert.Equal(t, 2, h.ReservationCount)
	assert.Equal(t, 1, h.ActiveCount)

	var rec struct {
		Type string            `json:"type"`
		Data model.Reservation `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "reservation", rec.Type)
	assert.Equal(t, uint64(2), rec.Data.ID)
	assert.Equal(t, model.StatusActive, rec.Data.Status)
}

func TestExportJSONLSourceError(t *testing.T) {
	err := ExportJSONL(context.Background(), staticSource{err: errors.New("db gone")}, io.Discard)
	require.ErrorContains(t, err, "db gone")
}

func TestSchedulerStartStop(t *testing.T) {
	dest := &mockDestination{}
	sched := NewScheduler(staticSource{rows: sampleRows()}, []Destination{dest}, 50*time.Millisecond, zerolog.Nop())
	sched.Start(context.Background())

	require.Eventually(t, func() bool { return dest.writes.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	sched.Stop()

	data, ok := dest.last.Load().([]byte)
	require.True(t, ok)
	assert.Len(t, nonEmptyLines(string(data)), 3)
}

func TestRunOnceContinuesPastFailedDestination(t *testing.T) {
	bad := &mockDestination{err: errors.New("bucket missing")}
	good := &mockDestination{}
	sched := NewScheduler(staticSource{rows: sampleRows()}, []Destination{bad, good}, time.Hour, zerolog.Nop())

	assert.Equal(t, 1, sched.RunOnce(context.Background()))
	assert.Equal(t, int64(1), bad.writes.Load())
	assert.Equal(t, int64(1), good.writes.Load())

	failing := NewScheduler(staticSource{err: errors.New("db gone")}, []Destination{good}, time.Hour, zerolog.Nop())
	assert.Equal(t, 0, failing.RunOnce(context.Background()))
	assert.Equal(t, int64(1), good.writes.Load())
}

func TestS3DestinationWrite(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	t.Setenv("AWS_CONFIG_FILE", "/nonexistent")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/nonexistent")

	var (
		mu     sync.Mutex
		method string
		path   string
		body   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, b
		mu.Unlock()
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dest, err := NewS3Destination(context.Background(), "parking", "exports/reservations.jsonl", "us-east-1", srv.URL)
	require.NoError(t, err)

	payload := []byte(`{"type":"header"}` + "\n")
	require.NoError(t, dest.Write(context.Background(), payload))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/parking/exports/reservations.jsonl", path)
	assert.Contains(t, string(body), `{"type":"header"}`)
}
