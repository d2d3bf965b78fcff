package archive

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler exports the ledger to every destination once at start and then
// on each tick.
type Scheduler struct {
	src          Source
	destinations []Destination
	interval     time.Duration
	log          zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(src Source, destinations []Destination, interval time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		src:          src,
		destinations: destinations,
		interval:     interval,
		log:          logger.With().Str("component", "archive").Logger(),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for a running export to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single export. It returns the number of destinations
// that accepted the export.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.src, &buf); err != nil {
		s.log.Error().Err(err).Msg("archive export failed")
		return 0
	}
	data := buf.Bytes()

	ok := 0
	for i, dest := range s.destinations {
		if err := dest.Write(ctx, data); err != nil {
			s.log.Error().Err(err).Int("destination", i).Msg("archive destination write failed")
			continue
		}
		ok++
	}
	s.log.Info().Int("destinations", ok).Int("bytes", len(data)).Msg("archive completed")
	return ok
}
