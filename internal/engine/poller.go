package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/iliyamo/smart-parking/internal/model"
	"github.com/iliyamo/smart-parking/internal/statechannel"
)

// Start launches the polling loop. It polls once immediately and then every
// PollInterval until Stop is called or ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	if e.stop != nil {
		e.mu.Unlock()
		cancel()
		return
	}
	e.stop = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(ctx)
}

// Stop stops the polling loop and waits for it and for any in-flight
// notifications to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.stop
	e.stop = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	e.notifyWG.Wait()
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	e.log.Info().Dur("interval", e.opts.PollInterval).Int("slots", e.opts.Slots).Msg("poller started")

	e.Poll(ctx)

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("poller stopped")
			return
		case <-ticker.C:
			e.Poll(ctx)
		}
	}
}

type readResult struct {
	key   string
	slot  int
	value string
	ok    bool
}

// Poll reads every gate and slot key once, updates the cache with values
// that changed, and notifies subscribers. Keys that fail to read keep their
// previous value; one bad key never stops the others from being applied.
// It returns the changes it applied.
func (e *Engine) Poll(ctx context.Context) []model.StateChange {
	results := make([]readResult, 0, e.opts.Slots+1)
	results = append(results, readResult{key: e.opts.Keys.Gate()})
	for i := 1; i <= e.opts.Slots; i++ {
		results = append(results, readResult{key: e.opts.Keys.Slot(i), slot: i})
	}

	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(r *readResult) {
			defer wg.Done()
			rctx, cancel := context.WithTimeout(ctx, e.opts.ChannelTimeout)
			defer cancel()
			v, err := e.channel.Read(rctx, r.key)
			switch {
			case err == nil:
				r.value, r.ok = v, true
			case errors.Is(err, statechannel.ErrNoValue):
				e.log.Debug().Str("key", r.key).Msg("key has no value yet")
			case ctx.Err() != nil:
			default:
				e.log.Warn().Err(err).Str("key", r.key).Msg("poll read failed, keeping last value")
			}
		}(&results[i])
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil
	}

	now := e.opts.Clock().UTC()
	var changes []model.StateChange
	e.mu.Lock()
	for _, r := range results {
		if !r.ok {
			continue
		}
		value := normalize(r.slot, r.value)
		old := e.cache[r.key]
		if old == value {
			continue
		}
		e.cache[r.key] = value
		changes = append(changes, model.StateChange{Key: r.key, Slot: r.slot, OldValue: old, NewValue: value, At: now})
	}
	subs := make([]Subscriber, 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, c := range changes {
		e.log.Debug().Str("key", c.Key).Str("old", c.OldValue).Str("new", c.NewValue).Msg("state changed")
		for _, fn := range subs {
			e.deliver(fn, c)
		}
	}
	return changes
}

// normalize maps a raw channel value onto the fixed state set. Slot 0 is
// the gate.
func normalize(slot int, raw string) string {
	if slot == 0 {
		return string(model.ParseGateState(raw))
	}
	return string(model.ParseSlotState(raw))
}

// deliver calls fn and contains a panicking subscriber so the poller keeps
// running.
func (e *Engine) deliver(fn Subscriber, c model.StateChange) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Str("key", c.Key).Msg("subscriber panicked")
		}
	}()
	fn(c)
}
