// Package engine is the slot state reconciliation engine. It owns the
// in-memory slot/gate projection, runs reserve and cancel against the
// ledger and the state channel as one logical unit, and polls the channel
// to fan out changes to subscribers.
//
// The ledger and the channel are not transactional together. A failure
// between the ledger write and the channel publish is retried, and if the
// retries run out the two disagree until Reconcile runs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/smart-parking/internal/model"
	"github.com/iliyamo/smart-parking/internal/notify"
	"github.com/iliyamo/smart-parking/internal/repository"
	"github.com/iliyamo/smart-parking/internal/statechannel"
)

// Ledger is the subset of the reservation store the engine uses.
type Ledger interface {
	Create(ctx context.Context, slot int, name, email string) (*model.Reservation, error)
	Cancel(ctx context.Context, id uint64) error
	GetByID(ctx context.Context, id uint64) (*model.Reservation, error)
	ActiveBySlot(ctx context.Context, slot int) ([]model.Reservation, error)
	ListActive(ctx context.Context) ([]model.Reservation, error)
	ListAll(ctx context.Context) ([]model.Reservation, error)
}

// Options tunes an Engine. Zero values fall back to the defaults noted.
type Options struct {
	Slots          int               // number of slots, ids 1..Slots (2)
	Keys           statechannel.Keys // feed key names
	PollInterval   time.Duration     // (1s)
	ChannelTimeout time.Duration     // bound on every channel read/write (2s)
	NotifyTimeout  time.Duration     // bound on a detached notification (10s)
	Retry          RetryPolicy       // publish retries after a ledger commit
	Clock          func() time.Time  // (time.Now)
}

func (o Options) withDefaults() Options {
	if o.Slots < 1 {
		o.Slots = 2
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.ChannelTimeout <= 0 {
		o.ChannelTimeout = 2 * time.Second
	}
	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = 10 * time.Second
	}
	if o.Retry.Attempts < 1 {
		o.Retry = DefaultRetryPolicy()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Subscriber receives state changes observed by the poller. It is called
// on the poller goroutine and must not block.
type Subscriber func(model.StateChange)

// Engine coordinates the ledger, the state channel and the operator.
type Engine struct {
	ledger   Ledger
	channel  statechannel.Channel
	notifier notify.Dispatcher
	log      zerolog.Logger
	opts     Options

	// slotMu serialises operator actions per slot. The poller never takes it.
	slotMu []sync.Mutex

	mu        sync.RWMutex
	cache     map[string]string
	commanded model.GateState
	subs      map[int]Subscriber
	nextSub   int

	stop     context.CancelFunc
	wg       sync.WaitGroup
	notifyWG sync.WaitGroup
}

// New builds an Engine. notifier may be nil, in which case no
// confirmations are sent.
func New(ledger Ledger, channel statechannel.Channel, notifier notify.Dispatcher, logger zerolog.Logger, opts Options) *Engine {
	if ledger == nil || channel == nil {
		panic("nil ledger or channel passed to engine.New")
	}
	opts = opts.withDefaults()
	e := &Engine{
		ledger:    ledger,
		channel:   channel,
		notifier:  notifier,
		log:       logger.With().Str("component", "engine").Logger(),
		opts:      opts,
		slotMu:    make([]sync.Mutex, opts.Slots),
		cache:     make(map[string]string, opts.Slots+1),
		commanded: model.GateUnknown,
		subs:      make(map[int]Subscriber),
	}
	e.cache[opts.Keys.Gate()] = string(model.GateUnknown)
	for i := 1; i <= opts.Slots; i++ {
		e.cache[opts.Keys.Slot(i)] = string(model.SlotUnknown)
	}
	return e
}

// SlotCount returns the number of slots the engine tracks.
func (e *Engine) SlotCount() int { return e.opts.Slots }

func (e *Engine) checkSlot(slot int) error {
	if slot < 1 || slot > e.opts.Slots {
		return kindf(ErrValidation, "slot %d out of range 1..%d", slot, e.opts.Slots)
	}
	return nil
}

func (e *Engine) lockSlot(slot int) func() {
	m := &e.slotMu[slot-1]
	m.Lock()
	return m.Unlock
}

// readSlot fetches the slot's current value straight from the channel.
// A key that was never published reads as Unknown.
func (e *Engine) readSlot(ctx context.Context, slot int) (model.SlotState, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.ChannelTimeout)
	defer cancel()
	raw, err := e.channel.Read(ctx, e.opts.Keys.Slot(slot))
	if errors.Is(err, statechannel.ErrNoValue) {
		return model.SlotUnknown, nil
	}
	if err != nil {
		return "", err
	}
	return model.ParseSlotState(raw), nil
}

// ReserveResult describes what Reserve did. When the slot was already
// Reserved the call toggles: it cancels the existing reservation and
// Toggled is set, with Reservation holding the cancelled row.
type ReserveResult struct {
	Reservation *model.Reservation
	Toggled     bool
	Cancel      *CancelResult
}

// Reserve claims slot for name/email.
//
// The slot's state is read fresh from the channel. Occupied is refused.
// Reserved is treated as a request to cancel the existing reservation (a
// second press on a reserved slot cancels it). Otherwise an Active row is
// inserted, Reserved is published for the slot and a created record is
// appended to the audit key.
//
// If publishing fails after the ledger insert, the publish is retried and
// the row is kept; when retries run out the returned error wraps
// ErrChannelUnavailable and the result still carries the reservation.
func (e *Engine) Reserve(ctx context.Context, slot int, name, email string) (ReserveResult, error) {
	if err := e.checkSlot(slot); err != nil {
		return ReserveResult{}, err
	}
	contact, err := model.NormalizeContact(name, email)
	if err != nil {
		return ReserveResult{}, kindErr(ErrValidation, err)
	}

	unlock := e.lockSlot(slot)
	defer unlock()

	state, err := e.readSlot(ctx, slot)
	if err != nil {
		return ReserveResult{}, kindErr(ErrChannelUnavailable, err)
	}
	switch state {
	case model.SlotOccupied:
		return ReserveResult{}, kindf(ErrAlreadyOccupied, "slot %d", slot)
	case model.SlotReserved:
		e.log.Info().Int("slot", slot).Msg("reserve on reserved slot, cancelling existing reservation")
		cr, err := e.cancel(ctx, slot, nil)
		if err != nil {
			return ReserveResult{Toggled: true}, err
		}
		res := cr.Reservation
		return ReserveResult{Reservation: &res, Toggled: true, Cancel: &cr}, nil
	}

	res, err := e.ledger.Create(ctx, slot, contact.Name, contact.Email)
	if err != nil {
		if errors.Is(err, repository.ErrSlotReserved) {
			return ReserveResult{}, kindErr(ErrAlreadyReserved, err)
		}
		return ReserveResult{}, kindErr(ErrLedger, err)
	}
	log := e.log.With().Int("slot", slot).Uint64("reservation_id", res.ID).Logger()

	key := e.opts.Keys.Slot(slot)
	if err := e.retry(ctx, "publish reserved", func(ctx context.Context) error {
		return e.channel.Write(ctx, key, string(model.SlotReserved))
	}); err != nil {
		log.Error().Err(err).Msg("reservation recorded but slot state not published; ledger and channel disagree")
		return ReserveResult{Reservation: res}, kindErr(ErrChannelUnavailable, err)
	}

	e.dispatch(notify.Notice{
		ReservationID: res.ID, Slot: slot, Name: res.Name, Email: res.Email,
		Action: notify.ActionReserved, At: e.opts.Clock().UTC(),
	})

	if err := e.appendAudit(ctx, model.AuditRecord{Slot: slot, Action: model.AuditCreated, Name: res.Name, Email: res.Email}); err != nil {
		log.Error().Err(err).Msg("reservation audit record not published")
		return ReserveResult{Reservation: res}, kindErr(ErrChannelUnavailable, err)
	}
	log.Info().Msg("slot reserved")
	return ReserveResult{Reservation: res}, nil
}

// CancelResult describes a completed cancellation. Released is true when
// the slot was still Reserved on the channel and Free was published;
// ChannelState is what the channel held at the check.
type CancelResult struct {
	Reservation  model.Reservation
	Released     bool
	ChannelState model.SlotState
}

// Cancel cancels the Active reservation for slot. With a nil
// reservationID the slot's single Active reservation is used. The ledger
// row is marked Cancelled; Free is published only if the channel still
// shows Reserved, so a car that has since arrived keeps the slot
// Occupied. Cancelling something that is not Active returns
// ErrNothingToCancel without touching the channel.
func (e *Engine) Cancel(ctx context.Context, slot int, reservationID *uint64) (CancelResult, error) {
	if err := e.checkSlot(slot); err != nil {
		return CancelResult{}, err
	}
	unlock := e.lockSlot(slot)
	defer unlock()
	return e.cancel(ctx, slot, reservationID)
}

// cancel runs with the slot lock held.
func (e *Engine) cancel(ctx context.Context, slot int, reservationID *uint64) (CancelResult, error) {
	target, err := e.findActive(ctx, slot, reservationID)
	if err != nil {
		return CancelResult{}, err
	}

	if err := e.ledger.Cancel(ctx, target.ID); err != nil {
		if errors.Is(err, repository.ErrNotActive) || errors.Is(err, repository.ErrReservationNotFound) {
			return CancelResult{}, kindErr(ErrNothingToCancel, err)
		}
		return CancelResult{}, kindErr(ErrLedger, err)
	}
	target.Status = model.StatusCancelled
	result := CancelResult{Reservation: target}
	log := e.log.With().Int("slot", slot).Uint64("reservation_id", target.ID).Logger()

	key := e.opts.Keys.Slot(slot)
	err = e.retry(ctx, "release slot", func(ctx context.Context) error {
		raw, err := e.channel.Read(ctx, key)
		switch {
		case errors.Is(err, statechannel.ErrNoValue):
			result.ChannelState = model.SlotUnknown
			return nil
		case err != nil:
			return err
		}
		result.ChannelState = model.ParseSlotState(raw)
		if result.ChannelState != model.SlotReserved {
			return nil
		}
		if err := e.channel.Write(ctx, key, string(model.SlotFree)); err != nil {
			return err
		}
		result.Released = true
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("reservation cancelled but slot not released; ledger and channel disagree")
		return result, kindErr(ErrChannelUnavailable, err)
	}
	if !result.Released {
		log.Info().Str("channel_state", string(result.ChannelState)).Msg("slot not reserved on channel, leaving it as is")
	}

	e.dispatch(notify.Notice{
		ReservationID: target.ID, Slot: slot, Name: target.Name, Email: target.Email,
		Action: notify.ActionCancelled, At: e.opts.Clock().UTC(),
	})

	if err := e.appendAudit(ctx, model.AuditRecord{Slot: slot, Action: model.AuditCancelled, Name: target.Name, Email: target.Email}); err != nil {
		log.Error().Err(err).Msg("cancellation audit record not published")
		return result, kindErr(ErrChannelUnavailable, err)
	}
	log.Info().Bool("released", result.Released).Msg("reservation cancelled")
	return result, nil
}

func (e *Engine) findActive(ctx context.Context, slot int, reservationID *uint64) (model.Reservation, error) {
	if reservationID != nil {
		r, err := e.ledger.GetByID(ctx, *reservationID)
		if errors.Is(err, repository.ErrReservationNotFound) {
			return model.Reservation{}, kindf(ErrNothingToCancel, "reservation %d does not exist", *reservationID)
		}
		if err != nil {
			return model.Reservation{}, kindErr(ErrLedger, err)
		}
		if r.Slot != slot {
			return model.Reservation{}, kindf(ErrValidation, "reservation %d belongs to slot %d, not %d", r.ID, r.Slot, slot)
		}
		if !r.Active() {
			return model.Reservation{}, kindf(ErrNothingToCancel, "reservation %d is %s", r.ID, r.Status)
		}
		return *r, nil
	}

	active, err := e.ledger.ActiveBySlot(ctx, slot)
	if err != nil {
		return model.Reservation{}, kindErr(ErrLedger, err)
	}
	switch len(active) {
	case 0:
		return model.Reservation{}, kindf(ErrNothingToCancel, "no active reservation for slot %d", slot)
	case 1:
		return active[0], nil
	}
	return model.Reservation{}, kindf(ErrAmbiguousReservation, "slot %d has %d active reservations", slot, len(active))
}

func (e *Engine) appendAudit(ctx context.Context, rec model.AuditRecord) error {
	key := e.opts.Keys.Reservations()
	line := rec.Encode()
	return e.retry(ctx, "append audit", func(ctx context.Context) error {
		return e.channel.Append(ctx, key, line)
	})
}

// dispatch sends n on a detached goroutine. Failure is logged only.
func (e *Engine) dispatch(n notify.Notice) {
	if e.notifier == nil {
		return
	}
	e.notifyWG.Add(1)
	go func() {
		defer e.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.NotifyTimeout)
		defer cancel()
		if err := e.notifier.Notify(ctx, n); err != nil {
			e.log.Warn().Err(err).
				Int("slot", n.Slot).
				Uint64("reservation_id", n.ReservationID).
				Str("action", string(n.Action)).
				Msg("notification dispatch failed")
		}
	}()
}

// WaitNotifications blocks until every detached notification has returned.
func (e *Engine) WaitNotifications() { e.notifyWG.Wait() }

// SendGate publishes a gate command. Only Open and Closed are accepted.
// The command is not retried; a failure is returned to the caller.
func (e *Engine) SendGate(ctx context.Context, action model.GateState) error {
	if action != model.GateOpen && action != model.GateClosed {
		return kindf(ErrValidation, "gate action must be %s or %s, got %q", model.GateOpen, model.GateClosed, action)
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.ChannelTimeout)
	defer cancel()
	if err := e.channel.Write(ctx, e.opts.Keys.Gate(), string(action)); err != nil {
		return kindErr(ErrChannelUnavailable, err)
	}
	e.mu.Lock()
	e.commanded = action
	e.mu.Unlock()
	e.log.Info().Str("action", string(action)).Msg("gate command sent")
	return nil
}

// Gate returns the last observed gate value and the last command sent.
func (e *Engine) Gate() model.Gate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return model.Gate{
		Observed:  model.ParseGateState(e.cache[e.opts.Keys.Gate()]),
		Commanded: e.commanded,
	}
}

// SlotState returns the cached state of one slot.
func (e *Engine) SlotState(slot int) (model.SlotState, error) {
	if err := e.checkSlot(slot); err != nil {
		return "", err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return model.ParseSlotState(e.cache[e.opts.Keys.Slot(slot)]), nil
}

// Slots returns the cached projection of every slot joined with its Active
// reservation from the ledger.
func (e *Engine) Slots(ctx context.Context) ([]model.Slot, error) {
	slots := make([]model.Slot, e.opts.Slots)
	e.mu.RLock()
	for i := range slots {
		slots[i] = model.Slot{ID: i + 1, State: model.ParseSlotState(e.cache[e.opts.Keys.Slot(i+1)])}
	}
	e.mu.RUnlock()

	active, err := e.ledger.ListActive(ctx)
	if err != nil {
		return nil, kindErr(ErrLedger, err)
	}
	for _, r := range active {
		if r.Slot >= 1 && r.Slot <= len(slots) {
			slots[r.Slot-1].Reservation = r.Ref()
		}
	}
	return slots, nil
}

// ListReservations returns the whole ledger newest first.
func (e *Engine) ListReservations(ctx context.Context) ([]model.Reservation, error) {
	all, err := e.ledger.ListAll(ctx)
	if err != nil {
		return nil, kindErr(ErrLedger, err)
	}
	return all, nil
}

// Subscribe registers fn for state changes and returns a function that
// removes it.
func (e *Engine) Subscribe(fn Subscriber) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
		})
	}
}

func (e *Engine) String() string {
	return fmt.Sprintf("engine(slots=%d, poll=%s)", e.opts.Slots, e.opts.PollInterval)
}
