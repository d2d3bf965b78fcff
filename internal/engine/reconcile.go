package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/smart-parking/internal/model"
)

// ReconcileAction is one correction Reconcile published for a slot.
type ReconcileAction struct {
	Slot   int             `json:"slot"`
	From   model.SlotState `json:"from"`
	To     model.SlotState `json:"to"`
	Reason string          `json:"reason"`
}

// Reconcile realigns the channel with the ledger after publishes were lost.
// A slot with an Active reservation that the channel does not show as
// Reserved gets Reserved; a slot the channel shows as Reserved with no
// Active reservation gets Free. Occupied slots are never touched, a parked
// car wins. Per-slot failures are joined and returned alongside the
// actions that did succeed.
func (e *Engine) Reconcile(ctx context.Context) ([]ReconcileAction, error) {
	active, err := e.ledger.ListActive(ctx)
	if err != nil {
		return nil, kindErr(ErrLedger, err)
	}
	held := make(map[int]bool, len(active))
	for _, r := range active {
		held[r.Slot] = true
	}

	var (
		actions []ReconcileAction
		errs    []error
	)
	for slot := 1; slot <= e.opts.Slots; slot++ {
		act, err := e.reconcileSlot(ctx, slot, held[slot])
		if err != nil {
			errs = append(errs, fmt.Errorf("slot %d: %w", slot, err))
			continue
		}
		if act != nil {
			actions = append(actions, *act)
		}
	}
	if len(errs) > 0 {
		return actions, kindErr(ErrChannelUnavailable, errors.Join(errs...))
	}
	return actions, nil
}

func (e *Engine) reconcileSlot(ctx context.Context, slot int, hasActive bool) (*ReconcileAction, error) {
	unlock := e.lockSlot(slot)
	defer unlock()

	state, err := e.readSlot(ctx, slot)
	if err != nil {
		return nil, err
	}

	var act ReconcileAction
	switch {
	case state == model.SlotOccupied:
		return nil, nil
	case hasActive && state != model.SlotReserved:
		act = ReconcileAction{Slot: slot, From: state, To: model.SlotReserved, Reason: "active reservation not published"}
	case !hasActive && state == model.SlotReserved:
		act = ReconcileAction{Slot: slot, From: state, To: model.SlotFree, Reason: "no active reservation"}
	default:
		return nil, nil
	}

	key := e.opts.Keys.Slot(slot)
	if err := e.retry(ctx, "reconcile", func(ctx context.Context) error {
		return e.channel.Write(ctx, key, string(act.To))
	}); err != nil {
		return nil, err
	}
	e.log.Info().Int("slot", slot).Str("from", string(act.From)).Str("to", string(act.To)).Msg("slot reconciled")
	return &act, nil
}
