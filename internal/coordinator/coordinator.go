// Package coordinator drives the proposal lifecycle of a match wager:
// submit, accept, cancel, decline. Every operation that touches both a
// collateral account and the wager slot is a two-phase saga (reserve, then
// record) with explicit compensation, because the store only guarantees
// atomicity per path.
package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"WagerLedger/internal/material"
	"WagerLedger/internal/observability"
	"WagerLedger/internal/oracle"
	"WagerLedger/internal/reservation"
	"WagerLedger/internal/store"
	"WagerLedger/internal/wager"
)

var (
	// ErrInvalidArgument means the request failed input validation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrWagerDisabled means the match category does not permit wagers.
	ErrWagerDisabled = errors.New("wagering disabled for this match")

	// ErrProposalMissing means there is no proposal to act on.
	ErrProposalMissing = errors.New("no proposal to act on")

	// ErrProposalUnavailable means the slot state changed underneath the
	// operation: the slot is terminal, the targeted proposal was withdrawn
	// or replaced, or the player already has an open proposal.
	ErrProposalUnavailable = errors.New("proposal unavailable")

	// ErrPermissionDenied means the actor is not a participant of the match.
	ErrPermissionDenied = errors.New("player is not a participant of this match")
)

// errProposalChanged signals a stale snapshot inside the bounded outer
// retry of proposal removal. Never escapes this package.
var errProposalChanged = errors.New("proposal changed since read")

// EventPublisher receives post-transition notifications. Implementations
// must not block; a dropped event is acceptable, a stalled saga is not.
type EventPublisher interface {
	Publish(event, matchContext, matchID string, payload any)
}

// declineAttempts bounds the re-read retry when both parties race on the
// same slot. The inner CAS loop already absorbs write conflicts; this outer
// bound only covers the proposal being replaced between read and guard.
const declineAttempts = 3

type Coordinator struct {
	store   store.Store
	res     *reservation.Service
	matches oracle.MatchDirectory
	events  EventPublisher
	metrics *observability.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func New(
	st store.Store,
	res *reservation.Service,
	matches oracle.MatchDirectory,
	events EventPublisher,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Coordinator {
	return &Coordinator{
		store:   st,
		res:     res,
		matches: matches,
		events:  events,
		metrics: metrics,
		log:     log,
		now:     time.Now,
	}
}

// SubmitResult reports the granted stake, which may be below the requested
// count when availability capped it.
type SubmitResult struct {
	Granted int64
}

// AcceptResult reports the locked-in agreement. Accepted may be below the
// proposer's offered count when the accepter's availability capped it.
type AcceptResult struct {
	Accepted  int64
	Agreement wager.Agreement
}

// WithdrawResult reports the proposal that was removed and released.
type WithdrawResult struct {
	Material material.Kind
	Count    int64
}

// Submit reserves collateral for the player's offer and records it as an
// open proposal on the match slot. Phase one freezes up to count units;
// phase two records the proposal, guarded on the slot still being open and
// the player not already having one. A failed phase two releases the
// reservation before returning.
func (c *Coordinator) Submit(ctx context.Context, playerID, matchContext, matchID string, kind material.Kind, count int64) (SubmitResult, error) {
	if playerID == "" || matchContext == "" || matchID == "" || !kind.Valid() || count <= 0 {
		return SubmitResult{}, ErrInvalidArgument
	}
	if !c.matches.WagerAllowed(matchContext) {
		return SubmitResult{}, ErrWagerDisabled
	}
	if _, err := c.authorize(ctx, matchContext, matchID, playerID); err != nil {
		return SubmitResult{}, err
	}

	inv, _, err := store.Load[material.Inventory](ctx, c.store, wager.InventoryPath(playerID))
	if err != nil {
		return SubmitResult{}, err
	}

	granted, err := c.res.Reserve(ctx, playerID, kind, count, inv.Count(kind))
	if err != nil {
		c.metrics.ProposalsSubmitted.WithLabelValues(resultLabel(err)).Inc()
		return SubmitResult{}, err
	}

	prop := wager.Proposal{Material: kind, Count: granted, CreatedAtUs: c.nowUs()}
	record := func(ctx context.Context) error {
		_, err := store.Transact(ctx, c.store, wager.SlotPath(matchContext, matchID),
			func(slot *wager.Slot, _ bool) error {
				if slot.Terminal() {
					return ErrProposalUnavailable
				}
				if _, dup := slot.ProposalFor(playerID); dup {
					return ErrProposalUnavailable
				}
				slot.SetProposal(playerID, prop)
				return nil
			})
		return err
	}
	compensate := func(ctx context.Context) error {
		return c.res.Release(ctx, playerID, kind, granted)
	}
	if err := c.recordOrCompensate(ctx, "submit", record, compensate); err != nil {
		c.metrics.ProposalsSubmitted.WithLabelValues(resultLabel(err)).Inc()
		return SubmitResult{}, err
	}

	c.metrics.ProposalsSubmitted.WithLabelValues("ok").Inc()
	c.metrics.CollateralReserved.WithLabelValues(string(kind)).Add(float64(granted))
	c.log.Info().
		Str("player_id", playerID).
		Str("match_id", matchID).
		Str("material", string(kind)).
		Int64("requested", count).
		Int64("granted", granted).
		Msg("proposal submitted")
	return SubmitResult{Granted: granted}, nil
}

// Accept locks in the opponent's open proposal as an agreement. Phase one is
// a single collateral pass that withdraws the accepter's own counter-offer
// (if any) and freezes the accepter's stake, capped at availability. Phase
// two writes the agreement, guarded on the targeted proposal being unchanged
// since the read. A failed phase two applies the negated collateral delta.
// After a successful record, the proposer's reservation is reconciled down
// to the agreed stake.
func (c *Coordinator) Accept(ctx context.Context, playerID, matchContext, matchID string) (AcceptResult, error) {
	if playerID == "" || matchContext == "" || matchID == "" {
		return AcceptResult{}, ErrInvalidArgument
	}
	if !c.matches.WagerAllowed(matchContext) {
		return AcceptResult{}, ErrWagerDisabled
	}
	opponentID, err := c.authorize(ctx, matchContext, matchID, playerID)
	if err != nil {
		return AcceptResult{}, err
	}

	slot, found, err := store.Load[wager.Slot](ctx, c.store, wager.SlotPath(matchContext, matchID))
	if err != nil {
		return AcceptResult{}, err
	}
	if !found {
		return AcceptResult{}, ErrProposalMissing
	}
	if slot.Terminal() {
		return AcceptResult{}, ErrProposalUnavailable
	}
	target, ok := slot.ProposalFor(opponentID)
	if !ok {
		return AcceptResult{}, ErrProposalMissing
	}
	var own *wager.Proposal
	if p, ok := slot.ProposalFor(playerID); ok {
		own = &p
	}

	inv, _, err := store.Load[material.Inventory](ctx, c.store, wager.InventoryPath(playerID))
	if err != nil {
		return AcceptResult{}, err
	}

	accepted, delta, err := c.res.ReserveForAccept(ctx, playerID, target.Material, target.Count, own, &inv)
	if err != nil {
		c.metrics.ProposalsAccepted.WithLabelValues(resultLabel(err)).Inc()
		return AcceptResult{}, err
	}

	ag := wager.Agreement{
		Material:   target.Material,
		Count:      accepted,
		Total:      accepted * 2,
		ProposerID: opponentID,
		AccepterID: playerID,
		AgreedAtUs: c.nowUs(),
	}
	record := func(ctx context.Context) error {
		_, err := store.Transact(ctx, c.store, wager.SlotPath(matchContext, matchID),
			func(slot *wager.Slot, _ bool) error {
				if slot.Terminal() {
					return ErrProposalUnavailable
				}
				cur, ok := slot.ProposalFor(opponentID)
				if !ok || cur != target {
					return ErrProposalUnavailable
				}
				slot.Agreed = &ag
				slot.ClearOpenState()
				return nil
			})
		return err
	}
	compensate := func(ctx context.Context) error {
		return c.res.ApplyDelta(ctx, playerID, reservation.Negate(delta))
	}
	if err := c.recordOrCompensate(ctx, "accept", record, compensate); err != nil {
		c.metrics.ProposalsAccepted.WithLabelValues(resultLabel(err)).Inc()
		return AcceptResult{}, err
	}

	// The agreement is durable. Trim the proposer's frozen stake down to
	// the agreed count; a failure here is drift the reconciler repairs.
	if excess := target.Count - accepted; excess > 0 {
		if err := c.res.Release(ctx, opponentID, target.Material, excess); err != nil {
			c.log.Error().Err(err).
				Str("login_id", opponentID).
				Int64("excess", excess).
				Msg("proposer stake reconcile failed, leaving frozen drift")
		} else {
			c.metrics.CollateralReleased.WithLabelValues(string(target.Material)).Add(float64(excess))
		}
	}

	c.metrics.ProposalsAccepted.WithLabelValues("ok").Inc()
	c.publish("agreed", matchContext, matchID, ag)
	c.log.Info().
		Str("accepter_id", playerID).
		Str("proposer_id", opponentID).
		Str("match_id", matchID).
		Str("material", string(ag.Material)).
		Int64("count", ag.Count).
		Msg("wager agreed")
	return AcceptResult{Accepted: accepted, Agreement: ag}, nil
}

// Cancel withdraws the player's own open proposal and releases its
// reservation.
func (c *Coordinator) Cancel(ctx context.Context, playerID, matchContext, matchID string) (WithdrawResult, error) {
	if playerID == "" || matchContext == "" || matchID == "" {
		return WithdrawResult{}, ErrInvalidArgument
	}
	if _, err := c.authorize(ctx, matchContext, matchID, playerID); err != nil {
		return WithdrawResult{}, err
	}
	res, err := c.removeProposal(ctx, playerID, matchContext, matchID, 1)
	if err == nil {
		c.metrics.ProposalsWithdrawn.WithLabelValues("cancel").Inc()
	}
	return res, err
}

// Decline withdraws the opponent's open proposal on the acting player's
// behalf and releases the opponent's reservation. Both parties can race on
// the same slot, so removal runs under a bounded re-read retry.
func (c *Coordinator) Decline(ctx context.Context, playerID, matchContext, matchID string) (WithdrawResult, error) {
	if playerID == "" || matchContext == "" || matchID == "" {
		return WithdrawResult{}, ErrInvalidArgument
	}
	opponentID, err := c.authorize(ctx, matchContext, matchID, playerID)
	if err != nil {
		return WithdrawResult{}, err
	}
	res, err := c.removeProposal(ctx, opponentID, matchContext, matchID, declineAttempts)
	if err == nil {
		c.metrics.ProposalsWithdrawn.WithLabelValues("decline").Inc()
	}
	return res, err
}

// Slot returns the current wager slot for a participant's match.
func (c *Coordinator) Slot(ctx context.Context, playerID, matchContext, matchID string) (wager.Slot, error) {
	if playerID == "" || matchContext == "" || matchID == "" {
		return wager.Slot{}, ErrInvalidArgument
	}
	if _, err := c.authorize(ctx, matchContext, matchID, playerID); err != nil {
		return wager.Slot{}, err
	}
	slot, _, err := store.Load[wager.Slot](ctx, c.store, wager.SlotPath(matchContext, matchID))
	return slot, err
}

// removeProposal removes ownerID's proposal from the slot, guarded on the
// entry still equaling the snapshot, then releases the matching
// reservation. The release runs after the removal is durable; a crash in
// between leaks frozen units until the reconciler sweep.
func (c *Coordinator) removeProposal(ctx context.Context, ownerID, matchContext, matchID string, attempts int) (WithdrawResult, error) {
	for attempt := 0; attempt < attempts; attempt++ {
		slot, found, err := store.Load[wager.Slot](ctx, c.store, wager.SlotPath(matchContext, matchID))
		if err != nil {
			return WithdrawResult{}, err
		}
		if !found {
			return WithdrawResult{}, ErrProposalMissing
		}
		if slot.Terminal() {
			return WithdrawResult{}, ErrProposalUnavailable
		}
		prop, ok := slot.ProposalFor(ownerID)
		if !ok {
			return WithdrawResult{}, ErrProposalMissing
		}

		_, err = store.Transact(ctx, c.store, wager.SlotPath(matchContext, matchID),
			func(s *wager.Slot, _ bool) error {
				if s.Terminal() {
					return ErrProposalUnavailable
				}
				cur, ok := s.ProposalFor(ownerID)
				if !ok {
					return ErrProposalMissing
				}
				if cur != prop {
					return errProposalChanged
				}
				s.RemoveProposal(ownerID)
				return nil
			})
		if errors.Is(err, errProposalChanged) {
			continue
		}
		if err != nil {
			return WithdrawResult{}, err
		}

		if err := c.res.Release(ctx, ownerID, prop.Material, prop.Count); err != nil {
			c.log.Error().Err(err).
				Str("login_id", ownerID).
				Str("match_id", matchID).
				Msg("release after proposal removal failed, leaving frozen drift")
		} else {
			c.metrics.CollateralReleased.WithLabelValues(string(prop.Material)).Add(float64(prop.Count))
		}
		c.publish("released", matchContext, matchID, map[string]any{
			"player_id": ownerID,
			"material":  string(prop.Material),
			"count":     prop.Count,
		})
		return WithdrawResult{Material: prop.Material, Count: prop.Count}, nil
	}
	return WithdrawResult{}, ErrProposalUnavailable
}

// authorize checks participation and returns the other participant.
func (c *Coordinator) authorize(ctx context.Context, matchContext, matchID, playerID string) (string, error) {
	hostID, guestID, err := c.matches.ParticipantsOf(ctx, matchContext, matchID)
	if err != nil {
		if errors.Is(err, oracle.ErrMatchNotFound) {
			return "", ErrPermissionDenied
		}
		return "", err
	}
	switch playerID {
	case hostID:
		return guestID, nil
	case guestID:
		return hostID, nil
	}
	return "", ErrPermissionDenied
}

func (c *Coordinator) publish(event, matchContext, matchID string, payload any) {
	if c.events == nil {
		return
	}
	c.events.Publish(event, matchContext, matchID, payload)
}

func (c *Coordinator) nowUs() int64 {
	return c.now().UnixMicro()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, reservation.ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, ErrProposalUnavailable):
		return "unavailable"
	case errors.Is(err, ErrProposalMissing):
		return "missing"
	default:
		return "error"
	}
}
