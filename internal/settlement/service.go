// Package settlement applies match outcomes to wager slots: exactly-once
// material transfer for agreed wagers, reservation release for open ones.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"WagerLedger/internal/material"
	"WagerLedger/internal/observability"
	"WagerLedger/internal/oracle"
	"WagerLedger/internal/reservation"
	"WagerLedger/internal/store"
	"WagerLedger/internal/wager"
)

// Status classifies what a Resolve call did.
type Status string

const (
	// StatusSettled: an agreement existed, the transfer ran.
	StatusSettled Status = "settled"
	// StatusReleased: only open proposals existed, reservations released.
	StatusReleased Status = "released"
	// StatusNoWager: no slot for the match, nothing to do.
	StatusNoWager Status = "no-wager"
	// StatusAlreadyResolved: the once-only gate had already committed.
	StatusAlreadyResolved Status = "already-resolved"
)

// ErrSelfOutcome rejects a result naming the same player on both sides.
var ErrSelfOutcome = errors.New("winner and loser are the same player")

// Result reports the effect of a Resolve call.
type Result struct {
	Status     Status
	Resolution *wager.Resolution
}

// EventPublisher mirrors coordinator.EventPublisher; both surfaces feed the
// same outbound stream.
type EventPublisher interface {
	Publish(event, matchContext, matchID string, payload any)
}

type Service struct {
	store   store.Store
	res     *reservation.Service
	gate    *Gate
	events  EventPublisher
	metrics *observability.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func NewService(
	st store.Store,
	res *reservation.Service,
	gate *Gate,
	events EventPublisher,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Service {
	return &Service{
		store:   st,
		res:     res,
		gate:    gate,
		events:  events,
		metrics: metrics,
		log:     log,
		now:     time.Now,
	}
}

// Resolve settles the wager slot for a finished match. The once-only gate
// commits first: exactly one caller per match proceeds past it, so the
// transfer below runs at most once no matter how often the result is
// redelivered. Everything after the gate must therefore run to completion;
// errors are logged and the affected accounts are left to the reconciler,
// never retried through a second Resolve.
func (s *Service) Resolve(ctx context.Context, matchContext, matchID string, outcome oracle.Outcome) (Result, error) {
	if outcome.WinnerID != "" && outcome.WinnerID == outcome.LoserID {
		return Result{}, ErrSelfOutcome
	}

	first, err := s.gate.MarkDone(ctx, matchID)
	if err != nil {
		// Gate not committed: safe to retry the whole resolve.
		return Result{}, fmt.Errorf("settlement gate %s: %w", matchID, err)
	}
	if !first {
		s.metrics.SettlementsResolved.WithLabelValues(string(StatusAlreadyResolved)).Inc()
		return Result{Status: StatusAlreadyResolved}, nil
	}

	// Past the gate: shield from caller cancellation.
	ctx = context.WithoutCancel(ctx)

	slot, found, err := store.Load[wager.Slot](ctx, s.store, wager.SlotPath(matchContext, matchID))
	if err != nil {
		return Result{}, err
	}
	if !found || (slot.Agreed == nil && len(slot.Proposals) == 0) {
		s.metrics.SettlementsResolved.WithLabelValues(string(StatusNoWager)).Inc()
		return Result{Status: StatusNoWager}, nil
	}

	if slot.Agreed != nil {
		return s.settleAgreed(ctx, matchContext, matchID, slot.Agreed, outcome)
	}
	return s.releaseOpen(ctx, matchContext, matchID, slot)
}

// settleAgreed moves the loser's stake to the winner and releases both
// frozen stakes. Each step is one clamped CAS pass; a loser inventory that
// shrank below the stake burns the shortfall instead of going negative.
func (s *Service) settleAgreed(ctx context.Context, matchContext, matchID string, ag *wager.Agreement, outcome oracle.Outcome) (Result, error) {
	winnerID, loserID := outcome.WinnerID, outcome.LoserID
	if winnerID != ag.ProposerID && winnerID != ag.AccepterID {
		// Outcome for someone outside the wager; release both sides and
		// record nothing. Defends against a mispublished result.
		s.log.Warn().
			Str("match_id", matchID).
			Str("winner_id", winnerID).
			Msg("outcome names a non-party, releasing stakes without transfer")
		return s.releaseAgreedStakes(ctx, matchContext, matchID, ag)
	}
	if loserID != ag.ProposerID && loserID != ag.AccepterID {
		if winnerID == ag.ProposerID {
			loserID = ag.AccepterID
		} else {
			loserID = ag.ProposerID
		}
	}

	var debited int64
	_, err := store.Transact(ctx, s.store, wager.InventoryPath(loserID),
		func(inv *material.Inventory, _ bool) error {
			debited = -inv.Add(ag.Material, -ag.Count)
			return nil
		})
	if err != nil {
		s.log.Error().Err(err).Str("match_id", matchID).Msg("loser debit failed")
		return Result{}, err
	}
	if debited < ag.Count {
		s.log.Warn().
			Str("match_id", matchID).
			Str("loser_id", loserID).
			Int64("stake", ag.Count).
			Int64("debited", debited).
			Msg("loser inventory below stake, shortfall burned")
	}

	_, err = store.Transact(ctx, s.store, wager.InventoryPath(winnerID),
		func(inv *material.Inventory, _ bool) error {
			inv.Add(ag.Material, ag.Count)
			return nil
		})
	if err != nil {
		s.log.Error().Err(err).Str("match_id", matchID).Msg("winner credit failed")
		return Result{}, err
	}

	for _, loginID := range []string{winnerID, loserID} {
		if err := s.res.Release(ctx, loginID, ag.Material, ag.Count); err != nil {
			s.log.Error().Err(err).
				Str("login_id", loginID).
				Str("match_id", matchID).
				Msg("stake release failed, leaving frozen drift")
		}
	}

	resolution := wager.Resolution{
		WinnerID:     winnerID,
		LoserID:      loserID,
		Material:     ag.Material,
		Count:        ag.Count,
		Total:        ag.Total,
		ResolvedAtUs: s.now().UnixMicro(),
	}
	_, err = store.Transact(ctx, s.store, wager.SlotPath(matchContext, matchID),
		func(slot *wager.Slot, _ bool) error {
			slot.Resolved = &resolution
			slot.Agreed = nil
			slot.ClearOpenState()
			return nil
		})
	if err != nil {
		s.log.Error().Err(err).Str("match_id", matchID).Msg("resolution write failed")
		return Result{}, err
	}

	s.metrics.SettlementsResolved.WithLabelValues(string(StatusSettled)).Inc()
	s.metrics.SettlementTransferred.WithLabelValues(string(ag.Material)).Add(float64(ag.Count))
	s.publish("resolved", matchContext, matchID, resolution)
	s.log.Info().
		Str("match_id", matchID).
		Str("winner_id", winnerID).
		Str("loser_id", loserID).
		Str("material", string(ag.Material)).
		Int64("count", ag.Count).
		Msg("wager settled")
	return Result{Status: StatusSettled, Resolution: &resolution}, nil
}

// releaseOpen unwinds a slot that never reached agreement: every
// outstanding proposer gets their reservation back and the proposals are
// cleared. No material moves.
func (s *Service) releaseOpen(ctx context.Context, matchContext, matchID string, slot wager.Slot) (Result, error) {
	for playerID, prop := range slot.Proposals {
		if err := s.res.Release(ctx, playerID, prop.Material, prop.Count); err != nil {
			s.log.Error().Err(err).
				Str("login_id", playerID).
				Str("match_id", matchID).
				Msg("open proposal release failed, leaving frozen drift")
			continue
		}
		s.metrics.CollateralReleased.WithLabelValues(string(prop.Material)).Add(float64(prop.Count))
	}

	_, err := store.Transact(ctx, s.store, wager.SlotPath(matchContext, matchID),
		func(cur *wager.Slot, _ bool) error {
			if cur.Terminal() {
				return store.ErrNoChange
			}
			cur.ClearOpenState()
			return nil
		})
	if err != nil {
		return Result{}, err
	}

	s.metrics.SettlementsResolved.WithLabelValues(string(StatusReleased)).Inc()
	s.publish("released", matchContext, matchID, map[string]any{"reason": "match_over"})
	s.log.Info().Str("match_id", matchID).Msg("open wager released at match end")
	return Result{Status: StatusReleased}, nil
}

// releaseAgreedStakes unwinds an agreement without a transfer.
func (s *Service) releaseAgreedStakes(ctx context.Context, matchContext, matchID string, ag *wager.Agreement) (Result, error) {
	for _, loginID := range []string{ag.ProposerID, ag.AccepterID} {
		if err := s.res.Release(ctx, loginID, ag.Material, ag.Count); err != nil {
			s.log.Error().Err(err).
				Str("login_id", loginID).
				Str("match_id", matchID).
				Msg("stake release failed, leaving frozen drift")
		}
	}
	_, err := store.Transact(ctx, s.store, wager.SlotPath(matchContext, matchID),
		func(slot *wager.Slot, _ bool) error {
			slot.Agreed = nil
			slot.ClearOpenState()
			return nil
		})
	if err != nil {
		return Result{}, err
	}
	s.metrics.SettlementsResolved.WithLabelValues(string(StatusReleased)).Inc()
	return Result{Status: StatusReleased}, nil
}

func (s *Service) publish(event, matchContext, matchID string, payload any) {
	if s.events == nil {
		return
	}
	s.events.Publish(event, matchContext, matchID, payload)
}
