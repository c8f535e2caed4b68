// Package reservation manages the frozen-collateral side of the wager
// protocol. Every mutation is a single CAS pass over one collateral
// document, so each call is atomic on its own; callers sequence these calls
// into sagas and compensate with the deltas this package reports back.
package reservation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"WagerLedger/internal/material"
	"WagerLedger/internal/store"
	"WagerLedger/internal/wager"
)

// ErrInsufficientCollateral means no positive amount could be reserved.
var ErrInsufficientCollateral = errors.New("insufficient collateral")

type Service struct {
	store store.Store
	log   zerolog.Logger
}

func NewService(st store.Store, log zerolog.Logger) *Service {
	return &Service{store: st, log: log}
}

// Reserve freezes up to requested units of kind against the login's
// collateral account, capped at what the owned count leaves available.
// Partial grants are success; a zero grant is ErrInsufficientCollateral.
// owned is the caller's read of the inventory count for kind.
func (s *Service) Reserve(ctx context.Context, loginID string, kind material.Kind, requested, owned int64) (int64, error) {
	requested = material.NormalizeCount(requested)
	var granted int64
	_, err := store.Transact(ctx, s.store, wager.CollateralPath(loginID),
		func(acct *material.CollateralAccount, _ bool) error {
			// Recomputed on every CAS pass against the fresh frozen figure.
			granted = min(requested, material.Available(owned, acct.FrozenCount(kind)))
			if granted <= 0 {
				return ErrInsufficientCollateral
			}
			acct.Adjust(kind, granted)
			return nil
		})
	if err != nil {
		return 0, err
	}
	s.log.Debug().
		Str("login_id", loginID).
		Str("material", string(kind)).
		Int64("requested", requested).
		Int64("granted", granted).
		Msg("collateral reserved")
	return granted, nil
}

// Release unfreezes amount units of kind, clamping at zero so replays and
// compensations of partially applied sagas stay safe.
func (s *Service) Release(ctx context.Context, loginID string, kind material.Kind, amount int64) error {
	amount = material.NormalizeCount(amount)
	if amount == 0 {
		return nil
	}
	_, err := store.Transact(ctx, s.store, wager.CollateralPath(loginID),
		func(acct *material.CollateralAccount, exists bool) error {
			if !exists || acct.FrozenCount(kind) == 0 {
				return store.ErrNoChange
			}
			acct.Adjust(kind, -amount)
			return nil
		})
	if err != nil {
		return fmt.Errorf("release %s/%s: %w", loginID, kind, err)
	}
	return nil
}

// ReserveForAccept performs the accepter's combined collateral move in one
// CAS pass: back out the accepter's own open proposal (if any), then freeze
// up to targetCount of targetKind, capped at the accepter's availability.
// It returns the accepted stake and the net applied delta per kind; the
// caller compensates a failed record phase by applying the negated delta.
func (s *Service) ReserveForAccept(
	ctx context.Context,
	loginID string,
	targetKind material.Kind,
	targetCount int64,
	ownProposal *wager.Proposal,
	inv *material.Inventory,
) (int64, map[material.Kind]int64, error) {
	targetCount = material.NormalizeCount(targetCount)
	var accepted int64
	var delta map[material.Kind]int64
	_, err := store.Transact(ctx, s.store, wager.CollateralPath(loginID),
		func(acct *material.CollateralAccount, _ bool) error {
			delta = make(map[material.Kind]int64)
			if ownProposal != nil {
				if applied := acct.Adjust(ownProposal.Material, -ownProposal.Count); applied != 0 {
					delta[ownProposal.Material] += applied
				}
			}
			capacity := material.Available(inv.Count(targetKind), acct.FrozenCount(targetKind))
			accepted = min(targetCount, capacity)
			if accepted <= 0 {
				return ErrInsufficientCollateral
			}
			acct.Adjust(targetKind, accepted)
			delta[targetKind] += accepted
			return nil
		})
	if err != nil {
		return 0, nil, err
	}
	return accepted, delta, nil
}

// ApplyDelta applies a signed per-kind adjustment to the frozen map, clamped
// at zero per kind. Compensation calls this with a negated ReserveForAccept
// delta.
func (s *Service) ApplyDelta(ctx context.Context, loginID string, delta map[material.Kind]int64) error {
	if len(delta) == 0 {
		return nil
	}
	_, err := store.Transact(ctx, s.store, wager.CollateralPath(loginID),
		func(acct *material.CollateralAccount, _ bool) error {
			for kind, n := range delta {
				acct.Adjust(kind, n)
			}
			return nil
		})
	if err != nil {
		return fmt.Errorf("apply delta %s: %w", loginID, err)
	}
	return nil
}

// Negate returns the sign-flipped copy of a delta map.
func Negate(delta map[material.Kind]int64) map[material.Kind]int64 {
	out := make(map[material.Kind]int64, len(delta))
	for k, n := range delta {
		out[k] = -n
	}
	return out
}
