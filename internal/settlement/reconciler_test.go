package settlement_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"WagerLedger/internal/material"
	"WagerLedger/internal/observability"
	"WagerLedger/internal/oracle"
	"WagerLedger/internal/settlement"
	"WagerLedger/internal/store"
	"WagerLedger/internal/wager"
)

func newReconcilerHarness(t *testing.T) (*harness, *settlement.Reconciler) {
	t.Helper()
	h := newHarness(t)
	rec := settlement.NewReconciler(h.st, observability.NewTestMetrics(), zerolog.Nop(), time.Minute)
	return h, rec
}

func seedFrozen(t *testing.T, st store.Store, loginID string, kind material.Kind, n int64) {
	t.Helper()
	_, err := store.Transact(context.Background(), st, wager.CollateralPath(loginID),
		func(acct *material.CollateralAccount, _ bool) error {
			acct.Adjust(kind, n)
			return nil
		})
	if err != nil {
		t.Fatalf("seed frozen %s: %v", loginID, err)
	}
}

func TestSweepClampsOrphanedFrozenAfterConfirmation(t *testing.T) {
	h, rec := newReconcilerHarness(t)
	ctx := context.Background()

	// Frozen collateral with no live wager behind it: a crash window leak.
	seedFrozen(t, h.st, alice, material.KindDust, 5)

	// First sighting only records the excess.
	corrected, err := rec.Sweep(ctx)
	if err != nil {
		t.Fatalf("first Sweep: %v", err)
	}
	if corrected != 0 {
		t.Errorf("first sweep corrected = %d, want 0 (excess not yet confirmed)", corrected)
	}
	if got := h.frozen(t, alice, material.KindDust); got != 5 {
		t.Errorf("frozen = %d, want 5 untouched after first sweep", got)
	}

	// Still orphaned on the second sweep: now it gets clamped.
	corrected, err = rec.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if corrected != 1 {
		t.Errorf("second sweep corrected = %d, want 1", corrected)
	}
	if got := h.frozen(t, alice, material.KindDust); got != 0 {
		t.Errorf("frozen = %d, want 0 after confirmed sweep", got)
	}
}

func TestSweepKeepsProposalBackedFrozen(t *testing.T) {
	h, rec := newReconcilerHarness(t)
	h.seedInventory(t, alice, material.KindDust, 10)
	ctx := context.Background()

	if _, err := h.coord.Submit(ctx, alice, friendly, matchID, material.KindDust, 4); err != nil {
		t.Fatalf("submit: %v", err)
	}

	for pass := 0; pass < 2; pass++ {
		corrected, err := rec.Sweep(ctx)
		if err != nil {
			t.Fatalf("Sweep %d: %v", pass, err)
		}
		if corrected != 0 {
			t.Errorf("sweep %d corrected = %d, want 0 (frozen is justified)", pass, corrected)
		}
	}
	if got := h.frozen(t, alice, material.KindDust); got != 4 {
		t.Errorf("frozen = %d, want 4 untouched", got)
	}
}

func TestSweepSparesReservationRecordedBetweenSweeps(t *testing.T) {
	h, rec := newReconcilerHarness(t)
	h.seedInventory(t, alice, material.KindDust, 10)
	ctx := context.Background()

	// Reserve phase committed, record phase not yet: to a sweep running
	// right now this reservation looks orphaned.
	if _, err := h.res.Reserve(ctx, alice, material.KindDust, 4, 10); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if _, err := rec.Sweep(ctx); err != nil {
		t.Fatalf("first Sweep: %v", err)
	}
	if got := h.frozen(t, alice, material.KindDust); got != 4 {
		t.Fatalf("frozen = %d, want 4 (in-flight reservation spared)", got)
	}

	// The record phase lands before the next sweep.
	_, err := store.Transact(ctx, h.st, wager.SlotPath(friendly, matchID),
		func(slot *wager.Slot, _ bool) error {
			slot.SetProposal(alice, wager.Proposal{Material: material.KindDust, Count: 4})
			return nil
		})
	if err != nil {
		t.Fatalf("record proposal: %v", err)
	}

	corrected, err := rec.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if corrected != 0 {
		t.Errorf("corrected = %d, want 0 (excess resolved by the record phase)", corrected)
	}
	if got := h.frozen(t, alice, material.KindDust); got != 4 {
		t.Errorf("frozen = %d, want 4 (completed saga untouched)", got)
	}
}

func TestSweepKeepsAgreementStakesAndTrimsExcess(t *testing.T) {
	h, rec := newReconcilerHarness(t)
	h.seedInventory(t, alice, material.KindDust, 10)
	h.seedInventory(t, bob, material.KindDust, 3)
	h.agreeWager(t, 4) // agreed stake 3 each
	ctx := context.Background()

	// Manufacture drift on top of the legitimate stake.
	seedFrozen(t, h.st, alice, material.KindDust, 2)
	seedFrozen(t, h.st, bob, material.KindOre, 7)

	if _, err := rec.Sweep(ctx); err != nil {
		t.Fatalf("first Sweep: %v", err)
	}
	corrected, err := rec.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if corrected != 2 {
		t.Errorf("corrected = %d, want 2", corrected)
	}
	if got := h.frozen(t, alice, material.KindDust); got != 3 {
		t.Errorf("alice frozen = %d, want 3 (agreement stake kept)", got)
	}
	if got := h.frozen(t, bob, material.KindDust); got != 3 {
		t.Errorf("bob frozen = %d, want 3 (agreement stake kept)", got)
	}
	if got := h.frozen(t, bob, material.KindOre); got != 0 {
		t.Errorf("bob frozen ore = %d, want 0 (orphaned)", got)
	}
}

func TestSweepIgnoresResolvedSlots(t *testing.T) {
	h, rec := newReconcilerHarness(t)
	h.seedInventory(t, alice, material.KindDust, 10)
	h.seedInventory(t, bob, material.KindDust, 3)
	h.agreeWager(t, 4)
	ctx := context.Background()

	if _, err := h.settle.Resolve(ctx, friendly, matchID,
		oracle.Outcome{WinnerID: alice, LoserID: bob}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// A resolved slot justifies nothing; leftover frozen is cleared once
	// two sweeps have seen it.
	seedFrozen(t, h.st, alice, material.KindDust, 1)

	for pass := 0; pass < 2; pass++ {
		if _, err := rec.Sweep(ctx); err != nil {
			t.Fatalf("Sweep %d: %v", pass, err)
		}
	}
	if got := h.frozen(t, alice, material.KindDust); got != 0 {
		t.Errorf("alice frozen = %d, want 0", got)
	}
}
