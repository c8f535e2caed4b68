package reservation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"WagerLedger/internal/material"
	"WagerLedger/internal/reservation"
	"WagerLedger/internal/store"
	"WagerLedger/internal/wager"
)

func newService(t *testing.T) (*reservation.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return reservation.NewService(mem, zerolog.Nop()), mem
}

func frozen(t *testing.T, st store.Store, loginID string, kind material.Kind) int64 {
	t.Helper()
	acct, _, err := store.Load[material.CollateralAccount](context.Background(), st, wager.CollateralPath(loginID))
	if err != nil {
		t.Fatalf("load collateral: %v", err)
	}
	return acct.FrozenCount(kind)
}

func TestReserveGrantsRequestedWhenAvailable(t *testing.T) {
	svc, mem := newService(t)

	granted, err := svc.Reserve(context.Background(), "alice", material.KindDust, 4, 10)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if granted != 4 {
		t.Errorf("granted = %d, want 4", granted)
	}
	if got := frozen(t, mem, "alice", material.KindDust); got != 4 {
		t.Errorf("frozen = %d, want 4", got)
	}
}

func TestReserveCapsAtAvailability(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, "alice", material.KindDust, 6, 10); err != nil {
		t.Fatalf("first reserve: %v", err)
	}

	// 10 owned, 6 already frozen: only 4 left.
	granted, err := svc.Reserve(ctx, "alice", material.KindDust, 9, 10)
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if granted != 4 {
		t.Errorf("granted = %d, want 4 (capped)", granted)
	}
	if got := frozen(t, mem, "alice", material.KindDust); got != 10 {
		t.Errorf("frozen = %d, want 10", got)
	}
}

func TestReserveZeroGrantIsInsufficient(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()

	cases := []struct {
		name      string
		requested int64
		owned     int64
	}{
		{"nothing owned", 5, 0},
		{"negative request", -3, 10},
		{"zero request", 0, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Reserve(ctx, "bob", material.KindOre, tc.requested, tc.owned)
			if !errors.Is(err, reservation.ErrInsufficientCollateral) {
				t.Errorf("err = %v, want ErrInsufficientCollateral", err)
			}
		})
	}
	if got := frozen(t, mem, "bob", material.KindOre); got != 0 {
		t.Errorf("frozen = %d, want 0 after rejected reserves", got)
	}
}

func TestReleaseClampsAtZero(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, "alice", material.KindDust, 3, 10); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := svc.Release(ctx, "alice", material.KindDust, 100); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got := frozen(t, mem, "alice", material.KindDust); got != 0 {
		t.Errorf("frozen = %d, want 0", got)
	}

	// Releasing against an empty account is a no-op, not an error.
	if err := svc.Release(ctx, "nobody", material.KindDust, 5); err != nil {
		t.Errorf("Release on empty account: %v", err)
	}
}

func TestReserveForAcceptCapsAtCapacity(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()

	inv := &material.Inventory{Materials: map[material.Kind]int64{material.KindDust: 3}}
	accepted, delta, err := svc.ReserveForAccept(ctx, "bob", material.KindDust, 4, nil, inv)
	if err != nil {
		t.Fatalf("ReserveForAccept: %v", err)
	}
	if accepted != 3 {
		t.Errorf("accepted = %d, want 3 (capped at owned)", accepted)
	}
	if delta[material.KindDust] != 3 {
		t.Errorf("delta[dust] = %d, want 3", delta[material.KindDust])
	}
	if got := frozen(t, mem, "bob", material.KindDust); got != 3 {
		t.Errorf("frozen = %d, want 3", got)
	}
}

func TestReserveForAcceptBacksOutOwnProposal(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()

	// Bob has an open counter-offer of 5 ore already frozen.
	if _, err := svc.Reserve(ctx, "bob", material.KindOre, 5, 8); err != nil {
		t.Fatalf("seed reserve: %v", err)
	}

	own := &wager.Proposal{Material: material.KindOre, Count: 5}
	inv := &material.Inventory{Materials: map[material.Kind]int64{
		material.KindOre:  8,
		material.KindDust: 10,
	}}
	accepted, delta, err := svc.ReserveForAccept(ctx, "bob", material.KindDust, 4, own, inv)
	if err != nil {
		t.Fatalf("ReserveForAccept: %v", err)
	}
	if accepted != 4 {
		t.Errorf("accepted = %d, want 4", accepted)
	}
	if delta[material.KindOre] != -5 {
		t.Errorf("delta[ore] = %d, want -5", delta[material.KindOre])
	}
	if delta[material.KindDust] != 4 {
		t.Errorf("delta[dust] = %d, want 4", delta[material.KindDust])
	}
	if got := frozen(t, mem, "bob", material.KindOre); got != 0 {
		t.Errorf("frozen ore = %d, want 0 (backed out)", got)
	}
	if got := frozen(t, mem, "bob", material.KindDust); got != 4 {
		t.Errorf("frozen dust = %d, want 4", got)
	}
}

func TestReserveForAcceptSameKindNets(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()

	// Own proposal of 4 dust; accepting a 3 dust offer nets to -1.
	if _, err := svc.Reserve(ctx, "bob", material.KindDust, 4, 10); err != nil {
		t.Fatalf("seed reserve: %v", err)
	}

	own := &wager.Proposal{Material: material.KindDust, Count: 4}
	inv := &material.Inventory{Materials: map[material.Kind]int64{material.KindDust: 10}}
	accepted, delta, err := svc.ReserveForAccept(ctx, "bob", material.KindDust, 3, own, inv)
	if err != nil {
		t.Fatalf("ReserveForAccept: %v", err)
	}
	if accepted != 3 {
		t.Errorf("accepted = %d, want 3", accepted)
	}
	if delta[material.KindDust] != -1 {
		t.Errorf("delta[dust] = %d, want -1 (net)", delta[material.KindDust])
	}
	if got := frozen(t, mem, "bob", material.KindDust); got != 3 {
		t.Errorf("frozen = %d, want 3", got)
	}
}

func TestReserveForAcceptInsufficient(t *testing.T) {
	svc, _ := newService(t)

	inv := &material.Inventory{}
	_, _, err := svc.ReserveForAccept(context.Background(), "bob", material.KindDust, 4, nil, inv)
	if !errors.Is(err, reservation.ErrInsufficientCollateral) {
		t.Errorf("err = %v, want ErrInsufficientCollateral", err)
	}
}

func TestApplyDeltaNegateRoundTrips(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, "bob", material.KindOre, 5, 8); err != nil {
		t.Fatalf("seed: %v", err)
	}
	inv := &material.Inventory{Materials: map[material.Kind]int64{
		material.KindOre:  8,
		material.KindDust: 10,
	}}
	own := &wager.Proposal{Material: material.KindOre, Count: 5}
	_, delta, err := svc.ReserveForAccept(ctx, "bob", material.KindDust, 4, own, inv)
	if err != nil {
		t.Fatalf("ReserveForAccept: %v", err)
	}

	// Compensation restores the pre-accept frozen state.
	if err := svc.ApplyDelta(ctx, "bob", reservation.Negate(delta)); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if got := frozen(t, mem, "bob", material.KindOre); got != 5 {
		t.Errorf("frozen ore = %d, want 5 (restored)", got)
	}
	if got := frozen(t, mem, "bob", material.KindDust); got != 0 {
		t.Errorf("frozen dust = %d, want 0 (restored)", got)
	}
}
