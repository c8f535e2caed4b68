package settlement

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"WagerLedger/internal/material"
	"WagerLedger/internal/observability"
	"WagerLedger/internal/store"
	"WagerLedger/internal/wager"
)

// Reconciler sweeps collateral accounts against live wager state. Crash
// windows in the sagas (removal durable, release not yet applied;
// compensation failed) only ever leave EXCESS frozen collateral, so the
// sweep is one-directional: it lowers frozen counts that live wagers no
// longer justify and never raises them.
//
// The slot scan and the account clamp cannot be atomic, so a single sweep's
// view of "unjustified" is stale: a reservation whose record phase lands
// after the scan looks orphaned while its saga is still completing. Excess
// is therefore only corrected when it persists across two consecutive
// sweeps; sagas finish in milliseconds and sweeps are minutes apart, so
// surviving both scans means the backing proposal never arrived.
type Reconciler struct {
	store    store.Store
	metrics  *observability.Metrics
	log      zerolog.Logger
	interval time.Duration

	// Excess observed on the previous sweep, keyed by login then kind.
	// Sweep runs from a single goroutine; no lock.
	pending map[string]map[material.Kind]int64
}

func NewReconciler(st store.Store, metrics *observability.Metrics, log zerolog.Logger, interval time.Duration) *Reconciler {
	return &Reconciler{store: st, metrics: metrics, log: log, interval: interval}
}

// Run sweeps on a ticker until the context ends.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.log.Error().Err(err).Msg("reconciliation sweep failed")
			}
		}
	}
}

// Sweep recomputes the justified frozen total per login and kind from every
// live slot, then clamps accounts down to it. Newly observed excess is only
// recorded; the clamp applies to the portion that was already excess on the
// previous sweep, so an in-flight reservation seen once is spared.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	started := time.Now()
	defer func() {
		r.metrics.ReconcilerDuration.Observe(time.Since(started).Seconds())
	}()

	justified, err := r.justifiedFrozen(ctx)
	if err != nil {
		return 0, err
	}

	paths, err := r.store.List(ctx, wager.CollateralPrefix)
	if err != nil {
		return 0, err
	}

	corrected := 0
	excessByKind := make(map[material.Kind]int64)
	nextPending := make(map[string]map[material.Kind]int64)
	for _, path := range paths {
		loginID := strings.TrimPrefix(path, wager.CollateralPrefix)
		expected := justified[loginID]
		confirmed := r.pending[loginID]

		var clamped, remaining map[material.Kind]int64
		_, err := store.Transact(ctx, r.store, path,
			func(acct *material.CollateralAccount, exists bool) error {
				if !exists {
					return store.ErrNoChange
				}
				// The mutator can rerun on conflict; rebuild per pass.
				clamped = make(map[material.Kind]int64)
				remaining = make(map[material.Kind]int64)
				for kind, frozen := range acct.Frozen {
					excess := frozen - expected[kind]
					if excess <= 0 {
						continue
					}
					cut := min(excess, confirmed[kind])
					if cut > 0 {
						acct.Adjust(kind, -cut)
						clamped[kind] = cut
					}
					if rem := excess - cut; rem > 0 {
						remaining[kind] = rem
					}
				}
				if len(clamped) == 0 {
					return store.ErrNoChange
				}
				return nil
			})
		if err != nil {
			r.log.Error().Err(err).Str("login_id", loginID).Msg("reconcile account failed")
			continue
		}
		if len(remaining) > 0 {
			nextPending[loginID] = remaining
		}
		for kind, n := range clamped {
			excessByKind[kind] += n
		}
		for kind, n := range remaining {
			excessByKind[kind] += n
		}
		if len(clamped) > 0 {
			corrected++
			r.log.Warn().
				Str("login_id", loginID).
				Msg("frozen collateral drift corrected")
		}
	}
	r.pending = nextPending

	for _, kind := range material.Kinds() {
		r.metrics.ReconcilerExcess.WithLabelValues(string(kind)).Set(float64(excessByKind[kind]))
	}
	r.metrics.ReconcilerSweeps.Inc()
	r.metrics.ReconcilerCorrections.Add(float64(corrected))
	if corrected > 0 {
		r.log.Info().Int("accounts", corrected).Msg("reconciliation sweep corrected drift")
	}
	return corrected, nil
}

// justifiedFrozen sums, per login and kind, what live slots still hold:
// each open proposal and both stakes of an unresolved agreement.
func (r *Reconciler) justifiedFrozen(ctx context.Context) (map[string]map[material.Kind]int64, error) {
	paths, err := r.store.List(ctx, wager.WagersPrefix)
	if err != nil {
		return nil, err
	}

	justified := make(map[string]map[material.Kind]int64)
	add := func(loginID string, kind material.Kind, n int64) {
		m := justified[loginID]
		if m == nil {
			m = make(map[material.Kind]int64)
			justified[loginID] = m
		}
		m[kind] += n
	}

	for _, path := range paths {
		slot, found, err := store.Load[wager.Slot](ctx, r.store, path)
		if err != nil || !found {
			if err != nil {
				r.log.Error().Err(err).Str("path", path).Msg("reconcile slot read failed")
			}
			continue
		}
		if slot.Resolved != nil {
			continue
		}
		if slot.Agreed != nil {
			add(slot.Agreed.ProposerID, slot.Agreed.Material, slot.Agreed.Count)
			add(slot.Agreed.AccepterID, slot.Agreed.Material, slot.Agreed.Count)
			continue
		}
		for playerID, prop := range slot.Proposals {
			add(playerID, prop.Material, prop.Count)
		}
	}
	return justified, nil
}
