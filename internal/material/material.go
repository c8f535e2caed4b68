// Package material defines the in-game material kinds that can be wagered
// and the two per-player ledger documents: the owned inventory and the
// frozen-collateral account that shadows it.
package material

// Kind identifies a stackable in-game material.
type Kind string

const (
	KindDust    Kind = "dust"
	KindOre     Kind = "ore"
	KindCrystal Kind = "crystal"
	KindShard   Kind = "shard"
	KindEssence Kind = "essence"
)

// Kinds returns every wagerable kind in stable order.
func Kinds() []Kind {
	return []Kind{KindDust, KindOre, KindCrystal, KindShard, KindEssence}
}

func (k Kind) Valid() bool {
	switch k {
	case KindDust, KindOre, KindCrystal, KindShard, KindEssence:
		return true
	}
	return false
}

// ParseKind maps a wire string onto a Kind.
func ParseKind(s string) (Kind, bool) {
	k := Kind(s)
	return k, k.Valid()
}

// NormalizeCount clamps a caller-supplied count to the non-negative range.
// Counts are whole units; negatives are treated as zero, never as debt.
func NormalizeCount(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

// Available returns how much of an owned stack is not frozen as collateral.
// Never negative, even if the frozen figure has drifted above owned.
func Available(owned, frozen int64) int64 {
	if frozen >= owned {
		return 0
	}
	return owned - frozen
}

// Inventory is the owned-materials document at inventory/{profileId}.
type Inventory struct {
	Materials map[Kind]int64 `json:"materials,omitempty"`
}

func (inv *Inventory) Count(k Kind) int64 {
	return inv.Materials[k]
}

// Add applies a signed adjustment to the owned count, clamped at zero, and
// returns the delta actually applied. Transfers out of an inventory that has
// shrunk below the stake burn the shortfall rather than going negative.
func (inv *Inventory) Add(k Kind, n int64) int64 {
	cur := inv.Materials[k]
	next := cur + n
	if next < 0 {
		next = 0
	}
	if inv.Materials == nil {
		inv.Materials = make(map[Kind]int64)
	}
	if next == 0 {
		delete(inv.Materials, k)
	} else {
		inv.Materials[k] = next
	}
	return next - cur
}

// CollateralAccount is the frozen-collateral document at collateral/{loginId}.
// Invariant: for every kind, frozen never exceeds the owned count in the
// matching inventory, except transiently during crash-window drift that the
// reconciler corrects.
type CollateralAccount struct {
	Frozen map[Kind]int64 `json:"frozen,omitempty"`
}

func (a *CollateralAccount) FrozenCount(k Kind) int64 {
	return a.Frozen[k]
}

// Adjust applies a signed adjustment to the frozen count, clamped at zero,
// and returns the delta actually applied. Releasing more than is frozen
// clamps rather than erroring, so compensations and settlement releases are
// safe to replay.
func (a *CollateralAccount) Adjust(k Kind, n int64) int64 {
	cur := a.Frozen[k]
	next := cur + n
	if next < 0 {
		next = 0
	}
	if a.Frozen == nil {
		a.Frozen = make(map[Kind]int64)
	}
	if next == 0 {
		delete(a.Frozen, k)
	} else {
		a.Frozen[k] = next
	}
	return next - cur
}
