package wager

// Store path layout. Each path is an independent CAS domain; nothing below
// assumes two paths can change atomically together.

const (
	WagersPrefix     = "wagers/"
	CollateralPrefix = "collateral/"
)

// InventoryPath locates a player's owned-materials document.
func InventoryPath(profileID string) string {
	return "inventory/" + profileID
}

// CollateralPath locates a player's frozen-collateral document.
func CollateralPath(loginID string) string {
	return CollateralPrefix + loginID
}

// SlotPath locates the wager slot for a match.
func SlotPath(matchContext, matchID string) string {
	return WagersPrefix + matchContext + "/" + matchID
}

// SettlementLockPath locates the once-only settlement flag for a match.
func SettlementLockPath(matchID string) string {
	return "settlementLocks/" + matchID
}

// MatchPath locates the match directory document naming the participants.
func MatchPath(matchContext, matchID string) string {
	return "matches/" + matchContext + "/" + matchID
}
