package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"WagerLedger/internal/oracle"
)

// MatchResult is a validated finished-match report off the results stream.
type MatchResult struct {
	MatchContext string
	MatchID      string
	WinnerID     string
	LoserID      string
	TimestampUs  int64
}

// matchResultJSON is the wire shape published by the game servers.
type matchResultJSON struct {
	MatchContext string `json:"match_context"`
	MatchID      string `json:"match_id"`
	WinnerID     string `json:"winner_id"`
	LoserID      string `json:"loser_id"`
	TimestampUs  int64  `json:"timestamp_us"`
}

// ParseMatchResult validates a raw results-stream message. Malformed
// messages are permanently rejected by the settlement loop (acked, never
// redelivered), so everything that can be checked without state is checked
// here.
func ParseMatchResult(data []byte) (MatchResult, error) {
	var wire matchResultJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return MatchResult{}, fmt.Errorf("unmarshal match result: %w", err)
	}

	if wire.MatchContext == "" {
		return MatchResult{}, fmt.Errorf("missing match_context")
	}
	if _, err := uuid.Parse(wire.MatchID); err != nil {
		return MatchResult{}, fmt.Errorf("invalid match_id %q: %w", wire.MatchID, err)
	}
	if _, err := uuid.Parse(wire.WinnerID); err != nil {
		return MatchResult{}, fmt.Errorf("invalid winner_id %q: %w", wire.WinnerID, err)
	}
	if _, err := uuid.Parse(wire.LoserID); err != nil {
		return MatchResult{}, fmt.Errorf("invalid loser_id %q: %w", wire.LoserID, err)
	}
	if wire.WinnerID == wire.LoserID {
		return MatchResult{}, fmt.Errorf("winner and loser are the same player %q", wire.WinnerID)
	}

	return MatchResult{
		MatchContext: wire.MatchContext,
		MatchID:      wire.MatchID,
		WinnerID:     wire.WinnerID,
		LoserID:      wire.LoserID,
		TimestampUs:  wire.TimestampUs,
	}, nil
}

// Outcome converts the result into the settlement input.
func (r MatchResult) Outcome() oracle.Outcome {
	return oracle.Outcome{WinnerID: r.WinnerID, LoserID: r.LoserID}
}
