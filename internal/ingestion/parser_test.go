package ingestion_test

import (
	"testing"

	"WagerLedger/internal/ingestion"
)

const (
	goodMatchID = "2b1d9f4e-7c3a-4f0e-9b1a-1c2d3e4f5a6b"
	goodWinner  = "7f6e5d4c-3b2a-1908-a7b6-c5d4e3f2a1b0"
	goodLoser   = "0a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9"
)

func TestParseMatchResultValid(t *testing.T) {
	data := []byte(`{
		"match_context": "friendly",
		"match_id": "` + goodMatchID + `",
		"winner_id": "` + goodWinner + `",
		"loser_id": "` + goodLoser + `",
		"timestamp_us": 1756600000000000
	}`)

	result, err := ingestion.ParseMatchResult(data)
	if err != nil {
		t.Fatalf("ParseMatchResult: %v", err)
	}
	if result.MatchContext != "friendly" {
		t.Errorf("match context = %q, want %q", result.MatchContext, "friendly")
	}
	if result.MatchID != goodMatchID {
		t.Errorf("match id = %q, want %q", result.MatchID, goodMatchID)
	}
	if result.WinnerID != goodWinner || result.LoserID != goodLoser {
		t.Errorf("parties = %q/%q, want %q/%q", result.WinnerID, result.LoserID, goodWinner, goodLoser)
	}
	if result.TimestampUs != 1756600000000000 {
		t.Errorf("timestamp = %d, want 1756600000000000", result.TimestampUs)
	}

	outcome := result.Outcome()
	if outcome.WinnerID != goodWinner || outcome.LoserID != goodLoser {
		t.Errorf("outcome = %+v", outcome)
	}
}

func TestParseMatchResultRejects(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", `{{{{`},
		{"missing context", `{"match_id":"` + goodMatchID + `","winner_id":"` + goodWinner + `","loser_id":"` + goodLoser + `"}`},
		{"bad match id", `{"match_context":"friendly","match_id":"nope","winner_id":"` + goodWinner + `","loser_id":"` + goodLoser + `"}`},
		{"bad winner id", `{"match_context":"friendly","match_id":"` + goodMatchID + `","winner_id":"x","loser_id":"` + goodLoser + `"}`},
		{"bad loser id", `{"match_context":"friendly","match_id":"` + goodMatchID + `","winner_id":"` + goodWinner + `","loser_id":""}`},
		{"self outcome", `{"match_context":"friendly","match_id":"` + goodMatchID + `","winner_id":"` + goodWinner + `","loser_id":"` + goodWinner + `"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ingestion.ParseMatchResult([]byte(tc.data)); err == nil {
				t.Errorf("ParseMatchResult accepted %s", tc.name)
			}
		})
	}
}
