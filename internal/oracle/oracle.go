// Package oracle holds the collaborator interfaces the wager protocol
// consumes but does not own: the game outcome oracle and the match
// directory.
package oracle

import (
	"context"
	"errors"
	"fmt"

	"WagerLedger/internal/store"
	"WagerLedger/internal/wager"
)

// Outcome names the winner and loser of a finished match.
type Outcome struct {
	WinnerID string
	LoserID  string
}

// Oracle determines a match outcome from the recorded game state. The
// function is opaque to this service; outcomes normally arrive pre-computed
// on the match results stream and this interface exists for embedders that
// settle in-process.
type Oracle interface {
	DetermineOutcome(ctx context.Context, matchContext, matchID string) (Outcome, bool, error)
}

// ErrMatchNotFound means the match directory has no entry for the id.
var ErrMatchNotFound = errors.New("match not found")

// Match context values classify how a match was formed. Queue-matched games
// have wagers disabled.
const (
	ContextFriendly = "friendly"
	ContextQueue    = "queue"
)

// MatchDirectory resolves who plays in a match and whether its category
// permits wagers.
type MatchDirectory interface {
	ParticipantsOf(ctx context.Context, matchContext, matchID string) (hostID, guestID string, err error)
	WagerAllowed(matchContext string) bool
}

// matchDoc is the directory document at matches/{context}/{id}.
type matchDoc struct {
	HostID  string `json:"host_id"`
	GuestID string `json:"guest_id"`
}

// StoreDirectory reads participants from the shared document store, where
// the matchmaking service publishes them.
type StoreDirectory struct {
	store store.Store
}

func NewStoreDirectory(st store.Store) *StoreDirectory {
	return &StoreDirectory{store: st}
}

func (d *StoreDirectory) ParticipantsOf(ctx context.Context, matchContext, matchID string) (string, string, error) {
	doc, found, err := store.Load[matchDoc](ctx, d.store, wager.MatchPath(matchContext, matchID))
	if err != nil {
		return "", "", fmt.Errorf("match directory %s/%s: %w", matchContext, matchID, err)
	}
	if !found {
		return "", "", ErrMatchNotFound
	}
	return doc.HostID, doc.GuestID, nil
}

func (d *StoreDirectory) WagerAllowed(matchContext string) bool {
	return matchContext != ContextQueue
}

// RegisterMatch writes a directory entry. Exposed for tests and for
// deployments where matchmaking shares this store.
func (d *StoreDirectory) RegisterMatch(ctx context.Context, matchContext, matchID, hostID, guestID string) error {
	_, err := store.Transact(ctx, d.store, wager.MatchPath(matchContext, matchID),
		func(doc *matchDoc, _ bool) error {
			doc.HostID = hostID
			doc.GuestID = guestID
			return nil
		})
	return err
}
