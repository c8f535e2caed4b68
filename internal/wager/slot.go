// Package wager defines the per-match wager slot document and the store
// paths the protocol lives at.
package wager

import "WagerLedger/internal/material"

// Proposal is one player's open offer: "I stake count units of material".
// The count is already reserved in the proposer's collateral account by the
// time the proposal is visible in the slot.
type Proposal struct {
	Material    material.Kind `json:"material"`
	Count       int64         `json:"count"`
	CreatedAtUs int64         `json:"created_at_us"`
}

// Agreement records a locked-in wager. Count is the per-side stake after
// capping at the accepter's capacity; Total is both sides combined.
type Agreement struct {
	Material   material.Kind `json:"material"`
	Count      int64         `json:"count"`
	Total      int64         `json:"total"`
	ProposerID string        `json:"proposer_id"`
	AccepterID string        `json:"accepter_id"`
	AgreedAtUs int64         `json:"agreed_at_us"`
}

// Resolution records a settled wager.
type Resolution struct {
	WinnerID     string        `json:"winner_id"`
	LoserID      string        `json:"loser_id"`
	Material     material.Kind `json:"material"`
	Count        int64         `json:"count"`
	Total        int64         `json:"total"`
	ResolvedAtUs int64         `json:"resolved_at_us"`
}

// Slot is the wager document at wagers/{matchContext}/{matchId}. It moves
// through three mutually exclusive shapes: open (proposals only), agreed,
// and resolved. Once Agreed or Resolved is set the slot is terminal for
// proposal traffic.
type Slot struct {
	Proposals  map[string]Proposal `json:"proposals,omitempty"`
	ProposedBy map[string]bool     `json:"proposed_by,omitempty"`
	Agreed     *Agreement          `json:"agreed,omitempty"`
	Resolved   *Resolution         `json:"resolved,omitempty"`
}

// Terminal reports whether the slot stopped accepting proposal mutations.
func (s *Slot) Terminal() bool {
	return s.Agreed != nil || s.Resolved != nil
}

// ProposalFor returns the named player's open proposal, if any.
func (s *Slot) ProposalFor(playerID string) (Proposal, bool) {
	p, ok := s.Proposals[playerID]
	return p, ok
}

// SetProposal records an open proposal for playerID, allocating the maps on
// first use.
func (s *Slot) SetProposal(playerID string, p Proposal) {
	if s.Proposals == nil {
		s.Proposals = make(map[string]Proposal)
	}
	if s.ProposedBy == nil {
		s.ProposedBy = make(map[string]bool)
	}
	s.Proposals[playerID] = p
	s.ProposedBy[playerID] = true
}

// RemoveProposal drops playerID's open proposal and its authorship marker.
func (s *Slot) RemoveProposal(playerID string) {
	delete(s.Proposals, playerID)
	delete(s.ProposedBy, playerID)
	if len(s.Proposals) == 0 {
		s.Proposals = nil
	}
	if len(s.ProposedBy) == 0 {
		s.ProposedBy = nil
	}
}

// ClearOpenState drops all proposals, used when the slot turns terminal.
func (s *Slot) ClearOpenState() {
	s.Proposals = nil
	s.ProposedBy = nil
}
