// Package consensus implements single-shot quorum voting over proposals.
// A proposal resolves once ⌊2/3 × known-node-count⌋ votes accumulate;
// unresolved proposals are purged silently by the timeout sweep, so callers
// must treat silence as failure. The Round field is carried on the wire for
// schema compatibility but this engine never advances it.
package consensus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/switchyard/internal/bus"
	"github.com/zulandar/switchyard/internal/message"
	"go.uber.org/zap"
)

// Decision is a single vote's verdict.
type Decision string

const (
	Accept  Decision = "accept"
	Reject  Decision = "reject"
	Abstain Decision = "abstain"
)

// Result is a resolved proposal's outcome.
type Result string

const (
	Accepted Result = "accepted"
	Rejected Result = "rejected"
)

// Proposal is a value put to the swarm for agreement.
type Proposal struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Proposer     string    `json:"proposer"`
	Value        []byte    `json:"value"`
	Round        int       `json:"round"`
	Participants []string  `json:"participants,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	Signatures   []string  `json:"signatures,omitempty"`
}

// Vote is one node's verdict on a proposal.
type Vote struct {
	ProposalID string    `json:"proposal_id"`
	Voter      string    `json:"voter"`
	Decision   Decision  `json:"decision"`
	Reasoning  string    `json:"reasoning,omitempty"`
	CastAt     time.Time `json:"cast_at"`
}

// Sender sends consensus traffic through the router.
type Sender interface {
	Send(msg *message.Message) error
}

// Engine tracks open proposals and their votes.
type Engine struct {
	mu        sync.Mutex
	local     string
	proposals map[string]*Proposal
	votes     map[string]map[string]Vote // proposal ID -> voter -> vote
	evaluator Evaluator
	nodeCount func() int
	timeout   time.Duration
	send      Sender
	events    *bus.Bus
	log       *zap.Logger

	reached int64
}

// New creates a consensus engine. The evaluator is mandatory: there is no
// default voting policy.
func New(local string, evaluator Evaluator, nodeCount func() int, timeout time.Duration, send Sender, events *bus.Bus, log *zap.Logger) (*Engine, error) {
	if evaluator == nil {
		return nil, fmt.Errorf("consensus: evaluator is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		local:     local,
		proposals: make(map[string]*Proposal),
		votes:     make(map[string]map[string]Vote),
		evaluator: evaluator,
		nodeCount: nodeCount,
		timeout:   timeout,
		send:      send,
		events:    events,
		log:       log,
	}, nil
}

// Quorum returns ⌊2/3 × known-node-count⌋, with a floor of one vote.
func (e *Engine) Quorum() int {
	q := e.nodeCount() * 2 / 3
	if q < 1 {
		q = 1
	}
	return q
}

// Initiate creates a round-1 proposal, multicasts it at high priority to the
// given participants (or broadcasts when none are named), and casts the
// local vote. Returns the proposal ID.
func (e *Engine) Initiate(ptype string, value []byte, participants []string, now time.Time) (string, error) {
	if ptype == "" {
		return "", fmt.Errorf("consensus: proposal type is required")
	}

	p := &Proposal{
		ID:           uuid.NewString(),
		Type:         ptype,
		Proposer:     e.local,
		Value:        value,
		Round:        1,
		Participants: participants,
		CreatedAt:    now,
	}

	e.mu.Lock()
	e.proposals[p.ID] = p
	e.votes[p.ID] = make(map[string]Vote)
	e.mu.Unlock()

	e.events.Publish(bus.ConsensusInitiated, map[string]any{
		"proposal_id": p.ID,
		"type":        ptype,
		"proposer":    e.local,
	})

	payload, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("consensus: marshal proposal: %w", err)
	}
	msg := message.New(message.TypeConsensus, e.local, participants, payload)
	msg.Priority = message.PriorityHigh
	if err := e.send.Send(msg); err != nil {
		return "", fmt.Errorf("consensus: send proposal %s: %w", p.ID, err)
	}

	// The proposer votes like any other participant.
	decision, reasoning := e.evaluator.Evaluate(p)
	if err := e.CastVote(p.ID, e.local, decision, reasoning, now); err != nil {
		return "", err
	}
	return p.ID, nil
}

// HandleMessage processes inbound consensus traffic: proposals are stored
// and voted on via the evaluator; votes are tallied.
func (e *Engine) HandleMessage(msg *message.Message) {
	var v Vote
	if err := json.Unmarshal(msg.Payload, &v); err == nil && v.ProposalID != "" && v.Voter != "" {
		if err := e.CastVote(v.ProposalID, v.Voter, v.Decision, v.Reasoning, v.CastAt); err != nil {
			e.log.Debug("vote dropped", zap.String("proposal_id", v.ProposalID), zap.Error(err))
		}
		return
	}

	var p Proposal
	if err := json.Unmarshal(msg.Payload, &p); err != nil || p.ID == "" {
		e.log.Warn("malformed consensus payload", zap.String("message_id", msg.ID))
		return
	}

	e.mu.Lock()
	if _, seen := e.proposals[p.ID]; seen {
		e.mu.Unlock()
		return
	}
	e.proposals[p.ID] = &p
	e.votes[p.ID] = make(map[string]Vote)
	e.mu.Unlock()

	decision, reasoning := e.evaluator.Evaluate(&p)
	vote := Vote{ProposalID: p.ID, Voter: e.local, Decision: decision, Reasoning: reasoning, CastAt: time.Now()}
	if err := e.CastVote(p.ID, e.local, decision, reasoning, vote.CastAt); err != nil {
		return
	}

	// Return the vote to the proposer so it can tally.
	payload, err := json.Marshal(vote)
	if err != nil {
		return
	}
	reply := message.New(message.TypeConsensus, e.local, []string{p.Proposer}, payload)
	reply.Priority = message.PriorityHigh
	if err := e.send.Send(reply); err != nil {
		e.log.Warn("vote reply failed", zap.String("proposal_id", p.ID), zap.Error(err))
	}
}

// Cast records the local node's vote. When the proposal originated on
// another node the vote is also forwarded to the proposer, which owns the
// tally; a vote that only lands in the local map can never reach quorum.
func (e *Engine) Cast(proposalID string, decision Decision, reasoning string, now time.Time) error {
	e.mu.Lock()
	p, ok := e.proposals[proposalID]
	var proposer string
	if ok {
		proposer = p.Proposer
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("consensus: unknown proposal %s", proposalID)
	}

	if err := e.CastVote(proposalID, e.local, decision, reasoning, now); err != nil {
		return err
	}
	if proposer == e.local {
		return nil
	}

	v := Vote{ProposalID: proposalID, Voter: e.local, Decision: decision, Reasoning: reasoning, CastAt: now}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("consensus: marshal vote: %w", err)
	}
	msg := message.New(message.TypeConsensus, e.local, []string{proposer}, payload)
	msg.Priority = message.PriorityHigh
	if err := e.send.Send(msg); err != nil {
		return fmt.Errorf("consensus: forward vote for %s: %w", proposalID, err)
	}
	return nil
}

// CastVote records a vote and checks quorum. Voting twice overwrites the
// previous vote. Unknown proposals are a validation error.
func (e *Engine) CastVote(proposalID, voter string, decision Decision, reasoning string, now time.Time) error {
	switch decision {
	case Accept, Reject, Abstain:
	default:
		return fmt.Errorf("consensus: unknown decision %q", decision)
	}

	e.mu.Lock()
	if _, ok := e.proposals[proposalID]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("consensus: unknown proposal %s", proposalID)
	}
	e.votes[proposalID][voter] = Vote{
		ProposalID: proposalID,
		Voter:      voter,
		Decision:   decision,
		Reasoning:  reasoning,
		CastAt:     now,
	}
	e.mu.Unlock()

	e.events.Publish(bus.VoteCast, map[string]any{
		"proposal_id": proposalID,
		"voter":       voter,
		"decision":    string(decision),
	})

	e.checkQuorum(proposalID)
	return nil
}

// checkQuorum resolves the proposal once total votes reach quorum: accepted
// iff accept votes alone reach quorum, otherwise rejected. The proposal and
// its votes are purged on resolution.
func (e *Engine) checkQuorum(proposalID string) {
	quorum := e.Quorum()

	e.mu.Lock()
	p, ok := e.proposals[proposalID]
	if !ok {
		e.mu.Unlock()
		return
	}
	votes := e.votes[proposalID]
	if len(votes) < quorum {
		e.mu.Unlock()
		return
	}

	accepts, rejects, abstains := 0, 0, 0
	for _, v := range votes {
		switch v.Decision {
		case Accept:
			accepts++
		case Reject:
			rejects++
		case Abstain:
			abstains++
		}
	}

	result := Rejected
	if accepts >= quorum {
		result = Accepted
	}
	delete(e.proposals, proposalID)
	delete(e.votes, proposalID)
	e.reached++
	e.mu.Unlock()

	e.events.Publish(bus.ConsensusReached, map[string]any{
		"proposal_id": proposalID,
		"type":        p.Type,
		"result":      string(result),
		"accepts":     accepts,
		"rejects":     rejects,
		"abstains":    abstains,
	})
}

// Sweep purges proposals older than the timeout. No event is emitted:
// silence is the failure signal. Returns the number purged.
func (e *Engine) Sweep(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	purged := 0
	for id, p := range e.proposals {
		if now.Sub(p.CreatedAt) > e.timeout {
			delete(e.proposals, id)
			delete(e.votes, id)
			purged++
		}
	}
	if purged > 0 {
		e.log.Info("purged timed-out proposals", zap.Int("count", purged))
	}
	return purged
}

// Open returns the number of unresolved proposals.
func (e *Engine) Open() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.proposals)
}

// Reached returns the number of proposals resolved by quorum.
func (e *Engine) Reached() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reached
}
