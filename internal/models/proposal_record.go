package models

import "time"

// ProposalRecord is the durable outcome of a consensus round. Unresolved
// proposals that time out are never journaled; silence means failure.
type ProposalRecord struct {
	ID          string `gorm:"primaryKey;size:64"`
	Proposer    string `gorm:"size:64"`
	Type        string `gorm:"size:32"`
	Result      string `gorm:"size:16"` // accepted, rejected
	AcceptVotes int
	RejectVotes int
	Abstains    int
	CreatedAt   time.Time
}
