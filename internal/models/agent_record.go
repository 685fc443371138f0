package models

import "time"

// AgentRecord mirrors a registered agent's capability profile.
type AgentRecord struct {
	ID           string `gorm:"primaryKey;size:64"`
	Capabilities string `gorm:"type:text"` // comma-separated
	CurrentLoad  int
	MaxLoad      int
	TrustScore   float64
	Availability string `gorm:"size:16;index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
