package models

import "time"

// NodeRecord mirrors a registered communication node.
type NodeRecord struct {
	ID           string `gorm:"primaryKey;size:64"`
	Address      string `gorm:"size:128"`
	Capabilities string `gorm:"type:text"` // comma-separated
	Status       string `gorm:"size:16;index"`
	LastSeen     time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
