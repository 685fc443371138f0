package models

import "time"

// MessageLog is a bounded journal of routed messages, kept for operator
// inspection. The engine's in-memory history is authoritative for routing;
// this table is trimmed by the maintenance sweep.
type MessageLog struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	MessageID string `gorm:"size:64;index"`
	Type      string `gorm:"size:16;index"`
	Sender    string `gorm:"size:64"`
	Recipient string `gorm:"size:64"`
	Priority  string `gorm:"size:16"`
	Outcome   string `gorm:"size:16"` // sent, received, failed
	Detail    string `gorm:"type:text"`
	CreatedAt time.Time
}
