package models

import "time"

// TaskRecord is the durable journal entry for a task's lifecycle.
type TaskRecord struct {
	ID          string `gorm:"primaryKey;size:64"`
	ParentID    string `gorm:"size:64;index"`
	Priority    string `gorm:"size:16;index"`
	Complexity  string `gorm:"size:16"`
	Status      string `gorm:"size:16;default:queued;index"`
	Assignee    string `gorm:"size:64;index"`
	Retries     int
	Description string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	AssignedAt  *time.Time
	CompletedAt *time.Time
}

// TaskEvent records a single task status transition.
type TaskEvent struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	TaskID    string `gorm:"size:64;index"`
	Event     string `gorm:"size:32"`
	AgentID   string `gorm:"size:64"`
	Detail    string `gorm:"type:text"`
	CreatedAt time.Time
}
