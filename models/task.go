package models

import (
	"time"
)

// Task is a claimable one-shot action (join a channel, visit a link...).
type Task struct {
	ID           string  `gorm:"primaryKey;type:uuid" json:"id"`
	Slug         string  `gorm:"uniqueIndex;not null;size:128" json:"slug"`
	Title        string  `gorm:"not null" json:"title"`
	Description  *string `gorm:"type:text" json:"description,omitempty"`
	URL          *string `gorm:"type:text" json:"url,omitempty"`
	RewardPoints int64   `gorm:"not null;check:reward_points >= 0" json:"reward_points"`
	Active       bool    `gorm:"not null;index" json:"active"`
	ExternalRef  *string `gorm:"uniqueIndex;size:128" json:"external_ref,omitempty"` // id in the upstream task registry, if synced

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TaskCompletion prevents a task from being claimed twice by one account.
type TaskCompletion struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	AccountID   string    `gorm:"type:uuid;not null;uniqueIndex:idx_task_completion_pair" json:"account_id"`
	TaskID      string    `gorm:"type:uuid;not null;uniqueIndex:idx_task_completion_pair;index" json:"task_id"`
	CompletedAt time.Time `gorm:"not null" json:"completed_at"`
}
