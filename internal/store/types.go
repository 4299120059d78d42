// Package store provides the persistence layer for chime.
// It defines the domain records (jobs, agents, messages, media files)
// and a narrow Store interface consumed by the scheduler, the
// engagement engine and the reply loop. The default implementation is
// backed by GORM with a SQLite database.
package store

import (
	"fmt"
	"time"
)

// JobKind identifies what a deferred job delivers when it fires.
type JobKind string

const (
	JobKindText   JobKind = "TEXT"
	JobKindImage  JobKind = "IMAGE"
	JobKindVideo  JobKind = "VIDEO"
	JobKindPrompt JobKind = "PROMPT"
)

// Role is the conversational role of a stored message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Job is a durable, time-triggered deferred action. A job is created
// active and transitions to inactive exactly once, either by execution
// or by cancellation. It is never reactivated.
type Job struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Kind      JobKind   `gorm:"size:16;not null"`
	Payload   string    `gorm:"type:text"` // message text or media reference
	DueAt     time.Time `gorm:"not null;index"`
	AgentID   string    `gorm:"size:36;index"` // empty for legacy jobs
	Active    bool      `gorm:"index"`
	CreatedAt time.Time
}

// Agent is a configured conversational persona. No column carries a
// database default: zero is a meaningful engagement factor, and a
// default tag would make GORM silently replace it on write.
type Agent struct {
	ID               string `gorm:"primaryKey;size:36"`
	Name             string `gorm:"size:64;not null"`
	EngagementFactor float64
	LinkedChatID     string `gorm:"size:32;index"` // delivery target, empty if unlinked
	Model            string `gorm:"size:64"`
	APIKey           string `gorm:"size:128"`
	Context          string `gorm:"type:text"` // long-lived persona text
	DocSummaries     string `gorm:"type:text"` // summaries of uploaded documents
	Active           bool
	LinkedAt         *time.Time
	CreatedAt        time.Time
}

// Message is one turn of a conversation. Immutable once created,
// except for deletion. Ordering is by CreatedAt.
type Message struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Role      Role      `gorm:"size:16;not null"`
	Content   string    `gorm:"type:text"`
	Name      string    `gorm:"size:64"` // author display name
	AgentID   string    `gorm:"size:36;index"`
	CreatedAt time.Time `gorm:"index"`
}

// MediaFile links an uploaded file to the job that will deliver it.
type MediaFile struct {
	ID    string `gorm:"primaryKey;size:36"`
	JobID string `gorm:"size:36;index"`
	Type  string `gorm:"size:8"` // image, video
	Path  string `gorm:"size:256"`
}

// JobFilter restricts FindJobs results. Nil fields match everything.
type JobFilter struct {
	Active  *bool
	AgentID *string
}

// AgentPatch carries partial agent updates. Nil fields are untouched.
type AgentPatch struct {
	EngagementFactor *float64
	LinkedChatID     *string
	Model            *string
	Context          *string
	DocSummaries     *string
}

// ValidateEngagementFactor rejects factors outside [0, 1]. The check
// lives at the mutation boundary: every write path goes through it.
func ValidateEngagementFactor(f float64) error {
	if f < 0 || f > 1 {
		return fmt.Errorf("engagement factor must be between 0 and 1, got %g", f)
	}
	return nil
}
