package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence gateway consumed by the scheduler, the
// engagement engine, the context builder and the reply loop tools.
type Store interface {
	// Jobs
	FindJobs(ctx context.Context, filter JobFilter) ([]Job, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	CreateJob(ctx context.Context, job *Job) error
	// DeactivateJob marks a job inactive. It is the only job mutation:
	// jobs never return to the active state.
	DeactivateJob(ctx context.Context, id string) error
	DeleteJob(ctx context.Context, id string) error

	// Messages
	// FindMessages returns up to limit messages for the agent,
	// newest first.
	FindMessages(ctx context.Context, agentID string, limit int) ([]Message, error)
	CreateMessage(ctx context.Context, msg *Message) error

	// Agents
	GetAgent(ctx context.Context, id string) (*Agent, error)
	// FindAgentByChat returns the active agent linked to the given
	// chat, or ErrNotFound.
	FindAgentByChat(ctx context.Context, chatID string) (*Agent, error)
	// FirstLinkedAgent returns any active agent that has a delivery
	// target. Used for legacy jobs without an owning agent.
	FirstLinkedAgent(ctx context.Context) (*Agent, error)
	// FirstUnlinkedAgent returns any active agent without a delivery
	// target, for chat linking.
	FirstUnlinkedAgent(ctx context.Context) (*Agent, error)
	UpdateAgent(ctx context.Context, id string, patch AgentPatch) error
	UpsertAgent(ctx context.Context, agent *Agent) error

	// Media
	CreateMedia(ctx context.Context, media *MediaFile) error
	FindMediaForJob(ctx context.Context, jobID, mediaType string) (*MediaFile, error)

	Close() error
}
