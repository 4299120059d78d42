package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bkern/chime/internal/logger"
	"github.com/bkern/chime/internal/store"
)

// JobScheduler arms a timer for a persisted job. Implemented by the
// scheduler; narrowed here so the tool does not depend on it directly.
type JobScheduler interface {
	Schedule(job store.Job)
}

// CreateTaskArgs represents the arguments for the createTask tool.
type CreateTaskArgs struct {
	Message string `json:"message"`
	Date    string `json:"date"`
	Reason  string `json:"reason,omitempty"`
}

// CreateTaskTool persists a deferred text job and arms its timer.
type CreateTaskTool struct {
	store     store.Store
	scheduler JobScheduler
	agentID   string
	logger    *logger.Logger
	now       func() time.Time
}

// NewCreateTaskTool creates a createTask tool bound to one agent.
func NewCreateTaskTool(st store.Store, sched JobScheduler, agentID string, log *logger.Logger) *CreateTaskTool {
	return &CreateTaskTool{
		store:     st,
		scheduler: sched,
		agentID:   agentID,
		logger:    log,
		now:       time.Now,
	}
}

func (t *CreateTaskTool) Name() string {
	return "createTask"
}

func (t *CreateTaskTool) Description() string {
	return "Schedule a message to be sent to the chat at a future date and time. Use this for reminders and deferred follow-ups."
}

func (t *CreateTaskTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message": map[string]interface{}{
				"type":        "string",
				"description": "The text to deliver when the task fires",
			},
			"date": map[string]interface{}{
				"type":        "string",
				"description": "When to deliver, as RFC3339 (2026-08-31T15:00:00Z) or 'YYYY-MM-DD HH:MM' local time",
			},
			"reason": map[string]interface{}{
				"type":        "string",
				"description": "Why the task is being created",
			},
		},
		"required": []string{"message", "date"},
	}
}

func (t *CreateTaskTool) Execute(ctx context.Context, args string) (string, error) {
	var parsed CreateTaskArgs
	if err := json.Unmarshal([]byte(args), &parsed); err != nil {
		return "", fmt.Errorf("invalid createTask arguments: %w", err)
	}
	if parsed.Message == "" {
		return "", fmt.Errorf("createTask requires a message")
	}

	dueAt, err := parseTaskDate(parsed.Date)
	if err != nil {
		return "", err
	}

	job := store.Job{
		Kind:    store.JobKindText,
		Payload: parsed.Message,
		DueAt:   dueAt,
		AgentID: t.agentID,
	}
	if err := t.store.CreateJob(ctx, &job); err != nil {
		return "", fmt.Errorf("failed to persist task: %w", err)
	}
	t.scheduler.Schedule(job)

	t.logger.InfoCtx(ctx, "task created",
		logger.Field{Key: "job_id", Value: job.ID},
		logger.Field{Key: "agent_id", Value: t.agentID},
		logger.Field{Key: "due_at", Value: dueAt},
		logger.Field{Key: "reason", Value: parsed.Reason})

	result := map[string]any{
		"success":      true,
		"taskId":       job.ID,
		"scheduledFor": dueAt.Format(time.RFC3339),
	}
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(data), nil
}

// parseTaskDate accepts RFC3339 and a couple of human-friendly local
// formats the model tends to produce.
func parseTaskDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("createTask requires a date")
	}

	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("could not parse date %q, use RFC3339 or 'YYYY-MM-DD HH:MM'", s)
}
