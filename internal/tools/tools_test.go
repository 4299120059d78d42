package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bkern/chime/internal/llm"
	"github.com/bkern/chime/internal/logger"
	"github.com/bkern/chime/internal/store"
)

type recordingScheduler struct {
	jobs []store.Job
}

func (s *recordingScheduler) Schedule(job store.Job) {
	s.jobs = append(s.jobs, job)
}

type recordingTransport struct {
	photos []string
	chats  []string
	err    error
}

func (t *recordingTransport) SendText(ctx context.Context, chatID, text string) error { return t.err }

func (t *recordingTransport) SendPhoto(ctx context.Context, chatID, file string) error {
	if t.err != nil {
		return t.err
	}
	t.photos = append(t.photos, file)
	t.chats = append(t.chats, chatID)
	return nil
}

func (t *recordingTransport) SendVideo(ctx context.Context, chatID, file string) error { return t.err }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stderr"})
	require.NoError(t, err)
	return log
}

func testAgent(t *testing.T, db *store.DB, chatID string) *store.Agent {
	t.Helper()
	agent := &store.Agent{
		Name:             "Ava",
		EngagementFactor: 0.5,
		LinkedChatID:     chatID,
		Active:           true,
	}
	require.NoError(t, db.UpsertAgent(context.Background(), agent))
	return agent
}

func openDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCreateTaskPersistsAndSchedules(t *testing.T) {
	db := openDB(t)
	agent := testAgent(t, db, "100")
	sched := &recordingScheduler{}
	tool := NewCreateTaskTool(db, sched, agent.ID, testLogger(t))

	due := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	args := fmt.Sprintf(`{"message": "drink water", "date": %q, "reason": "hydration"}`, due.Format(time.RFC3339))

	out, err := tool.Execute(context.Background(), args)
	require.NoError(t, err)

	var result struct {
		Success      bool   `json:"success"`
		TaskID       string `json:"taskId"`
		ScheduledFor string `json:"scheduledFor"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Success)
	require.NotEmpty(t, result.TaskID)

	job, err := db.GetJob(context.Background(), result.TaskID)
	require.NoError(t, err)
	assert.Equal(t, store.JobKindText, job.Kind)
	assert.Equal(t, "drink water", job.Payload)
	assert.Equal(t, agent.ID, job.AgentID)
	assert.True(t, job.Active)
	assert.True(t, job.DueAt.Equal(due))

	require.Len(t, sched.jobs, 1)
	assert.Equal(t, result.TaskID, sched.jobs[0].ID)
}

func TestCreateTaskRejectsBadDate(t *testing.T) {
	db := openDB(t)
	agent := testAgent(t, db, "100")
	sched := &recordingScheduler{}
	tool := NewCreateTaskTool(db, sched, agent.ID, testLogger(t))

	_, err := tool.Execute(context.Background(), `{"message": "x", "date": "next tuesday-ish"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not parse date")
	assert.Empty(t, sched.jobs)
}

func TestCreateTaskAcceptsLocalFormat(t *testing.T) {
	db := openDB(t)
	agent := testAgent(t, db, "100")
	sched := &recordingScheduler{}
	tool := NewCreateTaskTool(db, sched, agent.ID, testLogger(t))

	_, err := tool.Execute(context.Background(), `{"message": "x", "date": "2030-06-01 09:30"}`)
	require.NoError(t, err)
	require.Len(t, sched.jobs, 1)
	assert.Equal(t, 9, sched.jobs[0].DueAt.Hour())
	assert.Equal(t, 30, sched.jobs[0].DueAt.Minute())
}

func TestChangeEngagementFactorUpdates(t *testing.T) {
	db := openDB(t)
	agent := testAgent(t, db, "100")
	tool := NewChangeEngagementTool(db, agent.ID, testLogger(t))

	out, err := tool.Execute(context.Background(), `{"engagementFactor": 0.9, "reason": "be chattier"}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"success":true`)

	got, err := db.GetAgent(context.Background(), agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.EngagementFactor)
}

func TestChangeEngagementFactorRejectsOutOfRange(t *testing.T) {
	db := openDB(t)
	agent := testAgent(t, db, "100")
	tool := NewChangeEngagementTool(db, agent.ID, testLogger(t))

	for _, args := range []string{
		`{"engagementFactor": 1.5}`,
		`{"engagementFactor": -0.2}`,
	} {
		_, err := tool.Execute(context.Background(), args)
		require.Error(t, err, args)
		assert.Contains(t, err.Error(), "engagement factor")
	}

	got, err := db.GetAgent(context.Background(), agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.EngagementFactor, "a rejected update must leave the stored value unchanged")
}

func TestChangeEngagementFactorRequiresValue(t *testing.T) {
	db := openDB(t)
	agent := testAgent(t, db, "100")
	tool := NewChangeEngagementTool(db, agent.ID, testLogger(t))

	_, err := tool.Execute(context.Background(), `{"reason": "just because"}`)
	require.Error(t, err)
}

func TestGetCurrentEngagementReturnsBand(t *testing.T) {
	db := openDB(t)
	agent := testAgent(t, db, "100")
	tool := NewGetEngagementTool(db, agent.ID)

	out, err := tool.Execute(context.Background(), `{}`)
	require.NoError(t, err)

	var result struct {
		Success          bool    `json:"success"`
		EngagementFactor float64 `json:"engagementFactor"`
		Band             string  `json:"band"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 0.5, result.EngagementFactor)
	assert.Equal(t, "medium", result.Band)
}

func TestEngagementBand(t *testing.T) {
	tests := []struct {
		factor float64
		band   string
	}{
		{0, "silent"},
		{0.04, "silent"},
		{0.05, "low"},
		{0.34, "low"},
		{0.35, "medium"},
		{0.69, "medium"},
		{0.7, "high"},
		{1, "high"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.band, EngagementBand(tc.factor), "factor %g", tc.factor)
	}
}

func TestGenerateImagePushesToLinkedChat(t *testing.T) {
	db := openDB(t)
	agent := testAgent(t, db, "4242")
	transport := &recordingTransport{}
	provider := llm.NewMockProvider().ScriptImage("https://img.example/cat.png")
	tool := NewGenerateImageTool(provider, transport, db, agent.ID, testLogger(t))

	out, err := tool.Execute(context.Background(), `{"prompt": "a cat"}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"delivered":true`)
	require.Equal(t, []string{"https://img.example/cat.png"}, transport.photos)
	assert.Equal(t, []string{"4242"}, transport.chats)
}

func TestGenerateImageWithoutLinkedChatSkipsDelivery(t *testing.T) {
	db := openDB(t)
	agent := testAgent(t, db, "")
	transport := &recordingTransport{}
	provider := llm.NewMockProvider().ScriptImage("https://img.example/cat.png")
	tool := NewGenerateImageTool(provider, transport, db, agent.ID, testLogger(t))

	out, err := tool.Execute(context.Background(), `{"prompt": "a cat"}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"delivered":false`)
	assert.Empty(t, transport.photos)
}

func TestRegistryExecuteConvertsErrors(t *testing.T) {
	db := openDB(t)
	agent := testAgent(t, db, "100")
	registry := NewRegistry()
	require.NoError(t, registry.Register(NewChangeEngagementTool(db, agent.ID, testLogger(t))))

	out := registry.Execute(context.Background(), llm.ToolCall{
		ID:        "call-1",
		Name:      "changeEngagementFactor",
		Arguments: `{"engagementFactor": 7}`,
	})

	var result failureResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "engagement factor")
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	registry := NewRegistry()
	out := registry.Execute(context.Background(), llm.ToolCall{Name: "fetchWeather"})
	assert.Contains(t, out, "unknown tool")
}

func TestRegistryDefinitions(t *testing.T) {
	db := openDB(t)
	agent := testAgent(t, db, "100")
	registry := NewRegistry()
	require.NoError(t, registry.Register(NewGetEngagementTool(db, agent.ID)))
	require.NoError(t, registry.Register(NewChangeEngagementTool(db, agent.ID, testLogger(t))))

	defs := registry.Definitions()
	require.Len(t, defs, 2)
	names := []string{defs[0].Name, defs[1].Name}
	assert.ElementsMatch(t, []string{"getCurrentEngagement", "changeEngagementFactor"}, names)
}
