package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestJobRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	job := Job{
		Kind:    JobKindText,
		Payload: "water the plants",
		DueAt:   time.Now().Add(time.Hour),
		AgentID: "agent-1",
	}
	require.NoError(t, db.CreateJob(ctx, &job))
	require.NotEmpty(t, job.ID)
	assert.True(t, job.Active)

	got, err := db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobKindText, got.Kind)
	assert.Equal(t, "water the plants", got.Payload)
	assert.Equal(t, "agent-1", got.AgentID)
	assert.True(t, got.Active)
}

func TestGetJobNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindJobsActiveFilter(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	active := Job{Kind: JobKindText, Payload: "a", DueAt: time.Now()}
	done := Job{Kind: JobKindText, Payload: "b", DueAt: time.Now()}
	require.NoError(t, db.CreateJob(ctx, &active))
	require.NoError(t, db.CreateJob(ctx, &done))
	require.NoError(t, db.DeactivateJob(ctx, done.ID))

	isActive := true
	jobs, err := db.FindJobs(ctx, JobFilter{Active: &isActive})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, active.ID, jobs[0].ID)
}

func TestDeactivateJobIsTerminal(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	job := Job{Kind: JobKindText, Payload: "x", DueAt: time.Now()}
	require.NoError(t, db.CreateJob(ctx, &job))
	require.NoError(t, db.DeactivateJob(ctx, job.ID))

	got, err := db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	// Deactivating twice is fine; the row still exists.
	require.NoError(t, db.DeactivateJob(ctx, job.ID))

	assert.ErrorIs(t, db.DeactivateJob(ctx, "missing"), ErrNotFound)
}

func TestFindMessagesNewestFirstWithLimit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		msg := Message{
			Role:      RoleUser,
			Content:   string(rune('a' + i)),
			AgentID:   "agent-1",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, db.CreateMessage(ctx, &msg))
	}

	msgs, err := db.FindMessages(ctx, "agent-1", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "e", msgs[0].Content)
	assert.Equal(t, "d", msgs[1].Content)
	assert.Equal(t, "c", msgs[2].Content)
}

func TestUpsertAgentValidatesFactor(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.UpsertAgent(ctx, &Agent{Name: "Ava", EngagementFactor: 1.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engagement factor")
}

func TestUpsertAgentKeepsZeroFactor(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// Zero is a valid factor meaning "never engage". It must survive
	// the write untouched, both in the store and in the passed struct.
	agent := Agent{Name: "Mute", EngagementFactor: 0, Active: true}
	require.NoError(t, db.UpsertAgent(ctx, &agent))
	assert.Equal(t, 0.0, agent.EngagementFactor)

	got, err := db.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.EngagementFactor)
	assert.True(t, got.Active)
}

func TestUpdateAgentRejectsOutOfRangeFactorAndKeepsValue(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	agent := Agent{Name: "Ava", EngagementFactor: 0.5, Active: true}
	require.NoError(t, db.UpsertAgent(ctx, &agent))

	bad := -0.1
	err := db.UpdateAgent(ctx, agent.ID, AgentPatch{EngagementFactor: &bad})
	require.Error(t, err)

	got, err := db.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.EngagementFactor)
}

func TestUpdateAgentLinkSetsLinkedAt(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	agent := Agent{Name: "Ava", EngagementFactor: 0.5, Active: true}
	require.NoError(t, db.UpsertAgent(ctx, &agent))
	require.Nil(t, agent.LinkedAt)

	chat := "12345"
	require.NoError(t, db.UpdateAgent(ctx, agent.ID, AgentPatch{LinkedChatID: &chat}))

	got, err := db.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "12345", got.LinkedChatID)
	require.NotNil(t, got.LinkedAt)
}

func TestAgentLookups(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	linked := Agent{Name: "Ava", EngagementFactor: 0.5, LinkedChatID: "100", Active: true}
	unlinked := Agent{Name: "Ben", EngagementFactor: 0.5, Active: true}
	require.NoError(t, db.UpsertAgent(ctx, &linked))
	require.NoError(t, db.UpsertAgent(ctx, &unlinked))

	byChat, err := db.FindAgentByChat(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, linked.ID, byChat.ID)

	_, err = db.FindAgentByChat(ctx, "999")
	assert.ErrorIs(t, err, ErrNotFound)

	first, err := db.FirstLinkedAgent(ctx)
	require.NoError(t, err)
	assert.Equal(t, linked.ID, first.ID)

	free, err := db.FirstUnlinkedAgent(ctx)
	require.NoError(t, err)
	assert.Equal(t, unlinked.ID, free.ID)
}

func TestMediaRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	media := MediaFile{JobID: "job-1", Type: "image", Path: "/data/a.png"}
	require.NoError(t, db.CreateMedia(ctx, &media))

	got, err := db.FindMediaForJob(ctx, "job-1", "image")
	require.NoError(t, err)
	assert.Equal(t, "/data/a.png", got.Path)

	_, err = db.FindMediaForJob(ctx, "job-1", "video")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValidateEngagementFactor(t *testing.T) {
	assert.NoError(t, ValidateEngagementFactor(0))
	assert.NoError(t, ValidateEngagementFactor(0.5))
	assert.NoError(t, ValidateEngagementFactor(1))
	assert.Error(t, ValidateEngagementFactor(-0.01))
	assert.Error(t, ValidateEngagementFactor(1.01))
}

func TestSeedAgentsCreatesAndUpdates(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "agents.yaml")
	seed := `agents:
  - name: Ava
    model: gpt-4o-mini
    api_key: test-key
    engagement_factor: 0.7
    context: A friendly assistant.
`
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o644))

	n, err := SeedAgents(ctx, db, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	agent, err := db.FirstUnlinkedAgent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ava", agent.Name)
	assert.Equal(t, 0.7, agent.EngagementFactor)

	// Link the agent, then reseed with a new factor: the link survives.
	chat := "100"
	require.NoError(t, db.UpdateAgent(ctx, agent.ID, AgentPatch{LinkedChatID: &chat}))

	seed2 := `agents:
  - name: Ava
    model: gpt-4o-mini
    api_key: test-key
    engagement_factor: 0.2
    context: A friendly assistant.
`
	require.NoError(t, os.WriteFile(path, []byte(seed2), 0o644))
	_, err = SeedAgents(ctx, db, path)
	require.NoError(t, err)

	got, err := db.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.2, got.EngagementFactor)
	assert.Equal(t, "100", got.LinkedChatID)
}

func TestSeedAgentsMissingFileIsNoOp(t *testing.T) {
	db := openTestDB(t)
	n, err := SeedAgents(context.Background(), db, filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSeedAgentsRejectsBadFactor(t *testing.T) {
	db := openTestDB(t)
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agents:\n  - name: Ava\n    engagement_factor: 2.0\n"), 0o644))

	_, err := SeedAgents(context.Background(), db, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engagement factor")
}
