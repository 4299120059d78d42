package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DB implements Store on top of GORM with a SQLite database.
type DB struct {
	db *gorm.DB
}

// Open opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for an ephemeral database in tests.
func Open(path string) (*DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	if err := db.AutoMigrate(&Job{}, &Agent{}, &Message{}, &MediaFile{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &DB{db: db}, nil
}

// NewID returns a fresh record identifier.
func NewID() string {
	return uuid.NewString()
}

func (s *DB) FindJobs(ctx context.Context, filter JobFilter) ([]Job, error) {
	q := s.db.WithContext(ctx).Model(&Job{})
	if filter.Active != nil {
		q = q.Where("active = ?", *filter.Active)
	}
	if filter.AgentID != nil {
		q = q.Where("agent_id = ?", *filter.AgentID)
	}

	var jobs []Job
	if err := q.Order("due_at asc").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to find jobs: %w", err)
	}
	return jobs, nil
}

func (s *DB) GetJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return &job, nil
}

func (s *DB) CreateJob(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = NewID()
	}
	job.Active = true
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *DB) DeactivateJob(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", id).Update("active", false)
	if res.Error != nil {
		return fmt.Errorf("failed to deactivate job %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *DB) DeleteJob(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&Job{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	return nil
}

func (s *DB) FindMessages(ctx context.Context, agentID string, limit int) ([]Message, error) {
	var messages []Message
	err := s.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("created_at desc").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find messages: %w", err)
	}
	return messages, nil
}

func (s *DB) CreateMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (s *DB) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var agent Agent
	err := s.db.WithContext(ctx).First(&agent, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent %s: %w", id, err)
	}
	return &agent, nil
}

func (s *DB) FindAgentByChat(ctx context.Context, chatID string) (*Agent, error) {
	var agent Agent
	err := s.db.WithContext(ctx).
		First(&agent, "linked_chat_id = ? AND active = ?", chatID, true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find agent for chat %s: %w", chatID, err)
	}
	return &agent, nil
}

func (s *DB) FirstLinkedAgent(ctx context.Context) (*Agent, error) {
	var agent Agent
	err := s.db.WithContext(ctx).
		First(&agent, "linked_chat_id <> '' AND active = ?", true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find linked agent: %w", err)
	}
	return &agent, nil
}

func (s *DB) FirstUnlinkedAgent(ctx context.Context) (*Agent, error) {
	var agent Agent
	err := s.db.WithContext(ctx).
		First(&agent, "linked_chat_id = '' AND active = ?", true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find unlinked agent: %w", err)
	}
	return &agent, nil
}

func (s *DB) UpdateAgent(ctx context.Context, id string, patch AgentPatch) error {
	updates := map[string]any{}
	if patch.EngagementFactor != nil {
		if err := ValidateEngagementFactor(*patch.EngagementFactor); err != nil {
			return err
		}
		updates["engagement_factor"] = *patch.EngagementFactor
	}
	if patch.LinkedChatID != nil {
		updates["linked_chat_id"] = *patch.LinkedChatID
		now := time.Now()
		updates["linked_at"] = &now
	}
	if patch.Model != nil {
		updates["model"] = *patch.Model
	}
	if patch.Context != nil {
		updates["context"] = *patch.Context
	}
	if patch.DocSummaries != nil {
		updates["doc_summaries"] = *patch.DocSummaries
	}
	if len(updates) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&Agent{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update agent %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *DB) UpsertAgent(ctx context.Context, agent *Agent) error {
	if agent.ID == "" {
		agent.ID = NewID()
	}
	if err := ValidateEngagementFactor(agent.EngagementFactor); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(agent).Error; err != nil {
		return fmt.Errorf("failed to upsert agent %s: %w", agent.Name, err)
	}
	return nil
}

func (s *DB) CreateMedia(ctx context.Context, media *MediaFile) error {
	if media.ID == "" {
		media.ID = NewID()
	}
	if err := s.db.WithContext(ctx).Create(media).Error; err != nil {
		return fmt.Errorf("failed to create media record: %w", err)
	}
	return nil
}

func (s *DB) FindMediaForJob(ctx context.Context, jobID, mediaType string) (*MediaFile, error) {
	var media MediaFile
	err := s.db.WithContext(ctx).
		First(&media, "job_id = ? AND type = ?", jobID, mediaType).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find media for job %s: %w", jobID, err)
	}
	return &media, nil
}

func (s *DB) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
