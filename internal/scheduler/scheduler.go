// Package scheduler executes deferred jobs at their due time. Jobs are
// durable rows in the store; armed timers are an in-memory cache over
// them. A periodic reconcile pass repairs any divergence in both
// directions, so the store is always the source of truth.
package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bkern/chime/internal/logger"
	"github.com/bkern/chime/internal/metrics"
	"github.com/bkern/chime/internal/store"
)

const (
	// reconcileSchedule is the interval of the store/registry repair pass.
	reconcileSchedule = "@every 30s"
	// executeTimeout bounds a single job execution, including delivery.
	executeTimeout = 30 * time.Second
	// legacyUploadDir is where media uploaded before per-job media
	// records were introduced lives on disk.
	legacyUploadDir = "static/upload"
)

// Transport delivers job payloads to a chat. Implemented by the
// telegram sender.
type Transport interface {
	SendText(ctx context.Context, chatID, text string) error
	// SendPhoto and SendVideo accept a local file path or an http(s) URL.
	SendPhoto(ctx context.Context, chatID, file string) error
	SendVideo(ctx context.Context, chatID, file string) error
}

// Scheduler owns the timer registry and the reconcile loop.
type Scheduler struct {
	store     store.Store
	transport Transport
	timers    TimerFactory
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	cron    *cron.Cron
	entryID cron.EntryID

	mu       sync.Mutex
	registry map[string]TimerHandle
	stopped  bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTimerFactory substitutes the timer implementation. Used by tests.
func WithTimerFactory(tf TimerFactory) Option {
	return func(s *Scheduler) { s.timers = tf }
}

// WithClock substitutes the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a Scheduler. It does not arm anything; call Recover and
// StartReconcile to bring it live.
func New(st store.Store, transport Transport, log *logger.Logger, m *metrics.Metrics, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:     st,
		transport: transport,
		timers:    RealTimerFactory{},
		logger:    log,
		metrics:   m,
		now:       time.Now,
		cron:      cron.New(),
		registry:  make(map[string]TimerHandle),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule arms a timer for an active stored job. If a timer is already
// armed for the same job id it is cancelled first, so the whole
// operation is atomic per id: there is never more than one live timer
// per job.
func (s *Scheduler) Schedule(job store.Job) {
	delay := job.DueAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if old, ok := s.registry[job.ID]; ok {
		old.Stop()
	}

	id := job.ID
	s.registry[id] = s.timers.AfterFunc(delay, func() {
		s.execute(id)
	})

	s.metrics.RecordJob("scheduled")
	s.metrics.SetLiveTimers(len(s.registry))

	s.logger.Info("job scheduled",
		logger.Field{Key: "job_id", Value: job.ID},
		logger.Field{Key: "kind", Value: job.Kind},
		logger.Field{Key: "due_at", Value: job.DueAt},
		logger.Field{Key: "delay", Value: delay.String()})
}

// Cancel stops the job's timer and marks the stored job inactive.
// Cancelling an unknown or already-fired job is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	if handle, ok := s.registry[jobID]; ok {
		handle.Stop()
		delete(s.registry, jobID)
		s.metrics.SetLiveTimers(len(s.registry))
	}
	s.mu.Unlock()

	err := s.store.DeactivateJob(ctx, jobID)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", jobID, err)
	}

	s.metrics.RecordJob("cancelled")
	s.logger.Info("job cancelled", logger.Field{Key: "job_id", Value: jobID})
	return nil
}

// Recover arms timers for every active job in the store. Overdue jobs
// get a zero delay and fire immediately; nothing is dropped. Called
// once on startup.
func (s *Scheduler) Recover(ctx context.Context) error {
	active := true
	jobs, err := s.store.FindJobs(ctx, store.JobFilter{Active: &active})
	if err != nil {
		return fmt.Errorf("failed to load jobs for recovery: %w", err)
	}

	for _, job := range jobs {
		s.Schedule(job)
	}

	s.logger.Info("scheduler recovery complete",
		logger.Field{Key: "jobs_recovered", Value: len(jobs)})
	return nil
}

// StartReconcile arms the periodic repair pass.
func (s *Scheduler) StartReconcile() error {
	entryID, err := s.cron.AddFunc(reconcileSchedule, func() {
		s.Reconcile(context.Background())
	})
	if err != nil {
		return fmt.Errorf("failed to arm reconcile entry: %w", err)
	}
	s.entryID = entryID
	s.cron.Start()

	s.logger.Info("scheduler reconcile started",
		logger.Field{Key: "schedule", Value: reconcileSchedule})
	return nil
}

// Reconcile repairs the timer registry against the store in both
// directions: active jobs without a timer get one armed, and timers
// whose stored job is gone or inactive are cancelled and evicted.
func (s *Scheduler) Reconcile(ctx context.Context) {
	active := true
	jobs, err := s.store.FindJobs(ctx, store.JobFilter{Active: &active})
	if err != nil {
		s.logger.Error("reconcile failed to load jobs", err)
		return
	}

	activeIDs := make(map[string]struct{}, len(jobs))
	var missing []store.Job

	s.mu.Lock()
	for _, job := range jobs {
		activeIDs[job.ID] = struct{}{}
		if _, ok := s.registry[job.ID]; !ok {
			missing = append(missing, job)
		}
	}
	var evicted int
	for id, handle := range s.registry {
		if _, ok := activeIDs[id]; !ok {
			handle.Stop()
			delete(s.registry, id)
			evicted++
		}
	}
	s.metrics.SetLiveTimers(len(s.registry))
	s.mu.Unlock()

	for _, job := range missing {
		s.Schedule(job)
	}

	if len(missing) > 0 || evicted > 0 {
		s.logger.Info("reconcile repaired timer registry",
			logger.Field{Key: "armed", Value: len(missing)},
			logger.Field{Key: "evicted", Value: evicted})
	}
}

// Stop cancels the reconcile entry and every live timer. The scheduler
// cannot be restarted after Stop.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, handle := range s.registry {
		handle.Stop()
		delete(s.registry, id)
	}
	s.metrics.SetLiveTimers(0)

	s.logger.Info("scheduler stopped")
}

// execute fires when a job's timer elapses. It re-reads the job from
// the store, resolves the delivery target and dispatches by kind. The
// job is marked inactive even when delivery fails; delivery is
// at-most-once. The spent registry entry stays in place until the job
// has left the active set: while delivery is in flight the job is
// still active in the store, and an entry-less active job would be
// re-armed by the next reconcile pass and delivered twice.
func (s *Scheduler) execute(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), executeTimeout)
	defer cancel()

	job, err := s.store.GetJob(ctx, jobID)
	if err == store.ErrNotFound {
		s.evict(jobID)
		return
	}
	if err != nil {
		s.logger.Error("failed to load job for execution", err,
			logger.Field{Key: "job_id", Value: jobID})
		return
	}
	if !job.Active {
		s.evict(jobID)
		return
	}

	chatID, err := s.resolveTarget(ctx, job)
	if err != nil {
		// No delivery target: abandon. The job stays active and its
		// spent entry stays in the registry, so reconcile does not
		// re-fire it. A restart re-arms it, and it delivers once an
		// agent is linked.
		s.metrics.RecordJob("abandoned")
		s.logger.Error("job has no delivery target, abandoning it", err,
			logger.Field{Key: "job_id", Value: job.ID},
			logger.Field{Key: "agent_id", Value: job.AgentID},
			logger.Field{Key: "hint", Value: "link an agent to a chat and restart to deliver this job"})
		return
	}

	if err := s.deliver(ctx, job, chatID); err != nil {
		s.metrics.RecordJob("failed")
		s.logger.Error("job delivery failed", err,
			logger.Field{Key: "job_id", Value: job.ID},
			logger.Field{Key: "kind", Value: job.Kind})
	} else {
		s.metrics.RecordJob("executed")
		s.logger.Info("job executed",
			logger.Field{Key: "job_id", Value: job.ID},
			logger.Field{Key: "kind", Value: job.Kind})
	}

	// At-most-once: the job leaves the active set whether or not the
	// transport accepted it.
	if err := s.store.DeactivateJob(ctx, job.ID); err != nil {
		s.logger.Error("failed to deactivate executed job", err,
			logger.Field{Key: "job_id", Value: job.ID})
		return
	}
	s.evict(jobID)
}

// evict removes a job's registry entry once the job is no longer
// eligible to fire.
func (s *Scheduler) evict(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.registry, jobID)
	s.metrics.SetLiveTimers(len(s.registry))
}

// resolveTarget finds the chat a job delivers to. Jobs carry their
// owning agent; legacy jobs without one fall back to the first active
// agent that has a linked chat.
func (s *Scheduler) resolveTarget(ctx context.Context, job *store.Job) (string, error) {
	var agent *store.Agent
	var err error

	if job.AgentID != "" {
		agent, err = s.store.GetAgent(ctx, job.AgentID)
	} else {
		agent, err = s.store.FirstLinkedAgent(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve delivery agent: %w", err)
	}
	if agent.LinkedChatID == "" {
		return "", fmt.Errorf("agent %s has no linked chat", agent.ID)
	}
	return agent.LinkedChatID, nil
}

// deliver dispatches a job payload by kind.
func (s *Scheduler) deliver(ctx context.Context, job *store.Job, chatID string) error {
	switch job.Kind {
	case store.JobKindText, store.JobKindPrompt:
		return s.transport.SendText(ctx, chatID, job.Payload)
	case store.JobKindImage:
		return s.transport.SendPhoto(ctx, chatID, s.mediaPath(ctx, job, "image"))
	case store.JobKindVideo:
		return s.transport.SendVideo(ctx, chatID, s.mediaPath(ctx, job, "video"))
	default:
		return fmt.Errorf("unknown job kind: %s", job.Kind)
	}
}

// mediaPath resolves the file for a media job. Jobs created through the
// media pipeline have a MediaFile record; older jobs stored only a file
// name in the payload and resolve against the legacy upload directory.
func (s *Scheduler) mediaPath(ctx context.Context, job *store.Job, mediaType string) string {
	media, err := s.store.FindMediaForJob(ctx, job.ID, mediaType)
	if err == nil {
		return media.Path
	}
	return filepath.Join(legacyUploadDir, mediaType+"s", job.Payload)
}

// LiveTimers reports the number of armed timers.
func (s *Scheduler) LiveTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.registry)
}
