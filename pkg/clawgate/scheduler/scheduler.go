// Package scheduler runs recurring prompts for ClawGate. It wraps
// robfig/cron for expression parsing and firing, persists jobs in the shared
// SQLite database so they survive restarts, and hands due jobs to a Runner
// (the gateway) for execution as regular tasks.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jholhewres/clawgate/pkg/clawgate/gateway"
)

// Runner executes one due job. The gateway implements this with
// RunScheduledPrompt.
type Runner func(ctx context.Context, channel, chatID, name, prompt string) error

// Job is one persisted scheduled prompt.
type Job struct {
	ID       string
	Name     string
	Schedule string
	Prompt   string
	Channel  string
	ChatID   string
	Enabled  bool

	CreatedAt time.Time
	LastRunAt *time.Time
	LastError string
	RunCount  int
}

// minJobInterval guards against cron firing the same job twice within the
// same scheduling instant.
const minJobInterval = 2 * time.Second

// Scheduler owns the cron instance and the job map.
type Scheduler struct {
	storage *Storage
	runner  Runner
	logger  *slog.Logger

	jobTimeout time.Duration

	mu      sync.RWMutex
	jobs    map[string]*Job
	cronIDs map[string]cron.EntryID
	running map[string]bool

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler over the given storage. The runner is called for
// every due job.
func New(storage *Storage, runner Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		storage:    storage,
		runner:     runner,
		logger:     logger.With("component", "scheduler"),
		jobTimeout: 5 * time.Minute,
		jobs:       make(map[string]*Job),
		cronIDs:    make(map[string]cron.EntryID),
		running:    make(map[string]bool),
	}
}

// Start loads persisted jobs and begins firing them.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	jobs, err := s.storage.LoadAll()
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	s.mu.Lock()
	for _, job := range jobs {
		s.jobs[job.ID] = job
		if !job.Enabled {
			continue
		}
		if err := s.registerLocked(job); err != nil {
			s.logger.Warn("skipping job with invalid schedule",
				"id", job.ID, "schedule", job.Schedule, "error", err)
		}
	}
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(jobs))
	return nil
}

// Stop waits briefly for running jobs, then shuts down.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		done := s.cron.Stop()
		select {
		case <-done.Done():
		case <-time.After(10 * time.Second):
			s.logger.Warn("scheduler stop timed out")
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("scheduler stopped")
}

// Schedule registers and persists a new enabled job, returning its ID. The
// spec is validated against the cron parser before anything is stored.
func (s *Scheduler) Schedule(spec, name, prompt, channel, chatID string) (string, error) {
	job := &Job{
		ID:        uuid.New().String(),
		Name:      name,
		Schedule:  spec,
		Prompt:    prompt,
		Channel:   channel,
		ChatID:    chatID,
		Enabled:   true,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.registerLocked(job); err != nil {
		return "", fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.jobs[job.ID] = job
	if err := s.storage.Save(job); err != nil {
		s.logger.Error("job persist failed", "id", job.ID, "error", err)
	}
	s.logger.Info("job scheduled", "id", job.ID, "name", name, "schedule", spec, "chat", chatID)
	return job.ID, nil
}

// Jobs lists all jobs with their next fire time.
func (s *Scheduler) Jobs() ([]gateway.JobInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]gateway.JobInfo, 0, len(s.jobs))
	for _, job := range s.jobs {
		info := gateway.JobInfo{
			ID:       job.ID,
			Name:     job.Name,
			Spec:     job.Schedule,
			Disabled: !job.Enabled,
		}
		if job.LastRunAt != nil {
			info.LastRun = *job.LastRunAt
		}
		if entryID, ok := s.cronIDs[job.ID]; ok {
			info.NextRun = s.cron.Entry(entryID).Next
		}
		out = append(out, info)
	}
	return out, nil
}

// Enable turns a job on or off without removing it.
func (s *Scheduler) Enable(id string, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %q not found", id)
	}
	if job.Enabled == on {
		return nil
	}
	job.Enabled = on

	if on {
		if err := s.registerLocked(job); err != nil {
			job.Enabled = false
			return fmt.Errorf("invalid schedule %q: %w", job.Schedule, err)
		}
	} else if entryID, exists := s.cronIDs[id]; exists {
		s.cron.Remove(entryID)
		delete(s.cronIDs, id)
	}

	if err := s.storage.Save(job); err != nil {
		s.logger.Error("job persist failed", "id", id, "error", err)
	}
	return nil
}

// Remove deletes a job.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("job %q not found", id)
	}
	if entryID, exists := s.cronIDs[id]; exists {
		s.cron.Remove(entryID)
		delete(s.cronIDs, id)
	}
	delete(s.jobs, id)
	if err := s.storage.Delete(id); err != nil {
		s.logger.Error("job delete failed", "id", id, "error", err)
	}
	s.logger.Info("job removed", "id", id)
	return nil
}

// registerLocked adds a job to cron. Caller holds s.mu.
func (s *Scheduler) registerLocked(job *Job) error {
	if s.cron == nil {
		return nil
	}
	entryID, err := s.cron.AddFunc(job.Schedule, func() { s.execute(job.ID) })
	if err != nil {
		return err
	}
	s.cronIDs[job.ID] = entryID
	return nil
}

// execute runs one due job with duplicate-run and spin-loop guards, panic
// recovery and a per-run timeout. One bad job must not take the scheduler
// down.
func (s *Scheduler) execute(id string) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if s.running[id] {
		s.mu.Unlock()
		s.logger.Warn("skipping job, previous run still active", "id", id)
		return
	}
	if job.LastRunAt != nil && time.Since(*job.LastRunAt) < minJobInterval {
		s.mu.Unlock()
		return
	}
	s.running[id] = true
	now := time.Now()
	job.LastRunAt = &now
	job.RunCount++
	name, prompt, channel, chatID := job.Name, job.Prompt, job.Channel, job.ChatID
	s.mu.Unlock()

	// Persist the run marker up front so a crash mid-run doesn't refire
	// immediately on restart.
	if err := s.storage.Save(job); err != nil {
		s.logger.Error("job persist failed", "id", id, "error", err)
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled job panicked", "id", id, "panic", r)
			s.finish(id, fmt.Sprintf("panic: %v", r))
			return
		}
	}()

	ctx, cancel := context.WithTimeout(s.ctx, s.jobTimeout)
	defer cancel()

	s.logger.Info("job firing", "id", id, "name", name, "chat", chatID)
	err := s.runner(ctx, channel, chatID, name, prompt)
	if err != nil {
		s.logger.Error("scheduled job failed", "id", id, "error", err)
		s.finish(id, err.Error())
		return
	}
	s.finish(id, "")
}

func (s *Scheduler) finish(id, lastError string) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if ok {
		job.LastError = lastError
	}
	delete(s.running, id)
	s.mu.Unlock()

	if ok {
		if err := s.storage.Save(job); err != nil {
			s.logger.Error("job persist failed", "id", id, "error", err)
		}
	}
}
