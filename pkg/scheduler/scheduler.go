// Copyright 2025 Cortexa Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scheduler runs the ingestion engines on cron schedules. One
// scheduler hosts every engine's job; overlapping runs of the same job are
// suppressed.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Task is one schedulable unit of work. Run blocks until the pass completes
// or ctx is cancelled.
type Task func(ctx context.Context) error

// JobInfo describes a registered job for inspection.
type JobInfo struct {
	ID       string
	Name     string
	Schedule string
	LastRun  time.Time
	NextRun  time.Time
}

// Scheduler wraps the shared cron scheduler. A base context created at Start
// is the parent of every job invocation; Stop cancels it so in-flight engine
// runs observe the shutdown.
type Scheduler struct {
	mu        sync.Mutex
	scheduler gocron.Scheduler
	jobs      map[string]gocron.Job
	schedules map[string]string

	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates an empty scheduler in the given timezone. tz may be empty for
// UTC.
func New(tz string) (*Scheduler, error) {
	loc := time.UTC
	if tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
	}

	s, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, fmt.Errorf("failed to create cron scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: s,
		jobs:      make(map[string]gocron.Job),
		schedules: make(map[string]string),
		baseCtx:   ctx,
		cancel:    cancel,
	}, nil
}

// AddJob registers a named cron job. Names must be unique. runOnStart
// triggers one immediate invocation when the scheduler starts. Overlapping
// invocations of the same job are skipped, not queued.
func (s *Scheduler) AddJob(name, cronExpr string, runOnStart bool, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("scheduled job already exists: %s", name)
	}

	opts := []gocron.JobOption{
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if runOnStart {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	j, err := s.scheduler.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func() {
			if err := task(s.baseCtx); err != nil {
				slog.Error("scheduled job failed", "job", name, "error", err)
			}
		}),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduled job %s: %w", name, err)
	}

	s.jobs[name] = j
	s.schedules[name] = cronExpr
	slog.Info("scheduled job added", "job", name, "cron", cronExpr, "run_on_start", runOnStart)
	return nil
}

// RemoveJob stops and removes a named job. No-op when absent.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return
	}
	if err := s.scheduler.RemoveJob(j.ID()); err != nil {
		slog.Warn("failed to remove scheduled job", "job", name, "error", err)
	}
	delete(s.jobs, name)
	delete(s.schedules, name)
}

// HasJob reports whether a named job is registered.
func (s *Scheduler) HasJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	return ok
}

// ListJobs returns info about all registered jobs.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, j := range s.jobs {
		info := JobInfo{
			ID:       j.ID().String(),
			Name:     name,
			Schedule: s.schedules[name],
		}
		if lr, err := j.LastRun(); err == nil {
			info.LastRun = lr
		}
		if nr, err := j.NextRun(); err == nil {
			info.NextRun = nr
		}
		infos = append(infos, info)
	}
	return infos
}

// Start begins executing registered jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	slog.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop cancels in-flight jobs and shuts the scheduler down.
func (s *Scheduler) Stop() error {
	s.cancel()
	return s.scheduler.Shutdown()
}
