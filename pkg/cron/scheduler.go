// Elaj - conversational assistant for Adjara realty listings
// License: MIT
//
// Copyright (c) 2026 Elaj contributors

// Package cron runs the periodic maintenance jobs, most importantly the
// expiry sweep over the backing store.
package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/elajbot/elaj/pkg/logger"
)

// Job is one named unit of scheduled work.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

type Scheduler struct {
	jobs []Job
}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Add registers a job after validating its cron expression.
func (s *Scheduler) Add(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("cron: job %q has no run func", job.Name)
	}
	if !gronx.New().IsValid(job.Schedule) {
		return fmt.Errorf("cron: job %q has invalid schedule %q", job.Name, job.Schedule)
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Start runs every job on its schedule until ctx is cancelled. Job errors
// are logged, never fatal.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		j := job
		go s.runJob(ctx, j)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	logger.InfoCF("cron", "Job scheduled", map[string]interface{}{
		"job": job.Name, "schedule": job.Schedule,
	})
	for {
		next, err := gronx.NextTick(job.Schedule, false)
		if err != nil {
			logger.ErrorCF("cron", "Schedule evaluation failed", map[string]interface{}{
				"job": job.Name, "error": err.Error(),
			})
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := job.Run(ctx); err != nil {
			logger.WarnCF("cron", "Job failed", map[string]interface{}{
				"job": job.Name, "error": err.Error(),
			})
		} else {
			logger.DebugCF("cron", "Job completed", map[string]interface{}{"job": job.Name})
		}
	}
}
