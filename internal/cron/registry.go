package cron

import (
	"context"
	"time"
)

// Job is one scheduled settlement task.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Entry pairs a job with how often it runs.
type Entry struct {
	Job   Job
	Every time.Duration
}

// Registry tracks the scheduled jobs.
type Registry struct {
	entries []Entry
}

// NewRegistry builds a registry preloaded with entries. Entries without a job
// or with a non-positive interval are skipped.
func NewRegistry(entries ...Entry) *Registry {
	registry := &Registry{}
	for _, entry := range entries {
		registry.Register(entry.Job, entry.Every)
	}
	return registry
}

// Register schedules job every interval.
func (r *Registry) Register(job Job, every time.Duration) {
	if job == nil || every <= 0 {
		return
	}
	r.entries = append(r.entries, Entry{Job: job, Every: every})
}

// Entries returns the scheduled jobs in registration order.
func (r *Registry) Entries() []Entry {
	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	return entries
}
