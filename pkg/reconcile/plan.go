// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"time"

	"github.com/LeeDigitalWorks/dirsync/pkg/identity"
)

// Update is a patch of authoritative fields for one existing identity.
// An empty patch still clears the identity's missing-from-directory state.
type Update struct {
	Key   string         `json:"key"`
	Patch identity.Patch `json:"patch,omitempty"`
}

// Plan is the set of decisions computed by one run. It is never persisted.
type Plan struct {
	Creates []identity.DirectoryRecord `json:"creates"`
	Updates []Update                   `json:"updates"`
	// Marks lists identities absent from the directory whose grace period
	// has not yet run out.
	Marks   []string `json:"marks,omitempty"`
	Deletes []string `json:"deletes"`

	// Errors holds the records excluded from the plan.
	Errors []RecordError `json:"errors,omitempty"`
}

// Empty reports whether the plan would change nothing.
func (p *Plan) Empty() bool {
	return len(p.Creates) == 0 && len(p.Updates) == 0 && len(p.Marks) == 0 && len(p.Deletes) == 0
}

// Size returns the number of storage operations the plan needs.
func (p *Plan) Size() int {
	return len(p.Creates) + len(p.Updates) + len(p.Marks) + len(p.Deletes)
}

// Trigger names what started a run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// Status is the outcome of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// RunSummary reports the outcome of one reconciliation run. Every run,
// successful or not, produces one.
type RunSummary struct {
	RunID                 string    `json:"run_id"`
	Trigger               Trigger   `json:"trigger"`
	Status                Status    `json:"status"`
	StartedAt             time.Time `json:"started_at"`
	CompletedAt           time.Time `json:"completed_at"`
	TotalDirectoryRecords int       `json:"total_directory_records"`

	Created int `json:"created"`
	Updated int `json:"updated"`
	Marked  int `json:"marked"`
	Deleted int `json:"deleted"`

	SkippedErrors []RecordError `json:"skipped_errors"`

	// Cancelled is set when a shutdown request stopped the run early.
	Cancelled bool `json:"cancelled"`
	// Error describes a run-level failure.
	Error string `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (s *RunSummary) Duration() time.Duration {
	if s.CompletedAt.IsZero() {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt)
}

// Changed returns the number of identities written by the run.
func (s *RunSummary) Changed() int {
	return s.Created + s.Updated + s.Marked + s.Deleted
}
