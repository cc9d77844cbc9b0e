// Package history persists deployment runs so operators can audit which
// plans were applied, in which phase, and how each quorum rendezvous ended.
package history

import (
	"context"
	"time"
)

// RunStatus is the lifecycle state of one recorded deployment run.
type RunStatus string

const (
	// RunStatusRunning means the phase is still being applied.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded means the phase completed and quorum drained.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed means applying a migration failed.
	RunStatusFailed RunStatus = "failed"

	// RunStatusSevered means this agent abandoned the rendezvous.
	RunStatusSevered RunStatus = "severed"

	// RunStatusDissolved means a peer severed the rendezvous.
	RunStatusDissolved RunStatus = "dissolved"

	// RunStatusTimedOut means quorum was not reached within the wait
	// budget.
	RunStatusTimedOut RunStatus = "timed_out"
)

// Run is one agent's record of applying one phase of a plan.
type Run struct {
	// ID is the unique run identifier.
	ID string

	// Database names the target database the plan was computed against.
	Database string

	// PlanHash is the deterministic digest of the staged plan.
	PlanHash string

	// Phase is "pre" or "post".
	Phase string

	// Quorum is the rendezvous size the run coordinated with.
	Quorum int

	// Winner reports whether this agent's join completed the quorum.
	Winner bool

	// Entries is the number of plan entries applied in this phase.
	Entries int

	// Status is the run's final state.
	Status RunStatus

	// Error carries the failure message for non-succeeded runs.
	Error string

	// StartedAt is when the run began.
	StartedAt time.Time

	// FinishedAt is when the run reached a final status; zero while
	// running.
	FinishedAt time.Time
}

// Store persists deployment runs.
type Store interface {
	// RecordStart inserts a run in the running state.
	RecordStart(ctx context.Context, run *Run) error

	// RecordFinish finalizes a run's status, error and finish time.
	RecordFinish(ctx context.Context, id string, status RunStatus, runErr string) error

	// SetWinner marks whether the run's join completed the quorum.
	SetWinner(ctx context.Context, id string, winner bool) error

	// GetRun returns one run by ID.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns runs for a plan hash, most recent first.
	ListRuns(ctx context.Context, planHash string) ([]*Run, error)

	// Close releases the store's resources.
	Close() error
}
