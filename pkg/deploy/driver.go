// Package deploy drives the application of staged migration plans across a
// fleet of deployment agents.
//
// The driver owns the retry loop around quorum polling: Join/Poll/Sever are
// single round-trips, while the backoff, the bounded wait and the
// distinction between a timeout and a dissolved rendezvous live here. It
// also records every phase in the history store and reports progress
// through telemetry.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stagegate/stagegate/pkg/history"
	"github.com/stagegate/stagegate/pkg/quorum"
	"github.com/stagegate/stagegate/pkg/staging"
	"github.com/stagegate/stagegate/pkg/telemetry"
)

// ErrQuorumTimeout is returned when quorum was not reached within the wait
// budget. It is distinct from quorum.ErrQuorumDissolved: a timeout may be
// retried by re-running the deployment, a dissolution must abort it.
var ErrQuorumTimeout = errors.New("timed out waiting for quorum")

// Executor applies one plan entry against the target database. The
// framework-specific execution of schema changes stays outside the core;
// tests and dry runs plug in lightweight implementations.
type Executor interface {
	Apply(ctx context.Context, entry staging.PlanEntry) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, entry staging.PlanEntry) error

// Apply implements Executor.
func (f ExecutorFunc) Apply(ctx context.Context, entry staging.PlanEntry) error {
	return f(ctx, entry)
}

// Config holds the driver's settings.
type Config struct {
	// Database names the target database; it keys rendezvous namespaces.
	Database string

	// Quorum is the number of agents that must rendezvous per phase.
	Quorum int

	// PollInterval is the delay between quorum polls (default 1s).
	PollInterval time.Duration

	// WaitTimeout bounds the total time waiting for quorum (default 10m).
	WaitTimeout time.Duration
}

// Driver coordinates one deployment agent through the pre- and post-deploy
// phases of a staged plan.
type Driver struct {
	cfg         Config
	coordinator quorum.Coordinator
	executor    Executor
	stager      *staging.Stager
	store       history.Store
	logger      *telemetry.Logger
	metrics     *telemetry.Metrics
	tracer      *telemetry.Tracer
}

// Options carries the driver's collaborators. Coordinator, Executor and
// Stager are required; Store, Logger, Metrics and Tracer are optional.
type Options struct {
	Config      Config
	Coordinator quorum.Coordinator
	Executor    Executor
	Stager      *staging.Stager
	Store       history.Store
	Logger      *telemetry.Logger
	Metrics     *telemetry.Metrics
	Tracer      *telemetry.Tracer
}

// New creates a deployment driver. Configuration problems fail here.
func New(opts Options) (*Driver, error) {
	if opts.Coordinator == nil {
		return nil, fmt.Errorf("deploy: coordinator is required")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("deploy: executor is required")
	}
	if opts.Stager == nil {
		return nil, fmt.Errorf("deploy: stager is required")
	}
	cfg := opts.Config
	if cfg.Database == "" {
		return nil, fmt.Errorf("deploy: database name is required")
	}
	if cfg.Quorum < 1 {
		return nil, fmt.Errorf("deploy: quorum must be at least 1, got %d", cfg.Quorum)
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.WaitTimeout == 0 {
		cfg.WaitTimeout = 10 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger, _ = telemetry.NewLogger(telemetry.DefaultLoggingConfig())
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer, _ = telemetry.NewTracer(telemetry.TracingConfig{}, "stagegate", "dev")
	}
	return &Driver{
		cfg:         cfg,
		coordinator: opts.Coordinator,
		executor:    opts.Executor,
		stager:      opts.Stager,
		store:       opts.Store,
		logger:      logger.NewComponentLogger("deploy"),
		metrics:     metrics,
		tracer:      tracer,
	}, nil
}

// ApplyPreDeploy rendezvouses with the other agents and, once every agent
// is ready, applies the plan's pre-deploy prefix. It returns the applied
// prefix.
func (d *Driver) ApplyPreDeploy(ctx context.Context, plan staging.Plan) (staging.Plan, error) {
	trimmed, err := d.stager.TrimToPreDeploy(plan)
	if err != nil {
		d.metrics.PlanStaged("ambiguous", 0, 0)
		d.recordStagingError(err)
		return nil, err
	}
	remainder, err := d.stager.PostDeployRemainder(plan)
	if err != nil {
		return nil, err
	}
	d.metrics.PlanStaged("ok", len(trimmed), len(remainder))

	planHash := staging.HashPlan(plan)
	namespace := quorum.PhaseNamespace(quorum.PhasePreDeploy, d.cfg.Database, planHash)
	if err := d.runPhase(ctx, string(quorum.PhasePreDeploy), planHash, namespace, trimmed, true); err != nil {
		return nil, err
	}
	return trimmed, nil
}

// ApplyPostDeploy applies the plan's post-deploy remainder and then
// rendezvouses until every agent has finished it. It returns the applied
// remainder.
func (d *Driver) ApplyPostDeploy(ctx context.Context, plan staging.Plan) (staging.Plan, error) {
	remainder, err := d.stager.PostDeployRemainder(plan)
	if err != nil {
		d.recordStagingError(err)
		return nil, err
	}
	planHash := staging.HashPlan(plan)
	namespace := quorum.PhaseNamespace(quorum.PhasePostDeploy, d.cfg.Database, planHash)
	if err := d.runPhase(ctx, string(quorum.PhasePostDeploy), planHash, namespace, remainder, false); err != nil {
		return nil, err
	}
	return remainder, nil
}

// Sever abandons the rendezvous for one phase of the plan on behalf of an
// agent that cannot participate. The withdrawal is recorded as a run of its
// own so the audit trail shows which agent dissolved the round.
func (d *Driver) Sever(ctx context.Context, plan staging.Plan, phase quorum.Phase) error {
	planHash := staging.HashPlan(plan)
	namespace := quorum.PhaseNamespace(phase, d.cfg.Database, planHash)
	logger := d.logger.WithNamespace(namespace)
	logger.Warn("severing rendezvous")

	runID := uuid.New().String()
	if d.store != nil {
		run := &history.Run{
			ID:        runID,
			Database:  d.cfg.Database,
			PlanHash:  planHash,
			Phase:     string(phase),
			Quorum:    d.cfg.Quorum,
			StartedAt: time.Now(),
		}
		if err := d.store.RecordStart(ctx, run); err != nil {
			return err
		}
	}

	err := d.coordinator.Sever(ctx, namespace, d.cfg.Quorum)
	if err == nil {
		d.metrics.QuorumSever()
	}
	if d.store != nil {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		if recordErr := d.store.RecordFinish(ctx, runID, history.RunStatusSevered, msg); recordErr != nil {
			logger.WithError(recordErr).Error("recording severed run failed")
		}
	}
	return err
}

// runPhase executes one phase: for the pre phase the rendezvous happens
// before applying (agents gate on readiness), for the post phase after
// (agents gate on completion). A failure after joining severs the
// rendezvous so peers abort instead of hanging.
func (d *Driver) runPhase(ctx context.Context, phase, planHash, namespace string, entries staging.Plan, rendezvousFirst bool) error {
	ctx, span := d.tracer.StartPhase(ctx, phase, planHash)
	defer span.End()

	runID := uuid.New().String()
	logger := d.logger.WithRunID(runID).WithNamespace(namespace)
	logger.Infof("starting %s-deploy phase with %d entries", phase, len(entries))

	if d.store != nil {
		run := &history.Run{
			ID:        runID,
			Database:  d.cfg.Database,
			PlanHash:  planHash,
			Phase:     phase,
			Quorum:    d.cfg.Quorum,
			Entries:   len(entries),
			StartedAt: time.Now(),
		}
		if err := d.store.RecordStart(ctx, run); err != nil {
			return err
		}
	}

	finish := func(status history.RunStatus, cause error) error {
		if cause != nil {
			telemetry.RecordError(span, cause)
		}
		if d.store != nil {
			msg := ""
			if cause != nil {
				msg = cause.Error()
			}
			if err := d.store.RecordFinish(ctx, runID, status, msg); err != nil {
				logger.WithError(err).Error("recording run outcome failed")
			}
		}
		return cause
	}

	apply := func() error {
		start := time.Now()
		for _, entry := range entries {
			entryLogger := logger.WithMigration(entry.Migration.Ref().String())
			entryLogger.Infof("applying migration (%s)", entry.Direction)
			if err := d.executor.Apply(ctx, entry); err != nil {
				return fmt.Errorf("applying %s: %w", entry.Migration.Ref(), err)
			}
			d.metrics.MigrationApplied(phase, string(entry.Direction))
		}
		d.metrics.ApplyDuration(phase, time.Since(start))
		return nil
	}

	if rendezvousFirst {
		if err := d.awaitQuorum(ctx, phase, namespace, runID, logger); err != nil {
			return finish(statusForQuorumError(err), err)
		}
		// The rendezvous has completed and drained; every peer has already
		// been released into its own apply. Severing now would seed a fresh
		// severed round into the reclaimed namespace and dissolve a later
		// retry of the same plan, so a local apply failure is only reported.
		if err := apply(); err != nil {
			return finish(history.RunStatusFailed, err)
		}
		logger.Infof("%s-deploy phase complete", phase)
		return finish(history.RunStatusSucceeded, nil)
	}

	// This agent has not joined yet; severing takes the place of its Join so
	// peers waiting on the completion rendezvous abort instead of hanging.
	if err := apply(); err != nil {
		if severErr := d.coordinator.Sever(ctx, namespace, d.cfg.Quorum); severErr != nil {
			logger.WithError(severErr).Error("severing rendezvous failed")
		} else {
			d.metrics.QuorumSever()
		}
		return finish(history.RunStatusFailed, err)
	}
	if err := d.awaitQuorum(ctx, phase, namespace, runID, logger); err != nil {
		return finish(statusForQuorumError(err), err)
	}
	logger.Infof("%s-deploy phase complete", phase)
	return finish(history.RunStatusSucceeded, nil)
}

// awaitQuorum joins the namespace and, when the join did not complete the
// quorum, polls with the configured interval until success, dissolution,
// timeout or context cancellation.
func (d *Driver) awaitQuorum(ctx context.Context, phase, namespace, runID string, logger *telemetry.Logger) error {
	ctx, span := d.tracer.StartQuorum(ctx, namespace, d.cfg.Quorum)
	defer span.End()

	start := time.Now()
	won, err := d.coordinator.Join(ctx, namespace, d.cfg.Quorum)
	if err != nil {
		return err
	}
	d.metrics.QuorumJoin(won)
	if d.store != nil && won {
		if err := d.store.SetWinner(ctx, runID, true); err != nil {
			logger.WithError(err).Error("recording quorum winner failed")
		}
	}
	if won {
		logger.Info("quorum reached by this agent")
		d.metrics.QuorumWait(phase, time.Since(start))
		return nil
	}

	logger.Infof("waiting for quorum of %d", d.cfg.Quorum)
	deadline := start.Add(d.cfg.WaitTimeout)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			reached, err := d.coordinator.Poll(ctx, namespace, d.cfg.Quorum)
			switch {
			case errors.Is(err, quorum.ErrQuorumDissolved):
				d.metrics.QuorumPoll("dissolved")
				d.metrics.QuorumDissolved()
				logger.Warn("rendezvous dissolved by a peer")
				return err
			case err != nil:
				d.metrics.QuorumPoll("error")
				return err
			case reached:
				d.metrics.QuorumPoll("reached")
				d.metrics.QuorumWait(phase, time.Since(start))
				logger.Info("quorum reached")
				return nil
			}
			d.metrics.QuorumPoll("pending")
			if time.Now().After(deadline) {
				return fmt.Errorf("quorum %q after %s: %w", namespace, d.cfg.WaitTimeout, ErrQuorumTimeout)
			}
		}
	}
}

// recordStagingError counts a staging failure by kind.
func (d *Driver) recordStagingError(err error) {
	switch {
	case staging.IsAmbiguousPlan(err):
		d.metrics.StagingError("plan")
	case staging.IsAmbiguousStage(err):
		d.metrics.StagingError("stage")
	}
}

// statusForQuorumError maps a quorum wait failure to a run status.
func statusForQuorumError(err error) history.RunStatus {
	switch {
	case errors.Is(err, quorum.ErrQuorumDissolved):
		return history.RunStatusDissolved
	case errors.Is(err, ErrQuorumTimeout):
		return history.RunStatusTimedOut
	default:
		return history.RunStatusFailed
	}
}
