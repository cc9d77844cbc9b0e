package deploy

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/stagegate/stagegate/pkg/staging"
	"github.com/stagegate/stagegate/pkg/telemetry"
)

// DryRunExecutor logs each plan entry and its operations without touching
// the database. It backs the plan preview and lets the rendezvous machinery
// be rehearsed end to end.
type DryRunExecutor struct {
	logger *telemetry.Logger
}

// NewDryRunExecutor creates an executor that only logs.
func NewDryRunExecutor(logger *telemetry.Logger) *DryRunExecutor {
	return &DryRunExecutor{logger: logger.NewComponentLogger("dry-run")}
}

// Apply implements Executor.
func (e *DryRunExecutor) Apply(_ context.Context, entry staging.PlanEntry) error {
	logger := e.logger.WithMigration(entry.Migration.Ref().String())
	logger.Infof("would apply migration (%s)", entry.Direction)
	for _, op := range entry.Migration.Operations {
		logger.Debugf("  %s", op.Describe())
	}
	return nil
}

// CommandExecutor applies each plan entry by running an external command,
// typically the framework's own migrate tool. The entry's identity is passed
// through the environment:
//
//	STAGEGATE_APP        owning app label
//	STAGEGATE_MIGRATION  migration name
//	STAGEGATE_DIRECTION  "forward" or "backward"
type CommandExecutor struct {
	command []string
	logger  *telemetry.Logger
}

// NewCommandExecutor creates an executor running the given argv for each
// entry. The command must be non-empty.
func NewCommandExecutor(command []string, logger *telemetry.Logger) (*CommandExecutor, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("deploy: migrate command is empty")
	}
	return &CommandExecutor{
		command: command,
		logger:  logger.NewComponentLogger("migrate"),
	}, nil
}

// Apply implements Executor.
func (e *CommandExecutor) Apply(ctx context.Context, entry staging.PlanEntry) error {
	ref := entry.Migration.Ref()
	cmd := exec.CommandContext(ctx, e.command[0], e.command[1:]...)
	cmd.Env = append(os.Environ(),
		"STAGEGATE_APP="+ref.AppLabel,
		"STAGEGATE_MIGRATION="+ref.Name,
		"STAGEGATE_DIRECTION="+string(entry.Direction),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	e.logger.WithMigration(ref.String()).Infof("running %v", e.command)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("migrate command for %s: %w", ref, err)
	}
	return nil
}
