package staging

import (
	"fmt"
)

// Stage represents the deployment phase a schema change must run in.
type Stage string

const (
	// StageUnset means no deployment-timing constraint was determined.
	StageUnset Stage = ""

	// StagePreDeploy marks changes compatible with the currently running
	// code; they are applied before the new code is deployed.
	StagePreDeploy Stage = "pre-deploy"

	// StagePostDeploy marks changes only compatible with the new code;
	// they must wait until after every node runs the new revision.
	StagePostDeploy Stage = "post-deploy"
)

// ParseStage converts a configuration string into a Stage.
func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case StagePreDeploy, StagePostDeploy:
		return Stage(s), nil
	}
	return StageUnset, fmt.Errorf("invalid stage %q (want %q or %q)", s, StagePreDeploy, StagePostDeploy)
}

// Valid reports whether the stage is one of the two deployment phases.
func (s Stage) Valid() bool {
	return s == StagePreDeploy || s == StagePostDeploy
}

// StageOrigin records how a migration's Stage was determined. The plan
// stager uses it to word its diagnostics: a defined stage was requested by
// a human, an inferred one is a heuristic guess worth pinning down.
type StageOrigin string

const (
	// OriginNone means no stage applies (e.g. an empty merge migration).
	OriginNone StageOrigin = "none"

	// OriginExplicit means the migration declared its own stage.
	OriginExplicit StageOrigin = "explicit"

	// OriginOverride means a configured override supplied the stage.
	OriginOverride StageOrigin = "override"

	// OriginInferred means the stage was deduced from the operations.
	OriginInferred StageOrigin = "inferred"

	// OriginFallback means a configured fallback resolved an operation
	// conflict.
	OriginFallback StageOrigin = "fallback"
)

// Defined reports whether the origin represents a deliberate human choice
// rather than a heuristic inference.
func (o StageOrigin) Defined() bool {
	return o == OriginExplicit || o == OriginOverride
}

// Direction is the sense in which a migration is applied within a plan.
type Direction string

const (
	// DirectionForward applies the migration.
	DirectionForward Direction = "forward"

	// DirectionBackward reverts a previously applied migration.
	DirectionBackward Direction = "backward"
)

// Backward reports whether the direction reverts the migration.
func (d Direction) Backward() bool {
	return d == DirectionBackward
}

// MigrationRef identifies a migration by its owning app and name.
type MigrationRef struct {
	// AppLabel is the label of the application owning the migration.
	AppLabel string `json:"app_label" yaml:"app"`

	// Name is the migration name, unique within the app.
	Name string `json:"name" yaml:"name"`
}

// String returns the canonical "app.name" form used in configuration keys
// and diagnostics.
func (r MigrationRef) String() string {
	return r.AppLabel + "." + r.Name
}

// Migration is a named, ordered collection of schema operations. It is
// constructed by the caller (typically from a manifest) and consumed
// read-only by this package.
type Migration struct {
	// AppLabel is the label of the application owning the migration.
	AppLabel string

	// Name is the migration name, unique within the app.
	Name string

	// Operations is the ordered list of schema changes the migration
	// performs. The partitioner may replace the list, never mutate it
	// in place.
	Operations []Operation

	// Dependencies references migrations that must be applied first.
	Dependencies []MigrationRef

	// Stage is the optional explicit deployment stage of the whole
	// migration. StageUnset defers to configuration and inference.
	Stage Stage
}

// Ref returns the migration's identity.
func (m *Migration) Ref() MigrationRef {
	return MigrationRef{AppLabel: m.AppLabel, Name: m.Name}
}

// DependsOn reports whether the migration directly depends on ref.
func (m *Migration) DependsOn(ref MigrationRef) bool {
	for _, dep := range m.Dependencies {
		if dep == ref {
			return true
		}
	}
	return false
}

// PlanEntry is one step of a deployment plan: a migration together with the
// direction it will be applied in.
type PlanEntry struct {
	// Migration is the migration to apply or revert.
	Migration *Migration

	// Direction is forward to apply, backward to revert.
	Direction Direction
}

// Plan is the total order in which migrations will be applied or reverted.
// Entries respect the dependency partial order of their migrations.
type Plan []PlanEntry
