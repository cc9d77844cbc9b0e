package staging

// StageMap maps "app.name" or "app" configuration keys to a Stage. The more
// specific key wins.
type StageMap map[string]Stage

// lookup returns the stage configured for the migration, trying the
// "app.name" key first and the bare "app" key second.
func (m StageMap) lookup(ref MigrationRef) (Stage, bool) {
	if m == nil {
		return StageUnset, false
	}
	if stage, ok := m[ref.String()]; ok {
		return stage, true
	}
	stage, ok := m[ref.AppLabel]
	return stage, ok
}

// ResolverConfig carries the externally loaded stage configuration consumed
// by a Resolver.
type ResolverConfig struct {
	// Overrides forces a stage regardless of the migration's own signals.
	// Keyed by "app.name" or "app".
	Overrides StageMap

	// Fallbacks supplies a stage only when the migration's operations
	// disagree among themselves. Same keys as Overrides.
	Fallbacks StageMap

	// ThirdPartyApps lists app labels that belong to externally-sourced
	// packages. Their migrations receive ThirdPartyDefault as a fallback
	// and plan diagnostics recommend overrides instead of code edits.
	ThirdPartyApps []string

	// ThirdPartyDefault is the fallback stage seeded for every app in
	// ThirdPartyApps that has no more specific fallback configured.
	// StageUnset disables the seeding.
	ThirdPartyDefault Stage
}

// Resolver determines a migration's overall deployment stage from explicit
// markers, configured overrides/fallbacks, or its operations. It is
// immutable after construction and safe for concurrent use.
type Resolver struct {
	overrides  StageMap
	fallbacks  StageMap
	thirdParty map[string]bool
}

// NewResolver builds a Resolver from configuration. The third-party default
// stage, when set, is folded into the fallback map for every third-party app
// lacking a more specific entry.
func NewResolver(cfg ResolverConfig) *Resolver {
	r := &Resolver{
		overrides:  cfg.Overrides,
		fallbacks:  make(StageMap, len(cfg.Fallbacks)+len(cfg.ThirdPartyApps)),
		thirdParty: make(map[string]bool, len(cfg.ThirdPartyApps)),
	}
	for key, stage := range cfg.Fallbacks {
		r.fallbacks[key] = stage
	}
	for _, app := range cfg.ThirdPartyApps {
		r.thirdParty[app] = true
		if cfg.ThirdPartyDefault.Valid() {
			if _, ok := r.fallbacks[app]; !ok {
				r.fallbacks[app] = cfg.ThirdPartyDefault
			}
		}
	}
	return r
}

// ThirdParty reports whether the app label was configured as belonging to
// an externally-sourced package.
func (r *Resolver) ThirdParty(appLabel string) bool {
	return r.thirdParty[appLabel]
}

// Resolve determines the migration's stage and how it was determined.
//
// Precedence, first hit wins:
//
//  1. the migration's own explicit Stage
//  2. the override map ("app.name", then "app")
//  3. unanimous classification of the operations
//  4. the fallback map, consulted only when the operations disagree
//
// A migration with no operations and no explicit or override stage carries
// no deployment-timing constraint and resolves to (StageUnset, OriginNone).
// Disagreeing operations with no fallback produce an AmbiguousStageError.
func (r *Resolver) Resolve(migration *Migration) (Stage, StageOrigin, error) {
	if migration.Stage != StageUnset {
		if !migration.Stage.Valid() {
			return StageUnset, OriginNone, &AmbiguousStageError{Owner: migration.Ref().String()}
		}
		return migration.Stage, OriginExplicit, nil
	}
	if stage, ok := r.overrides.lookup(migration.Ref()); ok {
		return stage, OriginOverride, nil
	}

	inferred := StageUnset
	for _, op := range migration.Operations {
		stage, err := ClassifyOperation(op)
		if err != nil {
			return StageUnset, OriginNone, err
		}
		switch {
		case inferred == StageUnset:
			inferred = stage
		case stage != inferred:
			if fallback, ok := r.fallbacks.lookup(migration.Ref()); ok {
				return fallback, OriginFallback, nil
			}
			return StageUnset, OriginNone, &AmbiguousStageError{Owner: migration.Ref().String()}
		}
	}
	if inferred == StageUnset {
		return StageUnset, OriginNone, nil
	}
	return inferred, OriginInferred, nil
}

// MustPostDeploy reports whether the plan entry has to run after deployment.
// Reverting flips the answer: undoing a pre-deploy change is only safe once
// the code that relied on it is gone. The second result is false when the
// migration carries no deployment-timing constraint at all.
func (r *Resolver) MustPostDeploy(entry PlanEntry) (post bool, constrained bool, origin StageOrigin, err error) {
	stage, origin, err := r.Resolve(entry.Migration)
	if err != nil {
		return false, false, origin, err
	}
	if stage == StageUnset {
		return false, false, origin, nil
	}
	return (stage == StagePostDeploy) != entry.Direction.Backward(), true, origin, nil
}
