package staging

// Stager trims deployment plans to the prefix that is safe to apply before
// the new code ships. It is immutable after construction and safe for
// concurrent use.
type Stager struct {
	resolver *Resolver
}

// NewStager creates a Stager using the given resolver for per-migration
// stage decisions.
func NewStager(resolver *Resolver) *Stager {
	return &Stager{resolver: resolver}
}

// pendingEntry remembers a post-deploy plan entry encountered during the
// walk, together with the diagnostic context its stage came with.
type pendingEntry struct {
	entry  PlanEntry
	origin StageOrigin
}

// TrimToPreDeploy returns the subset of plan that must run before
// deployment, in plan order.
//
// Entries that must run post-deploy are withheld; a later pre-deploy entry
// is hoisted past them only if it has no direct dependency edge on any
// withheld entry. A real dependency means a pre-deploy change consumes the
// output of a post-deploy change, which no ordering can satisfy: the walk
// stops with an AmbiguousPlanError naming both migrations.
//
// Only direct dependency edges are inspected; transitive edges through
// migrations absent from the plan are not chased.
//
// Callers apply the returned prefix before deployment and the complement in
// a second, post-deployment pass. On error the input plan is unmodified and
// no prefix is returned.
func (s *Stager) TrimToPreDeploy(plan Plan) (Plan, error) {
	var (
		trimmed Plan
		pending []pendingEntry
	)
	for _, entry := range plan {
		post, constrained, origin, err := s.resolver.MustPostDeploy(entry)
		if err != nil {
			return nil, err
		}
		if constrained && post {
			pending = append(pending, pendingEntry{entry: entry, origin: origin})
			continue
		}
		if blocked, ok := s.dependsOnPending(entry, pending); ok {
			return nil, &AmbiguousPlanError{
				Pre:            entry.Migration.Ref(),
				PreOrigin:      origin,
				PreThirdParty:  s.resolver.ThirdParty(entry.Migration.AppLabel),
				Post:           blocked.entry.Migration.Ref(),
				PostOrigin:     blocked.origin,
				PostThirdParty: s.resolver.ThirdParty(blocked.entry.Migration.AppLabel),
			}
		}
		trimmed = append(trimmed, entry)
	}
	return trimmed, nil
}

// PostDeployRemainder returns the complement of TrimToPreDeploy: the plan
// entries that must wait until after deployment, in plan order. The two
// results concatenate back to a valid reordering of the input.
func (s *Stager) PostDeployRemainder(plan Plan) (Plan, error) {
	var remainder Plan
	for _, entry := range plan {
		post, constrained, _, err := s.resolver.MustPostDeploy(entry)
		if err != nil {
			return nil, err
		}
		if constrained && post {
			remainder = append(remainder, entry)
		}
	}
	return remainder, nil
}

// dependsOnPending returns the first pending post-deploy entry the plan
// entry directly depends on. For backward entries the edge points the other
// way: reverting entry requires the dependent pending revert to happen
// first.
func (s *Stager) dependsOnPending(entry PlanEntry, pending []pendingEntry) (pendingEntry, bool) {
	for _, p := range pending {
		if entry.Direction.Backward() && p.entry.Direction.Backward() {
			if p.entry.Migration.DependsOn(entry.Migration.Ref()) {
				return p, true
			}
			continue
		}
		if entry.Migration.DependsOn(p.entry.Migration.Ref()) {
			return p, true
		}
	}
	return pendingEntry{}, false
}
