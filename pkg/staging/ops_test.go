package staging

// fakeOp is a minimal Operation for exercising classification and
// partitioning without pulling in concrete schema operation kinds.
type fakeOp struct {
	name        string
	stage       Stage
	explicit    Stage
	hasExplicit bool
	commutes    bool
}

func (o *fakeOp) Classify() Stage {
	if o.stage.Valid() {
		return o.stage
	}
	return StagePreDeploy
}

func (o *fakeOp) CanCommutePast(Operation) bool { return o.commutes }

func (o *fakeOp) Describe() string { return o.name }

func (o *fakeOp) ExplicitStage() (Stage, bool) { return o.explicit, o.hasExplicit }

func preOp(name string) *fakeOp {
	return &fakeOp{name: name, stage: StagePreDeploy}
}

func postOp(name string) *fakeOp {
	return &fakeOp{name: name, stage: StagePostDeploy}
}

func commutingPostOp(name string) *fakeOp {
	return &fakeOp{name: name, stage: StagePostDeploy, commutes: true}
}

func migration(app, name string, stage Stage, ops ...Operation) *Migration {
	return &Migration{AppLabel: app, Name: name, Stage: stage, Operations: ops}
}

func opNames(ops []Operation) []string {
	names := make([]string, 0, len(ops))
	for _, op := range ops {
		names = append(names, op.Describe())
	}
	return names
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
