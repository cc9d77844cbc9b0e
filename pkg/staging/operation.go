package staging

// Operation is one opaque unit of schema change. Concrete operation kinds
// live outside this package (see package schema); the staging logic only
// needs the capabilities below.
type Operation interface {
	// Classify returns the deployment stage the operation requires when no
	// explicit marker is present. Removal kinds return StagePostDeploy,
	// additive or backward-compatible kinds return StagePreDeploy.
	Classify() Stage

	// CanCommutePast reports whether the relative order of the receiver
	// and other is semantically irrelevant, i.e. whether other may be
	// safely reordered to the other side of the receiver.
	CanCommutePast(other Operation) bool

	// Describe returns a short human-readable description used in
	// diagnostics.
	Describe() string
}

// ExplicitlyStaged is implemented by operations carrying an explicit stage
// marker. The marker takes precedence over Classify.
type ExplicitlyStaged interface {
	// ExplicitStage returns the declared stage and whether one was set.
	ExplicitStage() (Stage, bool)
}

// PreDeployDefault is an embeddable helper supplying the default operation
// behavior: additive classification and no commuting. Concrete operation
// kinds opt in by embedding it and overriding what differs.
type PreDeployDefault struct{}

// Classify returns StagePreDeploy.
func (PreDeployDefault) Classify() Stage { return StagePreDeploy }

// CanCommutePast returns false; reordering is only allowed when a concrete
// kind can prove independence.
func (PreDeployDefault) CanCommutePast(Operation) bool { return false }
