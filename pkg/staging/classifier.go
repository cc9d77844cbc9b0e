package staging

import "fmt"

// ClassifyOperation returns the deployment stage of a single operation.
//
// An explicit stage marker wins verbatim; an invalid marker is an error.
// Without a marker the operation's own heuristic classification applies:
// removal kinds report StagePostDeploy, everything else StagePreDeploy.
func ClassifyOperation(op Operation) (Stage, error) {
	if marked, ok := op.(ExplicitlyStaged); ok {
		if stage, set := marked.ExplicitStage(); set {
			if !stage.Valid() {
				return StageUnset, fmt.Errorf("operation %q: invalid explicit stage %q", op.Describe(), stage)
			}
			return stage, nil
		}
	}
	return op.Classify(), nil
}
