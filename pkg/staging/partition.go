package staging

// Partition splits an ordered operation list into a pre-deploy and a
// post-deploy bucket whose concatenation is a valid reordering of the input.
//
// The list is scanned once. A pre-deploy operation encountered after
// post-deploy operations were already collected is an ordering conflict:
// the operation is moved into the pre-deploy bucket only if every collected
// post-deploy operation agrees the reorder is safe (a single refusal aborts
// the whole attempt). Otherwise an AmbiguousStageError naming owner and the
// conflicting operation is returned and the input is left untouched.
//
// owner identifies the migration being partitioned, for diagnostics.
func Partition(ops []Operation, owner string) (pre, post []Operation, err error) {
	for _, op := range ops {
		stage, err := ClassifyOperation(op)
		if err != nil {
			return nil, nil, err
		}
		if stage == StagePostDeploy {
			post = append(post, op)
			continue
		}
		if len(post) > 0 && !commutesPastAll(post, op) {
			return nil, nil, &AmbiguousStageError{Owner: owner, Operation: op.Describe()}
		}
		pre = append(pre, op)
	}
	return pre, post, nil
}

// commutesPastAll reports whether every collected post-deploy operation
// permits op to be reordered ahead of it.
func commutesPastAll(post []Operation, op Operation) bool {
	for _, collected := range post {
		if !collected.CanCommutePast(op) {
			return false
		}
	}
	return true
}
