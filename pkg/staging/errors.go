package staging

import (
	"errors"
	"fmt"
	"strings"
)

// AmbiguousStageError reports that an operation sequence or a migration
// carries conflicting stage signals that neither configuration nor safe
// reordering could resolve. The caller can recover by authoring an explicit
// stage, an override/fallback entry, or by splitting the migration.
type AmbiguousStageError struct {
	// Owner identifies the migration or sequence being classified,
	// in "app.name" form when known.
	Owner string

	// Operation is the description of the conflicting operation, when the
	// ambiguity was detected while partitioning a sequence.
	Operation string
}

// Error implements the error interface.
func (e *AmbiguousStageError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf(
			"cannot determine stage of %s: operation %q conflicts with preceding post-deploy operations and cannot be safely reordered",
			e.Owner, e.Operation,
		)
	}
	return fmt.Sprintf("cannot automatically determine stage of %s: operations of both stages present", e.Owner)
}

// IsAmbiguousStage reports whether err is or wraps an AmbiguousStageError.
func IsAmbiguousStage(err error) bool {
	var e *AmbiguousStageError
	return errors.As(err, &e)
}

// AmbiguousPlanError reports that a plan is not contiguous with respect to
// pre/post-deploy ordering: a migration that must run before deployment
// depends on one that must run after it. The message distinguishes stages
// that were defined (explicit or override) from inferred ones and suggests
// the appropriate fix for each.
type AmbiguousPlanError struct {
	// Pre identifies the pre-deploy migration that arrived too late.
	Pre MigrationRef

	// PreOrigin records how Pre's stage was determined.
	PreOrigin StageOrigin

	// PreThirdParty is set when Pre belongs to an externally-sourced app.
	PreThirdParty bool

	// Post identifies the pending post-deploy migration Pre depends on.
	Post MigrationRef

	// PostOrigin records how Post's stage was determined.
	PostOrigin StageOrigin

	// PostThirdParty is set when Post belongs to an externally-sourced app.
	PostThirdParty bool
}

// Error implements the error interface.
func (e *AmbiguousPlanError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b,
		"plan is not contiguous: pre-deploy migration %s (stage %s) depends on post-deploy migration %s (stage %s)",
		e.Pre, originWord(e.PreOrigin), e.Post, originWord(e.PostOrigin),
	)
	for _, side := range []struct {
		ref        MigrationRef
		origin     StageOrigin
		thirdParty bool
	}{
		{e.Pre, e.PreOrigin, e.PreThirdParty},
		{e.Post, e.PostOrigin, e.PostThirdParty},
	} {
		if side.origin.Defined() {
			continue
		}
		if side.thirdParty {
			fmt.Fprintf(&b, "; consider adding an override entry for %q", side.ref)
		} else {
			fmt.Fprintf(&b, "; consider setting an explicit stage on %s", side.ref)
		}
	}
	return b.String()
}

// IsAmbiguousPlan reports whether err is or wraps an AmbiguousPlanError.
func IsAmbiguousPlan(err error) bool {
	var e *AmbiguousPlanError
	return errors.As(err, &e)
}

func originWord(o StageOrigin) string {
	if o.Defined() {
		return "defined"
	}
	return "inferred"
}
