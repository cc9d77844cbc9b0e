package quorum

import (
	"context"
	"errors"
	"fmt"
)

// ErrQuorumDissolved is returned by Poll after a participating agent severed
// the rendezvous. It is distinct from any timeout the caller's retry loop
// may impose; the deployment must abort rather than proceed.
var ErrQuorumDissolved = errors.New("quorum dissolved by a severed participant")

// Coordinator is the rendezvous capability deployment agents synchronize
// through. Implementations must guarantee that exactly one Join per
// namespace returns true regardless of call concurrency.
type Coordinator interface {
	// Join registers the caller as a participant of the namespace and
	// reports whether this call completed the quorum. Exactly quorum Join
	// calls are expected per namespace across all agents.
	Join(ctx context.Context, namespace string, quorum int) (bool, error)

	// Poll reports whether the namespace's quorum has been reached. It
	// fails with ErrQuorumDissolved once any participant severed the
	// round. Callers retry with their own backoff and timeout.
	Poll(ctx context.Context, namespace string, quorum int) (bool, error)

	// Sever abandons the rendezvous on behalf of a participant that cannot
	// proceed. Irreversible for the namespace instance; every concurrent
	// poller observes the dissolution.
	Sever(ctx context.Context, namespace string, quorum int) error
}

// Phase tags one half of a staged deployment when deriving namespaces.
type Phase string

const (
	// PhasePreDeploy is the rendezvous before applying pre-deploy
	// migrations.
	PhasePreDeploy Phase = "pre"

	// PhasePostDeploy is the rendezvous after applying post-deploy
	// migrations.
	PhasePostDeploy Phase = "post"
)

// PhaseNamespace derives the rendezvous namespace for one phase of a plan
// against one database. Agents that computed the same plan derive the same
// namespace; the plan hash keeps unrelated plans from colliding.
func PhaseNamespace(phase Phase, database, planHash string) string {
	return fmt.Sprintf("%s:%s:%s", phase, database, planHash)
}

func validateQuorum(quorum int) error {
	if quorum < 1 {
		return fmt.Errorf("quorum must be at least 1, got %d", quorum)
	}
	return nil
}
