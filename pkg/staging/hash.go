package staging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashPlan returns a deterministic digest of the plan, stable across
// processes. Two deployment agents computing the same ordered sequence of
// (migration identity, direction) pairs derive the same hash; reordering,
// renaming or flipping the direction of any entry changes it. The digest
// keys quorum rendezvous namespaces.
func HashPlan(plan Plan) string {
	h := sha256.New()
	for _, entry := range plan {
		// Length-prefixed fields keep distinct identities from colliding
		// on concatenation.
		ref := entry.Migration.Ref()
		fmt.Fprintf(h, "%d:%s%d:%s%s\n", len(ref.AppLabel), ref.AppLabel, len(ref.Name), ref.Name, entry.Direction)
	}
	return hex.EncodeToString(h.Sum(nil))
}
