// Package quorum provides a distributed rendezvous primitive for
// deployment agents.
//
// # Overview
//
// Independent deployment agents (one per cluster or region) must agree on
// when it is safe to apply the pre-deploy phase of a migration plan and on
// when every agent has finished the post-deploy phase. The agents share no
// memory; the only shared resource is an external atomic counter store.
//
// A rendezvous round is identified by a namespace string derived from the
// plan hash and a phase tag, so agents that computed the same plan derive
// the same namespace. For a round of size quorum:
//
//   - every agent calls Join exactly once; the call whose increment reaches
//     quorum returns true, all others return false
//   - agents that received false call Poll in a caller-owned retry loop
//     until it returns true or fails with ErrQuorumDissolved
//   - an agent that cannot proceed calls Sever, which makes every other
//     agent's next Poll fail with ErrQuorumDissolved
//
// Join, Poll and Sever are single round-trips against the store and never
// block or spin internally; backoff and timeout policy belong to the caller
// (see package deploy).
//
// Namespaces are self-clearing: once the outcome of a round was observed by
// the winner and acknowledged by every poller, the counters are deleted and
// the namespace can be reused for a later phase of the same plan. A TTL on
// every counter reclaims rounds that were abandoned without draining.
package quorum
