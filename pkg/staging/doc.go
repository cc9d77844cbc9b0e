// Package staging implements the deployment-stage model for rolling
// deployments of schema migrations.
//
// # Overview
//
// A rolling deployment replaces application code while the database keeps
// serving both the old and the new revision. Schema changes therefore split
// into two phases:
//
//   - pre-deploy: changes compatible with the currently running code
//     (additive or backward-compatible), applied before the new code ships
//   - post-deploy: changes only compatible with the new code (removals),
//     applied once the old code stopped referencing the schema
//
// The package provides four pure building blocks:
//
//   - ClassifyOperation: Operation -> Stage, explicit marker first,
//     removal heuristic otherwise
//   - Partition: splits one migration's ordered operation list into a
//     pre/post pair, attempting a safe reorder on conflict
//   - Resolver: determines a whole migration's Stage from explicit markers,
//     configured overrides and fallbacks, or its operations
//   - Stager: trims a multi-migration plan to its contiguous pre-deploy
//     prefix, validating contiguity against migration dependencies
//
// All of them are side-effect free over their inputs and safe for concurrent
// use; they operate on data owned by the caller for the duration of a single
// plan computation. Distributed coordination around the produced plans lives
// in package quorum.
//
// # Error Classification
//
// Ambiguity is surfaced, never guessed:
//
//   - AmbiguousStageError: an operation sequence or a migration carries
//     conflicting stage signals that configuration or safe reordering
//     cannot resolve
//   - AmbiguousPlanError: a plan interleaves pre- and post-deploy
//     migrations with a real dependency between them
//
// Both support errors.As and carry enough context for an operator to author
// an override or split the migration.
package staging
