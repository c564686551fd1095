// Package errors implements the Metagraph error taxonomy.
//
// Errors fall into five classes:
//
//   - Validation: a payload or domain object fails declared constraints.
//     Surfaced immediately, never retried.
//   - NotFound: a referenced metatype, relationship, mapping, or changelist
//     is absent or not owned by the requesting container.
//   - Conflict: a duplicate-key collision, typically two mappings racing on
//     the same (data source, shape hash) pair. Callers may re-read and retry.
//   - Transaction: the persistence transaction failed to start or commit.
//     The owning operation rolls back; nothing is half-applied.
//   - Partial: one or more items in a batch failed without aborting their
//     siblings. BatchError carries the per-item outcomes.
//
// Use the Wrap* helpers to attach component/operation context in the
// standard "component.method: action failed: cause" format.
package errors
