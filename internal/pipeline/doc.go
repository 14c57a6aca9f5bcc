// Package pipeline executes the per-message unit of work: parse and
// validate the payload, resolve the owning user, commit one tenant-scoped
// transaction against the primary store, and emit live-update events. The
// outcome taxonomy (success, structural failure, transient failure) drives
// the caller's acknowledgment policy.
package pipeline
