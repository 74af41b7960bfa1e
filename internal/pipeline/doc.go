// Package pipeline runs the account lifecycle over the job ledger.
//
// The ledger is the queue: per-stage worker pools lease pending jobs,
// confirm the lease with a conditional transition, and execute the stage
// handler under a heartbeat. The worker wrapper is the single boundary that
// classifies handler failures and persists every transition; success
// advances the account's stage by exactly one step via compare-and-set.
//
// Dispatch is dual-trigger: RequestStage records a durable request marker
// and enqueues immediately, while the scanner periodically recovers markers
// whose enqueue was lost, reclaims stale leases, and prunes old terminal
// jobs. Either trigger alone keeps the pipeline live.
package pipeline
