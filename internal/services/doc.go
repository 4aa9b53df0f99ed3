// Package services defines shared utilities consumed by the workflow steps
// and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp content IDs, step names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that let the failure
//     governor tell malformed jobs (final) from ordinary step failures
//     (retryable).
//
// Use these helpers when wiring new step logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
