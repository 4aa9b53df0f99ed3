// Package daemon coordinates the long-running casield process.
//
// It owns the single-instance lock, reaps scratch directories left behind by
// crashed runs, and drives the consumer pool through one lifecycle. Job
// semantics live in the worker and workflow packages; the daemon only
// concerns itself with startup, shutdown, and status.
package daemon
