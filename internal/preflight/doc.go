// Package preflight provides readiness checks for the services and paths the
// worker depends on.
//
// The daemon runs RunAll once at startup and refuses to consume when a
// required check fails. The CLI "casiel check" command renders the same
// results as a table.
package preflight
