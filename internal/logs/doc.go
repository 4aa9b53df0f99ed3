// Package logs reads the worker's log file for the CLI: the last N lines, and
// a follow loop that streams appended lines until its context ends.
package logs
