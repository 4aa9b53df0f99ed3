// Package journal keeps a local SQLite history of delivery attempts so an
// operator can see what the worker did without reading broker state or logs.
//
// The broker remains the source of truth for retries; the journal is
// append-only and never consulted when deciding what to do with a message.
package journal
