// Package storage persists users, stages, submissions, mass notices and
// settings.
//
// SQLite (modernc.org/sqlite, pure Go) is the production driver; the
// in-memory driver backs tests and local runs.
package storage
