// Package stores provides the persistence layer for the action lifecycle.
// It includes SQLite-based storage with WAL mode, embedded migrations,
// and operations for execution records, quarantine, deferrals, and cycle
// statistics.
package stores
