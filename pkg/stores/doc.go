// Package stores provides the persistence layer for bootstrap run history.
// It includes SQLite-based storage with WAL mode, embedded migrations, and
// CRUD operations for runs, step results, and timeline events.
package stores
