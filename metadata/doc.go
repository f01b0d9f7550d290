// Package metadata provides attachment record stores: an in-memory store for
// tests and single-process deployments, and a PostgreSQL store with embedded
// goose migrations.
package metadata
