// Package postgres provides the PostgreSQL-backed resource repository on top
// of pgxpool. Schema files are embedded from deploy/migrations/postgres and
// are idempotent, so they run on every start when auto migration is enabled.
package postgres
