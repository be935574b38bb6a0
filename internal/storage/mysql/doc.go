// Package mysql provides the MySQL-backed resource repository.
// It owns connection pooling and the embedded schema migrations under
// deploy/migrations/mysql.
package mysql
