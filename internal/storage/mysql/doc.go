// Package mysql persists claim records in MySQL. It owns the connection pool,
// the embedded schema migrations and the compare-and-swap queries used by the
// claim registry.
package mysql
