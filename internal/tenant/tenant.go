// Package tenant manages per-tenant PostgreSQL connection pools.
// Every tenant project maps to one Postgres schema on the shared
// cluster; schema-mutating jobs lease a connection with search_path
// pinned to that schema and must release it on every exit path.
package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/plinthdb/plinth/internal/errs"
)

var projectPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_]*$`)

// SchemaName returns the Postgres schema for a tenant project.
func SchemaName(projectID string) string {
	return "t_" + projectID
}

// Manager hands out bounded per-tenant pools over one shared cluster.
type Manager struct {
	dsn      string
	maxConns int32
	logger   *slog.Logger

	mu    sync.Mutex
	pools map[string]*pgxpool.Pool
}

// NewManager creates a pool manager. maxConns bounds each tenant pool.
func NewManager(dsn string, maxConns int32, logger *slog.Logger) *Manager {
	if maxConns <= 0 {
		maxConns = 4
	}
	return &Manager{
		dsn:      dsn,
		maxConns: maxConns,
		logger:   logger,
		pools:    make(map[string]*pgxpool.Pool),
	}
}

// Pool returns (creating if needed) the tenant's pool. Connections in
// it have search_path pinned to the tenant schema.
func (m *Manager) Pool(ctx context.Context, projectID string) (*pgxpool.Pool, error) {
	if !projectPattern.MatchString(projectID) {
		return nil, errs.Validation("invalid project identifier %q", projectID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[projectID]; ok {
		return p, nil
	}

	cfg, err := pgxpool.ParseConfig(m.dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	cfg.MaxConns = m.maxConns

	schema := SchemaName(projectID)
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", pgx.Identifier{schema}.Sanitize()))
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errs.Wrap(errs.Transient("connecting tenant %s", projectID), err)
	}

	m.pools[projectID] = pool
	m.logger.Debug("opened tenant pool", "project", projectID, "schema", schema)
	return pool, nil
}

// Lease acquires one connection for the duration of a schema job. The
// returned release func is safe to call exactly once from a defer.
func (m *Manager) Lease(ctx context.Context, projectID string) (*pgxpool.Conn, func(), error) {
	pool, err := m.Pool(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, nil, errs.Wrap(errs.Transient("acquiring tenant connection for %s", projectID), err)
	}
	return conn, conn.Release, nil
}

// Close shuts every tenant pool down.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.pools {
		p.Close()
		delete(m.pools, id)
	}
}
