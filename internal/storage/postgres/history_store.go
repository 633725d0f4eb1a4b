// Package postgres provides the Postgres-backed indicator history.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/drought"
)

const defaultTable = "indicator_snapshots"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// HistoryStoreConfig controls the Postgres connection pool used for snapshots.
type HistoryStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// HistoryStore writes indicator snapshots into Postgres.
type HistoryStore struct {
	pool  pool
	table string
}

// NewHistoryStore connects to Postgres using the provided config.
func NewHistoryStore(ctx context.Context, cfg HistoryStoreConfig) (*HistoryStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &HistoryStore{pool: p, table: table}, nil
}

// NewHistoryStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewHistoryStoreWithPool(p pool, table string) (*HistoryStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &HistoryStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *HistoryStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the snapshot table when it does not exist.
func (s *HistoryStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id           TEXT PRIMARY KEY,
	taken_at     TIMESTAMPTZ NOT NULL,
	zones_hash   TEXT NOT NULL,
	archive_hash TEXT NOT NULL DEFAULT '',
	zone_count   INTEGER NOT NULL,
	indicators   JSONB NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// SaveSnapshot inserts one refresh result.
func (s *HistoryStore) SaveSnapshot(ctx context.Context, snap drought.Snapshot) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("history store is not configured")
	}
	if snap.ID == "" {
		return fmt.Errorf("snapshot id is required")
	}
	indicatorsJSON, err := json.Marshal(snap.Indicators)
	if err != nil {
		return fmt.Errorf("marshal indicators: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	taken_at,
	zones_hash,
	archive_hash,
	zone_count,
	indicators
) VALUES (
	$1,$2,$3,$4,$5,$6
)`, s.table)

	args := []any{
		snap.ID,
		snap.TakenAt,
		snap.ZonesHash,
		snap.ArchiveHash,
		snap.ZoneCount,
		indicatorsJSON,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns the most recent snapshots first. A limit <= 0 returns all.
func (s *HistoryStore) ListSnapshots(ctx context.Context, limit int) ([]drought.Snapshot, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("history store is not configured")
	}
	query := fmt.Sprintf(`
SELECT id, taken_at, zones_hash, archive_hash, zone_count, indicators
FROM %s
ORDER BY taken_at DESC
LIMIT $1`, s.table)

	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.pool.Query(ctx, query, limitArg)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []drought.Snapshot
	for rows.Next() {
		var (
			snap drought.Snapshot
			raw  []byte
		)
		if err := rows.Scan(
			&snap.ID,
			&snap.TakenAt,
			&snap.ZonesHash,
			&snap.ArchiveHash,
			&snap.ZoneCount,
			&raw,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		if err := json.Unmarshal(raw, &snap.Indicators); err != nil {
			return nil, fmt.Errorf("decode indicators for %s: %w", snap.ID, err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}
