// Package postgres provides Postgres-backed record stores.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

//go:embed schema.sql
var schemaSQL string

const defaultChecksTable = "allotment_checks"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	ChecksTable     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store reads IPOs and registrars and writes anonymized check rows.
type Store struct {
	pool   pool
	checks string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.ChecksTable)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, checksTable string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if checksTable == "" {
		checksTable = defaultChecksTable
	}
	if !validTableName.MatchString(checksTable) {
		return nil, fmt.Errorf("invalid table name %q", checksTable)
	}
	return &Store{pool: p, checks: checksTable}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the registrars, ipos and check tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := schemaSQL
	if s.checks != defaultChecksTable {
		ddl = strings.ReplaceAll(ddl, defaultChecksTable, s.checks)
	}
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// RecordCheck inserts an anonymized check row.
func (s *Store) RecordCheck(ctx context.Context, record allotment.CheckRecord) error {
	if record.ID == "" {
		return fmt.Errorf("check id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	ipo_id,
	registrar_id,
	status,
	error_type,
	checked_at
) VALUES (
	$1,$2,$3,$4,$5,$6
)`, s.checks)

	if _, err := s.pool.Exec(ctx, query,
		record.ID,
		record.IPOID,
		record.RegistrarID,
		record.Status,
		nullable(record.ErrorType),
		record.CheckedAt,
	); err != nil {
		return fmt.Errorf("insert check: %w", err)
	}
	return nil
}

// Summarize aggregates checks recorded at or after since.
func (s *Store) Summarize(ctx context.Context, since time.Time) (allotment.CheckSummary, error) {
	query := fmt.Sprintf(`
SELECT status, COALESCE(error_type, ''), count(*)
FROM %s
WHERE checked_at >= $1
GROUP BY status, error_type`, s.checks)

	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return allotment.CheckSummary{}, fmt.Errorf("summarize checks: %w", err)
	}
	defer rows.Close()

	summary := allotment.CheckSummary{
		Since:       since,
		ByStatus:    map[string]int{},
		ByErrorType: map[string]int{},
	}
	for rows.Next() {
		var (
			status, errorType string
			count             int64
		)
		if err := rows.Scan(&status, &errorType, &count); err != nil {
			return allotment.CheckSummary{}, fmt.Errorf("scan check summary: %w", err)
		}
		summary.Add(status, errorType, int(count))
	}
	if err := rows.Err(); err != nil {
		return allotment.CheckSummary{}, fmt.Errorf("iterate check summary: %w", err)
	}
	return summary, nil
}

const ipoColumns = `id, name, slug, COALESCE(category, ''), allotment_date, listing_date,
	is_allotment_live, COALESCE(allotment_url, ''), COALESCE(registrar_slug, '')`

// GetIPO fetches an IPO by slug.
func (s *Store) GetIPO(ctx context.Context, slug string) (allotment.IPO, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ipoColumns+` FROM ipos WHERE slug = $1`, slug)
	ipo, err := scanIPO(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return allotment.IPO{}, allotment.ErrNotFound
	}
	if err != nil {
		return allotment.IPO{}, fmt.Errorf("get ipo %q: %w", slug, err)
	}
	return ipo, nil
}

// ListLiveIPOs returns IPOs whose allotment is live, latest allotment date first.
func (s *Store) ListLiveIPOs(ctx context.Context) ([]allotment.IPO, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+ipoColumns+` FROM ipos
WHERE is_allotment_live
ORDER BY allotment_date DESC NULLS LAST, slug`)
	if err != nil {
		return nil, fmt.Errorf("list live ipos: %w", err)
	}
	defer rows.Close()

	var out []allotment.IPO
	for rows.Next() {
		ipo, err := scanIPO(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ipo: %w", err)
		}
		out = append(out, ipo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ipos: %w", err)
	}
	return out, nil
}

const registrarColumns = `id, name, slug, base_url, endpoint_pattern, required_params,
	response_format, parsing_rules, is_active, render`

// GetRegistrar fetches a registrar profile by slug.
func (s *Store) GetRegistrar(ctx context.Context, slug string) (allotment.RegistrarProfile, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+registrarColumns+` FROM registrars WHERE slug = $1`, slug)
	r, err := scanRegistrar(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return allotment.RegistrarProfile{}, allotment.ErrNotFound
	}
	if err != nil {
		return allotment.RegistrarProfile{}, fmt.Errorf("get registrar %q: %w", slug, err)
	}
	return r, nil
}

// ListRegistrars returns every registrar ordered by name.
func (s *Store) ListRegistrars(ctx context.Context) ([]allotment.RegistrarProfile, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+registrarColumns+` FROM registrars ORDER BY name, slug`)
	if err != nil {
		return nil, fmt.Errorf("list registrars: %w", err)
	}
	defer rows.Close()

	var out []allotment.RegistrarProfile
	for rows.Next() {
		r, err := scanRegistrar(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registrar: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registrars: %w", err)
	}
	return out, nil
}

func scanIPO(row pgx.Row) (allotment.IPO, error) {
	var ipo allotment.IPO
	err := row.Scan(
		&ipo.ID,
		&ipo.Name,
		&ipo.Slug,
		&ipo.Category,
		&ipo.AllotmentDate,
		&ipo.ListingDate,
		&ipo.IsAllotmentLive,
		&ipo.AllotmentURL,
		&ipo.RegistrarSlug,
	)
	return ipo, err
}

func scanRegistrar(row pgx.Row) (allotment.RegistrarProfile, error) {
	var (
		r      allotment.RegistrarProfile
		params []string
		format string
		rules  []byte
	)
	if err := row.Scan(
		&r.ID,
		&r.Name,
		&r.Slug,
		&r.BaseURL,
		&r.EndpointPattern,
		&params,
		&format,
		&rules,
		&r.IsActive,
		&r.Render,
	); err != nil {
		return allotment.RegistrarProfile{}, err
	}
	r.ResponseFormat = allotment.Format(format)
	for _, p := range params {
		r.RequiredParams = append(r.RequiredParams, allotment.Param(p))
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &r.ParsingRules); err != nil {
			return allotment.RegistrarProfile{}, fmt.Errorf("decode parsing rules for %q: %w", r.Slug, err)
		}
	}
	return r, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
