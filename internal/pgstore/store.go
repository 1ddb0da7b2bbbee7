// Package pgstore persists equivalence rules and ranked entity views to
// Postgres. It is optional: the pipeline runs entirely from JSON
// snapshots when no DSN is configured.
package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/jmurren/spintally/consolidate"
	"github.com/jmurren/spintally/rules"
)

//
// ========================================================================
// Store Wrapper
// ========================================================================
//

type Store struct {
	DB *sql.DB
}

func Open(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = os.Getenv("SPINTALLY_PG_DSN")
		if dsn == "" {
			return nil, fmt.Errorf("open db: no DSN configured")
		}
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	err = withTimeout(func(ctx context.Context) error {
		return db.PingContext(ctx)
	}, 5*time.Second)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	return &Store{DB: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

//
// ========================================================================
// Migration
// ========================================================================
//

func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS equivalence_rule (
			attribution  TEXT NOT NULL,
			variant      TEXT NOT NULL,
			canonical    TEXT NOT NULL,
			source       TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL,
			CONSTRAINT equivalence_rule_pk PRIMARY KEY (attribution, variant)
		);`,
		`CREATE TABLE IF NOT EXISTS top_entity (
			kind         TEXT NOT NULL,
			grouping_key TEXT NOT NULL,
			name         TEXT NOT NULL,
			rank         INT NOT NULL,
			play_count   INT NOT NULL,
			ms_played    BIGINT NOT NULL,
			consolidated INT NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL,
			CONSTRAINT top_entity_pk PRIMARY KEY (kind, grouping_key)
		);`,
	}

	for _, q := range stmts {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

//
// ========================================================================
// Equivalence rules
// ========================================================================
//

// InsertRules writes every variant of every rule. Re-inserting a variant
// that already exists is a no-op, which keeps the table append-only in the
// same sense as the rule store itself.
func (s *Store) InsertRules(ctx context.Context, rs []rules.Rule) error {
	q := `
		INSERT INTO equivalence_rule (attribution, variant, canonical, source, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (attribution, variant) DO NOTHING;
	`
	for _, r := range rs {
		for _, v := range r.Variants {
			if _, err := s.DB.ExecContext(ctx, q, r.Attribution, v, r.Canonical, r.Source, r.CreatedAt); err != nil {
				return fmt.Errorf("insert rule %q/%q: %w", r.Attribution, v, err)
			}
		}
	}
	return nil
}

// LoadRules reads every stored rule row back into a rule store.
func (s *Store) LoadRules(ctx context.Context) (rules.Store, error) {
	q := `
		SELECT attribution, variant, canonical, source, created_at
		FROM equivalence_rule
		ORDER BY created_at, attribution, variant;
	`
	rows, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return rules.NewStore(nil), fmt.Errorf("load rules: %w", err)
	}
	defer rows.Close()

	store := rules.NewStore(nil)
	for rows.Next() {
		var r rules.Rule
		var variant string
		if err := rows.Scan(&r.Attribution, &variant, &r.Canonical, &r.Source, &r.CreatedAt); err != nil {
			return store, fmt.Errorf("scan rule: %w", err)
		}
		r.Variants = []string{variant}
		store = store.WithRule(r)
	}
	return store, rows.Err()
}

//
// ========================================================================
// Ranked views
// ========================================================================
//

// UpsertTopEntities replaces the stored ranked view for one kind.
func (s *Store) UpsertTopEntities(ctx context.Context, kind consolidate.Kind, entities []consolidate.CanonicalEntity) error {
	q := `
		INSERT INTO top_entity (kind, grouping_key, name, rank, play_count, ms_played, consolidated, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (kind, grouping_key) DO UPDATE SET
			name         = EXCLUDED.name,
			rank         = EXCLUDED.rank,
			play_count   = EXCLUDED.play_count,
			ms_played    = EXCLUDED.ms_played,
			consolidated = EXCLUDED.consolidated,
			updated_at   = EXCLUDED.updated_at;
	`
	now := time.Now().UTC()
	for _, e := range entities {
		_, err := s.DB.ExecContext(ctx, q,
			string(kind), e.Key, e.Name, e.Rank, e.PlayCount, e.DurationMs, e.Consolidated, now)
		if err != nil {
			return fmt.Errorf("upsert top entity %q: %w", e.Name, err)
		}
	}
	return nil
}

//
// ========================================================================
// Utility: context timeout
// ========================================================================
//

func withTimeout(fn func(ctx context.Context) error, d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return fn(ctx)
}
