package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Store implements PartsRepo and AliasRepo on Postgres.
type Store struct {
	db *sql.DB
}

var (
	_ PartsRepo = (*Store)(nil)
	_ AliasRepo = (*Store)(nil)
)

// NewStore opens a Postgres connection pool and verifies it.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing pool, mainly for tests.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetPart(ctx context.Context, partNo string) (*Part, error) {
	partNo = Normalize(partNo)

	part := &Part{PartNo: partNo}
	var manufacturer sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT manufacturer, created_at, updated_at FROM parts WHERE part_no = $1`,
		partNo,
	).Scan(&manufacturer, &part.CreatedAt, &part.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: select part: %w", err)
	}
	part.Manufacturer = manufacturer.String

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, unit, aliases, status, notes, source_files, last_updated_at, last_updated_by
		 FROM part_specs WHERE part_no = $1 ORDER BY key`,
		partNo,
	)
	if err != nil {
		return nil, fmt.Errorf("catalog: select specs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item        SpecItem
			unit, notes sql.NullString
			sources     []byte
		)
		if err := rows.Scan(&item.Key, &item.Value, &unit, pq.Array(&item.Aliases), &item.Status, &notes, &sources, &item.LastUpdatedAt, &item.LastUpdatedBy); err != nil {
			return nil, fmt.Errorf("catalog: scan spec: %w", err)
		}
		item.Unit = unit.String
		item.Notes = notes.String
		if len(sources) > 0 {
			if err := json.Unmarshal(sources, &item.SourceFiles); err != nil {
				return nil, fmt.Errorf("catalog: decode source files: %w", err)
			}
		}
		part.Specs = append(part.Specs, item)
	}
	return part, rows.Err()
}

func (s *Store) UpsertSpecs(ctx context.Context, partNo string, items []SpecItem, actor, sourceFilename string) error {
	partNo = Normalize(partNo)
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO parts (part_no, created_at, updated_at) VALUES ($1, $2, $2)
		 ON CONFLICT (part_no) DO UPDATE SET updated_at = EXCLUDED.updated_at`,
		partNo, now,
	); err != nil {
		return fmt.Errorf("catalog: upsert part: %w", err)
	}

	for _, item := range items {
		key := Normalize(item.Key)
		aliases := make([]string, 0, len(item.Aliases))
		for _, alias := range item.Aliases {
			aliases = append(aliases, Normalize(alias))
		}

		var newSources []byte
		if sourceFilename != "" {
			newSources, err = json.Marshal([]SourceFile{{Filename: sourceFilename, UploadedAt: now}})
			if err != nil {
				return err
			}
		} else {
			newSources = []byte("[]")
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO part_specs (part_no, key, value, unit, aliases, status, notes, source_files, last_updated_at, last_updated_by)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10)
			 ON CONFLICT (part_no, key) DO UPDATE SET
			   value = EXCLUDED.value,
			   unit = EXCLUDED.unit,
			   aliases = EXCLUDED.aliases,
			   status = EXCLUDED.status,
			   notes = EXCLUDED.notes,
			   source_files = part_specs.source_files || EXCLUDED.source_files,
			   last_updated_at = EXCLUDED.last_updated_at,
			   last_updated_by = EXCLUDED.last_updated_by`,
			partNo, key, item.Value, item.Unit, pq.Array(aliases), item.Status, item.Notes, newSources, now, actor,
		); err != nil {
			return fmt.Errorf("catalog: upsert spec %q: %w", key, err)
		}
	}
	return tx.Commit()
}

func (s *Store) MarkIncorrect(ctx context.Context, partNo string, keys []string, note, actor string) error {
	partNo = Normalize(partNo)
	normalized := make([]string, 0, len(keys))
	for _, key := range keys {
		normalized = append(normalized, Normalize(key))
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE part_specs SET status = $1, notes = $2, last_updated_at = $3, last_updated_by = $4
		 WHERE part_no = $5 AND key = ANY($6)`,
		SpecStatusIncorrect, note, time.Now().UTC(), actor, partNo, pq.Array(normalized),
	)
	if err != nil {
		return fmt.Errorf("catalog: mark incorrect: %w", err)
	}
	return nil
}

func (s *Store) Resolve(ctx context.Context, candidates []string) (map[string]string, error) {
	if len(candidates) == 0 {
		return map[string]string{}, nil
	}
	normalized := make([]string, len(candidates))
	for i, candidate := range candidates {
		normalized[i] = Normalize(candidate)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT canonical, aliases FROM field_aliases WHERE aliases && $1`,
		pq.Array(normalized),
	)
	if err != nil {
		return nil, fmt.Errorf("catalog: resolve aliases: %w", err)
	}
	defer rows.Close()

	byAlias := make(map[string]string)
	for rows.Next() {
		var canonical string
		var aliases []string
		if err := rows.Scan(&canonical, pq.Array(&aliases)); err != nil {
			return nil, fmt.Errorf("catalog: scan alias: %w", err)
		}
		for _, alias := range aliases {
			if _, seen := byAlias[alias]; !seen {
				byAlias[alias] = canonical
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	mapping := make(map[string]string)
	for i, candidate := range candidates {
		if canonical, ok := byAlias[normalized[i]]; ok {
			if _, seen := mapping[candidate]; !seen {
				mapping[candidate] = canonical
			}
		}
	}
	return mapping, nil
}

func (s *Store) BatchUpsert(ctx context.Context, items []FieldAlias) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, item := range items {
		canonical := Normalize(item.Canonical)
		aliases := make([]string, 0, len(item.Aliases)+1)
		selfIncluded := false
		for _, alias := range item.Aliases {
			normalized := Normalize(alias)
			aliases = append(aliases, normalized)
			if normalized == canonical {
				selfIncluded = true
			}
		}
		if !selfIncluded {
			aliases = append(aliases, canonical)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO field_aliases (canonical, aliases) VALUES ($1, $2)
			 ON CONFLICT (canonical) DO UPDATE SET aliases = EXCLUDED.aliases`,
			canonical, pq.Array(aliases),
		); err != nil {
			return fmt.Errorf("catalog: upsert alias %q: %w", canonical, err)
		}
	}
	return tx.Commit()
}
