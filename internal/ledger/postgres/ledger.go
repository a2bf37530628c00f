// Package postgres implements the submission ledger on PostgreSQL.
//
// Unlike the document backend there is no shared serialized document:
// each upsert is a single atomic jsonb merge on one row, so concurrent
// submissions cannot lose updates regardless of interleaving.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/expoarte/registrar/internal/domain"
)

// Ledger implements the workflow and dispatcher ledger contracts using
// PostgreSQL.
type Ledger struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a PostgreSQL ledger with the given per-operation timeout.
func New(db *sql.DB, opTimeout time.Duration) *Ledger {
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	return &Ledger{db: db, opTimeout: opTimeout}
}

// EnsureSchema creates the submissions table if it does not exist.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	if _, err := l.db.ExecContext(ctx, querySchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Upsert merges the stage payload into the record for identity,
// creating the record if needed, and returns the post-merge state.
func (l *Ledger) Upsert(ctx context.Context, identity uuid.UUID, stage domain.Stage, payload json.RawMessage) (domain.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	now := time.Now().UTC()
	row := l.db.QueryRowContext(ctx, queryUpsert, identity, now, string(stage), []byte(payload))

	rec, err := scanRecord(row)
	if err != nil {
		return domain.Record{}, fmt.Errorf("upsert submission: %w", err)
	}
	return rec, nil
}

// LoadAll returns every record in creation order.
func (l *Ledger) LoadAll(ctx context.Context) ([]domain.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	rows, err := l.db.QueryContext(ctx, queryLoadAll)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// FindByIdentity returns the record for identity or domain.ErrNotFound.
func (l *Ledger) FindByIdentity(ctx context.Context, identity uuid.UUID) (domain.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	row := l.db.QueryRowContext(ctx, queryFindByIdentity, identity)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Record{}, err
	}
	return rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (domain.Record, error) {
	var (
		rec         domain.Record
		lastUpdated sql.NullTime
		stagesJSON  []byte
	)
	if err := s.Scan(&rec.Identity, &rec.CreatedAt, &lastUpdated, &stagesJSON); err != nil {
		return domain.Record{}, err
	}
	if lastUpdated.Valid {
		t := lastUpdated.Time
		rec.LastUpdatedAt = &t
	}
	if err := json.Unmarshal(stagesJSON, &rec.Stages); err != nil {
		return domain.Record{}, fmt.Errorf("decode stages: %w", err)
	}
	return rec, nil
}
