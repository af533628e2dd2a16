// Package pg implements the GrantStore on PostgreSQL via pgx.
//
// Schema (one logical table, indexed for the engine's access paths):
//
//	CREATE TABLE grant_entry (
//	    grant_type    TEXT        NOT NULL,
//	    lookup_key    TEXT        NOT NULL,
//	    subject_id    TEXT        NOT NULL DEFAULT '',
//	    client_id     TEXT        NOT NULL,
//	    creation_time TIMESTAMPTZ NOT NULL,
//	    expiration    TIMESTAMPTZ NOT NULL,
//	    consumed_time TIMESTAMPTZ,
//	    data          BYTEA       NOT NULL,
//	    PRIMARY KEY (grant_type, lookup_key)
//	);
//	CREATE INDEX grant_entry_sub_client_idx ON grant_entry (subject_id, client_id);
//	CREATE INDEX grant_entry_expiration_idx ON grant_entry (expiration);
package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/grantd/internal/store/core"
)

type Store struct{ pool *pgxpool.Pool }

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open crea el pool a partir de un DSN y verifica conectividad.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Store(ctx context.Context, e *core.GrantEntry) error {
	const query = `
		INSERT INTO grant_entry (grant_type, lookup_key, subject_id, client_id, creation_time, expiration, consumed_time, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.pool.Exec(ctx, query,
		e.Type, e.Key, e.SubjectID, e.ClientID, e.CreationTime, e.Expiration, e.ConsumedTime, e.Data,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return core.ErrConflict
		}
		return wrapUnavailable(err)
	}
	return nil
}

func (s *Store) GetByKey(ctx context.Context, typ core.GrantType, hashedKey string) (*core.GrantEntry, error) {
	const query = `
		SELECT grant_type, lookup_key, subject_id, client_id, creation_time, expiration, consumed_time, data
		FROM grant_entry WHERE grant_type = $1 AND lookup_key = $2
	`
	var e core.GrantEntry
	err := s.pool.QueryRow(ctx, query, typ, hashedKey).Scan(
		&e.Type, &e.Key, &e.SubjectID, &e.ClientID, &e.CreationTime, &e.Expiration, &e.ConsumedTime, &e.Data,
	)
	if err == pgx.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	return &e, nil
}

// MarkConsumed usa un UPDATE condicional sobre consumed_time IS NULL: la fila
// solo cambia para el primer caller, el resto ve RowsAffected()==0.
func (s *Store) MarkConsumed(ctx context.Context, typ core.GrantType, hashedKey string, at time.Time) error {
	const query = `
		UPDATE grant_entry SET consumed_time = $3
		WHERE grant_type = $1 AND lookup_key = $2 AND consumed_time IS NULL
	`
	tag, err := s.pool.Exec(ctx, query, typ, hashedKey, at)
	if err != nil {
		return wrapUnavailable(err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	// Distinguir ausente de ya consumido.
	const exists = `SELECT EXISTS (SELECT 1 FROM grant_entry WHERE grant_type = $1 AND lookup_key = $2)`
	var found bool
	if err := s.pool.QueryRow(ctx, exists, typ, hashedKey).Scan(&found); err != nil {
		return wrapUnavailable(err)
	}
	if !found {
		return core.ErrNotFound
	}
	return core.ErrAlreadyConsumed
}

func (s *Store) RemoveByKey(ctx context.Context, typ core.GrantType, hashedKey string) error {
	const query = `DELETE FROM grant_entry WHERE grant_type = $1 AND lookup_key = $2`
	_, err := s.pool.Exec(ctx, query, typ, hashedKey)
	return wrapUnavailable(err)
}

func (s *Store) RemoveAll(ctx context.Context, f core.Filter) (int, error) {
	const query = `
		DELETE FROM grant_entry
		WHERE ($1 = '' OR subject_id = $1)
		  AND ($2 = '' OR client_id = $2)
		  AND ($3 = '' OR grant_type = $3)
	`
	tag, err := s.pool.Exec(ctx, query, f.SubjectID, f.ClientID, string(f.Type))
	if err != nil {
		return 0, wrapUnavailable(err)
	}
	return int(tag.RowsAffected()), nil
}

// SweepExpired compara contra el instante dado dentro del propio DELETE, así el
// chequeo y el borrado son una sola operación (delete-if-still-expired).
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	const query = `DELETE FROM grant_entry WHERE expiration < $1`
	tag, err := s.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, wrapUnavailable(err)
	}
	return int(tag.RowsAffected()), nil
}

func wrapUnavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", core.ErrUnavailable, err)
}
