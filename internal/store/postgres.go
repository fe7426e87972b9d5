package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema is the subset of the platform schema the ingestion pipeline
// reads and writes. The platform's migrations own it; EnsureSchema applies it
// for local databases (DB_ENSURE_SCHEMA=true) and tests.
//
//go:embed schema_postgres.sql
var PostgresSchema string

// PostgresStore is a PostgreSQL implementation of Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store over an open pool. The store owns the pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables if missing and seeds the pollutant catalog.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	for _, p := range DefaultPollutants {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO pollutant (name, unit, description)
			VALUES ($1, $2, $3)
			ON CONFLICT (name) DO NOTHING
		`, p.Name, p.Unit, p.Description)
		if err != nil {
			return fmt.Errorf("seed pollutant %s: %w", p.Name, err)
		}
	}
	return nil
}

// Begin implements Store.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// pgTx wraps a pgx transaction. pgx implements Begin on a transaction as a
// savepoint, so nesting needs no extra bookkeeping here.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Pollutants(ctx context.Context) ([]Pollutant, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, name, unit, COALESCE(description, '')
		FROM pollutant
		ORDER BY id
	`)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var out []Pollutant
	for rows.Next() {
		var p Pollutant
		if err := rows.Scan(&p.ID, &p.Name, &p.Unit, &p.Description); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, mapPgError(rows.Err())
}

func (t *pgTx) Stations(ctx context.Context) ([]Station, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, name, latitude, longitude, city, country
		FROM station
		ORDER BY id
	`)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var out []Station
	for rows.Next() {
		var s Station
		if err := rows.Scan(&s.ID, &s.Name, &s.Latitude, &s.Longitude, &s.City, &s.Country); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, mapPgError(rows.Err())
}

func (t *pgTx) FindStationByName(ctx context.Context, name string) (Station, error) {
	var s Station
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, latitude, longitude, city, country
		FROM station
		WHERE name = $1
		ORDER BY id
		LIMIT 1
	`, name).Scan(&s.ID, &s.Name, &s.Latitude, &s.Longitude, &s.City, &s.Country)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Station{}, ErrStationNotFound
		}
		return Station{}, mapPgError(err)
	}
	return s, nil
}

func (t *pgTx) CreateStation(ctx context.Context, s Station) (Station, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO station (name, latitude, longitude, city, country)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, s.Name, s.Latitude, s.Longitude, s.City, s.Country).Scan(&s.ID)
	if err != nil {
		return Station{}, mapPgError(err)
	}
	return s, nil
}

func (t *pgTx) ReadingExists(ctx context.Context, key ReadingKey) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM air_quality_reading
			WHERE station_id = $1 AND pollutant_id = $2 AND datetime = $3
		)
	`, key.StationID, key.PollutantID, key.Datetime.UTC()).Scan(&exists)
	if err != nil {
		return false, mapPgError(err)
	}
	return exists, nil
}

func (t *pgTx) InsertReading(ctx context.Context, r Reading) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO air_quality_reading (station_id, pollutant_id, datetime, value, aqi)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, r.StationID, r.PollutantID, r.Datetime.UTC(), r.Value, r.AQI).Scan(&id)
	if err != nil {
		return 0, mapPgError(err)
	}
	return id, nil
}

func (t *pgTx) Begin(ctx context.Context) (Tx, error) {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("create savepoint: %w", mapPgError(err))
	}
	return &pgTx{tx: sp}, nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return ErrTxDone
		}
		return mapPgError(err)
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// mapPgError turns integrity violations (SQLSTATE class 23) into ErrConstraint.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return fmt.Errorf("%w: %s (%s)", ErrConstraint, pgErr.Message, pgErr.ConstraintName)
	}
	return err
}
