package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// sqliteTimeLayout stores timestamps as fixed-width UTC text so that equality
// on the natural key compares like for like.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore is a SQLite implementation of Store for local and offline runs.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database file at path, applies the schema and
// seeds the pollutant catalog. Safe to call on an existing database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One connection: SQLite has a single writer and the pragmas are per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	for _, p := range DefaultPollutants {
		if _, err := db.ExecContext(ctx,
			`INSERT OR IGNORE INTO pollutant (name, unit, description) VALUES (?, ?, ?)`,
			p.Name, p.Unit, p.Description,
		); err != nil {
			db.Close()
			return nil, fmt.Errorf("seed pollutant %s: %w", p.Name, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Begin implements Store.
func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &sqliteTx{tx: tx, depth: new(int)}, nil
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteTx is either the top-level transaction (savepoint == "") or a
// savepoint inside it. depth is shared to name savepoints uniquely.
type sqliteTx struct {
	tx        *sql.Tx
	savepoint string
	depth     *int
	done      bool
}

func (t *sqliteTx) Pollutants(ctx context.Context) ([]Pollutant, error) {
	if t.done {
		return nil, ErrTxDone
	}
	rows, err := t.tx.QueryContext(ctx, `SELECT id, name, unit, COALESCE(description, '') FROM pollutant ORDER BY id`)
	if err != nil {
		return nil, mapSQLiteError(err)
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
	return out, mapSQLiteError(rows.Err())
}

func (t *sqliteTx) Stations(ctx context.Context) ([]Station, error) {
	if t.done {
		return nil, ErrTxDone
	}
	rows, err := t.tx.QueryContext(ctx, `SELECT id, name, latitude, longitude, city, country FROM station ORDER BY id`)
	if err != nil {
		return nil, mapSQLiteError(err)
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
	return out, mapSQLiteError(rows.Err())
}

func (t *sqliteTx) FindStationByName(ctx context.Context, name string) (Station, error) {
	if t.done {
		return Station{}, ErrTxDone
	}
	var s Station
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, name, latitude, longitude, city, country FROM station WHERE name = ? ORDER BY id LIMIT 1`,
		name,
	).Scan(&s.ID, &s.Name, &s.Latitude, &s.Longitude, &s.City, &s.Country)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Station{}, ErrStationNotFound
		}
		return Station{}, mapSQLiteError(err)
	}
	return s, nil
}

func (t *sqliteTx) CreateStation(ctx context.Context, s Station) (Station, error) {
	if t.done {
		return Station{}, ErrTxDone
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO station (name, latitude, longitude, city, country) VALUES (?, ?, ?, ?, ?)`,
		s.Name, s.Latitude, s.Longitude, s.City, s.Country,
	)
	if err != nil {
		return Station{}, mapSQLiteError(err)
	}
	if s.ID, err = res.LastInsertId(); err != nil {
		return Station{}, err
	}
	return s, nil
}

func (t *sqliteTx) ReadingExists(ctx context.Context, key ReadingKey) (bool, error) {
	if t.done {
		return false, ErrTxDone
	}
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM air_quality_reading WHERE station_id = ? AND pollutant_id = ? AND datetime = ?)`,
		key.StationID, key.PollutantID, formatSQLiteTime(key.Datetime),
	).Scan(&exists)
	if err != nil {
		return false, mapSQLiteError(err)
	}
	return exists, nil
}

func (t *sqliteTx) InsertReading(ctx context.Context, r Reading) (int64, error) {
	if t.done {
		return 0, ErrTxDone
	}
	var aqi sql.NullInt64
	if r.AQI != nil {
		aqi = sql.NullInt64{Int64: int64(*r.AQI), Valid: true}
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO air_quality_reading (station_id, pollutant_id, datetime, value, aqi) VALUES (?, ?, ?, ?, ?)`,
		r.StationID, r.PollutantID, formatSQLiteTime(r.Datetime), r.Value, aqi,
	)
	if err != nil {
		return 0, mapSQLiteError(err)
	}
	return res.LastInsertId()
}

func (t *sqliteTx) Begin(ctx context.Context) (Tx, error) {
	if t.done {
		return nil, ErrTxDone
	}
	*t.depth++
	name := fmt.Sprintf("sp_%d", *t.depth)
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return nil, fmt.Errorf("create savepoint: %w", err)
	}
	return &sqliteTx{tx: t.tx, savepoint: name, depth: t.depth}, nil
}

func (t *sqliteTx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if t.savepoint == "" {
		return mapSQLiteError(t.tx.Commit())
	}
	_, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+t.savepoint)
	return mapSQLiteError(err)
}

func (t *sqliteTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if t.savepoint == "" {
		return t.tx.Rollback()
	}
	if _, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+t.savepoint); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+t.savepoint)
	return err
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func mapSQLiteError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %s", ErrConstraint, sqliteErr.Error())
	}
	return err
}
