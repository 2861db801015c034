package panel

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"rxpanel/internal/errors"
)

// Store persists the panel to a SQLite database. Saving replaces the
// previous panel in one transaction, so the artifact is always a
// complete build.
type Store struct {
	db   *sql.DB
	path string
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS observations (
	county_code TEXT NOT NULL,
	state_code TEXT NOT NULL,
	year INTEGER NOT NULL,
	population INTEGER NOT NULL,
	mortality_count INTEGER,
	shipment_volume_mme REAL,
	pills REAL,
	mortality_rate_per_100k REAL,
	shipment_rate_per_100k REAL,
	is_imputed INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (county_code, year)
);
CREATE TABLE IF NOT EXISTS panel_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// OpenStore opens (creating if needed) a panel database
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.NewStorageError("create database directory", err).WithContext("path", path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.NewStorageError("open panel database", err).WithContext("path", path)
	}
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, errors.NewStorageError("create panel schema", err).WithContext("path", path)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// SavePanel replaces the stored panel and records build metadata
func (s *Store) SavePanel(ctx context.Context, p *Panel, meta map[string]string) (retErr error) {
	if p == nil || p.Len() == 0 {
		return errors.NewStorageError("no panel rows to save", nil).WithContext("path", s.path)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageError("begin transaction", err).WithContext("path", s.path)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM observations`); err != nil {
		retErr = errors.NewStorageError("clear previous panel", err).WithContext("path", s.path)
		return retErr
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO observations(
		county_code, state_code, year, population,
		mortality_count, shipment_volume_mme, pills,
		mortality_rate_per_100k, shipment_rate_per_100k, is_imputed
	) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		retErr = errors.NewStorageError("prepare insert", err).WithContext("path", s.path)
		return retErr
	}
	defer stmt.Close()

	for _, obs := range p.Rows {
		if _, err := stmt.ExecContext(ctx,
			obs.CountyCode, obs.StateCode, obs.Year, obs.Population,
			nullInt(obs.Mortality), nullFloat(obs.ShipmentMME), nullFloat(obs.Pills),
			nullFloat(obs.MortalityRate), nullFloat(obs.ShipmentRate), obs.Imputed,
		); err != nil {
			retErr = errors.NewStorageError("insert observation", err).
				WithContext("path", s.path).
				WithContext("key", obs.Key())
			return retErr
		}
	}

	meta = withBuildMeta(meta)
	for key, value := range meta {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO panel_meta(key,value) VALUES(?,?)
			 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
			key, value,
		); err != nil {
			retErr = errors.NewStorageError("record build metadata", err).
				WithContext("path", s.path).
				WithContext("key", key)
			return retErr
		}
	}

	if err := tx.Commit(); err != nil {
		retErr = errors.NewStorageError("commit panel", err).WithContext("path", s.path)
		return retErr
	}
	return nil
}

// LoadPanel reads the stored panel, ordered by county then year
func (s *Store) LoadPanel(ctx context.Context) (*Panel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		county_code, state_code, year, population,
		mortality_count, shipment_volume_mme, pills,
		mortality_rate_per_100k, shipment_rate_per_100k, is_imputed
	FROM observations ORDER BY county_code, year`)
	if err != nil {
		return nil, errors.NewStorageError("select observations", err).WithContext("path", s.path)
	}
	defer func() { _ = rows.Close() }()

	var out []Observation
	for rows.Next() {
		var obs Observation
		var mortality sql.NullInt64
		var mme, pills, mortalityRate, shipmentRate sql.NullFloat64
		if err := rows.Scan(
			&obs.CountyCode, &obs.StateCode, &obs.Year, &obs.Population,
			&mortality, &mme, &pills, &mortalityRate, &shipmentRate, &obs.Imputed,
		); err != nil {
			return nil, errors.NewStorageError("scan observation", err).WithContext("path", s.path)
		}
		if mortality.Valid {
			v := int(mortality.Int64)
			obs.Mortality = &v
		}
		obs.ShipmentMME = fromNullFloat(mme)
		obs.Pills = fromNullFloat(pills)
		obs.MortalityRate = fromNullFloat(mortalityRate)
		obs.ShipmentRate = fromNullFloat(shipmentRate)
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("iterate observations", err).WithContext("path", s.path)
	}
	if len(out) == 0 {
		return nil, errors.NewStorageError("panel database is empty", nil).WithContext("path", s.path)
	}
	return NewPanel(out), nil
}

// Meta reads one metadata value recorded at save time
func (s *Store) Meta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM panel_meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", errors.NewNotFoundError("panel metadata").WithContext("key", key)
	}
	if err != nil {
		return "", errors.NewStorageError("select metadata", err).WithContext("key", key)
	}
	return value, nil
}

func withBuildMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	if _, ok := out["saved_at"]; !ok {
		out["saved_at"] = time.Now().UTC().Format(time.RFC3339)
	}
	return out
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
