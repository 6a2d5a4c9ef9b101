package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/address-geocoding/internal/domain"
	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"
)

// SQLite is a durable Store backed by a local SQLite file. It survives
// restarts, which matters when provider calls are paid.
type SQLite struct {
	db    *sql.DB
	clock clockwork.Clock
}

// NewSQLite opens (creating if needed) the cache database at path.
func NewSQLite(path string, clock clockwork.Clock) (*SQLite, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS geocode_cache (
			key        TEXT PRIMARY KEY,
			payload    BLOB NOT NULL,
			expires_at INTEGER NOT NULL,
			hits       INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_geocode_cache_expires ON geocode_cache(expires_at);
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}

	return &SQLite{db: db, clock: clock}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) (domain.GeocodeResult, bool, error) {
	var payload []byte
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM geocode_cache WHERE key = ?`, key,
	).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.GeocodeResult{}, false, nil
	}
	if err != nil {
		return domain.GeocodeResult{}, false, fmt.Errorf("cache get: %w", err)
	}

	if s.clock.Now().Unix() >= expiresAt {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM geocode_cache WHERE key = ?`, key)
		return domain.GeocodeResult{}, false, nil
	}

	var result domain.GeocodeResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return domain.GeocodeResult{}, false, fmt.Errorf("cache decode: %w", err)
	}

	_, _ = s.db.ExecContext(ctx, `UPDATE geocode_cache SET hits = hits + 1 WHERE key = ?`, key)
	return result, true, nil
}

func (s *SQLite) Put(ctx context.Context, key string, result domain.GeocodeResult, ttl time.Duration) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	expiresAt := s.clock.Now().Add(ttl).Unix()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO geocode_cache (key, payload, expires_at, hits) VALUES (?, ?, ?, 0)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at
	`, key, payload, expiresAt)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// PurgeExpired removes entries past their TTL and returns how many were
// dropped. Intended for a periodic housekeeping call.
func (s *SQLite) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM geocode_cache WHERE expires_at <= ?`, s.clock.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
