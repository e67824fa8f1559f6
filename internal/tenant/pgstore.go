package tenant

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"pulse-telemetry/internal/admission"
)

// PGStore reads tenants and drop-filter settings from the provisioning
// database. The core never writes these tables.
type PGStore struct {
	db *sql.DB
}

// OpenPG connects to postgres and verifies the connection.
func OpenPG(ctx context.Context, dsn string) (*PGStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &PGStore{db: db}, nil
}

// Close releases the connection pool.
func (s *PGStore) Close() error {
	return s.db.Close()
}

// LookupByKey matches either key column among active, non-deleted tenants.
func (s *PGStore) LookupByKey(ctx context.Context, rawKey string) (Tenant, KeyType, error) {
	if rawKey == "" {
		return Tenant{}, "", ErrNotFound
	}
	const query = `
SELECT id, name, public_api_key, secret_api_key, active
FROM projects
WHERE (public_api_key = $1 OR secret_api_key = $1) AND active = true AND deleted = false`
	var t Tenant
	err := s.db.QueryRowContext(ctx, query, rawKey).Scan(&t.ID, &t.Name, &t.PublicKey, &t.SecretKey, &t.Active)
	if err == sql.ErrNoRows {
		return Tenant{}, "", ErrNotFound
	}
	if err != nil {
		return Tenant{}, "", fmt.Errorf("lookup tenant: %w", err)
	}
	keyType := KeyTypePublic
	if t.SecretKey == rawKey {
		keyType = KeyTypeSecret
	}
	return t, keyType, nil
}

// FilterConfig loads the tenant's drop-filter settings row. Filters are
// stored as a JSON array; a missing row yields a disabled config.
func (s *PGStore) FilterConfig(ctx context.Context, tenantID string) (admission.FilterConfig, error) {
	const query = `
SELECT version, enabled, mode, filters
FROM drop_filter_settings
WHERE project_id = $1`
	var (
		cfg     admission.FilterConfig
		mode    string
		filters []byte
	)
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(&cfg.Version, &cfg.Enabled, &mode, &filters)
	if err == sql.ErrNoRows {
		return admission.FilterConfig{}, nil
	}
	if err != nil {
		return admission.FilterConfig{}, fmt.Errorf("load drop filter: %w", err)
	}
	cfg.Mode = admission.Mode(mode)
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &cfg.Filters); err != nil {
			return admission.FilterConfig{}, fmt.Errorf("decode drop filters: %w", err)
		}
	}
	return cfg, nil
}
