package tenant

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"pulse-telemetry/internal/admission"
)

type tenantsFile struct {
	Tenants map[string]tenantEntry `yaml:"tenants"`
}

type tenantEntry struct {
	Name       string                  `yaml:"name"`
	PublicKey  string                  `yaml:"public_key"`
	SecretKey  string                  `yaml:"secret_key"`
	Active     *bool                   `yaml:"active"`
	Deleted    bool                    `yaml:"deleted"`
	DropFilter *admission.FilterConfig `yaml:"drop_filter"`
}

// FileStore serves tenants from a yaml file, for development and tests.
type FileStore struct {
	tenants []Tenant
	filters map[string]admission.FilterConfig
}

// LoadFile parses a tenants yaml file. Deleted tenants are dropped at load
// time so they can never match a key.
func LoadFile(path string) (*FileStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenants file: %w", err)
	}
	return ParseFile(data, path)
}

// ParseFile builds a FileStore from raw yaml.
func ParseFile(data []byte, source string) (*FileStore, error) {
	var file tenantsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tenants file %s: %w", source, err)
	}
	if len(file.Tenants) == 0 {
		return nil, fmt.Errorf("no tenants configured in %s", source)
	}
	store := &FileStore{filters: make(map[string]admission.FilterConfig)}
	for id, entry := range file.Tenants {
		if strings.TrimSpace(id) == "" || entry.Deleted {
			continue
		}
		if entry.PublicKey == "" {
			return nil, fmt.Errorf("tenant %s missing public_key in %s", id, source)
		}
		active := entry.Active == nil || *entry.Active
		store.tenants = append(store.tenants, Tenant{
			ID:        id,
			Name:      entry.Name,
			PublicKey: entry.PublicKey,
			SecretKey: entry.SecretKey,
			Active:    active,
		})
		if entry.DropFilter != nil {
			cfg := *entry.DropFilter
			if cfg.Version == 0 {
				cfg.Version = admission.ConfigVersion
			}
			store.filters[id] = cfg
		}
	}
	return store, nil
}

// LookupByKey scans the loaded tenants for a key match.
func (s *FileStore) LookupByKey(_ context.Context, rawKey string) (Tenant, KeyType, error) {
	if rawKey == "" {
		return Tenant{}, "", ErrNotFound
	}
	for _, t := range s.tenants {
		if !t.Active {
			continue
		}
		if t.PublicKey == rawKey {
			return t, KeyTypePublic, nil
		}
		if t.SecretKey != "" && t.SecretKey == rawKey {
			return t, KeyTypeSecret, nil
		}
	}
	return Tenant{}, "", ErrNotFound
}

// FilterConfig returns the tenant's configured drop filter, or a disabled
// zero config.
func (s *FileStore) FilterConfig(_ context.Context, tenantID string) (admission.FilterConfig, error) {
	return s.filters[tenantID], nil
}
