// Package tenant resolves projects by API key and serves their drop-filter
// settings. Tenants are created by external provisioning; this package only
// reads them.
package tenant

import (
	"context"
	"errors"

	"pulse-telemetry/internal/admission"
)

// KeyType records which of the tenant's two keys matched a lookup. Routes
// can require one class and reject the other.
type KeyType string

const (
	KeyTypePublic KeyType = "public"
	KeyTypeSecret KeyType = "secret"
)

// Tenant is a telemetry project. PublicKey is embedded in client
// applications; SecretKey is for server-side callers.
type Tenant struct {
	ID        string
	Name      string
	PublicKey string
	SecretKey string
	Active    bool
}

// ErrNotFound is returned when no non-deleted tenant owns the key.
var ErrNotFound = errors.New("tenant: not found")

// Store is the tenant-lookup and settings collaborator consumed by the
// gateways.
type Store interface {
	// LookupByKey matches rawKey against public and secret keys of
	// active, non-deleted tenants and reports which field matched.
	LookupByKey(ctx context.Context, rawKey string) (Tenant, KeyType, error)
	// FilterConfig returns the tenant's drop-filter settings; a tenant
	// with none configured gets a disabled zero config.
	FilterConfig(ctx context.Context, tenantID string) (admission.FilterConfig, error)
}
