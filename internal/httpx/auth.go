package httpx

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pulse-telemetry/internal/logger"
	"pulse-telemetry/internal/ratelimit"
	"pulse-telemetry/internal/tenant"
)

const (
	apiKeyHeader = "X-API-Key"

	tenantContextKey  = "pulse.tenant"
	keyTypeContextKey = "pulse.keyType"
)

// ParseAPIKey extracts the raw API key from a request: a bearer-style
// Authorization header wins, then the dedicated key header. The result is
// explicit rather than first-truthy-header-wins so the lookup step stays
// separate from extraction.
func ParseAPIKey(h http.Header) (string, bool) {
	if authz := h.Get("Authorization"); authz != "" {
		if key, ok := strings.CutPrefix(authz, "Bearer "); ok && key != "" {
			return key, true
		}
	}
	if key := h.Get(apiKeyHeader); key != "" {
		return key, true
	}
	return "", false
}

// Auth resolves the tenant for the request key and stores it on the
// context. An unmatched or missing key aborts with 401.
func Auth(store tenant.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawKey, ok := ParseAPIKey(c.Request.Header)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}
		t, keyType, err := store.LookupByKey(c.Request.Context(), rawKey)
		if err != nil {
			if !errors.Is(err, tenant.ErrNotFound) {
				logger.L().Error("tenant lookup", zap.Error(err))
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}
		c.Set(tenantContextKey, t)
		c.Set(keyTypeContextKey, keyType)
		c.Next()
	}
}

// RequireKeyType rejects requests authenticated with the wrong key class.
func RequireKeyType(want tenant.KeyType) gin.HandlerFunc {
	message := "Public API key required"
	if want == tenant.KeyTypeSecret {
		message = "Secret API key required"
	}
	return func(c *gin.Context) {
		if KeyTypeFrom(c) != want {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": message})
			return
		}
		c.Next()
	}
}

// TenantFrom returns the tenant bound by the Auth middleware.
func TenantFrom(c *gin.Context) tenant.Tenant {
	t, _ := c.Get(tenantContextKey)
	bound, _ := t.(tenant.Tenant)
	return bound
}

// KeyTypeFrom returns which key class authenticated the request.
func KeyTypeFrom(c *gin.Context) tenant.KeyType {
	v, _ := c.Get(keyTypeContextKey)
	kt, _ := v.(tenant.KeyType)
	return kt
}

// RateLimited reports whether a throttled submission should be refused.
// It accepts a callback so transports can record the outcome without the
// limiter knowing about recorders.
type RateLimited func(tenantID string)

// RateLimit applies the per-tenant fixed-window limiter. Limiter store
// errors fail open: a broken counter backend must not refuse telemetry.
func RateLimit(limiter *ratelimit.Limiter, onLimited RateLimited) gin.HandlerFunc {
	return func(c *gin.Context) {
		t := TenantFrom(c)
		// keyed per transport so the shared counter store keeps the HTTP
		// and streaming windows independent
		decision, err := limiter.Allow(c.Request.Context(), "http:"+t.ID)
		if err != nil {
			logger.L().Warn("rate limit store", zap.Error(err))
			c.Next()
			return
		}
		if !decision.Allowed {
			if onLimited != nil {
				onLimited(t.ID)
			}
			retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "Rate limit exceeded",
				"retryAfter": retryAfter,
			})
			return
		}
		c.Next()
	}
}
