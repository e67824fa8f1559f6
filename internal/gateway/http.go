// Package gateway exposes the ingestion endpoints: bulk HTTP routes and
// the websocket streaming channel, both feeding the same admission
// pipeline.
package gateway

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pulse-telemetry/internal/httpx"
	"pulse-telemetry/internal/ingest"
	"pulse-telemetry/internal/model"
	"pulse-telemetry/internal/outcome"
	"pulse-telemetry/internal/ratelimit"
	"pulse-telemetry/internal/tenant"
	"pulse-telemetry/internal/util"
)

// Gateway wires the admission service and its collaborators into routes.
type Gateway struct {
	service  *ingest.Service
	tenants  tenant.Store
	httpRL   *ratelimit.Limiter
	wsRL     *ratelimit.Limiter
	drops    *outcome.MemorySink
	maxBatch int
	log      *zap.Logger
}

// Options configures route registration.
type Options struct {
	Service     *ingest.Service
	Tenants     tenant.Store
	HTTPLimiter *ratelimit.Limiter
	WSLimiter   *ratelimit.Limiter
	DropCounter *outcome.MemorySink
	MaxBatch    int
	Logger      *zap.Logger
}

// New builds a gateway.
func New(opts Options) *Gateway {
	maxBatch := opts.MaxBatch
	if maxBatch <= 0 {
		maxBatch = model.DefaultMaxBatch
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		service:  opts.Service,
		tenants:  opts.Tenants,
		httpRL:   opts.HTTPLimiter,
		wsRL:     opts.WSLimiter,
		drops:    opts.DropCounter,
		maxBatch: maxBatch,
		log:      log,
	}
}

// Register mounts the ingestion routes on the router.
func (g *Gateway) Register(router *gin.Engine) {
	v1 := router.Group("/v1")
	v1.GET("/stream", g.handleStream)

	authed := v1.Group("")
	authed.Use(httpx.Auth(g.tenants))

	ingestGroup := authed.Group("")
	ingestGroup.Use(httpx.RequireKeyType(tenant.KeyTypePublic))
	ingestGroup.Use(httpx.RateLimit(g.httpRL, func(tenantID string) {
		g.service.RecordRateLimited(tenantID, "http")
	}))
	for _, channel := range model.Channels {
		ingestGroup.POST("/"+string(channel), g.handleIngest(channel))
	}

	ops := authed.Group("")
	ops.Use(httpx.RequireKeyType(tenant.KeyTypeSecret))
	ops.GET("/drop-counters", g.handleDropCounters)
}

func (g *Gateway) handleIngest(channel model.Channel) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "details": "unreadable body"})
			return
		}
		items, err := model.DecodeBatch(body, g.maxBatch)
		if err != nil {
			g.respondError(c, channel, err)
			return
		}
		fillFromUserAgent(items, c.GetHeader("User-Agent"))

		t := httpx.TenantFrom(c)
		result, err := g.service.Admit(c.Request.Context(), t, "http", channel, items)
		if err != nil {
			g.respondError(c, channel, err)
			return
		}

		response := gin.H{"success": true, "count": result.Count}
		if channel == model.ChannelEvents {
			response["dropped"] = result.Dropped
		}
		c.JSON(http.StatusCreated, response)
	}
}

func (g *Gateway) respondError(c *gin.Context, channel model.Channel, err error) {
	if verr, ok := ingest.IsValidation(err); ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "details": verr.Error()})
		return
	}
	var perr *ingest.PersistError
	if errors.As(err, &perr) {
		g.log.Error("persist batch", zap.String("channel", string(channel)),
			zap.Int("committed", perr.Committed), zap.Error(perr.Err))
	} else {
		g.log.Error("admit batch", zap.String("channel", string(channel)), zap.Error(err))
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Ingestion failed"})
}

// handleDropCounters exposes the process-local drop counters for operators.
// Counters reset on restart; durable accounting lives downstream of the
// audit topic.
func (g *Gateway) handleDropCounters(c *gin.Context) {
	if g.drops == nil {
		c.JSON(http.StatusOK, gin.H{"dropped": 0})
		return
	}
	t := httpx.TenantFrom(c)
	c.JSON(http.StatusOK, gin.H{"dropped": g.drops.Dropped(t.ID)})
}

func fillFromUserAgent(items []model.Item, ua string) {
	for i := range items {
		util.FillEnvelope(ua, &items[i].DeviceType, &items[i].Browser, &items[i].OS)
	}
}
