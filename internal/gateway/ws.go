package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pulse-telemetry/internal/ingest"
	"pulse-telemetry/internal/model"
	"pulse-telemetry/internal/tenant"
)

const (
	wsReadLimit  = 1 << 20
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// collectors connect from arbitrary pages
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamRequest is the client -> server message on the streaming channel.
type streamRequest struct {
	Channel string          `json:"channel"`
	Items   json.RawMessage `json:"items"`
}

// streamResponse covers both ack and error server -> client messages.
type streamResponse struct {
	Type       string `json:"type"`
	Channel    string `json:"channel,omitempty"`
	Count      int    `json:"count,omitempty"`
	Dropped    int    `json:"dropped,omitempty"`
	Error      string `json:"error,omitempty"`
	Details    string `json:"details,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// handleStream authenticates during the upgrade handshake and then serves
// the per-message ingestion protocol. Protocol errors are answered in-band
// and leave the connection open; only a transport failure ends it.
func (g *Gateway) handleStream(c *gin.Context) {
	rawKey := c.Query("apiKey")
	t, _, err := g.tenants.LookupByKey(c.Request.Context(), rawKey)
	if err != nil {
		if !errors.Is(err, tenant.ErrNotFound) {
			g.log.Error("stream tenant lookup", zap.Error(err))
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		return
	}
	ua := c.GetHeader("User-Agent")
	go g.serveConn(conn, t, ua)
}

// serveConn runs one connection. Each connection gets its own goroutine and
// touches no cross-tenant state outside the striped counters, so a slow
// tenant never stalls another's connection.
func (g *Gateway) serveConn(conn *websocket.Conn, t tenant.Tenant, ua string) {
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	if !g.writeResponse(conn, streamResponse{Type: "ready"}) {
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	done := make(chan struct{})
	defer close(done)
	messages := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case messages <- payload:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case payload := <-messages:
			resp := g.handleStreamMessage(t, ua, payload)
			if !g.writeResponse(conn, resp) {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.log.Debug("stream closed", zap.String("tenant", t.ID), zap.Error(err))
			}
			return
		}
	}
}

func (g *Gateway) handleStreamMessage(t tenant.Tenant, ua string, payload []byte) streamResponse {
	var req streamRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return streamResponse{Type: "error", Error: "Invalid message", Details: "message must be JSON"}
	}
	channel, ok := model.ParseChannel(req.Channel)
	if !ok {
		return streamResponse{Type: "error", Error: "Unknown channel", Details: req.Channel}
	}

	// independent per-message window: a long-lived connection is throttled
	// exactly like a burst of short HTTP requests
	ctx, cancel := contextWithTimeout()
	defer cancel()
	decision, err := g.wsRL.Allow(ctx, "ws:"+t.ID)
	if err != nil {
		// fail open, same as the HTTP middleware
		g.log.Warn("rate limit store", zap.String("tenant", t.ID), zap.Error(err))
	}
	if err == nil && !decision.Allowed {
		g.service.RecordRateLimited(t.ID, "ws")
		return streamResponse{
			Type:       "error",
			Error:      "Rate limit exceeded",
			RetryAfter: int(math.Ceil(decision.RetryAfter.Seconds())),
		}
	}

	items, err := model.DecodeBatch(req.Items, g.maxBatch)
	if err != nil {
		return streamResponse{Type: "error", Error: "Validation failed", Details: err.Error()}
	}
	fillFromUserAgent(items, ua)

	result, err := g.service.Admit(ctx, t, "ws", channel, items)
	if err != nil {
		if verr, ok := ingest.IsValidation(err); ok {
			return streamResponse{Type: "error", Error: "Validation failed", Details: verr.Error()}
		}
		g.log.Error("stream admit", zap.String("tenant", t.ID), zap.Error(err))
		return streamResponse{Type: "error", Error: "Ingestion failed"}
	}

	resp := streamResponse{Type: "ack", Channel: string(channel), Count: result.Count}
	if channel == model.ChannelEvents {
		resp.Dropped = result.Dropped
	}
	return resp
}

// per-message budget covering rate limiting, filtering, and persistence
func contextWithTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func (g *Gateway) writeResponse(conn *websocket.Conn, resp streamResponse) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(resp); err != nil {
		return false
	}
	return true
}
