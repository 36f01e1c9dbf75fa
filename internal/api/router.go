// Package api is the HTTP surface: session CRUD, remote registration
// for HQ mode, and the /buffers WebSocket upgrade, served over
// gin-gonic/gin with one handler struct per resource.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vibetunnel-go/vibetunneld/internal/config"
	"github.com/vibetunnel-go/vibetunneld/internal/federation"
	"github.com/vibetunnel-go/vibetunneld/internal/ptysvc"
	"github.com/vibetunnel-go/vibetunneld/internal/streamwatch"
)

// Deps bundles everything the router needs to wire its handlers.
type Deps struct {
	Config     *config.Config
	Supervisor *ptysvc.Supervisor
	Streams    *streamwatch.Manager
	Registry   *federation.Registry   // nil unless Config.HQMode
	Aggregator *federation.Aggregator // nil unless Config.HQMode
}

// NewRouter builds the gin engine with every route and middleware
// registered, ready to hand to http.Server.
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	sessions := &sessionHandler{sup: deps.Supervisor, cfg: deps.Config}
	remotes := &remoteHandler{registry: deps.Registry}
	buffers := &bufferHandler{streams: deps.Streams, local: deps.Supervisor, aggregator: deps.Aggregator, hqMode: deps.Config.HQMode}

	r.GET("/api/health", healthHandler(deps.Config))

	authed := r.Group("/api")
	authed.Use(bearerAuth(deps.Config))
	{
		authed.GET("/sessions", sessions.list)
		authed.POST("/sessions", sessions.create)
		authed.GET("/sessions/:id", sessions.get)
		authed.DELETE("/sessions/:id", sessions.terminate)
		authed.POST("/sessions/:id/input", sessions.input)
		authed.POST("/sessions/:id/resize", sessions.resize)

		if deps.Config.HQMode {
			authed.POST("/remotes/register", remotes.register)
			authed.DELETE("/remotes/:id", remotes.unregister)
			authed.POST("/remotes/:name/refresh-sessions", remotes.refreshSessions)
		}
	}

	r.GET("/buffers", buffers.handle)

	if deps.Config.StaticPath != "" {
		r.Static("/", deps.Config.StaticPath)
	}

	return r
}

func healthHandler(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "hq": cfg.HQMode})
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// bearerAuth enforces Config.Password as a bearer token on every
// route in the group it's attached to. An empty password disables
// auth entirely.
func bearerAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Password == "" {
			c.Next()
			return
		}
		auth := c.GetHeader("Authorization")
		if auth != "Bearer "+cfg.Password {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
