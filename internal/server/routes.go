package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// SetupRoutes builds the gin engine serving the WebSocket endpoint and the
// REST surface.
func SetupRoutes(hub *Hub, api *API) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), requestLogger(hub.logger), corsMiddleware(hub.origins))

	r.GET("/", HealthHandler)
	r.GET("/test", TestHandler)
	r.GET("/ws", gin.WrapF(hub.ServeWS))

	r.POST("/register", api.Register)
	r.POST("/login", api.Login)
	r.POST("/logout", api.Logout)
	r.GET("/profile", api.Profile)

	authed := r.Group("/", api.RequireIdentity)
	authed.GET("/messages/:userId", api.Messages)
	authed.GET("/people", api.People)

	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"addr", c.ClientIP())
	}
}

// corsMiddleware allows credentialed requests from the same origins the
// WebSocket upgrade accepts.
func corsMiddleware(p *originPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if p.allows(origin) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Add("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
