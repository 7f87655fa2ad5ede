package main

import (
	"context"
	"net/http"
	"time"

	"call-platform/internal/httpapi"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeDeps struct {
	authMW   gin.HandlerFunc
	handlers httpapi.Handlers
	events   *httpapi.Events
	ready    func(ctx context.Context) error
	gatherer prometheus.Gatherer
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := d.ready(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{})))

	public := r.Group("/v1")
	protected := r.Group("/v1")
	protected.Use(d.authMW)

	// /me echoes the identity taken from the access token.
	protected.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString("user_id"), "name": c.GetString("name")})
	})

	httpapi.Register(public, protected, d.handlers, d.events)
}
