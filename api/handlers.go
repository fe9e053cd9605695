package api

import (
	"net/http"

	"github.com/bookworld/bookworld/internal/media"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouteOptions configures the HTTP surface around the websocket endpoint
type RouteOptions struct {
	// FrontendDir is served under /frontend
	FrontendDir string
	// IndexFile is served at /
	IndexFile string
	// DefaultIcon is served for missing /data files
	DefaultIcon string
	// DataRoots are the base directories searched by /data requests
	DataRoots []string
}

// RegisterRoutes wires the HTTP and websocket endpoints onto the router
func RegisterRoutes(r *gin.Engine, hub *Hub, opts RouteOptions) {
	resolver := media.Resolver{DefaultIcon: opts.DefaultIcon}

	r.GET("/", func(c *gin.Context) {
		c.File(opts.IndexFile)
	})

	r.Static("/frontend", opts.FrontendDir)

	// Data files resolve against the configured roots, falling back to the
	// default icon so broken references degrade gracefully
	r.GET("/data/*filepath", func(c *gin.Context) {
		rel := c.Param("filepath")
		if path, ok := resolver.FindUnder(opts.DataRoots, rel); ok {
			c.File(path)
			return
		}
		c.File(opts.DefaultIcon)
	})

	r.GET("/ws/:client_id", hub.HandleWS)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	})
}
