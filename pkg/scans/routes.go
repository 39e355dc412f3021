package scans

import (
	"github.com/labstack/echo/v4"
	"github.com/shelfopds/shelfopds/pkg/ingest"
)

// RegisterRoutes registers the scan control and statistics routes.
func RegisterRoutes(e *echo.Echo, pipeline *ingest.Pipeline, libraryPath string, downloads DownloadCounter) {
	h := &handler{
		pipeline:    pipeline,
		libraryPath: libraryPath,
		downloads:   downloads,
	}

	e.GET("/stats", h.stats)

	g := e.Group("/api/scan")
	g.POST("", h.start)
	g.DELETE("", h.stop)
}
