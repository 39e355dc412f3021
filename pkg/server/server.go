package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/health"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/echo/v4/middleware/recovery"
	"github.com/shelfopds/shelfopds/pkg/binder"
	"github.com/shelfopds/shelfopds/pkg/catalog"
	"github.com/shelfopds/shelfopds/pkg/collation"
	"github.com/shelfopds/shelfopds/pkg/config"
	"github.com/shelfopds/shelfopds/pkg/covers"
	"github.com/shelfopds/shelfopds/pkg/errcodes"
	"github.com/shelfopds/shelfopds/pkg/genres"
	"github.com/shelfopds/shelfopds/pkg/ingest"
	"github.com/shelfopds/shelfopds/pkg/library"
	"github.com/shelfopds/shelfopds/pkg/metrics"
	"github.com/shelfopds/shelfopds/pkg/opds"
	"github.com/shelfopds/shelfopds/pkg/scans"
	"github.com/shelfopds/shelfopds/pkg/store"
)

// Dependencies are the long-lived services the routes are built on.
type Dependencies struct {
	Index    *library.Index
	Taxonomy *genres.Taxonomy
	Pipeline *ingest.Pipeline
	Store    *store.Store
}

func New(cfg *config.Config, deps Dependencies) (*http.Server, error) {
	e, err := newEcho(cfg, deps)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler:           e,
		ReadHeaderTimeout: 3 * time.Second,
	}

	return srv, nil
}

func newEcho(cfg *config.Config, deps Dependencies) (*echo.Echo, error) {
	e := echo.New()

	b, err := binder.New()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	e.Binder = b

	e.Use(logger.Middleware())
	e.Use(recovery.Middleware())
	e.Use(middleware.CORS())
	e.Use(metrics.Middleware())

	health.RegisterRoutes(e)
	e.GET("/metrics", metrics.Handler())

	order, err := collation.ParseOrder(cfg.SortOrder)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	builder := catalog.New(deps.Index, deps.Taxonomy, catalog.Options{
		PageSize:       cfg.PageSize,
		NewBooksDays:   cfg.NewBooksDays,
		SplitThreshold: cfg.SplitThreshold,
		Order:          order,
		Language:       cfg.DisplayLanguage,
		Title:          cfg.ServerName,
	})

	opds.RegisterRoutes(e, opds.NewService(builder, deps.Taxonomy, cfg.ServerName), deps.Index, covers.New(cfg.CacheDir), deps.Store)
	scans.RegisterRoutes(e, deps.Pipeline, cfg.LibraryPath, deps.Store)

	echo.NotFoundHandler = notFoundHandler
	e.HTTPErrorHandler = errcodes.NewHandler().Handle

	return e, nil
}

func notFoundHandler(c echo.Context) error {
	c.SetPath("/:path")
	return errcodes.NotFound("Page")
}
