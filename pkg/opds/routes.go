package opds

import (
	"github.com/labstack/echo/v4"
	"github.com/shelfopds/shelfopds/pkg/catalog"
	"github.com/shelfopds/shelfopds/pkg/covers"
	"github.com/shelfopds/shelfopds/pkg/library"
)

// RegisterRoutes registers all OPDS routes.
func RegisterRoutes(e *echo.Echo, opdsService *Service, index *library.Index, coverService *covers.Service, downloads DownloadRecorder) {
	h := &handler{
		opdsService: opdsService,
		index:       index,
		covers:      coverService,
		downloads:   downloads,
	}

	e.GET("/", h.node(catalog.NodeRoot, ""))

	// New books
	e.GET("/new", h.node(catalog.NodeNew, ""))
	e.GET("/newdate", h.node(catalog.NodeNewByDate, ""))
	e.GET("/newtitle", h.node(catalog.NodeNewByTitle, ""))

	// Authors
	e.GET("/authorsindex", h.node(catalog.NodeAuthorsIndex, ""))
	e.GET("/authorsindex/:prefix", h.node(catalog.NodeAuthorsIndex, "prefix"))
	e.GET("/author/:name", h.node(catalog.NodeAuthor, "name"))
	e.GET("/author-series/:name", h.node(catalog.NodeAuthorSeries, "name"))
	e.GET("/author-no-series/:name", h.node(catalog.NodeAuthorNoSeries, "name"))
	e.GET("/author-alphabetic/:name", h.node(catalog.NodeAuthorAlphabetic, "name"))
	e.GET("/author-by-date/:name", h.node(catalog.NodeAuthorByDate, "name"))

	// Series
	e.GET("/sequencesindex", h.node(catalog.NodeSeriesIndex, ""))
	e.GET("/sequencesindex/:prefix", h.node(catalog.NodeSeriesIndex, "prefix"))
	e.GET("/series/:name", h.node(catalog.NodeSeries, "name"))

	// Genres
	e.GET("/genres", h.node(catalog.NodeGenres, ""))
	e.GET("/genres/:parent", h.node(catalog.NodeGenres, "parent"))
	e.GET("/genre/:tag", h.node(catalog.NodeGenre, "tag"))

	// Search
	e.GET("/search", h.node(catalog.NodeSearch, ""))
	e.GET("/opensearch.xml", h.openSearch)

	// Files
	e.GET("/download/:id/:format", h.download)
	e.GET("/cover/:id", h.cover)
	e.GET("/thumbnail/:id", h.thumbnail)
}
