package opds

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shelfopds/shelfopds/pkg/catalog"
	"github.com/shelfopds/shelfopds/pkg/collation"
	"github.com/shelfopds/shelfopds/pkg/covers"
	"github.com/shelfopds/shelfopds/pkg/errcodes"
	"github.com/shelfopds/shelfopds/pkg/library"
	"github.com/shelfopds/shelfopds/pkg/metrics"
	"github.com/shelfopds/shelfopds/pkg/models"
)

// DownloadRecorder keeps the download history.
type DownloadRecorder interface {
	RecordDownload(ctx context.Context, bookID, format, client string) error
}

type handler struct {
	opdsService *Service
	index       *library.Index
	covers      *covers.Service
	downloads   DownloadRecorder
}

// feedQuery holds the query parameters every catalog node accepts.
type feedQuery struct {
	Page       int    `query:"page" validate:"min=0"`
	Order      string `query:"order" mod:"trim,lcase" validate:"collation"`
	Author     string `query:"author" mod:"trim"`
	SearchTerm string `query:"searchTerm" mod:"trim"`
	SearchType string `query:"searchType" mod:"trim,lcase" validate:"omitempty,oneof=authors books"`
}

// getBaseURL returns the base URL for OPDS feeds.
func getBaseURL(c echo.Context) string {
	scheme := "http"
	if c.Request().TLS != nil {
		scheme = "https"
	}
	// Check for X-Forwarded-Proto header (for reverse proxies)
	if proto := c.Request().Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// Check for X-Forwarded-Prefix header (set by reverse proxies that strip path prefixes)
	prefix := strings.TrimSuffix(c.Request().Header.Get("X-Forwarded-Prefix"), "/")

	return scheme + "://" + c.Request().Host + prefix
}

// node serves one catalog node. param names the path parameter carrying the
// node's name, if any.
func (h *handler) node(nodeType catalog.NodeType, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		q := feedQuery{}
		if err := c.Bind(&q); err != nil {
			return errors.WithStack(err)
		}

		var name string
		if param != "" {
			var err error
			name, err = url.PathUnescape(c.Param(param))
			if err != nil || strings.TrimSpace(name) == "" {
				return errcodes.NotFound("Catalog entry")
			}
		}

		req := catalog.NodeRequest{
			Type:       nodeType,
			Name:       name,
			Author:     q.Author,
			Query:      q.SearchTerm,
			SearchType: q.SearchType,
			Page:       q.Page,
			Order:      collation.Order(q.Order),
		}

		feed, err := h.opdsService.BuildFeed(getBaseURL(c), req)
		if err != nil {
			return catalogError(err)
		}

		return respondXML(c, feed)
	}
}

// catalogError maps builder errors onto HTTP errors.
func catalogError(err error) error {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return errcodes.NotFound("Catalog entry")
	case errors.Is(err, catalog.ErrBadRequest):
		return errcodes.BadRequest(err.Error())
	default:
		return errors.WithStack(err)
	}
}

// openSearch handles the OpenSearch description.
func (h *handler) openSearch(c echo.Context) error {
	desc := h.opdsService.BuildOpenSearchDescription(getBaseURL(c))

	c.Response().Header().Set(echo.HeaderContentType, MimeTypeOpenSearch)
	return c.XML(http.StatusOK, desc)
}

// lookupBook resolves the :id path parameter.
func (h *handler) lookupBook(c echo.Context) (*models.Book, error) {
	book := h.index.Get(c.Param("id"))
	if book == nil {
		return nil, errcodes.NotFound("Book")
	}
	return book, nil
}

// download streams a book file. Plain FB2 files are zipped on the fly so
// every FB2 download is application/fb2+zip.
func (h *handler) download(c echo.Context) error {
	ctx := c.Request().Context()
	log := logger.FromContext(ctx)

	book, err := h.lookupBook(c)
	if err != nil {
		return err
	}
	if c.Param("format") != book.Format {
		return errcodes.NotFound("File")
	}

	f, err := os.Open(book.Filepath)
	if os.IsNotExist(err) {
		return errcodes.NotFound("File")
	}
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	if err := h.downloads.RecordDownload(ctx, book.ID, book.Format, c.Request().UserAgent()); err != nil {
		// The history is informational; the download still goes out.
		log.Err(err).Warn("failed to record download", logger.Data{"book_id": book.ID})
	}
	metrics.DownloadsTotal.WithLabelValues(book.Format).Inc()

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": downloadName(book)})
	c.Response().Header().Set(echo.HeaderContentDisposition, disposition)

	if book.Format != models.FormatFB2 || models.IsZippedFB2(book.Filepath) {
		return c.Stream(http.StatusOK, FormatMimeType(book.Format), f)
	}

	c.Response().Header().Set(echo.HeaderContentType, MimeTypeFB2Zip)
	c.Response().WriteHeader(http.StatusOK)

	zw := zip.NewWriter(c.Response())
	w, err := zw.Create(strings.TrimSuffix(downloadName(book), ".zip"))
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(zw.Close())
}

// cover serves the full-size cover.
func (h *handler) cover(c echo.Context) error {
	book, err := h.lookupBook(c)
	if err != nil {
		return err
	}
	data, err := h.covers.Cover(c.Request().Context(), book)
	if err != nil {
		return coverError(err)
	}
	return respondImage(c, data)
}

// thumbnail serves the cached cover thumbnail.
func (h *handler) thumbnail(c echo.Context) error {
	book, err := h.lookupBook(c)
	if err != nil {
		return err
	}
	data, err := h.covers.Thumbnail(c.Request().Context(), book)
	if err != nil {
		return coverError(err)
	}
	return respondImage(c, data)
}

func coverError(err error) error {
	if errors.Is(err, covers.ErrNoCover) || errors.Is(err, os.ErrNotExist) {
		return errcodes.NotFound("Cover")
	}
	return errors.WithStack(err)
}

// respondImage sends a JPEG. Book IDs are content fingerprints, so the
// image behind a URL never changes.
func respondImage(c echo.Context, data []byte) error {
	c.Response().Header().Set("Cache-Control", "public, max-age=604800, immutable")
	return c.Blob(http.StatusOK, MimeTypeJPEG, data)
}

// respondXML sends an XML response with the correct content type.
func respondXML(c echo.Context, data interface{}) error {
	c.Response().Header().Set(echo.HeaderContentType, MimeTypeAtom+"; charset=utf-8")
	c.Response().WriteHeader(http.StatusOK)

	// Write XML declaration
	if _, err := c.Response().Write([]byte(xml.Header)); err != nil {
		return errors.WithStack(err)
	}

	// Encode the feed
	encoder := xml.NewEncoder(c.Response())
	encoder.Indent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return errors.WithStack(err)
	}

	return nil
}
