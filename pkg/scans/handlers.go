package scans

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shelfopds/shelfopds/pkg/errcodes"
	"github.com/shelfopds/shelfopds/pkg/ingest"
)

// DownloadCounter reports how many downloads were recorded.
type DownloadCounter interface {
	DownloadCount(ctx context.Context) (int, error)
}

type handler struct {
	pipeline    *ingest.Pipeline
	libraryPath string
	downloads   DownloadCounter
}

// ScanPayload optionally narrows a scan to a folder of the library.
type ScanPayload struct {
	Path string `json:"path" mod:"trim"`
}

type StatsResponse struct {
	ingest.Stats
	Downloads int `json:"downloads"`
}

func (h *handler) stats(c echo.Context) error {
	ctx := c.Request().Context()

	resp := StatsResponse{Stats: h.pipeline.Stats()}
	if h.downloads != nil {
		n, err := h.downloads.DownloadCount(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		resp.Downloads = n
	}

	return c.JSON(http.StatusOK, resp)
}

func (h *handler) start(c echo.Context) error {
	// The scan outlives the request, but keeps its logger.
	ctx := context.WithoutCancel(c.Request().Context())
	log := logger.FromContext(ctx)

	c.Set("disallow_empty_body", false)
	params := ScanPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	root, err := h.resolve(params.Path)
	if err != nil {
		return err
	}

	err = h.pipeline.StartScan(ctx, root)
	switch {
	case errors.Is(err, ingest.ErrBusy):
		return errcodes.Conflict("A scan is already running.")
	case errors.Is(err, ingest.ErrClosed):
		return errcodes.ServiceUnavailable("The server is shutting down.")
	case err != nil:
		return errors.WithStack(err)
	}

	log.Info("scan requested", logger.Data{"root": root})

	return c.JSON(http.StatusAccepted, StatsResponse{Stats: h.pipeline.Stats()})
}

func (h *handler) stop(c echo.Context) error {
	h.pipeline.Stop()
	return c.JSON(http.StatusOK, StatsResponse{Stats: h.pipeline.Stats()})
}

// resolve turns a library-relative folder into an absolute path, refusing
// anything outside the library, symlinks included. The returned path keeps
// the library prefix so indexed paths match what the watcher reports.
func (h *handler) resolve(rel string) (string, error) {
	root := filepath.Clean(h.libraryPath)
	if rel == "" {
		return root, nil
	}
	if filepath.IsAbs(rel) {
		return "", errcodes.ValidationError(`"path" must be relative to the library`)
	}
	full := filepath.Join(root, rel)
	if !inside(root, full) {
		return "", errcodes.ValidationError(`"path" must stay inside the library`)
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", errors.WithStack(err)
	}
	realFull, err := filepath.EvalSymlinks(full)
	if err != nil {
		return "", errcodes.ValidationError(`"path" must be an existing folder of the library`)
	}
	if !inside(realRoot, realFull) {
		return "", errcodes.ValidationError(`"path" must stay inside the library`)
	}
	return full, nil
}

func inside(root, path string) bool {
	r, err := filepath.Rel(root, path)
	return err == nil && r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator))
}
