package scans

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
	"github.com/shelfopds/shelfopds/internal/testgen"
	"github.com/shelfopds/shelfopds/pkg/binder"
	"github.com/shelfopds/shelfopds/pkg/errcodes"
	"github.com/shelfopds/shelfopds/pkg/ingest"
	"github.com/shelfopds/shelfopds/pkg/library"
	"github.com/shelfopds/shelfopds/pkg/library/librarytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedDownloads int

func (f fixedDownloads) DownloadCount(context.Context) (int, error) {
	return int(f), nil
}

func setup(t *testing.T) (*echo.Echo, *ingest.Pipeline, string) {
	t.Helper()
	root := testgen.TempLibraryDir(t)
	sub := testgen.CreateSubDir(t, root, "sub")
	testgen.GenerateFB2(t, root, "top.fb2", testgen.FB2Options{Title: "Top", Authors: []string{"Anna Ivanova"}})
	testgen.GenerateFB2(t, sub, "nested.fb2", testgen.FB2Options{Title: "Nested", Authors: []string{"Anna Ivanova"}})

	idx := library.New(librarytest.NewMemStore())
	require.NoError(t, idx.Load(logger.New().WithContext(context.Background())))
	p := ingest.New(idx, ingest.Options{})
	p.Start()
	t.Cleanup(p.Shutdown)

	b, err := binder.New()
	require.NoError(t, err)
	e := echo.New()
	e.Binder = b
	e.HTTPErrorHandler = errcodes.NewHandler().Handle
	RegisterRoutes(e, p, root, fixedDownloads(3))
	return e, p, root
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rr := httptest.NewRecorder()
	e.ServeHTTP(rr, req)
	return rr
}

func decodeStats(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestStartScan(t *testing.T) {
	t.Parallel()
	e, p, _ := setup(t)

	rr := do(e, http.MethodPost, "/api/scan", "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	p.Wait()

	rr = do(e, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	stats := decodeStats(t, rr)
	assert.EqualValues(t, 2, stats["library_count"])
	assert.EqualValues(t, 3, stats["downloads"])
	assert.Equal(t, "idle", stats["state"])
}

func TestStartScan_Subfolder(t *testing.T) {
	t.Parallel()
	e, p, _ := setup(t)

	rr := do(e, http.MethodPost, "/api/scan", `{"path":" sub "}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	p.Wait()
	assert.Equal(t, 1, p.Stats().LibraryCount)
}

func TestStartScan_RejectsPathsOutsideLibrary(t *testing.T) {
	t.Parallel()
	e, _, _ := setup(t)

	for _, path := range []string{"../elsewhere", "/etc"} {
		rr := do(e, http.MethodPost, "/api/scan", `{"path":"`+path+`"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, path)
	}

	rr := do(e, http.MethodPost, "/api/scan", `{"folder":"sub"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestStartScan_RejectsSymlinkOutsideLibrary(t *testing.T) {
	t.Parallel()
	e, _, root := setup(t)

	outside := t.TempDir()
	testgen.GenerateFB2(t, outside, "secret.fb2", testgen.FB2Options{Title: "Secret", Authors: []string{"Anna Ivanova"}})
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))

	rr := do(e, http.MethodPost, "/api/scan", `{"path":"escape"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(e, http.MethodPost, "/api/scan", `{"path":"missing"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestStartScan_AfterShutdown(t *testing.T) {
	t.Parallel()
	e, p, _ := setup(t)
	p.Shutdown()

	rr := do(e, http.MethodPost, "/api/scan", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestStopScan(t *testing.T) {
	t.Parallel()
	e, _, _ := setup(t)

	rr := do(e, http.MethodDelete, "/api/scan", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "idle", decodeStats(t, rr)["state"])
}
