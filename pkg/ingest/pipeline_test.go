package ingest_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robinjoseph08/golib/logger"
	"github.com/shelfopds/shelfopds/internal/testgen"
	"github.com/shelfopds/shelfopds/pkg/dedup"
	"github.com/shelfopds/shelfopds/pkg/extractor"
	"github.com/shelfopds/shelfopds/pkg/ingest"
	"github.com/shelfopds/shelfopds/pkg/library"
	"github.com/shelfopds/shelfopds/pkg/library/librarytest"
	"github.com/shelfopds/shelfopds/pkg/models"
	"github.com/shelfopds/shelfopds/pkg/watcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() context.Context {
	return logger.New().WithContext(context.Background())
}

func newPipeline(t *testing.T, store library.Store, opts ingest.Options) (*library.Index, *ingest.Pipeline) {
	t.Helper()
	idx := library.New(store)
	require.NoError(t, idx.Load(testContext()))
	p := ingest.New(idx, opts)
	p.Start()
	t.Cleanup(p.Shutdown)
	return idx, p
}

func scan(t *testing.T, p *ingest.Pipeline, root string) ingest.Stats {
	t.Helper()
	require.NoError(t, p.StartScan(testContext(), root))
	p.Wait()
	return p.Stats()
}

func writeFB2(t *testing.T, dir, name, title string, authors ...string) string {
	t.Helper()
	return testgen.GenerateFB2(t, dir, name, testgen.FB2Options{Title: title, Authors: authors})
}

func titles(books []*models.Book) []string {
	out := make([]string, len(books))
	for i, b := range books {
		out[i] = b.Title
	}
	return out
}

func TestScan_EndToEnd(t *testing.T) {
	t.Parallel()
	dir := testgen.TempLibraryDir(t)
	store := librarytest.NewMemStore()
	idx, p := newPipeline(t, store, ingest.Options{})

	writeFB2(t, dir, "a.fb2", "War and Peace", "Lev Tolstoy")
	writeFB2(t, dir, "b.fb2", "Anna Karenina", "Lev Tolstoy")
	sub := testgen.CreateSubDir(t, dir, "copies")
	writeFB2(t, sub, "c.fb2", "War and Peace", "Lev Tolstoy")

	stats := scan(t, p, dir)

	assert.Equal(t, 2, idx.Count())
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 2, stats.Found[models.FormatFB2])
	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 2, stats.LibraryCount)
	assert.Equal(t, 2, stats.LibraryFormats[models.FormatFB2])
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, "idle", stats.State)

	books := idx.BooksByAuthor("Tolstoy Lev")
	assert.Equal(t, []string{"Anna Karenina", "War and Peace"}, titles(books))
}

func TestScan_Idempotent(t *testing.T) {
	t.Parallel()
	dir := testgen.TempLibraryDir(t)
	idx, p := newPipeline(t, librarytest.NewMemStore(), ingest.Options{})

	writeFB2(t, dir, "one.fb2", "One", "Some Author")
	writeFB2(t, dir, "two.fb2", "Two", "Some Author")
	testgen.GenerateEPUB(t, dir, "three.epub", testgen.EPUBOptions{Title: "Three", Authors: []string{"Other Author"}})

	first := scan(t, p, dir)
	require.Equal(t, 3, first.FoundTotal())
	require.Equal(t, 3, idx.Count())

	second := scan(t, p, dir)
	assert.Equal(t, 3, idx.Count())
	assert.Equal(t, 3, second.Duplicates)
	assert.Equal(t, 0, second.FoundTotal())
	assert.Equal(t, 3, second.LibraryCount)
}

func TestScan_RenameKeepsIdentity(t *testing.T) {
	t.Parallel()
	dir := testgen.TempLibraryDir(t)
	idx, p := newPipeline(t, librarytest.NewMemStore(), ingest.Options{})

	path := writeFB2(t, dir, "before.fb2", "Roadside Picnic", "Arkady Strugatsky")
	scan(t, p, dir)
	require.Equal(t, 1, idx.Count())

	require.NoError(t, os.Rename(path, filepath.Join(dir, "after.fb2")))
	stats := scan(t, p, dir)

	assert.Equal(t, 1, idx.Count())
	assert.Equal(t, 1, stats.Duplicates)
}

func TestScan_RewrittenFileReplacesOldEntry(t *testing.T) {
	t.Parallel()
	dir := testgen.TempLibraryDir(t)
	store := librarytest.NewMemStore()
	idx, p := newPipeline(t, store, ingest.Options{})
	ctx := testContext()

	path := writeFB2(t, dir, "a.fb2", "Draft Title", "Some Author")
	scan(t, p, dir)
	require.Equal(t, 1, idx.Count())

	writeFB2(t, dir, "a.fb2", "Final Title", "Some Author")
	scan(t, p, dir)

	assert.Equal(t, 1, idx.Count())
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, []string{"Final Title"}, titles(idx.BooksByAuthor("Author Some")))
	b := idx.ByPath(path)
	require.NotNil(t, b)
	assert.Equal(t, "Final Title", b.Title)

	p.HandleEvent(ctx, watcher.Event{Type: watcher.BookDeleted, Path: path})
	require.NoError(t, p.Flush(ctx))

	assert.Equal(t, 0, idx.Count())
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, idx.BooksByAuthor("Author Some"))
}

func TestScan_CountsFailures(t *testing.T) {
	t.Parallel()
	dir := testgen.TempLibraryDir(t)
	_, p := newPipeline(t, librarytest.NewMemStore(), ingest.Options{MaxFileSize: 64 << 10})

	writeFB2(t, dir, "good.fb2", "Good", "Some Author")
	testgen.WriteFile(t, dir, "broken.fb2", []byte("this is not a book"))
	testgen.WriteFile(t, dir, "empty.fb2", []byte{})
	testgen.WriteFile(t, dir, "huge.epub", bytes.Repeat([]byte("x"), 128<<10))
	testgen.WriteFile(t, dir, "notes.txt", []byte("ignored"))

	stats := scan(t, p, dir)

	assert.Equal(t, 1, stats.Found[models.FormatFB2])
	assert.Equal(t, 1, stats.Invalid)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 4, stats.Processed)
	assert.Equal(t, 1, stats.LibraryCount)
}

func TestScan_StoreDuplicateReconciles(t *testing.T) {
	t.Parallel()
	dir := testgen.TempLibraryDir(t)
	raw := testgen.FB2Bytes(t, testgen.FB2Options{Title: "Solaris", Authors: []string{"Stanislaw Lem"}})
	path := testgen.WriteFile(t, dir, "solaris.fb2", raw)

	// The store knows the book but the index was never loaded with it.
	book, err := extractor.Extract(raw, path)
	require.NoError(t, err)
	book.ID, err = dedup.Key(book)
	require.NoError(t, err)
	store := librarytest.NewMemStore()
	idx := library.New(store)
	store.Seed(book)
	p := ingest.New(idx, ingest.Options{})
	p.Start()
	t.Cleanup(p.Shutdown)

	stats := scan(t, p, dir)

	assert.Equal(t, 0, stats.FoundTotal())
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 0, stats.LibraryCount)
	assert.Equal(t, 0, idx.Count())
}

func TestScan_PersistenceFailureIsCounted(t *testing.T) {
	t.Parallel()
	dir := testgen.TempLibraryDir(t)
	store := librarytest.NewMemStore()
	idx, p := newPipeline(t, store, ingest.Options{})

	writeFB2(t, dir, "ok.fb2", "Fine", "Some Author")
	bad := writeFB2(t, dir, "bad.fb2", "Doomed", "Some Author")
	store.FailPaths[bad] = true

	stats := scan(t, p, dir)

	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.FoundTotal())
	assert.Equal(t, 1, idx.Count())
	assert.Nil(t, idx.ByPath(bad))
}

func TestScan_FlushesAtThreshold(t *testing.T) {
	t.Parallel()
	dir := testgen.TempLibraryDir(t)
	store := librarytest.NewMemStore()
	idx, p := newPipeline(t, store, ingest.Options{BatchSize: 2})

	for i := 0; i < 5; i++ {
		writeFB2(t, dir, fmt.Sprintf("book%d.fb2", i), fmt.Sprintf("Book %d", i), "Some Author")
	}

	scan(t, p, dir)

	assert.Equal(t, 5, idx.Count())
	// Two full batches and the final partial one.
	assert.Equal(t, 3, store.BatchCalls)
}

func TestStop_FlushesPartialBatch(t *testing.T) {
	t.Parallel()
	dir := testgen.TempLibraryDir(t)
	store := librarytest.NewMemStore()
	idx, p := newPipeline(t, store, ingest.Options{BatchSize: 1000})

	for i := 0; i < 40; i++ {
		writeFB2(t, dir, fmt.Sprintf("book%02d.fb2", i), fmt.Sprintf("Book %d", i), "Some Author")
	}

	require.NoError(t, p.StartScan(testContext(), dir))
	p.Stop()

	stats := p.Stats()
	assert.Equal(t, ingest.Idle, p.State())
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, idx.Count(), stats.FoundTotal())
	assert.Equal(t, idx.Count(), store.Len())
	assert.Equal(t, idx.Count(), stats.LibraryCount)
}

func TestStartScan_AfterShutdown(t *testing.T) {
	t.Parallel()
	idx := library.New(librarytest.NewMemStore())
	p := ingest.New(idx, ingest.Options{})
	p.Start()
	p.Shutdown()

	err := p.StartScan(testContext(), testgen.TempLibraryDir(t))
	assert.ErrorIs(t, err, ingest.ErrClosed)
	// A second shutdown is a no-op.
	p.Shutdown()
}

func TestProgressEvents(t *testing.T) {
	t.Parallel()
	dir := testgen.TempLibraryDir(t)
	_, p := newPipeline(t, librarytest.NewMemStore(), ingest.Options{})
	writeFB2(t, dir, "one.fb2", "One", "Some Author")

	scan(t, p, dir)

	seen := map[ingest.EventKind]bool{}
	var completed *ingest.Stats
	for done := false; !done; {
		select {
		case ev := <-p.Progress():
			seen[ev.Kind] = true
			if ev.Kind == ingest.ScanCompleted {
				completed = ev.Stats
			}
		default:
			done = true
		}
	}
	assert.True(t, seen[ingest.ScanStarted])
	assert.True(t, seen[ingest.BookFound])
	assert.True(t, seen[ingest.BatchFlushed])
	require.NotNil(t, completed)
	assert.Equal(t, 1, completed.LibraryCount)
}

func TestHandleEvent_AddThenDelete(t *testing.T) {
	t.Parallel()
	dir := testgen.TempLibraryDir(t)
	idx, p := newPipeline(t, librarytest.NewMemStore(), ingest.Options{WatchFlushDelay: 20 * time.Millisecond})
	ctx := testContext()

	path := writeFB2(t, dir, "new.fb2", "Fresh", "Some Author")
	p.HandleEvent(ctx, watcher.Event{Type: watcher.BookAdded, Path: path, Format: models.FormatFB2})

	// The delay timer flushes the partial batch on its own.
	require.True(t, testgen.Eventually(t, 2*time.Second, func() bool { return idx.Count() == 1 }))

	p.HandleEvent(ctx, watcher.Event{Type: watcher.BookDeleted, Path: path})
	require.NoError(t, p.Flush(ctx))

	assert.Equal(t, 0, idx.Count())
	stats := p.Stats()
	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, 0, stats.LibraryCount)
}

func TestHandleEvent_DeleteBeforeFlush(t *testing.T) {
	t.Parallel()
	dir := testgen.TempLibraryDir(t)
	store := librarytest.NewMemStore()
	idx, p := newPipeline(t, store, ingest.Options{WatchFlushDelay: time.Hour})
	ctx := testContext()

	path := writeFB2(t, dir, "brief.fb2", "Brief", "Some Author")
	p.HandleEvent(ctx, watcher.Event{Type: watcher.BookAdded, Path: path, Format: models.FormatFB2})
	p.HandleEvent(ctx, watcher.Event{Type: watcher.BookDeleted, Path: path})
	require.NoError(t, p.Flush(ctx))

	assert.Equal(t, 0, idx.Count())
	assert.Equal(t, 0, store.BatchCalls)
	assert.Equal(t, 0, p.Stats().FoundTotal())
}

func TestHandleEvent_WatchBatchThreshold(t *testing.T) {
	t.Parallel()
	dir := testgen.TempLibraryDir(t)
	idx, p := newPipeline(t, librarytest.NewMemStore(), ingest.Options{WatchBatchSize: 2, WatchFlushDelay: time.Hour})
	ctx := testContext()

	for i := 0; i < 2; i++ {
		path := writeFB2(t, dir, fmt.Sprintf("w%d.fb2", i), fmt.Sprintf("Watched %d", i), "Some Author")
		p.HandleEvent(ctx, watcher.Event{Type: watcher.BookAdded, Path: path, Format: models.FormatFB2})
	}

	assert.True(t, testgen.Eventually(t, 2*time.Second, func() bool { return idx.Count() == 2 }))
}

func TestHandleEvent_SameFingerprintTwice(t *testing.T) {
	t.Parallel()
	dir := testgen.TempLibraryDir(t)
	idx, p := newPipeline(t, librarytest.NewMemStore(), ingest.Options{WatchFlushDelay: time.Hour})
	ctx := testContext()

	first := writeFB2(t, dir, "first.fb2", "Twin", "Some Author")
	second := writeFB2(t, dir, "second.fb2", "Twin", "Some Author")
	p.HandleEvent(ctx, watcher.Event{Type: watcher.BookAdded, Path: first, Format: models.FormatFB2})
	p.HandleEvent(ctx, watcher.Event{Type: watcher.BookAdded, Path: second, Format: models.FormatFB2})
	require.NoError(t, p.Flush(ctx))

	assert.Equal(t, 1, idx.Count())
	assert.NotNil(t, idx.ByPath(first))
	assert.Equal(t, 1, p.Stats().Duplicates)
}

func TestHandleEvent_Rewrite(t *testing.T) {
	t.Parallel()
	dir := testgen.TempLibraryDir(t)
	idx, p := newPipeline(t, librarytest.NewMemStore(), ingest.Options{WatchFlushDelay: time.Hour})
	ctx := testContext()

	path := writeFB2(t, dir, "draft.fb2", "Draft", "Some Author")
	p.HandleEvent(ctx, watcher.Event{Type: watcher.BookAdded, Path: path, Format: models.FormatFB2})
	require.NoError(t, p.Flush(ctx))
	require.Equal(t, 1, idx.Count())

	// Same content again is a no-op.
	p.HandleEvent(ctx, watcher.Event{Type: watcher.BookAdded, Path: path, Format: models.FormatFB2})
	require.NoError(t, p.Flush(ctx))
	assert.Equal(t, 0, p.Stats().Duplicates)

	writeFB2(t, dir, "draft.fb2", "Final", "Some Author")
	p.HandleEvent(ctx, watcher.Event{Type: watcher.BookAdded, Path: path, Format: models.FormatFB2})
	require.NoError(t, p.Flush(ctx))

	assert.Equal(t, 1, idx.Count())
	b := idx.ByPath(path)
	require.NotNil(t, b)
	assert.Equal(t, "Final", b.Title)
}

func TestHandleEvent_FolderDeleted(t *testing.T) {
	t.Parallel()
	dir := testgen.TempLibraryDir(t)
	idx, p := newPipeline(t, librarytest.NewMemStore(), ingest.Options{})
	ctx := testContext()

	sub := testgen.CreateSubDir(t, dir, "series")
	writeFB2(t, sub, "one.fb2", "One", "Some Author")
	writeFB2(t, sub, "two.fb2", "Two", "Some Author")
	writeFB2(t, dir, "kept.fb2", "Kept", "Some Author")
	scan(t, p, dir)
	require.Equal(t, 3, idx.Count())

	p.HandleEvent(ctx, watcher.Event{Type: watcher.FolderDeleted, Path: sub})
	require.NoError(t, p.Flush(ctx))

	assert.Equal(t, 1, idx.Count())
	assert.Equal(t, 2, p.Stats().Removed)
}

func TestHandleEvent_Counters(t *testing.T) {
	t.Parallel()
	_, p := newPipeline(t, librarytest.NewMemStore(), ingest.Options{})
	ctx := testContext()

	p.HandleEvent(ctx, watcher.Event{Type: watcher.InvalidBook, Path: "/lib/bad.epub", Format: models.FormatEPUB})
	p.HandleEvent(ctx, watcher.Event{Type: watcher.FileSkipped, Path: "/lib/empty.fb2", Count: 3})

	stats := p.Stats()
	assert.Equal(t, 1, stats.Invalid)
	assert.Equal(t, 3, stats.Skipped)
	assert.Equal(t, 4, stats.Processed)
}
