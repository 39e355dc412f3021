package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shelfopds/shelfopds/pkg/dedup"
	"github.com/shelfopds/shelfopds/pkg/extractor"
	"github.com/shelfopds/shelfopds/pkg/metrics"
	"github.com/shelfopds/shelfopds/pkg/models"
)

// StartScan walks root in a background goroutine. The counters are reset
// for the new session. It returns ErrBusy when a scan is already running.
func (p *Pipeline) StartScan(ctx context.Context, root string) error {
	done := make(chan struct{})

	p.batchMu.Lock()
	if p.closed {
		p.batchMu.Unlock()
		return ErrClosed
	}
	if !p.state.CompareAndSwap(int32(Idle), int32(Scanning)) {
		p.batchMu.Unlock()
		return ErrBusy
	}
	p.stop.Store(false)
	p.scanDone = done
	p.batchMu.Unlock()

	id, err := uuid.NewRandom()
	if err != nil {
		p.state.Store(int32(Idle))
		close(done)
		return errors.WithStack(err)
	}
	log := p.log.ID(id.String()).Root(logger.Data{"root": root})
	ctx = log.WithContext(ctx)

	p.countMu.Lock()
	libraryCount, libraryFormats := p.counts.libraryCount, p.counts.libraryFormats
	p.counts = newCounters()
	p.counts.libraryCount, p.counts.libraryFormats = libraryCount, libraryFormats
	p.countMu.Unlock()

	go p.runScan(ctx, root, done)
	return nil
}

// Wait blocks until the current scan, if any, has finished and its final
// batch is applied.
func (p *Pipeline) Wait() {
	p.batchMu.Lock()
	done := p.scanDone
	p.batchMu.Unlock()
	<-done
}

// Stop asks a running scan to stop after the file it is reading and waits
// for the final flush. Books the watcher batched are flushed as well.
func (p *Pipeline) Stop() {
	p.state.CompareAndSwap(int32(Scanning), int32(Stopping))
	p.stop.Store(true)
	p.Wait()

	// A watcher may have batched books while no scan was running.
	_ = p.Flush(p.log.WithContext(context.Background()))
}

func (p *Pipeline) runScan(ctx context.Context, root string, done chan struct{}) {
	log := logger.FromContext(ctx)
	start := time.Now()

	metrics.ScanRunsTotal.Inc()
	metrics.ScanInProgress.Set(1)
	log.Info("scan started")
	p.emit(Event{Kind: ScanStarted, Path: root})

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if p.stop.Load() {
			return filepath.SkipAll
		}
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		if err != nil {
			if path == root {
				return errors.WithStack(err)
			}
			// An unreadable directory costs its subtree, not the scan.
			log.Err(err).Warn("can't read path", logger.Data{"path": path})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		p.scanFile(ctx, path, d)
		return nil
	})
	if err != nil {
		log.Err(err).Error("scan failed")
	}

	// Every scan ends with a synchronous flush, including stopped ones.
	p.batchMu.Lock()
	var flushed chan struct{}
	if !p.closed {
		flushed = p.flushLocked(ctx, true)
	}
	p.batchMu.Unlock()
	if flushed != nil {
		<-flushed
	}

	p.state.Store(int32(Idle))
	metrics.ScanInProgress.Set(0)
	metrics.ScanLastDuration.Set(time.Since(start).Seconds())

	stats := p.Stats()
	log.Info("scan completed", logger.Data{
		"found":      stats.FoundTotal(),
		"skipped":    stats.Skipped,
		"invalid":    stats.Invalid,
		"duplicates": stats.Duplicates,
		"errors":     stats.Errors,
		"processed":  stats.Processed,
		"library":    stats.LibraryCount,
		"stopped":    p.stop.Load(),
		"duration":   time.Since(start).String(),
	})
	p.emit(Event{Kind: ScanCompleted, Path: root, Err: err, Stats: &stats})
	close(done)
}

func (p *Pipeline) scanFile(ctx context.Context, path string, d fs.DirEntry) {
	format := models.FormatFromPath(path)
	if format == "" {
		return
	}
	p.countProcessed()

	info, err := d.Info()
	if err != nil {
		p.skip(ctx, path, format, err)
		return
	}
	book, err := p.readBook(path, info.Size())
	if err != nil {
		p.reject(ctx, path, format, err)
		return
	}

	// A file edited since the last scan keeps its path but not its
	// fingerprint. The old entry has to go before the new one lands.
	if existing := p.index.ByPath(path); existing != nil && existing.ID != book.ID {
		p.batchMu.Lock()
		if !p.closed {
			p.replacePathLocked(ctx, path, book.ID)
		}
		p.batchMu.Unlock()
	}
	p.enqueue(ctx, book, false)
}

// readBook reads, extracts and fingerprints one file.
func (p *Pipeline) readBook(path string, size int64) (*models.Book, error) {
	if p.opts.MaxFileSize > 0 && size > p.opts.MaxFileSize {
		return nil, errors.Wrapf(extractor.ErrSkipped, "file is %d bytes, limit is %d", size, p.opts.MaxFileSize)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(extractor.ErrSkipped, err.Error())
	}
	book, err := extractor.Extract(raw, path)
	if err != nil {
		return nil, err
	}
	book.ID, err = dedup.Key(book)
	if err != nil {
		return nil, errors.Wrap(extractor.ErrInvalid, err.Error())
	}
	return book, nil
}

// reject counts an extraction failure by its class.
func (p *Pipeline) reject(ctx context.Context, path, format string, err error) {
	switch extractor.Kind(err) {
	case "unsupported":
	case "skipped":
		p.skip(ctx, path, format, err)
	default:
		p.invalid(ctx, path, format, err)
	}
}

func (p *Pipeline) skip(ctx context.Context, path, format string, err error) {
	p.countMu.Lock()
	p.counts.skipped++
	p.countMu.Unlock()
	metrics.FilesProcessedTotal.WithLabelValues("skipped").Inc()
	logger.FromContext(ctx).Debug("skipped file", logger.Data{"path": path, "reason": errString(err)})
	p.emit(Event{Kind: FileSkipped, Path: path, Format: format, Err: err})
}

func (p *Pipeline) invalid(ctx context.Context, path, format string, err error) {
	p.countMu.Lock()
	p.counts.invalid++
	p.countMu.Unlock()
	metrics.FilesProcessedTotal.WithLabelValues("invalid").Inc()
	logger.FromContext(ctx).Warn("invalid book", logger.Data{"path": path, "error": errString(err)})
	p.emit(Event{Kind: BookInvalid, Path: path, Format: format, Err: err})
}

func (p *Pipeline) countProcessed() {
	p.countMu.Lock()
	p.counts.processed++
	p.countMu.Unlock()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
