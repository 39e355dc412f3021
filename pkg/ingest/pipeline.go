// Package ingest turns book files into library entries. A directory scan
// and live filesystem events share one batch; a single flusher goroutine
// applies batches and deletions to the library index in the order they
// were queued.
package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shelfopds/shelfopds/pkg/dedup"
	"github.com/shelfopds/shelfopds/pkg/library"
	"github.com/shelfopds/shelfopds/pkg/metrics"
	"github.com/shelfopds/shelfopds/pkg/models"
)

// ErrBusy is returned by StartScan while another scan is running.
var ErrBusy = errors.New("scan already in progress")

// ErrClosed is returned once the pipeline has been shut down.
var ErrClosed = errors.New("pipeline is shut down")

// State is the scan session state.
type State int32

const (
	Idle State = iota
	Scanning
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

type Options struct {
	// BatchSize is the flush threshold for scanned files.
	BatchSize int
	// WatchBatchSize is the flush threshold once the batch holds a file that
	// came from the watcher.
	WatchBatchSize int
	// WatchFlushDelay bounds how long a watched file waits in a partial
	// batch.
	WatchFlushDelay time.Duration
	// MaxFileSize skips larger files without reading them. Zero disables the
	// check.
	MaxFileSize int64
	// ProgressBuffer is the capacity of the Progress channel.
	ProgressBuffer int
}

func (o *Options) setDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.WatchBatchSize <= 0 {
		o.WatchBatchSize = 10
	}
	if o.WatchFlushDelay <= 0 {
		o.WatchFlushDelay = 2 * time.Second
	}
	if o.ProgressBuffer <= 0 {
		o.ProgressBuffer = 256
	}
}

// op is one unit of work for the flusher. Exactly one of books, deletePath
// and deleteDir is set, or none for a barrier.
type op struct {
	ctx        context.Context
	books      []*models.Book
	deletePath string
	deleteDir  string
	done       chan struct{}
}

type Pipeline struct {
	index *library.Index
	opts  Options
	log   logger.Logger

	state atomic.Int32
	stop  atomic.Bool

	// batchMu guards the batch and orders every send on ops. Lock order is
	// batchMu, then pendingMu, then countMu.
	batchMu    sync.Mutex
	batch      []*models.Book
	watchItems bool
	watchTimer *time.Timer
	closed     bool

	// pending holds the IDs that are batched or handed to the flusher but
	// not yet applied to the index.
	pendingMu sync.Mutex
	pending   map[string]struct{}

	countMu sync.Mutex
	counts  counters

	ops         chan op
	flusherDone chan struct{}
	scanDone    chan struct{}
	progress    chan Event
	startOnce   sync.Once
}

// New returns a pipeline over index. Call Start before queuing work.
func New(index *library.Index, opts Options) *Pipeline {
	opts.setDefaults()
	done := make(chan struct{})
	close(done)
	return &Pipeline{
		index:       index,
		opts:        opts,
		log:         logger.New(),
		pending:     make(map[string]struct{}),
		counts:      newCounters(),
		ops:         make(chan op, 16),
		flusherDone: make(chan struct{}),
		scanDone:    done,
		progress:    make(chan Event, opts.ProgressBuffer),
	}
}

// Start launches the flusher goroutine.
func (p *Pipeline) Start() {
	p.startOnce.Do(func() {
		p.refreshLibraryCounts()
		go p.runFlusher()
	})
}

// Shutdown stops a running scan, flushes whatever is batched and waits for
// the flusher to drain.
func (p *Pipeline) Shutdown() {
	p.Stop()

	p.batchMu.Lock()
	if p.closed {
		p.batchMu.Unlock()
		return
	}
	p.flushLocked(p.log.WithContext(context.Background()), true)
	p.closed = true
	close(p.ops)
	p.batchMu.Unlock()

	<-p.flusherDone
	p.log.Info("ingestion pipeline shut down")
}

// State reports the scan state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Progress delivers progress events. Slow consumers miss events, never
// block ingestion. The channel is never closed.
func (p *Pipeline) Progress() <-chan Event {
	return p.progress
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	p.pendingMu.Lock()
	pending := len(p.pending)
	p.pendingMu.Unlock()

	p.countMu.Lock()
	s := p.counts.snapshot()
	p.countMu.Unlock()

	s.Pending = pending
	s.State = p.State().String()
	return s
}

// Flush hands the current batch to the flusher and waits until it, and
// everything queued before it, has been applied.
func (p *Pipeline) Flush(ctx context.Context) error {
	p.batchMu.Lock()
	if p.closed {
		p.batchMu.Unlock()
		return ErrClosed
	}
	done := p.flushLocked(ctx, true)
	p.batchMu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

// enqueue adds a fingerprinted book to the batch unless it duplicates an
// indexed or in-flight book. The first book seen for a fingerprint wins.
func (p *Pipeline) enqueue(ctx context.Context, book *models.Book, watched bool) {
	p.batchMu.Lock()
	defer p.batchMu.Unlock()

	if p.closed {
		return
	}

	p.pendingMu.Lock()
	_, inFlight := p.pending[book.ID]
	duplicate := inFlight || dedup.IsDuplicate(book.ID, p.index)
	if !duplicate {
		p.pending[book.ID] = struct{}{}
	}
	p.pendingMu.Unlock()

	if duplicate {
		p.countMu.Lock()
		p.counts.duplicates++
		p.countMu.Unlock()
		metrics.FilesProcessedTotal.WithLabelValues("duplicate").Inc()
		logger.FromContext(ctx).Debug("duplicate book", logger.Data{"path": book.Filepath, "id": book.ID})
		p.emit(Event{Kind: DuplicateFound, Path: book.Filepath, Format: book.Format})
		return
	}

	p.countMu.Lock()
	p.counts.found[book.Format]++
	p.countMu.Unlock()
	metrics.FilesProcessedTotal.WithLabelValues("found").Inc()
	p.emit(Event{Kind: BookFound, Path: book.Filepath, Format: book.Format})

	p.batch = append(p.batch, book)
	threshold := p.opts.BatchSize
	if watched {
		if !p.watchItems {
			p.watchItems = true
			p.watchTimer = time.AfterFunc(p.opts.WatchFlushDelay, p.flushWatched)
		}
	}
	if p.watchItems {
		threshold = p.opts.WatchBatchSize
	}
	if len(p.batch) >= threshold {
		p.flushLocked(ctx, false)
	}
}

func (p *Pipeline) flushWatched() {
	p.batchMu.Lock()
	defer p.batchMu.Unlock()
	if p.closed || !p.watchItems {
		return
	}
	p.flushLocked(p.log.WithContext(context.Background()), false)
}

// flushLocked hands the batch to the flusher. With wait set it always
// queues an op, even an empty one, so the returned channel also covers
// earlier ops. Callers hold batchMu and must release it before waiting.
func (p *Pipeline) flushLocked(ctx context.Context, wait bool) chan struct{} {
	books := p.batch
	p.batch = nil
	p.watchItems = false
	if p.watchTimer != nil {
		p.watchTimer.Stop()
		p.watchTimer = nil
	}
	if len(books) == 0 && !wait {
		return nil
	}

	o := op{ctx: context.WithoutCancel(ctx), books: books}
	if wait {
		o.done = make(chan struct{})
	}
	p.ops <- o
	return o.done
}

// replacePathLocked drops any batched book at path and, when the indexed
// book there has a different fingerprint, queues its delete ahead of the
// next batch. Callers hold batchMu.
func (p *Pipeline) replacePathLocked(ctx context.Context, path, id string) {
	p.dropBatchedLocked(func(b *models.Book) bool { return b.Filepath == path })
	if existing := p.index.ByPath(path); existing != nil && existing.ID != id {
		p.queueDelete(ctx, path)
	}
}

// queueDelete asks the flusher to remove the indexed book at path. Callers
// hold batchMu.
func (p *Pipeline) queueDelete(ctx context.Context, path string) {
	p.ops <- op{ctx: context.WithoutCancel(ctx), deletePath: path}
}

func (p *Pipeline) queueDeleteDir(ctx context.Context, dir string) {
	p.ops <- op{ctx: context.WithoutCancel(ctx), deleteDir: dir}
}

// dropBatchedLocked removes the batched books match selects and undoes
// their optimistic found counts. It returns how many were dropped.
func (p *Pipeline) dropBatchedLocked(match func(b *models.Book) bool) int {
	kept := p.batch[:0]
	var dropped []*models.Book
	for _, b := range p.batch {
		if match(b) {
			dropped = append(dropped, b)
			continue
		}
		kept = append(kept, b)
	}
	for i := len(kept); i < len(p.batch); i++ {
		p.batch[i] = nil
	}
	p.batch = kept
	if len(dropped) == 0 {
		return 0
	}

	p.pendingMu.Lock()
	for _, b := range dropped {
		delete(p.pending, b.ID)
	}
	p.pendingMu.Unlock()

	p.countMu.Lock()
	for _, b := range dropped {
		p.counts.found[b.Format]--
	}
	p.countMu.Unlock()
	return len(dropped)
}

func (p *Pipeline) runFlusher() {
	defer close(p.flusherDone)
	for o := range p.ops {
		switch {
		case o.deletePath != "":
			p.applyDelete(o.ctx, o.deletePath)
		case o.deleteDir != "":
			p.applyDeleteDir(o.ctx, o.deleteDir)
		case len(o.books) > 0:
			p.applyBatch(o.ctx, o.books)
		}
		if o.done != nil {
			close(o.done)
		}
	}
}

func (p *Pipeline) applyBatch(ctx context.Context, books []*models.Book) {
	log := logger.FromContext(ctx)
	start := time.Now()

	result := p.index.BatchUpsert(ctx, books)

	p.pendingMu.Lock()
	for _, b := range books {
		delete(p.pending, b.ID)
	}
	p.pendingMu.Unlock()

	p.countMu.Lock()
	for _, o := range result.Outcomes {
		switch o.Outcome {
		case library.OutcomeDuplicate:
			// Counted as found at enqueue; the index or the store knew better.
			p.counts.found[o.Book.Format]--
			p.counts.duplicates++
		case library.OutcomeFailed:
			p.counts.found[o.Book.Format]--
			p.counts.errors++
		}
	}
	p.countMu.Unlock()
	p.refreshLibraryCounts()

	for _, o := range result.Outcomes {
		switch o.Outcome {
		case library.OutcomeDuplicate:
			metrics.FilesProcessedTotal.WithLabelValues("duplicate").Inc()
			p.emit(Event{Kind: DuplicateFound, Path: o.Book.Filepath, Format: o.Book.Format})
		case library.OutcomeFailed:
			metrics.FilesProcessedTotal.WithLabelValues("error").Inc()
			log.Err(o.Err).Warn("book dropped from batch", logger.Data{"path": o.Book.Filepath})
		}
	}

	metrics.BatchFlushesTotal.Inc()
	metrics.BatchFlushDuration.Observe(time.Since(start).Seconds())

	log.Info("batch flushed", logger.Data{
		"size":       len(books),
		"added":      result.Added,
		"duplicates": result.Duplicates,
		"errors":     result.Errors,
		"fb2":        result.FB2Count,
		"epub":       result.EPUBCount,
		"duration":   time.Since(start).String(),
	})
	stats := p.Stats()
	p.emit(Event{Kind: BatchFlushed, Stats: &stats})
}

func (p *Pipeline) applyDelete(ctx context.Context, path string) {
	log := logger.FromContext(ctx)
	removed, err := p.index.Delete(ctx, path)
	if err != nil {
		log.Err(err).Error("failed to remove book", logger.Data{"path": path})
		p.countMu.Lock()
		p.counts.errors++
		p.countMu.Unlock()
		return
	}
	if removed == nil {
		return
	}
	p.recordRemoved(ctx, []*models.Book{removed})
}

func (p *Pipeline) applyDeleteDir(ctx context.Context, dir string) {
	removed, err := p.index.DeleteUnder(ctx, dir)
	if err != nil {
		logger.FromContext(ctx).Err(err).Error("failed to remove folder", logger.Data{"dir": dir})
		p.countMu.Lock()
		p.counts.errors++
		p.countMu.Unlock()
	}
	if len(removed) > 0 {
		p.recordRemoved(ctx, removed)
	}
}

func (p *Pipeline) recordRemoved(ctx context.Context, removed []*models.Book) {
	p.countMu.Lock()
	p.counts.removed += len(removed)
	p.countMu.Unlock()
	p.refreshLibraryCounts()

	log := logger.FromContext(ctx)
	for _, b := range removed {
		log.Info("book removed", logger.Data{"path": b.Filepath, "id": b.ID})
		p.emit(Event{Kind: BookRemoved, Path: b.Filepath, Format: b.Format})
	}
}

// refreshLibraryCounts reads the library totals back from the index, which
// is the source of truth the optimistic counters reconcile against.
func (p *Pipeline) refreshLibraryCounts() {
	var total int
	var formats map[string]int
	p.index.Read(func(v library.View) {
		total = v.Count()
		formats = v.FormatCounts()
	})

	p.countMu.Lock()
	p.counts.libraryCount = total
	p.counts.libraryFormats = formats
	p.countMu.Unlock()

	metrics.SetLibraryBooks(models.Formats, formats)
}

func underDir(path, dir string) bool {
	sep := string(filepath.Separator)
	return strings.HasPrefix(path, strings.TrimSuffix(dir, sep)+sep)
}
