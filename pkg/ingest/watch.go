package ingest

import (
	"context"
	"os"

	"github.com/robinjoseph08/golib/logger"
	"github.com/shelfopds/shelfopds/pkg/metrics"
	"github.com/shelfopds/shelfopds/pkg/models"
	"github.com/shelfopds/shelfopds/pkg/watcher"
)

// Consume feeds watcher events into the pipeline until events is closed or
// ctx is done.
func (p *Pipeline) Consume(ctx context.Context, events <-chan watcher.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent applies one filesystem event. Added books take the same
// extract, dedup and batch path as scanned files, with the smaller watch
// batch threshold.
func (p *Pipeline) HandleEvent(ctx context.Context, ev watcher.Event) {
	log := logger.FromContext(ctx).Data(logger.Data{"event": ev.Type.String(), "path": ev.Path})

	switch ev.Type {
	case watcher.BookAdded:
		p.bookAdded(ctx, ev)
	case watcher.BookDeleted:
		p.batchMu.Lock()
		defer p.batchMu.Unlock()
		if p.closed {
			return
		}
		// A book that never left the batch is simply dropped.
		if p.dropBatchedLocked(func(b *models.Book) bool { return b.Filepath == ev.Path }) > 0 {
			log.Info("dropped batched book")
			return
		}
		p.queueDelete(ctx, ev.Path)
	case watcher.FolderDeleted:
		p.batchMu.Lock()
		defer p.batchMu.Unlock()
		if p.closed {
			return
		}
		p.dropBatchedLocked(func(b *models.Book) bool { return underDir(b.Filepath, ev.Path) })
		p.queueDeleteDir(ctx, ev.Path)
	case watcher.InvalidBook:
		p.countProcessed()
		p.invalid(ctx, ev.Path, ev.Format, nil)
	case watcher.FileSkipped:
		n := ev.Count
		if n <= 0 {
			n = 1
		}
		p.countMu.Lock()
		p.counts.skipped += n
		p.counts.processed += n
		p.countMu.Unlock()
		metrics.FilesProcessedTotal.WithLabelValues("skipped").Add(float64(n))
		p.emit(Event{Kind: FileSkipped, Path: ev.Path})
	default:
		log.Warn("unknown watch event")
	}
}

func (p *Pipeline) bookAdded(ctx context.Context, ev watcher.Event) {
	format := ev.Format
	if format == "" {
		format = models.FormatFromPath(ev.Path)
	}
	if format == "" {
		return
	}
	p.countProcessed()

	info, err := os.Stat(ev.Path)
	if err != nil {
		p.skip(ctx, ev.Path, format, err)
		return
	}
	book, err := p.readBook(ev.Path, info.Size())
	if err != nil {
		p.reject(ctx, ev.Path, format, err)
		return
	}

	// A rewrite that leaves the fingerprint alone changes nothing.
	if existing := p.index.ByPath(ev.Path); existing != nil && existing.ID == book.ID {
		return
	}

	p.batchMu.Lock()
	if !p.closed {
		p.replacePathLocked(ctx, ev.Path, book.ID)
	}
	p.batchMu.Unlock()

	p.enqueue(ctx, book, true)
}
