package ingest

// EventKind identifies a progress event.
type EventKind int

const (
	ScanStarted EventKind = iota
	ScanCompleted
	BookFound
	BookInvalid
	FileSkipped
	DuplicateFound
	BookRemoved
	BatchFlushed
)

func (k EventKind) String() string {
	switch k {
	case ScanStarted:
		return "scan_started"
	case ScanCompleted:
		return "scan_completed"
	case BookFound:
		return "book_found"
	case BookInvalid:
		return "book_invalid"
	case FileSkipped:
		return "file_skipped"
	case DuplicateFound:
		return "duplicate_found"
	case BookRemoved:
		return "book_removed"
	case BatchFlushed:
		return "batch_flushed"
	default:
		return "unknown"
	}
}

// Event is one progress notification. Stats is filled on ScanCompleted and
// BatchFlushed.
type Event struct {
	Kind   EventKind
	Path   string
	Format string
	Err    error
	Stats  *Stats
}

func (p *Pipeline) emit(ev Event) {
	select {
	case p.progress <- ev:
	default:
		// Consumers that fall behind lose events; counters stay authoritative.
	}
}
