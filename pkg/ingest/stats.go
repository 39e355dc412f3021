package ingest

import (
	"github.com/shelfopds/shelfopds/pkg/models"
)

// Stats is a snapshot of the ingestion counters. Found counts are
// optimistic while a batch is pending and are corrected when the batch is
// flushed; LibraryCount and LibraryFormats are read back from the index
// after every flush.
type Stats struct {
	Found          map[string]int `json:"found"`
	Skipped        int            `json:"skipped"`
	Invalid        int            `json:"invalid"`
	Duplicates     int            `json:"duplicates"`
	Errors         int            `json:"errors"`
	Processed      int            `json:"processed"`
	Removed        int            `json:"removed"`
	Pending        int            `json:"pending"`
	LibraryCount   int            `json:"library_count"`
	LibraryFormats map[string]int `json:"library_formats"`
	State          string         `json:"state"`
}

// FoundTotal sums Found over all formats.
func (s Stats) FoundTotal() int {
	total := 0
	for _, n := range s.Found {
		total += n
	}
	return total
}

type counters struct {
	found      map[string]int
	skipped    int
	invalid    int
	duplicates int
	errors     int
	processed  int
	removed    int

	libraryCount   int
	libraryFormats map[string]int
}

func newCounters() counters {
	c := counters{
		found:          make(map[string]int, len(models.Formats)),
		libraryFormats: make(map[string]int, len(models.Formats)),
	}
	for _, f := range models.Formats {
		c.found[f] = 0
	}
	return c
}

func (c *counters) snapshot() Stats {
	s := Stats{
		Found:          make(map[string]int, len(c.found)),
		Skipped:        c.skipped,
		Invalid:        c.invalid,
		Duplicates:     c.duplicates,
		Errors:         c.errors,
		Processed:      c.processed,
		Removed:        c.removed,
		LibraryCount:   c.libraryCount,
		LibraryFormats: make(map[string]int, len(c.libraryFormats)),
	}
	for k, v := range c.found {
		s.Found[k] = v
	}
	for k, v := range c.libraryFormats {
		s.LibraryFormats[k] = v
	}
	return s
}
