package library

import (
	"context"

	"github.com/shelfopds/shelfopds/pkg/models"
)

// Store is the persistence contract behind the index. Implementations must
// make BatchUpsert atomic: on error nothing from the batch is persisted.
type Store interface {
	// Upsert persists one book. It returns false when a book with the same
	// ID is already stored.
	Upsert(ctx context.Context, book *models.Book) (bool, error)
	// BatchUpsert persists books in one transaction and reports, per book,
	// whether it was inserted (false means the store already had that ID).
	BatchUpsert(ctx context.Context, books []*models.Book) ([]bool, error)
	// Delete removes a book by ID. Deleting a missing ID is not an error.
	Delete(ctx context.Context, id string) error
	// LoadAll returns every stored book.
	LoadAll(ctx context.Context) ([]*models.Book, error)
	// ClearDatabase removes all books, and the genre table unless
	// preserveGenres is set.
	ClearDatabase(ctx context.Context, preserveGenres bool) error
}

// Outcome is what happened to one book of a batch.
type Outcome int

const (
	OutcomeAdded Outcome = iota
	OutcomeDuplicate
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAdded:
		return "added"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "failed"
	}
}

// BookOutcome pairs a submitted book with its outcome.
type BookOutcome struct {
	Book    *models.Book
	Outcome Outcome
	Err     error
}

// BatchResult summarizes a batch write. FB2Count and EPUBCount count added
// books only.
type BatchResult struct {
	Added      int
	Duplicates int
	Errors     int
	FB2Count   int
	EPUBCount  int
	Outcomes   []BookOutcome
}

func (r *BatchResult) record(book *models.Book, outcome Outcome, err error) {
	r.Outcomes = append(r.Outcomes, BookOutcome{Book: book, Outcome: outcome, Err: err})
	switch outcome {
	case OutcomeAdded:
		r.Added++
		switch book.Format {
		case models.FormatFB2:
			r.FB2Count++
		case models.FormatEPUB:
			r.EPUBCount++
		}
	case OutcomeDuplicate:
		r.Duplicates++
	case OutcomeFailed:
		r.Errors++
	}
}
