package models

import (
	"strings"
	"time"

	"github.com/robinjoseph08/golib/pointerutil"
)

const (
	FormatFB2  = "fb2"
	FormatEPUB = "epub"
)

// Formats lists every format the library can hold, in display order.
var Formats = []string{FormatFB2, FormatEPUB}

// Book is a single library entry. ID is the content fingerprint, so the same
// book found under a different path resolves to the same ID.
type Book struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Authors      []string  `json:"authors"`
	Series       string    `json:"series,omitempty"`
	SeriesNumber *int      `json:"series_number,omitempty"`
	Genres       []string  `json:"genres,omitempty"`
	Language     string    `json:"language,omitempty"`
	Format       string    `json:"format"`
	Filepath     string    `json:"filepath"`
	Size         int64     `json:"size"`
	Annotation   string    `json:"annotation,omitempty"`
	HasCover     bool      `json:"has_cover"`
	AddedAt      time.Time `json:"added_at"`

	// DuplicateOf is set on a book that was rejected because another book with
	// the same fingerprint is already in the library. It is never persisted.
	DuplicateOf string `json:"-"`
}

// HasSeries reports whether the book belongs to a named series.
func (b *Book) HasSeries() bool {
	return strings.TrimSpace(b.Series) != ""
}

// AuthorsLine joins the author display names for summaries.
func (b *Book) AuthorsLine() string {
	return strings.Join(b.Authors, ", ")
}

// HasAuthor reports whether name is one of the book's authors.
func (b *Book) HasAuthor(name string) bool {
	for _, a := range b.Authors {
		if a == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can hand books across goroutines
// without sharing slices.
func (b *Book) Clone() *Book {
	c := *b
	c.Authors = append([]string(nil), b.Authors...)
	c.Genres = append([]string(nil), b.Genres...)
	if b.SeriesNumber != nil {
		c.SeriesNumber = pointerutil.Int(*b.SeriesNumber)
	}
	return &c
}
