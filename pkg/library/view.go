package library

import (
	"sort"
	"time"

	"github.com/shelfopds/shelfopds/pkg/collation"
	"github.com/shelfopds/shelfopds/pkg/models"
)

// View is a consistent read-only projection of the index. It is only valid
// inside the callback passed to Index.Read; books it returns are shared with
// the index and must not be modified.
type View struct {
	idx *Index
}

// Read runs fn with the read lock held, so every View call inside fn
// observes the same library state.
func (idx *Index) Read(fn func(v View)) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	fn(View{idx: idx})
}

// Count is the number of indexed books.
func (v View) Count() int {
	return len(v.idx.byID)
}

// FormatCounts returns the number of books per format.
func (v View) FormatCounts() map[string]int {
	out := make(map[string]int, len(v.idx.formats))
	for f, n := range v.idx.formats {
		out[f] = n
	}
	return out
}

// Get returns a book by ID, or nil.
func (v View) Get(id string) *models.Book {
	return v.idx.byID[id]
}

// ByPath returns the book stored at sourcePath, or nil.
func (v View) ByPath(sourcePath string) *models.Book {
	id, ok := v.idx.byPath[sourcePath]
	if !ok {
		return nil
	}
	return v.idx.byID[id]
}

// Books returns every book in no particular order.
func (v View) Books() []*models.Book {
	out := make([]*models.Book, 0, len(v.idx.byID))
	for _, b := range v.idx.byID {
		out = append(out, b)
	}
	return out
}

// Authors returns every author name in no particular order.
func (v View) Authors() []string {
	return keys(v.idx.byAuthor)
}

// Series returns every series name in no particular order.
func (v View) Series() []string {
	return keys(v.idx.bySeries)
}

// GenreTags returns every genre tag carried by at least one book.
func (v View) GenreTags() []string {
	return keys(v.idx.byGenre)
}

// AuthorCount is the number of books by author.
func (v View) AuthorCount(name string) int {
	return len(v.idx.byAuthor[name])
}

// SeriesCount is the number of books in a series.
func (v View) SeriesCount(name string) int {
	return len(v.idx.bySeries[name])
}

// GenreCount is the number of books carrying exactly tag.
func (v View) GenreCount(tag string) int {
	return len(v.idx.byGenre[tag])
}

// BooksByAuthor returns the author's books in no particular order.
func (v View) BooksByAuthor(name string) []*models.Book {
	return v.collect(v.idx.byAuthor[name])
}

// BooksBySeries returns the series' books in no particular order.
func (v View) BooksBySeries(name string) []*models.Book {
	return v.collect(v.idx.bySeries[name])
}

// BooksByGenre returns books carrying tag in no particular order.
func (v View) BooksByGenre(tag string) []*models.Book {
	return v.collect(v.idx.byGenre[tag])
}

// AddedSince returns books added at or after cutoff, newest first. It only
// walks the tail of the time-ordered slice.
func (v View) AddedSince(cutoff time.Time) []*models.Book {
	byTime := v.idx.byTime
	start := sort.Search(len(byTime), func(i int) bool {
		return !byTime[i].AddedAt.Before(cutoff)
	})
	out := make([]*models.Book, 0, len(byTime)-start)
	for i := len(byTime) - 1; i >= start; i-- {
		out = append(out, byTime[i])
	}
	return out
}

func (v View) collect(set map[string]struct{}) []*models.Book {
	out := make([]*models.Book, 0, len(set))
	for id := range set {
		out = append(out, v.idx.byID[id])
	}
	return out
}

func keys(m map[string]map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Get returns a book by ID, or nil.
func (idx *Index) Get(id string) *models.Book {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.byID[id]
}

// Contains reports whether a book with this fingerprint is indexed.
func (idx *Index) Contains(id string) bool {
	return idx.Get(id) != nil
}

// ByPath returns the book stored at sourcePath, or nil.
func (idx *Index) ByPath(sourcePath string) *models.Book {
	var b *models.Book
	idx.Read(func(v View) { b = v.ByPath(sourcePath) })
	return b
}

// Count is the number of indexed books.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byID)
}

// FormatCounts returns the number of books per format.
func (idx *Index) FormatCounts() map[string]int {
	var out map[string]int
	idx.Read(func(v View) { out = v.FormatCounts() })
	return out
}

// BooksByAuthor returns the author's books ordered by title.
func (idx *Index) BooksByAuthor(name string) []*models.Book {
	var out []*models.Book
	idx.Read(func(v View) { out = v.BooksByAuthor(name) })
	SortByTitle(idx.collator, out)
	return out
}

// BooksBySeries returns the series ordered by sequence number, with
// unnumbered books last by title.
func (idx *Index) BooksBySeries(name string) []*models.Book {
	var out []*models.Book
	idx.Read(func(v View) { out = v.BooksBySeries(name) })
	SortBySeriesNumber(idx.collator, out)
	return out
}

// BooksByGenre returns books carrying tag ordered by title.
func (idx *Index) BooksByGenre(tag string) []*models.Book {
	var out []*models.Book
	idx.Read(func(v View) { out = v.BooksByGenre(tag) })
	SortByTitle(idx.collator, out)
	return out
}

// NewBooks returns books added within the last windowDays days, newest
// first. The window is inclusive: a book added exactly windowDays ago is
// still new.
func (idx *Index) NewBooks(windowDays int) []*models.Book {
	cutoff := NewBooksCutoff(idx.now(), windowDays)
	var out []*models.Book
	idx.Read(func(v View) { out = v.AddedSince(cutoff) })
	return out
}

// NewBooksCutoff is the earliest added time still inside the window.
func NewBooksCutoff(now time.Time, windowDays int) time.Time {
	return now.Add(-time.Duration(windowDays) * 24 * time.Hour)
}

// SortByTitle orders books by collated title, then by ID.
func SortByTitle(c *collation.Collator, books []*models.Book) {
	collation.Sort(c, books, func(b *models.Book) string { return b.Title }, byID)
}

// SortBySeriesNumber orders numbered books ascending, then unnumbered ones
// by collated title.
func SortBySeriesNumber(c *collation.Collator, books []*models.Book) {
	sort.SliceStable(books, func(i, j int) bool {
		a, b := books[i], books[j]
		switch {
		case a.SeriesNumber != nil && b.SeriesNumber != nil:
			if *a.SeriesNumber != *b.SeriesNumber {
				return *a.SeriesNumber < *b.SeriesNumber
			}
		case a.SeriesNumber != nil:
			return true
		case b.SeriesNumber != nil:
			return false
		}
		if cmp := c.Compare(a.Title, b.Title); cmp != 0 {
			return cmp < 0
		}
		return a.ID < b.ID
	})
}

// SortByAddedDesc orders books newest first, then by ID.
func SortByAddedDesc(books []*models.Book) {
	sort.Slice(books, func(i, j int) bool {
		if !books[i].AddedAt.Equal(books[j].AddedAt) {
			return books[i].AddedAt.After(books[j].AddedAt)
		}
		return books[i].ID < books[j].ID
	})
}

func byID(a, b *models.Book) int {
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	default:
		return 0
	}
}
