// Package library holds the authoritative in-memory view of the book
// collection and keeps it consistent with the persistent store.
//
// Writes are serialized by a writer mutex and persisted before they touch
// the in-memory maps. The maps themselves change inside one critical
// section per write, so readers holding the read lock never see a book in
// one derived index and missing from another.
package library

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shelfopds/shelfopds/pkg/collation"
	"github.com/shelfopds/shelfopds/pkg/models"
)

// ErrPersistence wraps every store failure surfaced by the index.
var ErrPersistence = errors.New("persistence failure")

// Index is the library. The zero value is not usable; call New.
type Index struct {
	store    Store
	collator *collation.Collator
	now      func() time.Time

	// writeMu serializes writers across the persist-then-apply sequence.
	writeMu sync.Mutex

	mu       sync.RWMutex
	byID     map[string]*models.Book
	byPath   map[string]string
	byAuthor map[string]map[string]struct{}
	bySeries map[string]map[string]struct{}
	byGenre  map[string]map[string]struct{}
	// byTime is ordered by AddedAt, then ID.
	byTime  []*models.Book
	formats map[string]int
}

// Option configures an Index.
type Option func(*Index)

// WithCollator sets the ordering used by the sorted accessors.
func WithCollator(c *collation.Collator) Option {
	return func(idx *Index) {
		idx.collator = c
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(idx *Index) {
		idx.now = now
	}
}

// New returns an empty index over store. Call Load to rehydrate it.
func New(store Store, opts ...Option) *Index {
	idx := &Index{
		store:    store,
		collator: collation.New(collation.LatinFirst),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.reset()
	return idx
}

func (idx *Index) reset() {
	idx.byID = make(map[string]*models.Book)
	idx.byPath = make(map[string]string)
	idx.byAuthor = make(map[string]map[string]struct{})
	idx.bySeries = make(map[string]map[string]struct{})
	idx.byGenre = make(map[string]map[string]struct{})
	idx.byTime = nil
	idx.formats = make(map[string]int)
}

// Load replaces the in-memory state with the store's contents.
func (idx *Index) Load(ctx context.Context) error {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	books, err := idx.store.LoadAll(ctx)
	if err != nil {
		return errors.Wrap(ErrPersistence, err.Error())
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.reset()
	for _, b := range books {
		idx.insertLocked(b)
	}
	return nil
}

// Upsert adds one book. It returns false when the book is a duplicate,
// either of an indexed book or of one the store already holds.
func (idx *Index) Upsert(ctx context.Context, book *models.Book) (bool, error) {
	if book.ID == "" {
		return false, errors.New("book has no fingerprint")
	}

	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	if existing := idx.Get(book.ID); existing != nil {
		book.DuplicateOf = existing.ID
		return false, nil
	}

	idx.stamp(book)
	inserted, err := idx.store.Upsert(ctx, book)
	if err != nil {
		return false, errors.Wrapf(ErrPersistence, "upsert %s: %v", book.Filepath, err)
	}
	if !inserted {
		book.DuplicateOf = book.ID
		return false, nil
	}
	idx.evictDisplaced(ctx, []*models.Book{book})

	idx.mu.Lock()
	idx.insertLocked(book)
	idx.mu.Unlock()
	return true, nil
}

// BatchUpsert adds books as one unit. Books already indexed, or repeated
// inside the batch, are duplicates; the first occurrence wins. The rest go
// to the store in one transaction. If that fails, each book is retried on
// its own and a book that fails again is counted as an error and dropped.
// All added books become visible to readers at once.
func (idx *Index) BatchUpsert(ctx context.Context, books []*models.Book) *BatchResult {
	result := &BatchResult{}
	if len(books) == 0 {
		return result
	}

	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	log := logger.FromContext(ctx)

	candidates := make([]*models.Book, 0, len(books))
	seen := make(map[string]struct{}, len(books))
	idx.mu.RLock()
	for _, b := range books {
		if b.ID == "" {
			result.record(b, OutcomeFailed, errors.New("book has no fingerprint"))
			continue
		}
		if _, ok := idx.byID[b.ID]; ok {
			b.DuplicateOf = b.ID
			result.record(b, OutcomeDuplicate, nil)
			continue
		}
		if _, ok := seen[b.ID]; ok {
			b.DuplicateOf = b.ID
			result.record(b, OutcomeDuplicate, nil)
			continue
		}
		seen[b.ID] = struct{}{}
		candidates = append(candidates, b)
	}
	idx.mu.RUnlock()

	for _, b := range candidates {
		idx.stamp(b)
	}

	added := make([]*models.Book, 0, len(candidates))
	if len(candidates) > 0 {
		inserted, err := idx.store.BatchUpsert(ctx, candidates)
		if err == nil && len(inserted) != len(candidates) {
			err = errors.Errorf("store reported %d results for %d books", len(inserted), len(candidates))
		}
		if err != nil {
			log.Err(err).Warn("batch upsert failed, retrying books one at a time", logger.Data{"count": len(candidates)})
			inserted = make([]bool, len(candidates))
			for i, b := range candidates {
				ok, err := idx.store.Upsert(ctx, b)
				if err != nil {
					log.Err(err).Error("failed to persist book", logger.Data{"path": b.Filepath})
					result.record(b, OutcomeFailed, errors.Wrap(ErrPersistence, err.Error()))
					continue
				}
				inserted[i] = ok
				idx.recordInserted(result, b, ok, &added)
			}
		} else {
			for i, b := range candidates {
				idx.recordInserted(result, b, inserted[i], &added)
			}
		}
	}

	if len(added) > 0 {
		idx.evictDisplaced(ctx, added)
		idx.mu.Lock()
		for _, b := range added {
			idx.insertLocked(b)
		}
		idx.mu.Unlock()
	}

	return result
}

func (idx *Index) recordInserted(result *BatchResult, b *models.Book, inserted bool, added *[]*models.Book) {
	if !inserted {
		b.DuplicateOf = b.ID
		result.record(b, OutcomeDuplicate, nil)
		return
	}
	*added = append(*added, b)
	result.record(b, OutcomeAdded, nil)
}

// Delete removes the book stored at sourcePath. It returns the removed book,
// or nil when no indexed book lives at that path.
func (idx *Index) Delete(ctx context.Context, sourcePath string) (*models.Book, error) {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	idx.mu.RLock()
	id, ok := idx.byPath[sourcePath]
	idx.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	if err := idx.store.Delete(ctx, id); err != nil {
		return nil, errors.Wrapf(ErrPersistence, "delete %s: %v", sourcePath, err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.removeLocked(id), nil
}

// DeleteUnder removes every book stored below dir. Books already removed
// are returned even when a later delete fails.
func (idx *Index) DeleteUnder(ctx context.Context, dir string) ([]*models.Book, error) {
	prefix := strings.TrimSuffix(dir, string(filepath.Separator)) + string(filepath.Separator)

	idx.mu.RLock()
	var paths []string
	for p := range idx.byPath {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	idx.mu.RUnlock()
	sort.Strings(paths)

	removed := make([]*models.Book, 0, len(paths))
	for _, p := range paths {
		b, err := idx.Delete(ctx, p)
		if err != nil {
			return removed, err
		}
		if b != nil {
			removed = append(removed, b)
		}
	}
	return removed, nil
}

// Clear empties the store and the index.
func (idx *Index) Clear(ctx context.Context, preserveGenres bool) error {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	if err := idx.store.ClearDatabase(ctx, preserveGenres); err != nil {
		return errors.Wrap(ErrPersistence, err.Error())
	}

	idx.mu.Lock()
	idx.reset()
	idx.mu.Unlock()
	return nil
}

// evictDisplaced deletes from the store every indexed book whose path one
// of books now occupies under another fingerprint. insertLocked drops them
// from the maps. Callers hold writeMu.
func (idx *Index) evictDisplaced(ctx context.Context, books []*models.Book) {
	var ids []string
	idx.mu.RLock()
	for _, b := range books {
		if id, ok := idx.byPath[b.Filepath]; ok && id != b.ID {
			ids = append(ids, id)
		}
	}
	idx.mu.RUnlock()

	for _, id := range ids {
		if err := idx.store.Delete(ctx, id); err != nil {
			logger.FromContext(ctx).Err(err).Error("failed to delete displaced book", logger.Data{"id": id})
		}
	}
}

func (idx *Index) stamp(b *models.Book) {
	if b.AddedAt.IsZero() {
		b.AddedAt = idx.now()
	}
}

func (idx *Index) insertLocked(b *models.Book) {
	if _, ok := idx.byID[b.ID]; ok {
		return
	}
	// One book per path.
	if old, ok := idx.byPath[b.Filepath]; ok {
		idx.removeLocked(old)
	}
	idx.byID[b.ID] = b
	idx.byPath[b.Filepath] = b.ID
	for _, a := range b.Authors {
		addToSet(idx.byAuthor, a, b.ID)
	}
	if b.HasSeries() {
		addToSet(idx.bySeries, b.Series, b.ID)
	}
	for _, g := range b.Genres {
		addToSet(idx.byGenre, g, b.ID)
	}
	idx.formats[b.Format]++

	pos := sort.Search(len(idx.byTime), func(i int) bool {
		return timeOrderLess(b, idx.byTime[i])
	})
	idx.byTime = append(idx.byTime, nil)
	copy(idx.byTime[pos+1:], idx.byTime[pos:])
	idx.byTime[pos] = b
}

func (idx *Index) removeLocked(id string) *models.Book {
	b, ok := idx.byID[id]
	if !ok {
		return nil
	}
	delete(idx.byID, id)
	if idx.byPath[b.Filepath] == id {
		delete(idx.byPath, b.Filepath)
	}
	for _, a := range b.Authors {
		removeFromSet(idx.byAuthor, a, id)
	}
	if b.HasSeries() {
		removeFromSet(idx.bySeries, b.Series, id)
	}
	for _, g := range b.Genres {
		removeFromSet(idx.byGenre, g, id)
	}
	idx.formats[b.Format]--
	if idx.formats[b.Format] <= 0 {
		delete(idx.formats, b.Format)
	}

	pos := sort.Search(len(idx.byTime), func(i int) bool {
		return !timeOrderLess(idx.byTime[i], b)
	})
	if pos < len(idx.byTime) && idx.byTime[pos].ID == id {
		idx.byTime = append(idx.byTime[:pos], idx.byTime[pos+1:]...)
	}
	return b
}

func timeOrderLess(a, b *models.Book) bool {
	if !a.AddedAt.Equal(b.AddedAt) {
		return a.AddedAt.Before(b.AddedAt)
	}
	return a.ID < b.ID
}

func addToSet(m map[string]map[string]struct{}, key, id string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[id] = struct{}{}
}

func removeFromSet(m map[string]map[string]struct{}, key, id string) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m, key)
	}
}
