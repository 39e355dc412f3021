package library_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shelfopds/shelfopds/pkg/collation"
	"github.com/shelfopds/shelfopds/pkg/library"
	"github.com/shelfopds/shelfopds/pkg/library/librarytest"
	"github.com/shelfopds/shelfopds/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBook(id, title, format string, authors ...string) *models.Book {
	return &models.Book{
		ID:       id,
		Title:    title,
		Authors:  authors,
		Format:   format,
		Filepath: "/lib/" + id + "." + format,
		Size:     100,
	}
}

func testContext() context.Context {
	return logger.New().WithContext(context.Background())
}

func titles(books []*models.Book) []string {
	out := make([]string, len(books))
	for i, b := range books {
		out[i] = b.Title
	}
	return out
}

func TestUpsert(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	store := librarytest.NewMemStore()
	idx := library.New(store)

	b := newBook("a", "Alpha", models.FormatFB2, "Author One")
	added, err := idx.Upsert(ctx, b)
	require.NoError(t, err)
	assert.True(t, added)
	assert.False(t, b.AddedAt.IsZero())

	dup := newBook("a", "Alpha", models.FormatFB2, "Author One")
	dup.Filepath = "/elsewhere/alpha.fb2"
	added, err = idx.Upsert(ctx, dup)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, "a", dup.DuplicateOf)

	assert.Equal(t, 1, idx.Count())
	assert.Equal(t, 1, store.Len())
}

func TestUpsert_StoreDuplicate(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	store := librarytest.NewMemStore()
	store.Seed(newBook("a", "Alpha", models.FormatFB2, "X"))
	idx := library.New(store)

	added, err := idx.Upsert(ctx, newBook("a", "Alpha", models.FormatFB2, "X"))
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 0, idx.Count())
}

func TestUpsert_PersistenceError(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	store := librarytest.NewMemStore()
	b := newBook("a", "Alpha", models.FormatFB2, "X")
	store.FailPaths[b.Filepath] = true
	idx := library.New(store)

	added, err := idx.Upsert(ctx, b)
	assert.False(t, added)
	assert.True(t, errors.Is(err, library.ErrPersistence))
	assert.Equal(t, 0, idx.Count())
}

func TestBatchUpsert(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	store := librarytest.NewMemStore()
	idx := library.New(store)

	_, err := idx.Upsert(ctx, newBook("existing", "Existing", models.FormatEPUB, "X"))
	require.NoError(t, err)

	result := idx.BatchUpsert(ctx, []*models.Book{
		newBook("a", "A", models.FormatFB2, "X"),
		newBook("b", "B", models.FormatEPUB, "X"),
		newBook("a", "A again", models.FormatFB2, "X"),
		newBook("existing", "Existing", models.FormatEPUB, "X"),
		newBook("c", "C", models.FormatFB2, "Y"),
	})

	assert.Equal(t, 3, result.Added)
	assert.Equal(t, 2, result.Duplicates)
	assert.Equal(t, 0, result.Errors)
	assert.Equal(t, 2, result.FB2Count)
	assert.Equal(t, 1, result.EPUBCount)
	require.Len(t, result.Outcomes, 5)
	assert.Equal(t, 4, idx.Count())
	assert.Equal(t, 1, store.BatchCalls)

	// The first occurrence wins.
	assert.Equal(t, "A", idx.Get("a").Title)
}

func TestBatchUpsert_FallbackPerItem(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	store := librarytest.NewMemStore()
	store.Seed(newBook("stored", "Stored", models.FormatFB2, "X"))
	idx := library.New(store)

	bad := newBook("bad", "Bad", models.FormatFB2, "X")
	store.FailPaths[bad.Filepath] = true

	result := idx.BatchUpsert(ctx, []*models.Book{
		newBook("a", "A", models.FormatFB2, "X"),
		bad,
		newBook("stored", "Stored", models.FormatFB2, "X"),
		newBook("b", "B", models.FormatEPUB, "X"),
	})

	assert.Equal(t, 2, result.Added)
	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 1, result.FB2Count)
	assert.Equal(t, 1, result.EPUBCount)

	for _, o := range result.Outcomes {
		if o.Book.ID == "bad" {
			assert.Equal(t, library.OutcomeFailed, o.Outcome)
			assert.True(t, errors.Is(o.Err, library.ErrPersistence))
		}
		if o.Book.ID == "stored" {
			assert.Equal(t, library.OutcomeDuplicate, o.Outcome)
		}
	}

	assert.Equal(t, 2, idx.Count())
	assert.Nil(t, idx.Get("bad"))
	assert.Nil(t, idx.Get("stored"))
}

func TestBatchUpsert_ReadersSeeWholeBatch(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	idx := library.New(librarytest.NewMemStore())

	const batches, perBatch = 20, 25
	var wg sync.WaitGroup
	stop := make(chan struct{})
	var violations int

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			idx.Read(func(v library.View) {
				if v.Count()%perBatch != 0 {
					violations++
				}
				if v.AuthorCount("Shared Author") != v.Count() {
					violations++
				}
			})
		}
	}()

	for i := 0; i < batches; i++ {
		books := make([]*models.Book, perBatch)
		for j := range books {
			id := fmt.Sprintf("%02d-%02d", i, j)
			books[j] = newBook(id, "Title "+id, models.FormatFB2, "Shared Author")
		}
		result := idx.BatchUpsert(ctx, books)
		require.Equal(t, perBatch, result.Added)
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, 0, violations)
	assert.Equal(t, batches*perBatch, idx.Count())
}

func TestDelete(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	store := librarytest.NewMemStore()
	idx := library.New(store)

	b := newBook("a", "Alpha", models.FormatFB2, "Author")
	b.Series = "Saga"
	b.Genres = []string{"sf"}
	_, err := idx.Upsert(ctx, b)
	require.NoError(t, err)

	removed, err := idx.Delete(ctx, b.Filepath)
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.Equal(t, "a", removed.ID)

	assert.Equal(t, 0, idx.Count())
	assert.False(t, store.Has("a"))
	assert.Empty(t, idx.BooksByAuthor("Author"))
	assert.Empty(t, idx.BooksBySeries("Saga"))
	assert.Empty(t, idx.BooksByGenre("sf"))
	assert.Empty(t, idx.NewBooks(7))
	idx.Read(func(v library.View) {
		assert.Empty(t, v.Authors())
		assert.Empty(t, v.Series())
		assert.Empty(t, v.GenreTags())
		assert.Empty(t, v.FormatCounts())
	})

	removed, err = idx.Delete(ctx, "/no/such/file.fb2")
	require.NoError(t, err)
	assert.Nil(t, removed)
}

func TestBatchUpsert_ReplacesBookAtSamePath(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	store := librarytest.NewMemStore()
	idx := library.New(store)

	draft := newBook("draft", "Draft", models.FormatFB2, "Author")
	draft.Filepath = "/lib/book.fb2"
	_, err := idx.Upsert(ctx, draft)
	require.NoError(t, err)

	final := newBook("final", "Final", models.FormatFB2, "Author")
	final.Filepath = "/lib/book.fb2"
	result := idx.BatchUpsert(ctx, []*models.Book{final})
	require.Equal(t, 1, result.Added)

	assert.Equal(t, 1, idx.Count())
	assert.Nil(t, idx.Get("draft"))
	assert.False(t, store.Has("draft"))
	assert.Equal(t, []string{"Final"}, titles(idx.BooksByAuthor("Author")))

	removed, err := idx.Delete(ctx, "/lib/book.fb2")
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.Equal(t, "final", removed.ID)
	assert.Equal(t, 0, idx.Count())
	assert.Equal(t, 0, store.Len())
}

func TestDeleteUnder(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	idx := library.New(librarytest.NewMemStore())

	inside := newBook("a", "Alpha", models.FormatFB2, "X")
	inside.Filepath = "/lib/sub/alpha.fb2"
	nested := newBook("b", "Beta", models.FormatEPUB, "X")
	nested.Filepath = "/lib/sub/deeper/beta.epub"
	sibling := newBook("c", "Gamma", models.FormatFB2, "X")
	sibling.Filepath = "/lib/subway/gamma.fb2"
	for _, b := range []*models.Book{inside, nested, sibling} {
		_, err := idx.Upsert(ctx, b)
		require.NoError(t, err)
	}

	removed, err := idx.DeleteUnder(ctx, "/lib/sub")
	require.NoError(t, err)
	assert.Len(t, removed, 2)
	assert.Equal(t, 1, idx.Count())
	assert.True(t, idx.Contains("c"))
}

func TestBooksBySeries_Order(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	idx := library.New(librarytest.NewMemStore())

	mk := func(id, title string, n *int) *models.Book {
		b := newBook(id, title, models.FormatEPUB, "X")
		b.Series = "Saga"
		b.SeriesNumber = n
		return b
	}
	one, two, ten := 1, 2, 10
	idx.BatchUpsert(ctx, []*models.Book{
		mk("u2", "Zeta Side Story", nil),
		mk("n10", "Tenth", &ten),
		mk("u1", "Alpha Side Story", nil),
		mk("n1", "First", &one),
		mk("n2", "Second", &two),
	})

	assert.Equal(t, []string{"First", "Second", "Tenth", "Alpha Side Story", "Zeta Side Story"},
		titles(idx.BooksBySeries("Saga")))
}

func TestBooksByAuthor_Collation(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	idx := library.New(librarytest.NewMemStore(), library.WithCollator(collation.New(collation.CyrillicFirst)))

	idx.BatchUpsert(ctx, []*models.Book{
		newBook("1", "Beta", models.FormatFB2, "X"),
		newBook("2", "Война", models.FormatFB2, "X"),
		newBook("3", "Alpha", models.FormatFB2, "X"),
		newBook("4", "Анна", models.FormatFB2, "X"),
	})

	assert.Equal(t, []string{"Анна", "Война", "Alpha", "Beta"}, titles(idx.BooksByAuthor("X")))
}

func TestNewBooks_Window(t *testing.T) {
	t.Parallel()
	ctx := testContext()

	added := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	now := added
	idx := library.New(librarytest.NewMemStore(), library.WithClock(func() time.Time { return now }))

	b := newBook("a", "Alpha", models.FormatFB2, "X")
	_, err := idx.Upsert(ctx, b)
	require.NoError(t, err)
	require.True(t, b.AddedAt.Equal(added))

	const days = 7
	day := 24 * time.Hour

	now = added.Add((days - 1) * day)
	assert.Len(t, idx.NewBooks(days), 1, "N-1 days")

	now = added.Add(days * day)
	assert.Len(t, idx.NewBooks(days), 1, "exactly N days is inclusive")

	now = added.Add(days*day + time.Nanosecond)
	assert.Empty(t, idx.NewBooks(days), "just past N days")

	now = added.Add((days + 1) * day)
	assert.Empty(t, idx.NewBooks(days), "N+1 days")
}

func TestNewBooks_Ordering(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	idx := library.New(librarytest.NewMemStore(), library.WithClock(func() time.Time { return base.Add(48 * time.Hour) }))

	mk := func(id string, offset time.Duration) *models.Book {
		b := newBook(id, id, models.FormatFB2, "X")
		b.AddedAt = base.Add(offset)
		return b
	}
	idx.BatchUpsert(ctx, []*models.Book{
		mk("middle", time.Hour),
		mk("newest", 2*time.Hour),
		mk("oldest", 0),
		mk("ancient", -30*24*time.Hour),
	})

	assert.Equal(t, []string{"newest", "middle", "oldest"}, titles(idx.NewBooks(7)))
}

func TestLoad(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	store := librarytest.NewMemStore()
	b := newBook("a", "Alpha", models.FormatEPUB, "X")
	b.AddedAt = time.Now()
	store.Seed(b, newBook("b", "Beta", models.FormatFB2, "Y"))

	idx := library.New(store)
	require.NoError(t, idx.Load(ctx))
	assert.Equal(t, 2, idx.Count())
	assert.Equal(t, map[string]int{models.FormatEPUB: 1, models.FormatFB2: 1}, idx.FormatCounts())
	assert.NotNil(t, idx.ByPath(b.Filepath))

	store.FailLoad = true
	err := idx.Load(ctx)
	assert.True(t, errors.Is(err, library.ErrPersistence))
	assert.Equal(t, 2, idx.Count(), "failed load keeps previous state")
}

func TestClear(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	store := librarytest.NewMemStore()
	idx := library.New(store)
	idx.BatchUpsert(ctx, []*models.Book{newBook("a", "A", models.FormatFB2, "X")})

	require.NoError(t, idx.Clear(ctx, true))
	assert.True(t, store.Cleared)
	assert.Equal(t, 0, idx.Count())
	assert.Equal(t, 0, store.Len())
}
