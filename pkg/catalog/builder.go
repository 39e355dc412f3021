package catalog

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/shelfopds/shelfopds/pkg/collation"
	"github.com/shelfopds/shelfopds/pkg/genres"
	"github.com/shelfopds/shelfopds/pkg/i18n"
	"github.com/shelfopds/shelfopds/pkg/library"
	"github.com/shelfopds/shelfopds/pkg/metrics"
	"github.com/shelfopds/shelfopds/pkg/models"
)

type Options struct {
	PageSize       int
	NewBooksDays   int
	SplitThreshold int
	Order          collation.Order
	Language       string
	// Title names the root node. It defaults to the localized "Catalog".
	Title string
	Now   func() time.Time
}

type Builder struct {
	index     *library.Index
	taxonomy  *genres.Taxonomy
	opts      Options
	collators map[collation.Order]*collation.Collator
	printer   *i18n.Printer
}

func New(index *library.Index, taxonomy *genres.Taxonomy, opts Options) *Builder {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.NewBooksDays <= 0 {
		opts.NewBooksDays = 7
	}
	if opts.Order == "" {
		opts.Order = collation.LatinFirst
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	b := &Builder{
		index:    index,
		taxonomy: taxonomy,
		opts:     opts,
		collators: map[collation.Order]*collation.Collator{
			collation.LatinFirst:    collation.New(collation.LatinFirst),
			collation.CyrillicFirst: collation.New(collation.CyrillicFirst),
		},
		printer: i18n.NewPrinter(opts.Language),
	}
	return b
}

// Printer is the message printer for the configured display language.
func (b *Builder) Printer() *i18n.Printer {
	return b.printer
}

// PageSize is the configured number of entries per page.
func (b *Builder) PageSize() int {
	return b.opts.PageSize
}

func (b *Builder) collator(order collation.Order) *collation.Collator {
	if c, ok := b.collators[order]; ok {
		return c
	}
	return b.collators[b.opts.Order]
}

// Build renders one page of the requested node.
func (b *Builder) Build(req NodeRequest) (*Page, error) {
	if req.Type == "" {
		req.Type = NodeRoot
	}
	if req.Page < 0 {
		return nil, errors.Wrapf(ErrBadRequest, "page %d", req.Page)
	}

	now := b.opts.Now()
	c := b.collator(req.Order)
	page := &Page{
		Node:     req,
		Page:     req.Page,
		PageSize: b.opts.PageSize,
		Updated:  now,
	}

	var err error
	switch req.Type {
	case NodeRoot:
		b.root(page, now)
	case NodeNew:
		b.newMenu(page, now)
	case NodeNewByDate, NodeNewByTitle:
		b.newBooks(page, c, now)
	case NodeAuthorsIndex:
		b.authorsIndex(page, c, now)
	case NodeAuthor:
		err = b.author(page, now)
	case NodeAuthorSeries:
		err = b.authorSeries(page, c, now)
	case NodeAuthorNoSeries, NodeAuthorAlphabetic, NodeAuthorByDate:
		err = b.authorBooks(page, c)
	case NodeSeriesIndex:
		b.seriesIndex(page, c, now)
	case NodeSeries:
		err = b.series(page, c)
	case NodeGenres:
		err = b.genres(page, c, now)
	case NodeGenre:
		err = b.genre(page, c)
	case NodeSearch:
		err = b.search(page, c, now)
	default:
		return nil, errors.Wrapf(ErrBadRequest, "unknown node %q", req.Type)
	}
	if err != nil {
		return nil, err
	}

	metrics.FeedRequestsTotal.WithLabelValues(string(req.Type)).Inc()
	return page, nil
}

// fill sets the page totals and materializes entries for the requested
// page only.
func fill[T any](page *Page, items []T, entry func(T) Entry) {
	page.Total = len(items)
	slice, next := paginate(items, page.Page, page.PageSize)
	page.HasNext = next
	page.Entries = make([]Entry, 0, len(slice))
	for _, it := range slice {
		page.Entries = append(page.Entries, entry(it))
	}
}

func (b *Builder) nav(target NodeRequest, title, content string, count int, now time.Time) Entry {
	return Entry{
		ID:      "urn:shelfopds:" + string(target.Type) + ":" + target.Name + ":" + target.Query + target.SearchType + target.Author,
		Kind:    Navigation,
		Title:   title,
		Content: content,
		Updated: now,
		Target:  target,
		Count:   count,
	}
}

func bookEntry(book *models.Book) Entry {
	return Entry{
		ID:      "urn:shelfopds:book:" + book.ID,
		Kind:    Acquisition,
		Title:   book.Title,
		Content: book.Annotation,
		Updated: book.AddedAt,
		Book:    book,
	}
}

func (b *Builder) root(page *Page, now time.Time) {
	p := b.printer
	page.Title = b.opts.Title
	if page.Title == "" {
		page.Title = p.Text(i18n.Catalog)
	}

	var newCount, authors, series int
	var genreTags []string
	cutoff := library.NewBooksCutoff(now, b.opts.NewBooksDays)
	b.index.Read(func(v library.View) {
		newCount = len(v.AddedSince(cutoff))
		authors = len(v.Authors())
		series = len(v.Series())
		genreTags = v.GenreTags()
	})
	genreCount := b.knownGenres(genreTags)

	items := []Entry{
		b.nav(NodeRequest{Type: NodeNew}, p.Text(i18n.NewBooks), p.Text(i18n.NewBooksSummary, b.opts.NewBooksDays), newCount, now),
		b.nav(NodeRequest{Type: NodeAuthorsIndex}, p.Text(i18n.ByAuthors), p.Authors(authors), authors, now),
		b.nav(NodeRequest{Type: NodeSeriesIndex}, p.Text(i18n.BySeries), p.Series(series), series, now),
		b.nav(NodeRequest{Type: NodeGenres}, p.Text(i18n.ByGenres), p.Text(i18n.ByGenresSummary), genreCount, now),
	}
	nonEmpty := items[:0]
	for _, e := range items {
		if e.Count > 0 {
			nonEmpty = append(nonEmpty, e)
		}
	}
	fill(page, nonEmpty, func(e Entry) Entry { return e })
}

// knownGenres counts the tags the taxonomy knows. Unknown tags stay on
// their books but never show up in genre navigation.
func (b *Builder) knownGenres(tags []string) int {
	n := 0
	for _, t := range tags {
		if _, ok := b.taxonomy.Lookup(t); ok {
			n++
		}
	}
	return n
}

func (b *Builder) newMenu(page *Page, now time.Time) {
	p := b.printer
	page.Title = p.Text(i18n.NewBooks)

	cutoff := library.NewBooksCutoff(now, b.opts.NewBooksDays)
	var n int
	b.index.Read(func(v library.View) { n = len(v.AddedSince(cutoff)) })

	var items []Entry
	if n > 0 {
		items = []Entry{
			b.nav(NodeRequest{Type: NodeNewByDate}, p.Text(i18n.NewByDate), p.Books(n), n, now),
			b.nav(NodeRequest{Type: NodeNewByTitle}, p.Text(i18n.NewByTitle), p.Books(n), n, now),
		}
	}
	fill(page, items, func(e Entry) Entry { return e })
}

func (b *Builder) newBooks(page *Page, c *collation.Collator, now time.Time) {
	cutoff := library.NewBooksCutoff(now, b.opts.NewBooksDays)
	var books []*models.Book
	b.index.Read(func(v library.View) { books = v.AddedSince(cutoff) })

	if page.Node.Type == NodeNewByTitle {
		page.Title = b.printer.Text(i18n.NewByTitle)
		library.SortByTitle(c, books)
	} else {
		page.Title = b.printer.Text(i18n.NewByDate)
	}
	fill(page, books, bookEntry)
}

type nameCount struct {
	name  string
	count int
}

func (b *Builder) authorsIndex(page *Page, c *collation.Collator, now time.Time) {
	var items []nameCount
	b.index.Read(func(v library.View) {
		for _, name := range v.Authors() {
			items = append(items, nameCount{name: name, count: v.AuthorCount(name)})
		}
	})
	page.Title = b.printer.Text(i18n.Authors)
	b.nameIndex(page, c, items, NodeAuthor, b.printer.Authors, now)
}

func (b *Builder) seriesIndex(page *Page, c *collation.Collator, now time.Time) {
	var items []nameCount
	b.index.Read(func(v library.View) {
		for _, name := range v.Series() {
			items = append(items, nameCount{name: name, count: v.SeriesCount(name)})
		}
	})
	page.Title = b.printer.Text(i18n.Series)
	b.nameIndex(page, c, items, NodeSeries, b.printer.Series, now)
}

// nameIndex lists the names under the requested prefix. When more names
// than the split threshold share it, the names are grouped by one more
// letter and the groups are listed instead. A group holding a single name
// links straight to it, and so does a name no longer than the prefix, so no
// group leads back to the listing it came from.
func (b *Builder) nameIndex(page *Page, c *collation.Collator, items []nameCount, target NodeType, groupText func(int) string, now time.Time) {
	req := page.Node
	prefix := strings.ToUpper(req.Name)
	n := utf8.RuneCountInString(prefix)
	if prefix != "" {
		page.Title += ": " + req.Name
	}

	matched := items[:0]
	for _, it := range items {
		if collation.Prefix(it.name, n) == prefix {
			matched = append(matched, it)
		}
	}

	nameEntry := func(it nameCount) Entry {
		return b.nav(NodeRequest{Type: target, Name: it.name, Order: req.Order}, it.name, b.printer.Books(it.count), it.count, now)
	}

	if b.opts.SplitThreshold > 0 && len(matched) > b.opts.SplitThreshold {
		groups := groupByPrefix(matched, n+1)
		if len(groups) > 1 {
			collation.Sort(c, groups, func(g nameGroup) string { return g.key }, nil)
			fill(page, groups, func(g nameGroup) Entry {
				if g.only != nil {
					return nameEntry(*g.only)
				}
				return b.nav(NodeRequest{Type: req.Type, Name: g.key, Order: req.Order}, g.key, groupText(g.size), g.size, now)
			})
			return
		}
	}

	collation.Sort(c, matched, func(it nameCount) string { return it.name }, nil)
	fill(page, matched, nameEntry)
}

type nameGroup struct {
	key  string
	size int
	// only is set when the group stands for one name.
	only *nameCount
}

// groupByPrefix buckets names by their first n letters. Names shorter than
// n letters and buckets of one name come back as single-name groups keyed by
// the name itself.
func groupByPrefix(items []nameCount, n int) []nameGroup {
	var out []nameGroup
	pos := make(map[string]int)
	for i := range items {
		it := &items[i]
		key := collation.Prefix(it.name, n)
		if utf8.RuneCountInString(key) < n {
			out = append(out, nameGroup{key: it.name, size: 1, only: it})
			continue
		}
		if j, ok := pos[key]; ok {
			out[j].size++
			out[j].only = nil
			continue
		}
		pos[key] = len(out)
		out = append(out, nameGroup{key: key, size: 1, only: it})
	}
	for i := range out {
		if out[i].only != nil {
			out[i].key = out[i].only.name
		}
	}
	return out
}

func (b *Builder) authorBooksSnapshot(name string) []*models.Book {
	var books []*models.Book
	b.index.Read(func(v library.View) { books = v.BooksByAuthor(name) })
	return books
}

func (b *Builder) author(page *Page, now time.Time) error {
	req := page.Node
	books := b.authorBooksSnapshot(req.Name)
	if len(books) == 0 {
		return errors.Wrapf(ErrNotFound, "author %q", req.Name)
	}
	page.Title = req.Name

	series := make(map[string]struct{})
	noSeries := 0
	for _, bk := range books {
		if bk.HasSeries() {
			series[bk.Series] = struct{}{}
		} else {
			noSeries++
		}
	}

	p := b.printer
	sub := func(t NodeType) NodeRequest { return NodeRequest{Type: t, Name: req.Name, Order: req.Order} }
	var items []Entry
	if len(series) > 0 {
		items = append(items, b.nav(sub(NodeAuthorSeries), p.Text(i18n.AuthorSeries), p.Series(len(series)), len(series), now))
	}
	if noSeries > 0 {
		items = append(items, b.nav(sub(NodeAuthorNoSeries), p.Text(i18n.AuthorNoSeries), p.Books(noSeries), noSeries, now))
	}
	items = append(items,
		b.nav(sub(NodeAuthorAlphabetic), p.Text(i18n.AuthorAlphabetic), p.Books(len(books)), len(books), now),
		b.nav(sub(NodeAuthorByDate), p.Text(i18n.AuthorByDate), p.Books(len(books)), len(books), now),
	)
	fill(page, items, func(e Entry) Entry { return e })
	return nil
}

func (b *Builder) authorSeries(page *Page, c *collation.Collator, now time.Time) error {
	req := page.Node
	books := b.authorBooksSnapshot(req.Name)
	if len(books) == 0 {
		return errors.Wrapf(ErrNotFound, "author %q", req.Name)
	}
	page.Title = req.Name + ": " + b.printer.Text(i18n.AuthorSeries)

	counts := make(map[string]int)
	for _, bk := range books {
		if bk.HasSeries() {
			counts[bk.Series]++
		}
	}
	items := make([]nameCount, 0, len(counts))
	for name, n := range counts {
		items = append(items, nameCount{name: name, count: n})
	}
	collation.Sort(c, items, func(n nameCount) string { return n.name }, nil)
	fill(page, items, func(n nameCount) Entry {
		target := NodeRequest{Type: NodeSeries, Name: n.name, Author: req.Name, Order: req.Order}
		return b.nav(target, n.name, b.printer.Books(n.count), n.count, now)
	})
	return nil
}

func (b *Builder) authorBooks(page *Page, c *collation.Collator) error {
	req := page.Node
	books := b.authorBooksSnapshot(req.Name)
	if len(books) == 0 {
		return errors.Wrapf(ErrNotFound, "author %q", req.Name)
	}

	switch req.Type {
	case NodeAuthorNoSeries:
		page.Title = req.Name + ": " + b.printer.Text(i18n.AuthorNoSeries)
		kept := books[:0]
		for _, bk := range books {
			if !bk.HasSeries() {
				kept = append(kept, bk)
			}
		}
		books = kept
		library.SortByTitle(c, books)
	case NodeAuthorByDate:
		page.Title = req.Name + ": " + b.printer.Text(i18n.AuthorByDate)
		library.SortByAddedDesc(books)
	default:
		page.Title = req.Name + ": " + b.printer.Text(i18n.AuthorAlphabetic)
		library.SortByTitle(c, books)
	}
	fill(page, books, bookEntry)
	return nil
}

func (b *Builder) series(page *Page, c *collation.Collator) error {
	req := page.Node
	var books []*models.Book
	b.index.Read(func(v library.View) { books = v.BooksBySeries(req.Name) })
	if req.Author != "" {
		kept := books[:0]
		for _, bk := range books {
			if bk.HasAuthor(req.Author) {
				kept = append(kept, bk)
			}
		}
		books = kept
	}
	if len(books) == 0 {
		return errors.Wrapf(ErrNotFound, "series %q", req.Name)
	}
	page.Title = req.Name
	library.SortBySeriesNumber(c, books)
	fill(page, books, bookEntry)
	return nil
}

// genres lists top-level genres, or the subgenres of the parent named in
// the request. Genres without books are left out at both levels. A
// top-level count is the number of distinct books carrying any tag of its
// subtree.
func (b *Builder) genres(page *Page, c *collation.Collator, now time.Time) error {
	req := page.Node
	lang := b.printer.Lang()

	if req.Name == "" {
		page.Title = b.printer.Text(i18n.Genres)
		roots := b.taxonomy.Roots()
		counts := make([]int, len(roots))
		b.index.Read(func(v library.View) {
			for i, root := range roots {
				ids := make(map[string]struct{})
				for _, bk := range v.BooksByGenre(root.Tag) {
					ids[bk.ID] = struct{}{}
				}
				for _, child := range b.taxonomy.Children(root.Tag) {
					for _, bk := range v.BooksByGenre(child.Tag) {
						ids[bk.ID] = struct{}{}
					}
				}
				counts[i] = len(ids)
			}
		})

		var items []Entry
		for i, root := range roots {
			if counts[i] == 0 {
				continue
			}
			target := NodeRequest{Type: NodeGenres, Name: root.Tag, Order: req.Order}
			items = append(items, b.nav(target, root.Display(lang), b.printer.Books(counts[i]), counts[i], now))
		}
		collation.Sort(c, items, func(e Entry) string { return e.Title }, byTargetName)
		fill(page, items, func(e Entry) Entry { return e })
		return nil
	}

	parent, ok := b.taxonomy.Lookup(req.Name)
	if !ok || !parent.IsTopLevel() {
		return errors.Wrapf(ErrNotFound, "genre group %q", req.Name)
	}
	page.Title = parent.Display(lang)

	nodes := append([]genres.Node{parent}, b.taxonomy.Children(parent.Tag)...)
	counts := make([]int, len(nodes))
	b.index.Read(func(v library.View) {
		for i, n := range nodes {
			counts[i] = v.GenreCount(n.Tag)
		}
	})

	var items []Entry
	for i, n := range nodes {
		if counts[i] == 0 {
			continue
		}
		target := NodeRequest{Type: NodeGenre, Name: n.Tag, Order: req.Order}
		items = append(items, b.nav(target, n.Display(lang), b.printer.Books(counts[i]), counts[i], now))
	}
	collation.Sort(c, items, func(e Entry) string { return e.Title }, byTargetName)
	fill(page, items, func(e Entry) Entry { return e })
	return nil
}

func byTargetName(a, b Entry) int {
	return strings.Compare(a.Target.Name, b.Target.Name)
}

func (b *Builder) genre(page *Page, c *collation.Collator) error {
	req := page.Node
	node, ok := b.taxonomy.Lookup(req.Name)
	if !ok {
		return errors.Wrapf(ErrNotFound, "genre %q", req.Name)
	}
	page.Title = node.Display(b.printer.Lang())

	var books []*models.Book
	b.index.Read(func(v library.View) { books = v.BooksByGenre(node.Tag) })
	library.SortByTitle(c, books)
	fill(page, books, bookEntry)
	return nil
}

// search matches authors first. When any author matches, their names are
// listed, led by a link to the title matches if there are some. Otherwise,
// or when books are asked for explicitly, books whose title contains the
// term are listed.
func (b *Builder) search(page *Page, c *collation.Collator, now time.Time) error {
	req := page.Node
	term := strings.TrimSpace(req.Query)
	if term == "" {
		return errors.Wrap(ErrBadRequest, "empty search term")
	}
	needle := strings.ToLower(term)
	page.Title = b.printer.Text(i18n.SearchResults, term)

	var authors []nameCount
	var books []*models.Book
	b.index.Read(func(v library.View) {
		if req.SearchType != SearchBooks {
			for _, name := range v.Authors() {
				if strings.Contains(strings.ToLower(name), needle) {
					authors = append(authors, nameCount{name: name, count: v.AuthorCount(name)})
				}
			}
		}
		if req.SearchType != SearchAuthors {
			for _, bk := range v.Books() {
				if strings.Contains(strings.ToLower(bk.Title), needle) {
					books = append(books, bk)
				}
			}
		}
	})

	if req.SearchType == SearchAuthors || (req.SearchType == SearchAll && len(authors) > 0) {
		collation.Sort(c, authors, func(n nameCount) string { return n.name }, nil)
		items := make([]Entry, 0, len(authors)+1)
		if len(books) > 0 {
			target := NodeRequest{Type: NodeSearch, Query: term, SearchType: SearchBooks, Order: req.Order}
			items = append(items, b.nav(target, b.printer.Text(i18n.SearchBooksTitle, term), b.printer.Books(len(books)), len(books), now))
		}
		for _, a := range authors {
			target := NodeRequest{Type: NodeAuthor, Name: a.name, Order: req.Order}
			items = append(items, b.nav(target, a.name, b.printer.Books(a.count), a.count, now))
		}
		fill(page, items, func(e Entry) Entry { return e })
		return nil
	}

	library.SortByTitle(c, books)
	fill(page, books, bookEntry)
	return nil
}
