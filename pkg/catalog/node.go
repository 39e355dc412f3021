// Package catalog projects a library snapshot into paged navigation nodes.
// A Builder holds no mutable state; every Build reads one consistent view
// of the index, so it is safe to call while ingestion is running.
package catalog

import (
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/shelfopds/shelfopds/pkg/collation"
	"github.com/shelfopds/shelfopds/pkg/models"
)

var (
	// ErrNotFound is returned for an author, series or genre with no books,
	// and for a genre tag the taxonomy does not know.
	ErrNotFound = errors.New("catalog node not found")
	// ErrBadRequest is returned for a request that names no node or carries
	// an empty search term.
	ErrBadRequest = errors.New("bad catalog request")
)

// NodeType names a catalog node.
type NodeType string

const (
	NodeRoot             NodeType = "root"
	NodeNew              NodeType = "new"
	NodeNewByDate        NodeType = "newdate"
	NodeNewByTitle       NodeType = "newtitle"
	NodeAuthorsIndex     NodeType = "authorsindex"
	NodeAuthor           NodeType = "author"
	NodeAuthorSeries     NodeType = "author-series"
	NodeAuthorNoSeries   NodeType = "author-no-series"
	NodeAuthorAlphabetic NodeType = "author-alphabetic"
	NodeAuthorByDate     NodeType = "author-by-date"
	NodeSeriesIndex      NodeType = "sequencesindex"
	NodeSeries           NodeType = "series"
	NodeGenres           NodeType = "genres"
	NodeGenre            NodeType = "genre"
	NodeSearch           NodeType = "search"
)

// Search types.
const (
	SearchAll     = ""
	SearchAuthors = "authors"
	SearchBooks   = "books"
)

// NodeRequest identifies one page of one node.
type NodeRequest struct {
	Type NodeType
	// Name is the author, series, genre tag or parent genre tag. For the
	// authors and series indexes it is the name prefix being browsed.
	Name string
	// Author narrows a series node to one author's books.
	Author     string
	Query      string
	SearchType string
	// Page is zero-based.
	Page int
	// Order overrides the configured collation. It changes ordering only.
	Order collation.Order
}

// Path is the route of the node's first page, relative to the feed root.
func (r NodeRequest) Path() string {
	switch r.Type {
	case NodeRoot:
		return "/"
	case NodeAuthorsIndex, NodeSeriesIndex, NodeGenres:
		if r.Name == "" {
			return "/" + string(r.Type)
		}
		return "/" + string(r.Type) + "/" + url.PathEscape(r.Name)
	case NodeSearch:
		q := url.Values{}
		q.Set("searchTerm", r.Query)
		if r.SearchType != "" {
			q.Set("searchType", r.SearchType)
		}
		return "/search?" + q.Encode()
	case NodeSeries:
		p := "/series/" + url.PathEscape(r.Name)
		if r.Author != "" {
			p += "?" + url.Values{"author": []string{r.Author}}.Encode()
		}
		return p
	case NodeNew, NodeNewByDate, NodeNewByTitle:
		return "/" + string(r.Type)
	default:
		return "/" + string(r.Type) + "/" + url.PathEscape(r.Name)
	}
}

// WithPage returns a copy of r for another page.
func (r NodeRequest) WithPage(page int) NodeRequest {
	r.Page = page
	return r
}

// EntryKind tells navigation entries from book entries.
type EntryKind int

const (
	Navigation EntryKind = iota
	Acquisition
)

// Entry is one item of a page.
type Entry struct {
	ID      string
	Kind    EntryKind
	Title   string
	Content string
	Updated time.Time
	// Target is set on navigation entries.
	Target NodeRequest
	// Count is the number of books or names behind a navigation entry.
	Count int
	// Book is set on acquisition entries.
	Book *models.Book
}

// Page is the result of Build.
type Page struct {
	Node     NodeRequest
	Title    string
	Entries  []Entry
	Total    int
	Page     int
	PageSize int
	HasNext  bool
	Updated  time.Time
}

// HasPrev reports whether an earlier page exists.
func (p *Page) HasPrev() bool {
	return p.Page > 0
}

// paginate cuts the requested page out of items. Out-of-range pages are
// empty.
func paginate[T any](items []T, page, size int) ([]T, bool) {
	if size <= 0 {
		return items, false
	}
	start := page * size
	if page < 0 || start >= len(items) {
		return nil, false
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end], end < len(items)
}
