package opds

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/shelfopds/shelfopds/pkg/catalog"
	"github.com/shelfopds/shelfopds/pkg/genres"
	"github.com/shelfopds/shelfopds/pkg/i18n"
	"github.com/shelfopds/shelfopds/pkg/models"
)

// Service turns catalog pages into feeds.
type Service struct {
	builder  *catalog.Builder
	taxonomy *genres.Taxonomy
	name     string
}

// NewService creates a new OPDS service.
func NewService(builder *catalog.Builder, taxonomy *genres.Taxonomy, name string) *Service {
	return &Service{
		builder:  builder,
		taxonomy: taxonomy,
		name:     name,
	}
}

// BuildFeed builds the node and renders it with links rooted at baseURL.
func (svc *Service) BuildFeed(baseURL string, req catalog.NodeRequest) (*Feed, error) {
	page, err := svc.builder.Build(req)
	if err != nil {
		return nil, err
	}
	return svc.Render(baseURL, page), nil
}

// Render converts a catalog page into a feed.
func (svc *Service) Render(baseURL string, page *catalog.Page) *Feed {
	self := nodeURL(baseURL, page.Node)
	feed := NewFeed("urn:shelfopds:"+string(page.Node.Type)+":"+page.Node.Name+":"+page.Node.Query, page.Title, page.Updated)
	feed.Author = &Author{Name: svc.name}

	kind := MimeTypeNavigation
	for _, e := range page.Entries {
		if e.Kind == catalog.Acquisition {
			kind = MimeTypeAcquisition
			break
		}
	}

	feed.AddLink(RelSelf, self, kind)
	feed.AddLink(RelStart, baseURL+"/", MimeTypeNavigation)
	feed.AddLink(RelSearch, baseURL+"/opensearch.xml", MimeTypeOpenSearch)
	addPaginationLinks(feed, baseURL, page, kind)

	if page.Total > 0 {
		feed.TotalResults = page.Total
		feed.ItemsPerPage = page.PageSize
		feed.StartIndex = page.Page*page.PageSize + 1
	}

	for _, e := range page.Entries {
		if e.Kind == catalog.Acquisition {
			feed.AddEntry(svc.bookEntry(baseURL, e))
			continue
		}
		feed.AddEntry(navEntry(baseURL, e))
	}
	return feed
}

// BuildOpenSearchDescription describes the search endpoint.
func (svc *Service) BuildOpenSearchDescription(baseURL string) *OpenSearchDescription {
	return NewOpenSearchDescription(
		svc.name,
		svc.builder.Printer().Text(i18n.SearchDescription),
		baseURL+"/search?searchTerm={searchTerms}",
	)
}

func navEntry(baseURL string, e catalog.Entry) Entry {
	entry := NewEntry(e.ID, e.Title, e.Updated)
	if e.Content != "" {
		entry.Content = &Content{Type: "text", Value: e.Content}
	}
	linkType := MimeTypeNavigation
	switch e.Target.Type {
	case catalog.NodeNewByDate, catalog.NodeNewByTitle, catalog.NodeSeries, catalog.NodeGenre,
		catalog.NodeAuthorNoSeries, catalog.NodeAuthorAlphabetic, catalog.NodeAuthorByDate:
		linkType = MimeTypeAcquisition
	}
	entry.Links = append(entry.Links, Link{
		Rel:   RelSubsection,
		Href:  nodeURL(baseURL, e.Target),
		Type:  linkType,
		Count: e.Count,
	})
	return entry
}

func (svc *Service) bookEntry(baseURL string, e catalog.Entry) Entry {
	book := e.Book
	entry := NewEntry(e.ID, book.Title, book.AddedAt)

	for _, a := range book.Authors {
		entry.Authors = append(entry.Authors, Author{
			Name: a,
			URI:  nodeURL(baseURL, catalog.NodeRequest{Type: catalog.NodeAuthor, Name: a}),
		})
	}

	lang := svc.builder.Printer().Lang()
	for _, tag := range book.Genres {
		// Unknown tags stay on the book but are not shown.
		if node, ok := svc.taxonomy.Lookup(tag); ok {
			entry.Categories = append(entry.Categories, Category{Term: tag, Label: node.Display(lang)})
		}
	}

	if book.HasSeries() {
		if book.SeriesNumber != nil {
			entry.Summary = svc.builder.Printer().Text(i18n.SeriesNumber, book.Series, *book.SeriesNumber)
		} else {
			entry.Summary = book.Series
		}
	}
	if book.Annotation != "" {
		entry.Content = &Content{Type: "text", Value: book.Annotation}
	}
	entry.Language = book.Language
	entry.Format = FormatMimeType(book.Format)

	if book.HasCover {
		entry.AddImageLink(fmt.Sprintf("%s/cover/%s", baseURL, book.ID), MimeTypeJPEG)
		entry.AddThumbnailLink(fmt.Sprintf("%s/thumbnail/%s", baseURL, book.ID), MimeTypeJPEG)
	}
	entry.AddAcquisitionLink(fmt.Sprintf("%s/download/%s/%s", baseURL, book.ID, book.Format), FormatMimeType(book.Format))

	if len(book.Authors) > 0 {
		entry.Links = append(entry.Links, Link{
			Rel:   "related",
			Href:  nodeURL(baseURL, catalog.NodeRequest{Type: catalog.NodeAuthor, Name: book.Authors[0]}),
			Type:  MimeTypeNavigation,
			Title: book.Authors[0],
		})
	}
	return entry
}

// nodeURL is the absolute URL of the requested page of a node. Page and
// order are passed as query parameters so every node path stays stable.
func nodeURL(baseURL string, req catalog.NodeRequest) string {
	path := req.Path()
	extra := url.Values{}
	if req.Page > 0 {
		extra.Set("page", strconv.Itoa(req.Page))
	}
	if req.Order != "" {
		extra.Set("order", string(req.Order))
	}
	if len(extra) == 0 {
		return baseURL + path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return baseURL + path + sep + extra.Encode()
}

// addPaginationLinks adds pagination links to a feed.
func addPaginationLinks(feed *Feed, baseURL string, page *catalog.Page, kind string) {
	if page.PageSize <= 0 || page.Total == 0 {
		return
	}
	req := page.Node
	if page.HasPrev() {
		prev := page.Page - 1
		lastPage := (page.Total - 1) / page.PageSize
		if prev > lastPage {
			prev = lastPage
		}
		feed.AddLink(RelPrevious, nodeURL(baseURL, req.WithPage(prev)), kind)
		feed.AddLink(RelFirst, nodeURL(baseURL, req.WithPage(0)), kind)
	}
	if page.HasNext {
		feed.AddLink(RelNext, nodeURL(baseURL, req.WithPage(page.Page+1)), kind)
		lastPage := (page.Total - 1) / page.PageSize
		feed.AddLink(RelLast, nodeURL(baseURL, req.WithPage(lastPage)), kind)
	}
}

// downloadName is the file name offered for a book download.
func downloadName(book *models.Book) string {
	name := book.Title
	if len(book.Authors) > 0 {
		name = book.Authors[0] + " - " + name
	}
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
	switch book.Format {
	case models.FormatFB2:
		return name + ".fb2.zip"
	default:
		return name + "." + book.Format
	}
}
