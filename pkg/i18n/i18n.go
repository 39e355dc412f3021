// Package i18n holds the feed text for the supported display languages.
package i18n

import (
	"strings"

	"golang.org/x/text/feature/plural"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Key identifies a translatable message.
type Key string

const (
	Catalog           Key = "catalog"
	ByAuthors         Key = "by_authors"
	ByAuthorsSummary  Key = "by_authors_summary"
	BySeries          Key = "by_series"
	BySeriesSummary   Key = "by_series_summary"
	ByGenres          Key = "by_genres"
	ByGenresSummary   Key = "by_genres_summary"
	NewBooks          Key = "new_books"
	NewBooksSummary   Key = "new_books_summary"
	NewByDate         Key = "new_by_date"
	NewByTitle        Key = "new_by_title"
	AuthorSeries      Key = "author_series"
	AuthorNoSeries    Key = "author_no_series"
	AuthorAlphabetic  Key = "author_alphabetic"
	AuthorByDate      Key = "author_by_date"
	Search            Key = "search"
	SearchResults     Key = "search_results"
	SearchBooksTitle  Key = "search_books_title"
	SearchDescription Key = "search_description"
	SeriesNumber      Key = "series_number"
	Authors           Key = "authors"
	Series            Key = "series"
	Genres            Key = "genres"

	bookCount   Key = "book_count"
	authorCount Key = "author_count"
	seriesCount Key = "series_count"
)

var supported = []language.Tag{language.English, language.Russian}

var matcher = language.NewMatcher(supported)

var strs = map[language.Tag]map[Key]string{
	language.English: {
		Catalog:           "Catalog",
		ByAuthors:         "By authors",
		ByAuthorsSummary:  "Browse books by author",
		BySeries:          "By series",
		BySeriesSummary:   "Browse books by series",
		ByGenres:          "By genres",
		ByGenresSummary:   "Browse books by genre",
		NewBooks:          "New books",
		NewBooksSummary:   "Books added in the last %d days",
		NewByDate:         "New books by date",
		NewByTitle:        "New books by title",
		AuthorSeries:      "Books by series",
		AuthorNoSeries:    "Books without series",
		AuthorAlphabetic:  "All books alphabetically",
		AuthorByDate:      "All books by date",
		Search:            "Search",
		SearchResults:     "Search results for %q",
		SearchBooksTitle:  "Books with %q in the title",
		SearchDescription: "Search the library by author or title",
		SeriesNumber:      "%s, book %d",
		Authors:           "Authors",
		Series:            "Series",
		Genres:            "Genres",
	},
	language.Russian: {
		Catalog:           "Каталог",
		ByAuthors:         "По авторам",
		ByAuthorsSummary:  "Книги по авторам",
		BySeries:          "По сериям",
		BySeriesSummary:   "Книги по сериям",
		ByGenres:          "По жанрам",
		ByGenresSummary:   "Книги по жанрам",
		NewBooks:          "Новые книги",
		NewBooksSummary:   "Книги, добавленные за последние %d дн.",
		NewByDate:         "Новые книги по дате",
		NewByTitle:        "Новые книги по названию",
		AuthorSeries:      "Книги по сериям",
		AuthorNoSeries:    "Книги вне серий",
		AuthorAlphabetic:  "Все книги по алфавиту",
		AuthorByDate:      "Все книги по дате поступления",
		Search:            "Поиск",
		SearchResults:     "Результаты поиска «%s»",
		SearchBooksTitle:  "Книги с «%s» в названии",
		SearchDescription: "Поиск по автору или названию",
		SeriesNumber:      "%s, книга %d",
		Authors:           "Авторы",
		Series:            "Серии",
		Genres:            "Жанры",
	},
}

var cat = build()

func build() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, msgs := range strs {
		for key, msg := range msgs {
			// Keys and messages are fixed above, so an error here is a typo.
			if err := b.SetString(tag, string(key), msg); err != nil {
				panic(err)
			}
		}
	}

	plurals := []struct {
		tag  language.Tag
		key  Key
		msgs []interface{}
	}{
		{language.English, bookCount, []interface{}{plural.One, "%d book", plural.Other, "%d books"}},
		{language.English, authorCount, []interface{}{plural.One, "%d author", plural.Other, "%d authors"}},
		{language.English, seriesCount, []interface{}{plural.Other, "%d series"}},
		{language.Russian, bookCount, []interface{}{plural.One, "%d книга", plural.Few, "%d книги", plural.Other, "%d книг"}},
		{language.Russian, authorCount, []interface{}{plural.One, "%d автор", plural.Few, "%d автора", plural.Other, "%d авторов"}},
		{language.Russian, seriesCount, []interface{}{plural.One, "%d серия", plural.Few, "%d серии", plural.Other, "%d серий"}},
	}
	for _, p := range plurals {
		if err := b.Set(p.tag, string(p.key), plural.Selectf(1, "%d", p.msgs...)); err != nil {
			panic(err)
		}
	}
	return b
}

// Printer formats messages for one display language.
type Printer struct {
	tag language.Tag
	p   *message.Printer
}

// NewPrinter returns a printer for lang, an IETF tag such as "ru" or
// "en-US". Unsupported languages fall back to English.
func NewPrinter(lang string) *Printer {
	tag := Match(lang)
	return &Printer{
		tag: tag,
		p:   message.NewPrinter(tag, message.Catalog(cat)),
	}
}

// Match resolves lang to the closest supported language.
func Match(lang string) language.Tag {
	t, err := language.Parse(strings.TrimSpace(lang))
	if err != nil {
		return language.English
	}
	_, idx, conf := matcher.Match(t)
	if conf == language.No {
		return language.English
	}
	return supported[idx]
}

// Lang is the base language code, "en" or "ru".
func (p *Printer) Lang() string {
	base, _ := p.tag.Base()
	return base.String()
}

// Text formats the message for key.
func (p *Printer) Text(key Key, args ...interface{}) string {
	return p.p.Sprintf(string(key), args...)
}

// Books renders a pluralized book count, for example "3 books".
func (p *Printer) Books(n int) string {
	return p.p.Sprintf(string(bookCount), n)
}

// Authors renders a pluralized author count.
func (p *Printer) Authors(n int) string {
	return p.p.Sprintf(string(authorCount), n)
}

// Series renders a pluralized series count.
func (p *Printer) Series(n int) string {
	return p.p.Sprintf(string(seriesCount), n)
}
