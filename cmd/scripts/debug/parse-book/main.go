package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shelfopds/shelfopds/pkg/dedup"
	"github.com/shelfopds/shelfopds/pkg/extractor"
)

func main() {
	log := logger.New()

	var opts struct {
		CoverOutput string `short:"o" long:"cover-output" description:"A path to output the cover image"`
	}

	args, err := flags.Parse(&opts)
	if err != nil {
		log.Err(err).Fatal("flags parse error")
	}

	if len(args) != 1 {
		fmt.Println("go run ./cmd/scripts/debug/parse-book <path/to/book.fb2|.fb2.zip|.epub>")
		os.Exit(1)
	}
	path := args[0]

	raw, err := os.ReadFile(path)
	if err != nil {
		log.Err(err).Fatal("read file error")
	}

	book, err := extractor.Extract(raw, path)
	if err != nil {
		log.Err(err).Fatal(extractor.Kind(err) + " book")
	}
	key, err := dedup.Key(book)
	if err != nil {
		log.Err(err).Fatal("fingerprint error")
	}

	series := book.Series
	if book.SeriesNumber != nil {
		series = fmt.Sprintf("%s #%d", book.Series, *book.SeriesNumber)
	}
	fmt.Printf("Fingerprint: %s\nFormat: %s\nTitle: %s\nAuthor(s): %v\nSeries: %s\nGenres: %v\nLanguage: %s\nHas Cover: %v\n",
		key, book.Format, book.Title, book.Authors, series, book.Genres, book.Language, book.HasCover)

	if opts.CoverOutput == "" || !book.HasCover {
		return
	}
	data, contentType, err := extractor.Cover(raw, path)
	if err != nil {
		log.Err(err).Fatal("cover error")
	}
	if err := os.WriteFile(opts.CoverOutput, data, 0644); err != nil {
		log.Err(err).Fatal("file write error")
	}
	fmt.Printf("Cover (%s) written to %s\n", contentType, opts.CoverOutput)
}
