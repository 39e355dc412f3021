// Package extractor turns raw book files into library records. It never
// touches the filesystem: callers hand it bytes and the path they came from.
package extractor

import (
	"archive/zip"
	"bytes"
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/shelfopds/shelfopds/pkg/epub"
	"github.com/shelfopds/shelfopds/pkg/fb2"
	"github.com/shelfopds/shelfopds/pkg/models"
)

var (
	// ErrInvalid marks content that could not be parsed into a book. Counted,
	// never fatal.
	ErrInvalid = errors.New("invalid book")
	// ErrSkipped marks a recognized file that is excluded on purpose, such as a
	// zero-length or unreadable file.
	ErrSkipped = errors.New("skipped file")
	// ErrUnsupportedFormat marks a file whose extension is neither FB2 nor EPUB.
	// Callers ignore these silently.
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// maxZippedFB2 bounds the uncompressed size of an FB2 inside a .fb2.zip.
const maxZippedFB2 = 256 << 20

// Extract parses raw file content into a Book. The returned book has no ID or
// added time; those are assigned by the ingestion pipeline.
func Extract(raw []byte, sourcePath string) (book *models.Book, err error) {
	format := models.FormatFromPath(sourcePath)
	if format == "" {
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%s", path.Base(sourcePath))
	}
	if len(raw) == 0 {
		return nil, errors.Wrap(ErrSkipped, "zero-length file")
	}

	// The XML decoder and zip reader are expected to fail with errors, but a
	// malformed document must never take the whole scan down with it.
	defer func() {
		if r := recover(); r != nil {
			book = nil
			err = errors.Wrapf(ErrInvalid, "parser panic: %v", r)
		}
	}()

	switch {
	case format == models.FormatFB2 && models.IsZippedFB2(sourcePath):
		book, err = extractZippedFB2(raw)
	case format == models.FormatFB2:
		book, err = extractFB2(raw)
	default:
		book, err = extractEPUB(raw)
	}
	if err != nil {
		return nil, err
	}

	book.Format = format
	book.Filepath = sourcePath
	book.Size = int64(len(raw))
	return book, nil
}

func extractFB2(raw []byte) (*models.Book, error) {
	mtype := mimetype.Detect(raw)
	if !descendsFrom(mtype, "text/xml", "text/plain") {
		return nil, errors.Wrapf(ErrInvalid, "fb2 content detected as %s", mtype.String())
	}

	md, err := fb2.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(ErrInvalid, err.Error())
	}
	if md.Title == "" {
		return nil, errors.Wrap(ErrInvalid, "fb2 has no book-title")
	}
	if len(md.Authors) == 0 {
		return nil, errors.Wrap(ErrInvalid, "fb2 has no author")
	}

	return &models.Book{
		Title:        md.Title,
		Authors:      md.Authors,
		Series:       md.Series,
		SeriesNumber: md.SeriesNumber,
		Genres:       md.Genres,
		Language:     md.Language,
		Annotation:   md.Annotation,
		HasCover:     md.CoverID != "",
	}, nil
}

func extractZippedFB2(raw []byte) (*models.Book, error) {
	inner, err := UnzipFB2(raw)
	if err != nil {
		return nil, err
	}
	return extractFB2(inner)
}

// UnzipFB2 returns the first .fb2 entry of a zip archive.
func UnzipFB2(raw []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, errors.Wrap(ErrInvalid, err.Error())
	}
	for _, f := range zr.File {
		if !strings.EqualFold(path.Ext(f.Name), ".fb2") {
			continue
		}
		if f.UncompressedSize64 > maxZippedFB2 {
			return nil, errors.Wrapf(ErrSkipped, "zipped fb2 is %d bytes", f.UncompressedSize64)
		}
		r, err := f.Open()
		if err != nil {
			return nil, errors.Wrap(ErrInvalid, err.Error())
		}
		b, err := io.ReadAll(io.LimitReader(r, maxZippedFB2))
		r.Close()
		if err != nil {
			return nil, errors.Wrap(ErrInvalid, err.Error())
		}
		return b, nil
	}
	return nil, errors.Wrap(ErrInvalid, "zip has no fb2 entry")
}

func extractEPUB(raw []byte) (*models.Book, error) {
	mtype := mimetype.Detect(raw)
	if !descendsFrom(mtype, "application/zip") {
		return nil, errors.Wrapf(ErrInvalid, "epub content detected as %s", mtype.String())
	}

	opf, err := epub.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(ErrInvalid, err.Error())
	}
	if opf.Title == "" {
		return nil, errors.Wrap(ErrInvalid, "epub has no title")
	}
	if len(opf.Authors) == 0 {
		return nil, errors.Wrap(ErrInvalid, "epub has no author")
	}

	return &models.Book{
		Title:        opf.Title,
		Authors:      opf.Authors,
		Series:       opf.Series,
		SeriesNumber: opf.SeriesNumber,
		Genres:       opf.Subjects,
		Language:     opf.Language,
		Annotation:   opf.Description,
		HasCover:     opf.CoverFilepath != "",
	}, nil
}

// descendsFrom walks the detected type's parents. FictionBook is detected as
// its own type with text/xml as parent, EPUB likewise under application/zip.
func descendsFrom(mtype *mimetype.MIME, ancestors ...string) bool {
	for m := mtype; m != nil; m = m.Parent() {
		for _, a := range ancestors {
			if m.Is(a) {
				return true
			}
		}
	}
	return false
}

// Cover returns the embedded cover of a book file, or nil data when the book
// has none.
func Cover(raw []byte, sourcePath string) ([]byte, string, error) {
	switch models.FormatFromPath(sourcePath) {
	case models.FormatFB2:
		if models.IsZippedFB2(sourcePath) {
			inner, err := UnzipFB2(raw)
			if err != nil {
				return nil, "", err
			}
			raw = inner
		}
		return fb2.Cover(raw)
	case models.FormatEPUB:
		return epub.Cover(raw)
	default:
		return nil, "", errors.Wrapf(ErrUnsupportedFormat, "%s", path.Base(sourcePath))
	}
}

// Kind names the failure class of an extraction error for counters and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported"
	case errors.Is(err, ErrSkipped):
		return "skipped"
	default:
		return "invalid"
	}
}
