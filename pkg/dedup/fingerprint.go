// Package dedup derives the content fingerprint that identifies a book. The
// fingerprint never includes the file path, so a moved or renamed file keeps
// its identity.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/shelfopds/shelfopds/pkg/models"
	"golang.org/x/text/unicode/norm"
)

// Fingerprint represents the fields that decide whether two files hold the
// same book.
type Fingerprint struct {
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
	Size    int64    `json:"size"`
}

// Index is the part of the library the duplicate test needs.
type Index interface {
	Contains(id string) bool
}

// ComputeFingerprint normalizes the identifying fields of book.
func ComputeFingerprint(book *models.Book) *Fingerprint {
	fp := &Fingerprint{
		Title:   Normalize(book.Title),
		Authors: make([]string, 0, len(book.Authors)),
		Size:    book.Size,
	}
	for _, a := range book.Authors {
		if n := Normalize(a); n != "" {
			fp.Authors = append(fp.Authors, n)
		}
	}
	return fp
}

// Hash computes a SHA256 hash of the fingerprint.
func (fp *Fingerprint) Hash() (string, error) {
	data, err := json.Marshal(fp)
	if err != nil {
		return "", errors.WithStack(err)
	}

	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Key returns the hex fingerprint of book.
func Key(book *models.Book) (string, error) {
	return ComputeFingerprint(book).Hash()
}

// IsDuplicate reports whether a book with this key is already indexed.
func IsDuplicate(key string, idx Index) bool {
	return idx.Contains(key)
}

// Normalize applies NFKC, lower-cases and collapses whitespace. Ё folds
// into Е, since the two are used interchangeably in Russian titles.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "ё", "е")
	return strings.Join(strings.Fields(s), " ")
}
