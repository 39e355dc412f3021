package store

import (
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/shelfopds/shelfopds/pkg/models"
	"github.com/uptrace/bun"
)

type bookRow struct {
	bun.BaseModel `bun:"table:books,alias:b"`

	ID           string `bun:",pk"`
	Title        string `bun:",notnull"`
	Authors      string `bun:",notnull"`
	Series       *string
	SeriesNumber *int
	Genres       string `bun:",notnull"`
	Language     *string
	Format       string `bun:",notnull"`
	Filepath     string `bun:",notnull"`
	Size         int64  `bun:",notnull"`
	Annotation   *string
	HasCover     bool      `bun:",notnull"`
	AddedAt      time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

type genreRow struct {
	bun.BaseModel `bun:"table:genres,alias:g"`

	Tag         string `bun:",pk"`
	Name        string `bun:",notnull"`
	Translation string `bun:",notnull"`
	ParentTag   *string
	Position    int `bun:",notnull"`
}

// Download is one recorded book download.
type Download struct {
	bun.BaseModel `bun:"table:downloads,alias:d"`

	ID        int       `bun:",pk,autoincrement" json:"id"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"created_at"`
	BookID    string    `bun:",notnull" json:"book_id"`
	Format    string    `bun:",notnull" json:"format"`
	Client    *string   `json:"client,omitempty"`
}

func toRow(b *models.Book) (*bookRow, error) {
	authors, err := json.Marshal(nonNil(b.Authors))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	genres, err := json.Marshal(nonNil(b.Genres))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &bookRow{
		ID:           b.ID,
		Title:        b.Title,
		Authors:      string(authors),
		Series:       optional(b.Series),
		SeriesNumber: b.SeriesNumber,
		Genres:       string(genres),
		Language:     optional(b.Language),
		Format:       b.Format,
		Filepath:     b.Filepath,
		Size:         b.Size,
		Annotation:   optional(b.Annotation),
		HasCover:     b.HasCover,
		AddedAt:      b.AddedAt,
	}, nil
}

func (r *bookRow) toBook() (*models.Book, error) {
	b := &models.Book{
		ID:           r.ID,
		Title:        r.Title,
		SeriesNumber: r.SeriesNumber,
		Format:       r.Format,
		Filepath:     r.Filepath,
		Size:         r.Size,
		HasCover:     r.HasCover,
		AddedAt:      r.AddedAt,
	}
	if r.Series != nil {
		b.Series = *r.Series
	}
	if r.Language != nil {
		b.Language = *r.Language
	}
	if r.Annotation != nil {
		b.Annotation = *r.Annotation
	}
	if err := json.Unmarshal([]byte(r.Authors), &b.Authors); err != nil {
		return nil, errors.Wrapf(err, "book %s has malformed authors", r.ID)
	}
	if err := json.Unmarshal([]byte(r.Genres), &b.Genres); err != nil {
		return nil, errors.Wrapf(err, "book %s has malformed genres", r.ID)
	}
	return b, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
