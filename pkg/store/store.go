// Package store persists the library in SQLite through bun.
package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shelfopds/shelfopds/pkg/database"
	"github.com/shelfopds/shelfopds/pkg/genres"
	"github.com/shelfopds/shelfopds/pkg/migrations"
	"github.com/shelfopds/shelfopds/pkg/models"
	"github.com/uptrace/bun"
)

type Store struct {
	db         *bun.DB
	maxRetries int
}

func New(db *bun.DB, maxRetries int) *Store {
	return &Store{db: db, maxRetries: maxRetries}
}

// Initialize brings the schema up to date. Nothing else works without it,
// so callers treat a failure as fatal.
func (s *Store) Initialize(ctx context.Context) error {
	group, err := migrations.BringUpToDate(ctx, s.db)
	if err != nil {
		return errors.Wrap(err, "failed to migrate database")
	}
	if group != nil && !group.IsZero() {
		logger.FromContext(ctx).Info("applied migrations", logger.Data{"group": group.String()})
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, book *models.Book) (bool, error) {
	row, err := toRow(book)
	if err != nil {
		return false, err
	}

	var inserted bool
	err = database.Retry(ctx, s.maxRetries, func() error {
		var innerErr error
		inserted, innerErr = insertRow(ctx, s.db, row)
		return innerErr
	})
	return inserted, err
}

func (s *Store) BatchUpsert(ctx context.Context, books []*models.Book) ([]bool, error) {
	rows := make([]*bookRow, len(books))
	for i, b := range books {
		row, err := toRow(b)
		if err != nil {
			return nil, err
		}
		rows[i] = row
	}

	var inserted []bool
	err := database.Retry(ctx, s.maxRetries, func() error {
		inserted = make([]bool, len(rows))
		return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			for i, row := range rows {
				ok, err := insertRow(ctx, tx, row)
				if err != nil {
					return err
				}
				inserted[i] = ok
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

func insertRow(ctx context.Context, db bun.IDB, row *bookRow) (bool, error) {
	res, err := db.NewInsert().
		Model(row).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, errors.WithStack(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.WithStack(err)
	}
	return n == 1, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return database.Retry(ctx, s.maxRetries, func() error {
		_, err := s.db.NewDelete().
			Model((*bookRow)(nil)).
			Where("id = ?", id).
			Exec(ctx)
		return errors.WithStack(err)
	})
}

func (s *Store) LoadAll(ctx context.Context) ([]*models.Book, error) {
	var rows []*bookRow
	err := s.db.NewSelect().
		Model(&rows).
		Order("added_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	books := make([]*models.Book, 0, len(rows))
	for _, row := range rows {
		b, err := row.toBook()
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, nil
}

func (s *Store) ClearDatabase(ctx context.Context, preserveGenres bool) error {
	return database.Retry(ctx, s.maxRetries, func() error {
		return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if _, err := tx.NewDelete().Model((*bookRow)(nil)).Where("1 = 1").Exec(ctx); err != nil {
				return errors.WithStack(err)
			}
			if preserveGenres {
				return nil
			}
			_, err := tx.NewDelete().Model((*genreRow)(nil)).Where("1 = 1").Exec(ctx)
			return errors.WithStack(err)
		})
	})
}

func (s *Store) ClearDownloadHistory(ctx context.Context) error {
	return database.Retry(ctx, s.maxRetries, func() error {
		_, err := s.db.NewDelete().Model((*Download)(nil)).Where("1 = 1").Exec(ctx)
		return errors.WithStack(err)
	})
}

// RecordDownload appends a row to the download history.
func (s *Store) RecordDownload(ctx context.Context, bookID, format, client string) error {
	d := &Download{BookID: bookID, Format: format, Client: optional(client)}
	return database.Retry(ctx, s.maxRetries, func() error {
		_, err := s.db.NewInsert().Model(d).Exec(ctx)
		return errors.WithStack(err)
	})
}

// ListDownloads returns the most recent downloads first.
func (s *Store) ListDownloads(ctx context.Context, limit int) ([]*Download, error) {
	var downloads []*Download
	err := s.db.NewSelect().
		Model(&downloads).
		Order("created_at DESC", "id DESC").
		Limit(limit).
		Scan(ctx)
	return downloads, errors.WithStack(err)
}

// DownloadCount is the size of the download history.
func (s *Store) DownloadCount(ctx context.Context) (int, error) {
	n, err := s.db.NewSelect().Model((*Download)(nil)).Count(ctx)
	return n, errors.WithStack(err)
}

// SyncGenres mirrors the taxonomy into the genres table when the table is
// empty. It returns the number of rows written.
func (s *Store) SyncGenres(ctx context.Context, tax *genres.Taxonomy) (int, error) {
	existing, err := s.db.NewSelect().Model((*genreRow)(nil)).Count(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, errors.WithStack(err)
	}
	if existing > 0 {
		return 0, nil
	}

	nodes := tax.Nodes()
	rows := make([]*genreRow, 0, len(nodes))
	for _, n := range nodes {
		row := &genreRow{
			Tag:         n.Tag,
			Name:        n.Name,
			Translation: n.Translation,
			Position:    n.Index,
		}
		if !n.IsTopLevel() {
			parent := tax.At(n.Parent).Tag
			row.ParentTag = &parent
		}
		rows = append(rows, row)
	}

	err = database.Retry(ctx, s.maxRetries, func() error {
		_, err := s.db.NewInsert().Model(&rows).Exec(ctx)
		return errors.WithStack(err)
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// GenreCount is the number of rows in the genres table.
func (s *Store) GenreCount(ctx context.Context) (int, error) {
	n, err := s.db.NewSelect().Model((*genreRow)(nil)).Count(ctx)
	return n, errors.WithStack(err)
}
