package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`
			CREATE TABLE books (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				authors TEXT NOT NULL,
				series TEXT,
				series_number INTEGER,
				genres TEXT NOT NULL,
				language TEXT,
				format TEXT NOT NULL,
				filepath TEXT NOT NULL,
				size INTEGER NOT NULL,
				annotation TEXT,
				has_cover BOOLEAN NOT NULL DEFAULT FALSE,
				added_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_books_filepath ON books (filepath)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_books_added_at ON books (added_at)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE genres (
				tag TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				translation TEXT NOT NULL,
				parent_tag TEXT,
				position INTEGER NOT NULL
			)
`)
		return errors.WithStack(err)
	}

	down := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec("DROP TABLE IF EXISTS genres")
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec("DROP TABLE IF EXISTS books")
		return errors.WithStack(err)
	}

	Migrations.MustRegister(up, down)
}
