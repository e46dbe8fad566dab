// Package migrate applies embedded SQL migrations.
package migrate

import (
	"context"
	"database/sql"
	"io"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/and161185/leaseflow/migrations"
)

func open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Up runs all pending migrations from the embedded filesystem.
func Up(ctx context.Context, dsn string) error {
	db, err := open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	return goose.UpContext(ctx, db, ".")
}

// Status writes the applied/pending state of every migration to w.
func Status(ctx context.Context, dsn string, w io.Writer) error {
	db, err := open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	migs, err := goose.CollectMigrations(".", 0, goose.MaxVersion)
	if err != nil {
		return err
	}
	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return err
	}
	for _, m := range migs {
		state := "pending"
		if m.Version <= current {
			state = "applied"
		}
		if _, err := io.WriteString(w, state+"\t"+m.Source+"\n"); err != nil {
			return err
		}
	}
	return nil
}
