package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/neaweb/authcore/store/postgres/migrations"
)

// gooseUpContext and friends are seams for tests.
var (
	gooseUpContext     = goose.UpContext
	gooseDownContext   = goose.DownContext
	gooseStatusContext = goose.StatusContext
)

// Migrate applies, rolls back or reports the embedded schema migrations.
// direction is "up", "down" or "status".
func Migrate(ctx context.Context, dsn, direction string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	return migrateDB(ctx, db, direction)
}

func migrateDB(ctx context.Context, db *sql.DB, direction string) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	switch direction {
	case "", "up":
		return gooseUpContext(ctx, db, ".")
	case "down":
		return gooseDownContext(ctx, db, ".")
	case "status":
		return gooseStatusContext(ctx, db, ".")
	default:
		return fmt.Errorf("unknown migration direction %q", direction)
	}
}
