// Package dbschema carries the embedded migrations for the banking
// schema: clients, cards, loans, transactions and the card number
// sequence. Versions are applied in order by darwin and never edited
// once shipped.
package dbschema

import (
	"database/sql"
	_ "embed" // Used to embed sql files.
	"fmt"

	"github.com/ardanlabs/darwin/v3"
	"github.com/ardanlabs/darwin/v3/dialects/postgres"
	"github.com/ardanlabs/darwin/v3/drivers/generic"
)

//go:embed sql/migrations.sql
var migrationsDoc string

// Migrate brings the database up to the latest schema version. It is
// safe to call on every start.
func Migrate(db *sql.DB) error {
	driver, err := generic.New(db, postgres.Dialect{})
	if err != nil {
		return fmt.Errorf("construct darwin driver: %w", err)
	}

	d := darwin.New(driver, darwin.ParseMigrations(migrationsDoc))
	if err := d.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	return nil
}
