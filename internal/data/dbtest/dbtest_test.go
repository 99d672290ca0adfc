package dbtest

import (
	"context"
	"testing"

	db "bankbot/internal/data/dbsql/pgx"
)

func TestNewUnit(t *testing.T) {
	ctx := context.Background()
	log, database, teardown := NewUnit(t, WithMigrations())
	t.Cleanup(teardown)
	log.Info("Hello")

	if err := db.StatusCheck(ctx, database); err != nil {
		t.Fatal(err)
	}
}
