package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMigrationNamesSorted(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatalf("migrationNames() error: %v", err)
	}
	if len(names) == 0 {
		t.Fatal("Expected at least one embedded migration")
	}
	if names[0] != "001_schema.sql" {
		t.Errorf("Expected first migration 001_schema.sql, got %s", names[0])
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("Expected sorted migrations, got %v", names)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505"}
	if !IsUniqueViolation(fmt.Errorf("insert: %w", dup)) {
		t.Error("Expected wrapped 23505 to be a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("Expected foreign key violation not to match")
	}
	if IsUniqueViolation(errors.New("boom")) {
		t.Error("Expected plain error not to match")
	}
}
