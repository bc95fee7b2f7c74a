package db

import (
	"testing"

	"chatrelay/internal/models"
)

func TestConnect_SQLiteMemory(t *testing.T) {
	gdb, err := Connect("sqlite::memory:")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := Migrate(gdb); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	for _, m := range []interface{}{&models.User{}, &models.Message{}, &models.Reaction{}, &models.RefreshToken{}} {
		if !gdb.Migrator().HasTable(m) {
			t.Errorf("Migrate() missing table for %T", m)
		}
	}
	if !gdb.Migrator().HasIndex(&models.Reaction{}, "idx_reaction_unique") {
		t.Error("Migrate() missing idx_reaction_unique")
	}
}

func TestDialector(t *testing.T) {
	tests := []struct {
		name       string
		dsn        string
		wantSQLite bool
	}{
		{"sqlite file", "sqlite:chat.db", true},
		{"sqlite memory", "sqlite::memory:", true},
		{"postgres keyword dsn", "host=localhost user=postgres dbname=chat", false},
		{"postgres url", "postgres://u:p@localhost/chat", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got := dialector(tt.dsn)
			if got != tt.wantSQLite {
				t.Errorf("dialector(%q) sqlite = %v, want %v", tt.dsn, got, tt.wantSQLite)
			}
		})
	}
}
