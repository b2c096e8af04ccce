package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aadegtyarev/go2wb/internal/infrastructure/config"
)

// shippedMigrations is the schema embedded into the binary.
var shippedMigrations = os.DirFS(filepath.Join("..", "..", "..", "migrations"))

func TestOpen(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("Open() expected error for empty path")
	}

	dbPath := filepath.Join(t.TempDir(), "var", "go2wb", "journal.db")
	db, err := Open(Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file: %v", err)
	}
	if db.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	tests := []struct {
		name        string
		wal         bool
		busyTimeout int
		wantMode    string
	}{
		{"wal", true, 5, "wal"},
		{"rollback journal", false, 2, "delete"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := Open(Config{
				Path:        filepath.Join(t.TempDir(), "journal.db"),
				WALMode:     tt.wal,
				BusyTimeout: tt.busyTimeout,
			})
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer db.Close() //nolint:errcheck // Test cleanup

			ctx := context.Background()
			var mode string
			if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
				t.Fatalf("journal_mode: %v", err)
			}
			if mode != tt.wantMode {
				t.Errorf("journal_mode = %q, want %q", mode, tt.wantMode)
			}

			var timeout int
			if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout); err != nil {
				t.Fatalf("busy_timeout: %v", err)
			}
			if timeout != tt.busyTimeout*msPerSecond {
				t.Errorf("busy_timeout = %d, want %d", timeout, tt.busyTimeout*msPerSecond)
			}
		})
	}
}

func TestControlHistorySchema(t *testing.T) {
	db := migratedTestDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx,
		"INSERT INTO control_history (device, control, value) VALUES (?, ?, ?)",
		"wb-msw_1", "Temperature", "21.5",
	); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var kind, source, createdAt string
	err := db.QueryRowContext(ctx,
		"SELECT kind, source, created_at FROM control_history WHERE device = ? AND control = ?",
		"wb-msw_1", "Temperature",
	).Scan(&kind, &source, &createdAt)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if kind != "unknown" || source != "mqtt" {
		t.Errorf("defaults kind=%q source=%q, want unknown/mqtt", kind, source)
	}
	if _, err := time.Parse("2006-01-02T15:04:05.000Z", createdAt); err != nil {
		t.Errorf("created_at %q is not a UTC millisecond timestamp: %v", createdAt, err)
	}

	if _, err := db.ExecContext(ctx,
		"INSERT INTO control_history (device, control) VALUES (NULL, ?)", "Temperature",
	); err == nil {
		t.Error("insert without device should fail")
	}
}

func TestBeginTx_RollbackDiscardsHistory(t *testing.T) {
	db := migratedTestDB(t)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx() error = %v", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO control_history (device, control, value) VALUES (?, ?, ?)",
		"relay", "K1", "1",
	); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM control_history").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("rows after rollback = %d, want 0", count)
	}
}

func TestExecContext_WrapsError(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	_, err := db.ExecContext(context.Background(), "INSERT INTO control_history (device) VALUES ('x')")
	if err == nil || !strings.HasPrefix(err.Error(), "executing query:") {
		t.Errorf("ExecContext() error = %v, want wrapped error", err)
	}
}

func TestHealthCheckAndClose(t *testing.T) {
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := db.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() after Close should fail")
	}

	db.DB = nil
	if err := db.Close(); err != nil {
		t.Errorf("Close() without connection error = %v", err)
	}
}

func TestConfigFrom(t *testing.T) {
	got := ConfigFrom(config.DatabaseConfig{Path: "/var/lib/go2wb/journal.db", WALMode: true, BusyTimeout: 7})
	want := Config{Path: "/var/lib/go2wb/journal.db", WALMode: true, BusyTimeout: 7}
	if got != want {
		t.Errorf("ConfigFrom() = %+v, want %+v", got, want)
	}
}

func TestStats_SingleWriter(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	if n := db.Stats().MaxOpenConnections; n != 1 {
		t.Errorf("MaxOpenConnections = %d, want 1", n)
	}
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	return db
}

// migratedTestDB opens a database with the shipped schema applied.
func migratedTestDB(t *testing.T) *DB {
	t.Helper()
	useMigrations(t, shippedMigrations)

	db := openTestDB(t)
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}
