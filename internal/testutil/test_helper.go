// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
)

func ProjectRoot() string {
	_, file, _, _ := runtime.Caller(0)
	root := filepath.Join(filepath.Dir(file), "../../")
	return root
}

// Logger discards output unless TEST_LOG is set.
func Logger() *slog.Logger {
	if os.Getenv("TEST_LOG") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// DbInit connects to TEST_DB_URL and migrates a clean schema. Tests are
// skipped when no test database is configured.
func DbInit(t testing.TB) (*pgxpool.Pool, *sql.DB, string) {
	t.Helper()

	root := ProjectRoot()
	_ = godotenv.Load(filepath.Join(root, ".env"))

	testURL := os.Getenv("TEST_DB_URL")
	if testURL == "" {
		t.Skip("TEST_DB_URL environment variable is not set")
	}

	migDir := filepath.Join(root, "sql", "schema")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	dbPool, err := pgxpool.New(ctx, testURL)
	if err != nil {
		t.Fatalf("could not connect to the postgresql database: %v", err)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		t.Fatalf("goose.SetDialect() error = %+v", err)
	}
	goose.SetBaseFS(nil)

	dbForGoose := stdlib.OpenDBFromPool(dbPool)
	if err := goose.Reset(dbForGoose, migDir); err != nil {
		dbForGoose.Close()
		t.Fatalf("goose.Reset() error = %+v", err)
	}

	DbGooseUp(t, dbForGoose, migDir)
	t.Cleanup(func() { DbCleanup(t, dbPool, dbForGoose, migDir) })

	return dbPool, dbForGoose, migDir
}

func DbGooseUp(t testing.TB, dbForGoose *sql.DB, migDir string) {
	t.Helper()
	if err := goose.Up(dbForGoose, migDir); err != nil {
		dbForGoose.Close()
		t.Fatalf("goose.Up() error = %+v", err)
	}
}

func DbCleanup(t testing.TB, db *pgxpool.Pool, dbForGoose *sql.DB, migDir string) {
	if err := goose.Reset(dbForGoose, migDir); err != nil {
		t.Errorf("goose.Reset() error = %+v", err)
	}
	if err := dbForGoose.Close(); err != nil {
		t.Errorf("db.Close() error = %+v", err)
	}
	db.Close()
}
