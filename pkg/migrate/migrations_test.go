package migrate

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestValidateDirAcceptsShippedMigrations(t *testing.T) {
	if err := ValidateDir("migrations"); err != nil {
		t.Fatalf("shipped migrations invalid: %v", err)
	}
}

func TestEmbeddedMatchesDirectory(t *testing.T) {
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	inBinary, err := fs.Glob(embedded, "migrations/*.sql")
	if err != nil {
		t.Fatalf("glob embedded: %v", err)
	}
	if len(onDisk) == 0 || len(onDisk) != len(inBinary) {
		t.Fatalf("expected embedded set to match disk, disk=%d embedded=%d", len(onDisk), len(inBinary))
	}
}

func TestPrescriptionMigrationShape(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_prescriptions.sql"))
	if err != nil || len(matches) == 0 {
		t.Fatalf("prescriptions migration not found: %v", err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	for _, sub := range []string{
		"CREATE TYPE prescription_status AS ENUM ('uploaded', 'pending', 'verified', 'rejected')",
		"audit_trail jsonb",
		"idx_prescriptions_owner_created",
		"DROP TABLE IF EXISTS prescriptions",
	} {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestValidateEmbedded(t *testing.T) {
	if err := ValidateDir(EmbeddedDir); err != nil {
		t.Fatalf("embedded migrations invalid: %v", err)
	}
}

func TestValidateDirRejectsBadFiles(t *testing.T) {
	cases := map[string]string{
		"no markers":    "SELECT 1;",
		"bad filename!": "-- +goose Up\n-- +goose Down\n",
	}
	for label, body := range cases {
		dir := t.TempDir()
		name := "20260301000000_broken.sql"
		if label == "bad filename!" {
			name = "broken.sql"
		}
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := ValidateDir(dir); err == nil {
			t.Fatalf("%s: expected validation error", label)
		}
	}

	dir := t.TempDir()
	for _, name := range []string{"20260301000000_a.sql", "20260301000000_b.sql"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := ValidateDir(dir); err == nil || !strings.Contains(err.Error(), "share version") {
		t.Fatalf("expected duplicate version error, got %v", err)
	}
}

func TestCreateRefusesExistingVersion(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first, err := createAt(dir, "ocr index", now)
	if err != nil {
		t.Fatalf("createAt: %v", err)
	}
	if filepath.Base(first) != "20260301120000_ocr_index.sql" {
		t.Fatalf("unexpected name %q", first)
	}
	if _, err := createAt(dir, "ocr index", now); err == nil {
		t.Fatal("expected existing migration error")
	}
	if _, err := createAt(dir, "!!!", now); err == nil {
		t.Fatal("expected empty slug error")
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	path, err := CreateSQLMigration(dir, "Add OCR Index!")
	if err != nil {
		t.Fatalf("CreateSQLMigration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_ocr_index.sql") {
		t.Fatalf("unexpected filename %q", path)
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
}
