package db

import (
	"context"
	"testing"
	"testing/fstest"
	"time"
)

func TestLoad_SortsByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"010_reporting.sql": {Data: []byte("SELECT 10;")},
		"002_takehome.sql":  {Data: []byte("SELECT 2;")},
		"001_core.sql":      {Data: []byte("CREATE TABLE patients (id BIGSERIAL PRIMARY KEY);")},
		"005_inventory.sql": {Data: []byte("SELECT 5;")},
	}

	migrations, err := NewMigrator(nil, fsys).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(migrations) != 4 {
		t.Fatalf("expected 4 migrations, got %d", len(migrations))
	}
	want := []int{1, 2, 5, 10}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Errorf("migration[%d]: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
	if migrations[0].Name != "001_core.sql" {
		t.Errorf("expected name 001_core.sql, got %s", migrations[0].Name)
	}
	if migrations[0].SQL != "CREATE TABLE patients (id BIGSERIAL PRIMARY KEY);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
}

func TestLoad_SkipsUnversionedFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"001_valid.sql":      {Data: []byte("SELECT 1;")},
		"readme.sql":         {Data: []byte("-- no version prefix")},
		"notes.txt":          {Data: []byte("not sql")},
		"abc_invalid.sql":    {Data: []byte("-- non-numeric prefix")},
		"002_also_valid.sql": {Data: []byte("SELECT 2;")},
		"sub/003_nested.sql": {Data: []byte("SELECT 3;")},
	}

	migrations, err := NewMigrator(nil, fsys).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 valid migrations, got %d", len(migrations))
	}
}

func TestLoad_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"001_core.sql":  {Data: []byte("SELECT 1;")},
		"001_other.sql": {Data: []byte("SELECT 1;")},
	}
	if _, err := NewMigrator(nil, fsys).Load(); err == nil {
		t.Error("expected error for duplicate migration version")
	}
}

func TestLoad_Empty(t *testing.T) {
	migrations, err := NewMigrator(nil, fstest.MapFS{}).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected 0 migrations, got %d", len(migrations))
	}
}

func TestPendingAndStatus(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "001_core.sql"},
		{Version: 2, Name: "002_takehome.sql"},
		{Version: 3, Name: "003_dosing.sql"},
	}
	appliedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	done := map[int]time.Time{1: appliedAt}

	p := pending(migrations, done)
	if len(p) != 2 || p[0].Version != 2 || p[1].Version != 3 {
		t.Fatalf("unexpected pending set: %+v", p)
	}

	statuses := buildStatus(migrations, done)
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}
	if !statuses[0].Applied || statuses[0].AppliedAt == nil || !statuses[0].AppliedAt.Equal(appliedAt) {
		t.Errorf("expected migration 001 applied at %v, got %+v", appliedAt, statuses[0])
	}
	if statuses[1].Applied || statuses[1].AppliedAt != nil {
		t.Error("expected migration 002 to be pending")
	}
}

func TestUp_RejectsInvalidSchema(t *testing.T) {
	m := NewMigrator(nil, fstest.MapFS{})
	if _, err := m.Up(context.Background(), "tenant-x; DROP"); err == nil {
		t.Error("expected error for invalid schema name")
	}
	if _, err := m.Status(context.Background(), "a.b"); err == nil {
		t.Error("expected error for invalid schema name")
	}
}
