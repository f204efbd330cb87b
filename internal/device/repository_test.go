package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the devices table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// Each connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE devices (
			id          TEXT PRIMARY KEY,
			mac         TEXT NOT NULL UNIQUE,
			kind        TEXT NOT NULL CHECK (kind IN ('plug', 'sensor')),
			name        TEXT NOT NULL DEFAULT '',
			host        TEXT NOT NULL DEFAULT '',
			port        INTEGER NOT NULL DEFAULT 0,
			role        TEXT NOT NULL DEFAULT '',
			online      INTEGER NOT NULL DEFAULT 0,
			last_seen   TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func testPlug(id, mac string) *Device {
	return &Device{
		ID:   id,
		MAC:  mac,
		Kind: KindPlug,
		Name: "Powersensor Plug " + mac,
		Host: "192.168.1.20",
		Port: 49476,
	}
}

func TestSQLiteRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t))

	seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := testPlug("id-1", "aabbccddeeff")
	d.Online = true
	d.LastSeen = &seen
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if d.CreatedAt.IsZero() || d.UpdatedAt.IsZero() {
		t.Error("Create() did not set timestamps")
	}

	got, err := repo.GetByID(ctx, "id-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.MAC != d.MAC || got.Kind != KindPlug || got.Host != d.Host || got.Port != d.Port || !got.Online {
		t.Errorf("GetByID() = %+v", got)
	}
	if got.LastSeen == nil || !got.LastSeen.Equal(seen) {
		t.Errorf("LastSeen = %v, want %v", got.LastSeen, seen)
	}

	byMAC, err := repo.GetByMAC(ctx, "aabbccddeeff")
	if err != nil || byMAC.ID != "id-1" {
		t.Errorf("GetByMAC() = %v, %v", byMAC, err)
	}
}

func TestSQLiteRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t))

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID() error = %v, want ErrDeviceNotFound", err)
	}
	if _, err := repo.GetByMAC(ctx, "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByMAC() error = %v, want ErrDeviceNotFound", err)
	}
	if err := repo.Update(ctx, testPlug("missing", "aa")); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Update() error = %v, want ErrDeviceNotFound", err)
	}
	if err := repo.Delete(ctx, "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Delete() error = %v, want ErrDeviceNotFound", err)
	}
	if err := repo.SetOnline(ctx, "missing", true, time.Now()); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetOnline() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_DuplicateMAC(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t))

	if err := repo.Create(ctx, testPlug("id-1", "aa")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Create(ctx, testPlug("id-2", "aa")); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("Create(duplicate mac) error = %v, want ErrDeviceExists", err)
	}
}

func TestSQLiteRepository_UpdateAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t))

	for _, d := range []*Device{
		testPlug("id-2", "bb"),
		testPlug("id-1", "aa"),
		{ID: "id-3", MAC: "cc", Kind: KindSensor, Role: "solar"},
	} {
		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create(%s) error = %v", d.MAC, err)
		}
	}

	d, _ := repo.GetByMAC(ctx, "aa")
	d.Host = "10.0.0.9"
	d.Port = 50000
	if err := repo.Update(ctx, d); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 || all[0].MAC != "aa" || all[2].MAC != "cc" {
		t.Fatalf("List() = %+v", all)
	}
	if all[0].Host != "10.0.0.9" || all[0].Port != 50000 {
		t.Errorf("updated plug = %+v", all[0])
	}

	sensors, err := repo.ListByKind(ctx, KindSensor)
	if err != nil || len(sensors) != 1 || sensors[0].Role != "solar" {
		t.Errorf("ListByKind(sensor) = %+v, %v", sensors, err)
	}
}

func TestSQLiteRepository_SetOnlineAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t))

	d := testPlug("id-1", "aa")
	d.Online = true
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	seen := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	if err := repo.SetOnline(ctx, "id-1", false, seen); err != nil {
		t.Fatalf("SetOnline() error = %v", err)
	}
	got, _ := repo.GetByID(ctx, "id-1")
	if got.Online || got.LastSeen == nil || !got.LastSeen.Equal(seen) {
		t.Errorf("after SetOnline: online=%v last_seen=%v", got.Online, got.LastSeen)
	}

	if err := repo.Delete(ctx, "id-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetByID(ctx, "id-1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID() after delete error = %v", err)
	}
}
