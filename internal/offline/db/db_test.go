package db

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/motogarage/garage/internal/offline/kv"
)

// testDBPath returns a temporary path for test databases
func testDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestOpen_Success tests successful database creation and initialization
func TestOpen_Success(t *testing.T) {
	path := testDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}

	var count int
	err = db.RawDB().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='kv'`).Scan(&count)
	if err != nil {
		t.Fatalf("failed to query sqlite_master: %v", err)
	}
	if count != 1 {
		t.Error("kv table does not exist")
	}
}

// TestOpen_CreatesDirectory tests that missing parent directories are created
func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "garage.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()
}

// TestInitSchema_Idempotent tests that schema initialization is idempotent
func TestInitSchema_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := db.InitSchema(); err != nil {
		t.Fatalf("First InitSchema() failed: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}
}

func TestGetSet(t *testing.T) {
	db := openTestDB(t)

	if _, ok, err := db.Get(kv.KeyQueue); err != nil || ok {
		t.Fatalf("Get(missing) = ok=%v err=%v, want ok=false err=nil", ok, err)
	}

	tests := []struct {
		name  string
		key   string
		value []byte
	}{
		{"queue", kv.KeyQueue, []byte(`[]`)},
		{"snapshot", kv.SnapshotKey("job"), []byte(`[{"id":"job-1"}]`)},
		{"overwrite", kv.KeyQueue, []byte(`[{"id":"m1"}]`)},
		{"empty", kv.KeyAliases, []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := db.Set(tt.key, tt.value); err != nil {
				t.Fatalf("Set() failed: %v", err)
			}
			got, ok, err := db.Get(tt.key)
			if err != nil {
				t.Fatalf("Get() failed: %v", err)
			}
			if !ok {
				t.Fatal("Get() ok = false, want true")
			}
			if !bytes.Equal(got, tt.value) {
				t.Errorf("Get() = %q, want %q", got, tt.value)
			}
		})
	}
}

func TestSetNilStoresEmpty(t *testing.T) {
	db := openTestDB(t)

	if err := db.Set("k", nil); err != nil {
		t.Fatalf("Set(nil) failed: %v", err)
	}
	got, ok, err := db.Get("k")
	if err != nil || !ok {
		t.Fatalf("Get() = ok=%v err=%v", ok, err)
	}
	if len(got) != 0 {
		t.Errorf("Get() = %q, want empty", got)
	}
}

// TestReopen verifies values survive a close/open cycle.
func TestReopen(t *testing.T) {
	path := testDBPath(t)

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := db.Set(kv.KeyQueue, []byte(`["persisted"]`)); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()

	got, ok, err := db.Get(kv.KeyQueue)
	if err != nil || !ok {
		t.Fatalf("Get() after reopen = ok=%v err=%v", ok, err)
	}
	if string(got) != `["persisted"]` {
		t.Errorf("Get() after reopen = %q", got)
	}
}

func TestClosed(t *testing.T) {
	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}

	if _, _, err := db.Get("k"); !errors.Is(err, kv.ErrClosed) {
		t.Errorf("Get() after close = %v, want ErrClosed", err)
	}
	if err := db.Set("k", []byte("v")); !errors.Is(err, kv.ErrClosed) {
		t.Errorf("Set() after close = %v, want ErrClosed", err)
	}
}

func TestListKeys(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, k := range []string{kv.SnapshotKey("job"), kv.KeyQueue, kv.KeyAliases} {
		if err := db.SetContext(ctx, k, []byte("1234")); err != nil {
			t.Fatalf("SetContext(%s) failed: %v", k, err)
		}
	}

	keys, err := db.ListKeys(ctx)
	if err != nil {
		t.Fatalf("ListKeys() failed: %v", err)
	}
	want := []string{kv.KeyAliases, kv.KeyQueue, kv.SnapshotKey("job")}
	if len(keys) != len(want) {
		t.Fatalf("ListKeys() returned %d keys, want %d", len(keys), len(want))
	}
	for i, k := range keys {
		if k.Key != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, k.Key, want[i])
		}
		if k.Size != 4 {
			t.Errorf("keys[%d].Size = %d, want 4", i, k.Size)
		}
		if k.UpdatedAt.IsZero() {
			t.Errorf("keys[%d].UpdatedAt is zero", i)
		}
	}
}
