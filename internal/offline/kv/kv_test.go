package kv

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	files, err := OpenFiles(filepath.Join(t.TempDir(), "kv"))
	if err != nil {
		t.Fatalf("OpenFiles() failed: %v", err)
	}
	return map[string]Store{
		"memory": NewMemory(),
		"files":  files,
	}
}

func TestStore_GetSet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer s.Close()

			if _, ok, err := s.Get(KeyQueue); err != nil || ok {
				t.Fatalf("Get() on empty store = ok %v, err %v", ok, err)
			}

			if err := s.Set(KeyQueue, []byte(`[1]`)); err != nil {
				t.Fatalf("Set() failed: %v", err)
			}
			if err := s.Set(SnapshotKey("job"), []byte(`[]`)); err != nil {
				t.Fatalf("Set() snapshot failed: %v", err)
			}
			if err := s.Set(KeyQueue, []byte(`[1,2]`)); err != nil {
				t.Fatalf("Set() overwrite failed: %v", err)
			}

			got, ok, err := s.Get(KeyQueue)
			if err != nil || !ok {
				t.Fatalf("Get() = ok %v, err %v", ok, err)
			}
			if string(got) != `[1,2]` {
				t.Errorf("Get() = %s, want [1,2]", got)
			}

			snap, ok, err := s.Get(SnapshotKey("job"))
			if err != nil || !ok || string(snap) != `[]` {
				t.Errorf("Get(snapshot) = %s, %v, %v", snap, ok, err)
			}
		})
	}
}

func TestStore_Closed(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Close(); err != nil {
				t.Fatalf("Close() failed: %v", err)
			}
			if err := s.Close(); err != nil {
				t.Errorf("second Close() failed: %v", err)
			}
			if err := s.Set("k", nil); !errors.Is(err, ErrClosed) {
				t.Errorf("Set() after Close = %v, want ErrClosed", err)
			}
			if _, _, err := s.Get("k"); !errors.Is(err, ErrClosed) {
				t.Errorf("Get() after Close = %v, want ErrClosed", err)
			}
		})
	}
}

func TestMemory_CopiesValues(t *testing.T) {
	m := NewMemory()
	buf := []byte("abc")
	if err := m.Set("k", buf); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	buf[0] = 'x'

	got, _, _ := m.Get("k")
	if string(got) != "abc" {
		t.Errorf("stored value aliased caller buffer: %s", got)
	}
	got[0] = 'y'
	again, _, _ := m.Get("k")
	if string(again) != "abc" {
		t.Errorf("returned value aliased stored buffer: %s", again)
	}
}

func TestFiles_SurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "kv")

	f, err := OpenFiles(dir)
	if err != nil {
		t.Fatalf("OpenFiles() failed: %v", err)
	}
	if err := f.Set(SnapshotKey("bike"), []byte(`[{"id":"b1"}]`)); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	f.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 file, got %d", len(entries))
	}

	reopened, err := OpenFiles(dir)
	if err != nil {
		t.Fatalf("OpenFiles() reopen failed: %v", err)
	}
	defer reopened.Close()

	got, ok, err := reopened.Get(SnapshotKey("bike"))
	if err != nil || !ok || string(got) != `[{"id":"b1"}]` {
		t.Errorf("Get() after reopen = %s, %v, %v", got, ok, err)
	}
}

func TestOpenFiles_EmptyDir(t *testing.T) {
	if _, err := OpenFiles(""); err == nil {
		t.Error("OpenFiles(\"\") should fail")
	}
}
