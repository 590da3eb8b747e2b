package storage

import (
	"bytes"
	"testing"

	"github.com/kimhsiao/ledgerdesk/backend/internal/db"
	"github.com/kimhsiao/ledgerdesk/backend/internal/errors"
)

type item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func openSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("db.Open() failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	return NewSQLStore(database)
}

// TestStores_loadSaveRemove exercises every Store implementation with the
// same sequence.
func TestStores_loadSaveRemove(t *testing.T) {
	enc, err := NewEncryptedStore(NewMemoryStore(), []byte("test-key"))
	if err != nil {
		t.Fatalf("NewEncryptedStore() failed: %v", err)
	}

	stores := map[string]Store{
		"memory":    NewMemoryStore(),
		"sqlite":    openSQLStore(t),
		"encrypted": enc,
	}

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			v, err := s.Load("pending_actions")
			if err != nil || v != nil {
				t.Fatalf("Load() absent = %q, %v; want nil, nil", v, err)
			}

			if err := s.Save("pending_actions", []byte(`[{"id":"a"}]`)); err != nil {
				t.Fatalf("Save() failed: %v", err)
			}
			v, err = s.Load("pending_actions")
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if !bytes.Equal(v, []byte(`[{"id":"a"}]`)) {
				t.Errorf("Load() = %s", v)
			}

			if err := s.Remove("pending_actions"); err != nil {
				t.Fatalf("Remove() failed: %v", err)
			}
			if v, _ := s.Load("pending_actions"); v != nil {
				t.Errorf("Load() after Remove = %s", v)
			}
		})
	}
}

// TestEncryptedStore_sealsAtRest verifies the inner store never sees plaintext.
func TestEncryptedStore_sealsAtRest(t *testing.T) {
	inner := NewMemoryStore()
	s, _ := NewEncryptedStore(inner, []byte("k"))

	if err := s.Save("cache:companies", []byte(`[{"name":"Acme"}]`)); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	raw, _ := inner.Load("cache:companies")
	if bytes.Contains(raw, []byte("Acme")) {
		t.Error("inner store holds plaintext")
	}

	other, _ := NewEncryptedStore(inner, []byte("other"))
	if _, err := other.Load("cache:companies"); !errors.Is(err, errors.ErrCryptoFailed) {
		t.Errorf("Load() with wrong key error = %v, want CRYPTO_FAILED", err)
	}
}

// TestNewEncryptedStore_emptyKey verifies an empty key is rejected.
func TestNewEncryptedStore_emptyKey(t *testing.T) {
	if _, err := NewEncryptedStore(NewMemoryStore(), nil); err == nil {
		t.Error("expected error for empty key")
	}
}

// =====================================================
// Array Helper Tests
// =====================================================

// TestLoadArray covers absent, valid and corrupt values.
func TestLoadArray(t *testing.T) {
	s := NewMemoryStore()

	items, err := LoadArray[item](s, "absent")
	if err != nil || items == nil || len(items) != 0 {
		t.Errorf("LoadArray(absent) = %v, %v", items, err)
	}

	if err := SaveArray(s, "ok", []item{{ID: "1", Name: "Acme"}}); err != nil {
		t.Fatalf("SaveArray() failed: %v", err)
	}
	items, err = LoadArray[item](s, "ok")
	if err != nil || len(items) != 1 || items[0].Name != "Acme" {
		t.Errorf("LoadArray(ok) = %v, %v", items, err)
	}

	tests := []struct {
		name string
		raw  string
	}{
		{"truncated", `[{"id":`},
		{"object", `{"id":"1"}`},
		{"garbage", `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.Save("bad", []byte(tt.raw))
			items, err := LoadArray[item](s, "bad")
			if err == nil {
				t.Error("expected corruption error")
			}
			if items == nil || len(items) != 0 {
				t.Errorf("items = %v, want empty", items)
			}
		})
	}

	s.Save("null", []byte(`null`))
	items, err = LoadArray[item](s, "null")
	if err != nil || items == nil {
		t.Errorf("LoadArray(null) = %v, %v", items, err)
	}
}

// TestSaveArray_nil verifies nil slices persist as an empty array.
func TestSaveArray_nil(t *testing.T) {
	s := NewMemoryStore()
	if err := SaveArray[item](s, "k", nil); err != nil {
		t.Fatalf("SaveArray() failed: %v", err)
	}
	raw, _ := s.Load("k")
	if string(raw) != "[]" {
		t.Errorf("stored %s, want []", raw)
	}
}

