package elmax

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileTokenStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	store := NewFileTokenStore(path)

	if store.Exists() {
		t.Fatal("store should not exist yet")
	}
	if _, err := store.LoadToken(ctx); !errors.Is(err, ErrNoToken) {
		t.Fatalf("LoadToken error = %v, want ErrNoToken", err)
	}

	want := &StoredToken{
		Token:     "abc.def.ghi",
		Username:  testUsername,
		ExpiresAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := store.SaveToken(ctx, want); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	if !store.Exists() {
		t.Error("store should exist after save")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file mode = %o, want 600", perm)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file should be renamed away")
	}

	got, err := store.LoadToken(ctx)
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if got.Token != want.Token || got.Username != want.Username || !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Errorf("LoadToken() = %+v, want %+v", got, want)
	}

	if err := store.Delete(ctx); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if store.Exists() {
		t.Error("store should not exist after delete")
	}
	if err := store.Delete(ctx); err != nil {
		t.Errorf("deleting twice should succeed: %v", err)
	}
}

func TestFileTokenStore_Errors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	t.Run("nil token", func(t *testing.T) {
		store := NewFileTokenStore(filepath.Join(dir, "nil.json"))
		if err := store.SaveToken(ctx, nil); err == nil {
			t.Error("expected error for nil token")
		}
	})

	t.Run("corrupt file", func(t *testing.T) {
		path := filepath.Join(dir, "corrupt.json")
		os.WriteFile(path, []byte("{not json"), 0600)
		if _, err := NewFileTokenStore(path).LoadToken(ctx); err == nil || errors.Is(err, ErrNoToken) {
			t.Errorf("error = %v, want parse error", err)
		}
	})

	t.Run("empty token", func(t *testing.T) {
		path := filepath.Join(dir, "empty.json")
		os.WriteFile(path, []byte(`{"token":""}`), 0600)
		if _, err := NewFileTokenStore(path).LoadToken(ctx); !errors.Is(err, ErrNoToken) {
			t.Errorf("error = %v, want ErrNoToken", err)
		}
	})
}

func TestMemoryTokenStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTokenStore()

	if _, err := store.LoadToken(ctx); !errors.Is(err, ErrNoToken) {
		t.Fatalf("error = %v, want ErrNoToken", err)
	}

	token := &StoredToken{Token: "abc"}
	store.SaveToken(ctx, token)
	got, err := store.LoadToken(ctx)
	if err != nil || got != token {
		t.Errorf("LoadToken() = %v, %v", got, err)
	}

	store.Delete(ctx)
	if _, err := store.LoadToken(ctx); !errors.Is(err, ErrNoToken) {
		t.Errorf("after delete: error = %v, want ErrNoToken", err)
	}
}
