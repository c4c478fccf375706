package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"

	"github.com/jacktea/blobsvc/pkg/xerrors"
)

func TestFSStoreContract(t *testing.T) {
	store, err := NewFSStore(t.TempDir(), FSOptions{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	runBackendContract(t, store)
	runConcurrentPuts(t, store)
}

func TestFSStoreMemfsContract(t *testing.T) {
	runBackendContract(t, NewFSStoreOn(memfs.New(), FSOptions{Fanout: true}))
}

func TestFSStoreUsesSubdirectories(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewFSStore(root, FSOptions{Fanout: true})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	name := "abcdef0123.txt"
	if err := store.Put(ctx, name, []byte("subdir-test")); err != nil {
		t.Fatalf("put: %v", err)
	}
	expected := filepath.Join(root, "objects", name[:2], name[2:4], name)
	if _, err := os.Stat(expected); err != nil {
		t.Fatalf("expected blob at %s: %v", expected, err)
	}
}

func TestFSStoreKeepsHierarchicalKeys(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewFSStore(root, FSOptions{Fanout: true})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Put(ctx, "custom/id/abc.txt", []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "keys", "custom", "id", "abc.txt")); err != nil {
		t.Fatalf("expected nested file: %v", err)
	}
}

func TestFSStoreFanoutKeepsFlatAndNestedKeysApart(t *testing.T) {
	ctx := context.Background()
	store := NewFSStoreOn(memfs.New(), FSOptions{Fanout: true})
	if err := store.Put(ctx, "abcd.txt", []byte("flat")); err != nil {
		t.Fatalf("put flat: %v", err)
	}
	if _, err := store.Fetch(ctx, "ab/cd/abcd.txt"); !xerrors.IsNotFound(err) {
		t.Fatalf("expected not found for nested key never written, got %v", err)
	}
	if err := store.Put(ctx, "ab/cd/abcd.txt", []byte("nested")); err != nil {
		t.Fatalf("put nested: %v", err)
	}
	got, err := store.Fetch(ctx, "abcd.txt")
	if err != nil || string(got) != "flat" {
		t.Fatalf("flat key clobbered: %q %v", got, err)
	}
	got, err = store.Fetch(ctx, "ab/cd/abcd.txt")
	if err != nil || string(got) != "nested" {
		t.Fatalf("nested key mismatch: %q %v", got, err)
	}
	if err := store.Delete(ctx, "abcd.txt"); err != nil {
		t.Fatalf("delete flat: %v", err)
	}
	if _, err := store.Fetch(ctx, "ab/cd/abcd.txt"); err != nil {
		t.Fatalf("nested key lost after deleting flat key: %v", err)
	}
}

func TestFSStoreFanoutShortKeys(t *testing.T) {
	ctx := context.Background()
	store := NewFSStoreOn(memfs.New(), FSOptions{Fanout: true})
	for _, key := range []string{"ab", "abcd", "a"} {
		if err := store.Put(ctx, key, []byte(key)); err != nil {
			t.Fatalf("put %q: %v", key, err)
		}
	}
	for _, key := range []string{"ab", "abcd", "a"} {
		got, err := store.Fetch(ctx, key)
		if err != nil || string(got) != key {
			t.Fatalf("fetch %q: %q %v", key, got, err)
		}
	}
}

func TestFSStoreRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewFSStore(filepath.Join(root, "blobs"), FSOptions{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Put(ctx, "../outside.txt", []byte("x")); err == nil {
		t.Fatalf("expected escaping key to be rejected")
	}
	if _, err := os.Stat(filepath.Join(root, "outside.txt")); !os.IsNotExist(err) {
		t.Fatalf("file escaped the store root")
	}
}

func TestFSStoreDirectoryIsNotABlob(t *testing.T) {
	ctx := context.Background()
	store := NewFSStoreOn(memfs.New(), FSOptions{})
	if err := store.Put(ctx, "dir/child.txt", []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Fetch(ctx, "dir"); err == nil {
		t.Fatalf("expected directory fetch to fail")
	}
}

func TestNewFSStoreRequiresRoot(t *testing.T) {
	if _, err := NewFSStore("", FSOptions{}); err == nil {
		t.Fatalf("expected error for empty root")
	}
}
