package dataset

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverSplit(t *testing.T) {
	dir := t.TempDir()
	split := filepath.Join(dir, "validation")
	if err := os.MkdirAll(split, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"shard-000001.tar", "shard-000000.tar", "notes.txt", "shard-1.tar"} {
		if err := os.WriteFile(filepath.Join(split, name), nil, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	shards, err := DiscoverSplit(dir, "validation")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(shards) != 2 {
		t.Fatalf("expected 2 shards, got %d: %v", len(shards), shards)
	}
	if filepath.Base(shards[0]) != "shard-000000.tar" {
		t.Fatalf("shards not sorted: %v", shards)
	}
}

func TestDiscoverSplitEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "train"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := DiscoverSplit(dir, "train"); err == nil {
		t.Fatal("expected error for split without shards")
	}
}
