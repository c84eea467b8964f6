package artifact

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDownloadCache_HitAndMiss(t *testing.T) {
	dir := t.TempDir()
	cache := NewDownloadCache(1024 * 1024)

	if got := cache.Get("v1/parquet/cards.parquet"); got != "" {
		t.Fatalf("expected miss, got %q", got)
	}

	path := filepath.Join(dir, "cards.parquet")
	if err := os.WriteFile(path, make([]byte, 100), 0644); err != nil {
		t.Fatal(err)
	}
	cache.Put("v1/parquet/cards.parquet", path)

	if got := cache.Get("v1/parquet/cards.parquet"); got != path {
		t.Fatalf("expected %q, got %q", path, got)
	}
	if cache.Len() != 1 || cache.Size() != 100 {
		t.Fatalf("expected 1 entry of 100 bytes, got %d/%d", cache.Len(), cache.Size())
	}
}

func TestDownloadCache_LRUEviction(t *testing.T) {
	dir := t.TempDir()
	cache := NewDownloadCache(250)

	paths := map[string]string{}
	for _, name := range []string{"a", "b", "c"} {
		path := filepath.Join(dir, name+".parquet")
		if err := os.WriteFile(path, make([]byte, 100), 0644); err != nil {
			t.Fatal(err)
		}
		paths[name] = path
		cache.Put("v1/"+name, path)
	}

	if got := cache.Get("v1/a"); got != "" {
		t.Fatalf("expected eviction of 'a', but got %q", got)
	}
	if _, err := os.Stat(paths["a"]); !os.IsNotExist(err) {
		t.Error("evicted file should be deleted")
	}
	if cache.Get("v1/b") == "" || cache.Get("v1/c") == "" {
		t.Fatal("expected 'b' and 'c' to be cached")
	}
	if cache.Size() != 200 {
		t.Errorf("expected 200 bytes, got %d", cache.Size())
	}
}

func TestDownloadCache_KeepsSingleOversizedEntry(t *testing.T) {
	dir := t.TempDir()
	cache := NewDownloadCache(10)

	path := filepath.Join(dir, "AllPrices.json")
	if err := os.WriteFile(path, make([]byte, 100), 0644); err != nil {
		t.Fatal(err)
	}
	cache.Put("v1/AllPrices.json", path)

	if cache.Get("v1/AllPrices.json") != path {
		t.Fatal("most recent entry must survive eviction")
	}
}

func TestDownloadCache_StaleFile(t *testing.T) {
	dir := t.TempDir()
	cache := NewDownloadCache(1024)

	path := filepath.Join(dir, "sets.parquet")
	if err := os.WriteFile(path, make([]byte, 10), 0644); err != nil {
		t.Fatal(err)
	}
	cache.Put("v1/sets", path)
	os.Remove(path)

	if got := cache.Get("v1/sets"); got != "" {
		t.Fatalf("expected miss after file removal, got %q", got)
	}
	if cache.Len() != 0 {
		t.Errorf("expected entry dropped, len=%d", cache.Len())
	}
}
