package cache

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/kodalabs/koda/internal/config"
	"github.com/kodalabs/koda/internal/trace"
)

func testCache(t *testing.T, maxEntries int) *TaskCache {
	t.Helper()
	cfg := config.CacheConfig{
		DBPath:              filepath.Join(t.TempDir(), "cache.db"),
		SimilarityThreshold: 0.85,
		Enabled:             true,
		MaxEntries:          maxEntries,
	}
	c, err := Open(cfg, NewHashEmbedder(DefaultDimension), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(DefaultDimension)
	a := e.Embed("fix the login bug")
	b := e.Embed("fix the login bug")

	if len(a) != DefaultDimension {
		t.Fatalf("dimension = %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("embeddings differ for identical text")
		}
	}
	if sim := dot(a, b); math.Abs(sim-1.0) > 1e-6 {
		t.Errorf("self similarity = %f, want 1.0", sim)
	}
}

func TestHashEmbedderNormalized(t *testing.T) {
	e := NewHashEmbedder(64)
	v := e.Embed("normalize this vector please")
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1.0) > 1e-6 {
		t.Errorf("norm^2 = %f, want 1.0", norm)
	}
}

func TestCacheStoreLookupRoundtrip(t *testing.T) {
	c := testCache(t, 100)

	chain := []ToolCall{
		{Name: "read_file", Input: map[string]any{"path": "main.go"}},
		{Name: "write_file", Input: map[string]any{"path": "main.go"}},
	}
	if err := c.Store("fix the login bug", chain, []string{"main.go"}, 0.12); err != nil {
		t.Fatalf("Store: %v", err)
	}

	cached, err := c.Lookup("fix the login bug")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if cached == nil {
		t.Fatal("expected a cache hit for identical task")
	}
	if math.Abs(cached.Similarity-1.0) > 1e-6 {
		t.Errorf("similarity = %f, want 1.0", cached.Similarity)
	}
	if len(cached.ToolChain) != 2 || cached.ToolChain[0].Name != "read_file" {
		t.Errorf("tool chain = %+v", cached.ToolChain)
	}
	if len(cached.FilesModified) != 1 || cached.FilesModified[0] != "main.go" {
		t.Errorf("files = %v", cached.FilesModified)
	}
	if cached.HitCount != 1 {
		t.Errorf("hit count = %d, want 1", cached.HitCount)
	}
}

func TestCacheMissBelowThreshold(t *testing.T) {
	tc := trace.NewCollector("t", "")
	c := testCache(t, 100)
	c.SetCollector(tc)

	if err := c.Store("refactor the database layer", nil, nil, 0.5); err != nil {
		t.Fatal(err)
	}

	cached, err := c.Lookup("write a poem about otters")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if cached != nil {
		t.Fatalf("expected miss, got %+v", cached)
	}

	misses := tc.EventsByType(trace.EventCacheMiss)
	if len(misses) != 1 {
		t.Fatalf("cache_miss events = %d", len(misses))
	}
	if misses[0].Data["threshold"] != 0.85 {
		t.Errorf("miss data = %v", misses[0].Data)
	}
}

func TestCacheEmptyEmitsMiss(t *testing.T) {
	tc := trace.NewCollector("t", "")
	c := testCache(t, 100)
	c.SetCollector(tc)

	cached, err := c.Lookup("anything")
	if err != nil || cached != nil {
		t.Fatalf("lookup = %v, %v", cached, err)
	}
	if len(tc.EventsByType(trace.EventCacheMiss)) != 1 {
		t.Error("expected cache_miss on empty cache")
	}
}

func TestCacheHitIncrementsCount(t *testing.T) {
	c := testCache(t, 100)
	if err := c.Store("update the readme", nil, nil, 0.01); err != nil {
		t.Fatal(err)
	}

	for want := 1; want <= 3; want++ {
		cached, err := c.Lookup("update the readme")
		if err != nil || cached == nil {
			t.Fatalf("lookup %d: %v, %v", want, cached, err)
		}
		if cached.HitCount != want {
			t.Errorf("hit count = %d, want %d", cached.HitCount, want)
		}
	}

	total, err := c.TotalHits()
	if err != nil || total != 3 {
		t.Errorf("total hits = %d, %v", total, err)
	}
}

func TestCacheEvictsLeastUsed(t *testing.T) {
	c := testCache(t, 2)

	if err := c.Store("task one", nil, nil, 0.1); err != nil {
		t.Fatal(err)
	}
	if err := c.Store("task two", nil, nil, 0.2); err != nil {
		t.Fatal(err)
	}
	// Give task two a hit so task one is the eviction victim.
	if cached, err := c.Lookup("task two"); err != nil || cached == nil {
		t.Fatalf("warm-up lookup failed: %v, %v", cached, err)
	}

	if err := c.Store("task three", nil, nil, 0.3); err != nil {
		t.Fatal(err)
	}

	size, err := c.Size()
	if err != nil || size != 2 {
		t.Fatalf("size = %d, %v", size, err)
	}
	if cached, _ := c.Lookup("task one"); cached != nil {
		t.Error("expected task one to be evicted")
	}
	if cached, _ := c.Lookup("task three"); cached == nil {
		t.Error("expected task three to be present")
	}
}

func TestCacheSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	cfg := config.CacheConfig{
		DBPath:              dbPath,
		SimilarityThreshold: 0.85,
		Enabled:             true,
		MaxEntries:          100,
	}

	c, err := Open(cfg, NewHashEmbedder(DefaultDimension), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Store("persisted task", []ToolCall{{Name: "shell"}}, nil, 0.05); err != nil {
		t.Fatal(err)
	}
	c.Close()

	// The embedding index is rebuilt from the table on startup.
	c2, err := Open(cfg, NewHashEmbedder(DefaultDimension), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()

	cached, err := c2.Lookup("persisted task")
	if err != nil || cached == nil {
		t.Fatalf("lookup after reopen = %v, %v", cached, err)
	}
	if cached.ToolChain[0].Name != "shell" {
		t.Errorf("tool chain = %+v", cached.ToolChain)
	}
}

func TestCacheDisabledIsNoop(t *testing.T) {
	cfg := config.CacheConfig{
		DBPath:  filepath.Join(t.TempDir(), "cache.db"),
		Enabled: false,
	}
	c, err := Open(cfg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Store("task", nil, nil, 0.1); err != nil {
		t.Fatal(err)
	}
	size, _ := c.Size()
	if size != 0 {
		t.Errorf("size = %d, want 0 when disabled", size)
	}
	if cached, _ := c.Lookup("task"); cached != nil {
		t.Error("disabled cache should never hit")
	}
}
