package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/kodalabs/koda/internal/config"
	"github.com/kodalabs/koda/internal/trace"
)

// ToolCall is one step of a cached chain.
type ToolCall struct {
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// CachedChain is a proven tool sequence from a previously successful task.
type CachedChain struct {
	TaskDescription string     `json:"task_description"`
	ToolChain       []ToolCall `json:"tool_chain"`
	FilesModified   []string   `json:"files_modified"`
	CostUSD         float64    `json:"cost_usd"`
	HitCount        int        `json:"hit_count"`
	Similarity      float64    `json:"similarity"`
}

// TaskCache stores successful tool chains in SQLite, indexed in memory by
// normalised task embeddings. One TaskCache per process; a mutex guards
// both the database writes and the embedding matrix.
type TaskCache struct {
	cfg      config.CacheConfig
	embedder Embedder

	mu         sync.Mutex
	db         *sql.DB
	trace      *trace.Collector // may be nil, swapped per task
	embeddings [][]float32
	chainIDs   []int64
}

// Open creates or opens the cache database and rebuilds the in-memory
// embedding index from the stored rows.
func Open(cfg config.CacheConfig, embedder Embedder, tc *trace.Collector) (*TaskCache, error) {
	if embedder == nil {
		embedder = NewHashEmbedder(DefaultDimension)
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cache: create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("cache: open db: %w", err)
	}

	c := &TaskCache{cfg: cfg, embedder: embedder, db: db, trace: tc}
	if err := c.createTable(); err != nil {
		db.Close()
		return nil, err
	}
	if err := c.loadEmbeddings(); err != nil {
		db.Close()
		return nil, err
	}
	slog.Debug("task cache opened", "path", cfg.DBPath, "entries", len(c.chainIDs))
	return c, nil
}

// SetCollector points the cache at the current task's trace collector.
func (c *TaskCache) SetCollector(tc *trace.Collector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trace = tc
}

func (c *TaskCache) createTable() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS task_chains (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_description TEXT NOT NULL,
			tool_chain TEXT NOT NULL,
			files_modified TEXT NOT NULL,
			cost_usd REAL,
			hit_count INTEGER DEFAULT 0,
			embedding BLOB
		)`)
	if err != nil {
		return fmt.Errorf("cache: create table: %w", err)
	}
	return nil
}

func (c *TaskCache) loadEmbeddings() error {
	rows, err := c.db.Query(`SELECT id, embedding FROM task_chains ORDER BY id`)
	if err != nil {
		return fmt.Errorf("cache: load embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return fmt.Errorf("cache: scan embedding: %w", err)
		}
		if emb := decodeEmbedding(blob); emb != nil {
			c.embeddings = append(c.embeddings, emb)
			c.chainIDs = append(c.chainIDs, id)
		}
	}
	return rows.Err()
}

// Lookup searches for a cached chain similar to the task. Returns nil on
// a miss; both hit and miss are recorded as trace events.
func (c *TaskCache) Lookup(task string) (*CachedChain, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cfg.Enabled {
		return nil, nil
	}
	if len(c.embeddings) == 0 {
		c.recordLocked(trace.EventCacheMiss, map[string]any{
			"task":   truncate(task, 100),
			"reason": "cache empty",
		})
		return nil, nil
	}

	query := c.embedder.Embed(task)

	bestIdx, bestScore := -1, math.Inf(-1)
	for i, emb := range c.embeddings {
		if score := dot(emb, query); score > bestScore {
			bestIdx, bestScore = i, score
		}
	}

	if bestScore < c.cfg.SimilarityThreshold {
		c.recordLocked(trace.EventCacheMiss, map[string]any{
			"task":       truncate(task, 100),
			"best_score": round3(bestScore),
			"threshold":  c.cfg.SimilarityThreshold,
		})
		return nil, nil
	}

	chainID := c.chainIDs[bestIdx]
	row := c.db.QueryRow(
		`SELECT task_description, tool_chain, files_modified, cost_usd, hit_count
		 FROM task_chains WHERE id = ?`, chainID)

	var cached CachedChain
	var toolChainJSON, filesJSON string
	if err := row.Scan(&cached.TaskDescription, &toolChainJSON, &filesJSON, &cached.CostUSD, &cached.HitCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("cache: fetch chain: %w", err)
	}
	if err := json.Unmarshal([]byte(toolChainJSON), &cached.ToolChain); err != nil {
		return nil, fmt.Errorf("cache: decode tool chain: %w", err)
	}
	if err := json.Unmarshal([]byte(filesJSON), &cached.FilesModified); err != nil {
		return nil, fmt.Errorf("cache: decode files: %w", err)
	}

	if _, err := c.db.Exec(`UPDATE task_chains SET hit_count = hit_count + 1 WHERE id = ?`, chainID); err != nil {
		return nil, fmt.Errorf("cache: bump hit count: %w", err)
	}
	cached.HitCount++
	cached.Similarity = bestScore

	c.recordLocked(trace.EventCacheHit, map[string]any{
		"task":         truncate(task, 100),
		"matched_task": truncate(cached.TaskDescription, 100),
		"similarity":   round3(bestScore),
		"hit_count":    cached.HitCount,
		"saved_cost":   round4(cached.CostUSD),
	})
	slog.Info("cache hit",
		"similarity", fmt.Sprintf("%.2f", bestScore),
		"task", truncate(task, 50),
		"matched", truncate(cached.TaskDescription, 50),
	)
	return &cached, nil
}

// Store caches a successful tool chain. When the cache is full, the row
// with the fewest hits is evicted first (ties broken by lowest id).
func (c *TaskCache) Store(task string, toolChain []ToolCall, filesModified []string, costUSD float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cfg.Enabled {
		return nil
	}

	var count int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM task_chains`).Scan(&count); err != nil {
		return fmt.Errorf("cache: count: %w", err)
	}
	if c.cfg.MaxEntries > 0 && count >= c.cfg.MaxEntries {
		if err := c.evictLocked(); err != nil {
			return err
		}
	}

	if toolChain == nil {
		toolChain = []ToolCall{}
	}
	if filesModified == nil {
		filesModified = []string{}
	}
	toolChainJSON, err := json.Marshal(toolChain)
	if err != nil {
		return fmt.Errorf("cache: encode tool chain: %w", err)
	}
	filesJSON, err := json.Marshal(filesModified)
	if err != nil {
		return fmt.Errorf("cache: encode files: %w", err)
	}

	embedding := c.embedder.Embed(task)

	res, err := c.db.Exec(
		`INSERT INTO task_chains (task_description, tool_chain, files_modified, cost_usd, embedding)
		 VALUES (?, ?, ?, ?, ?)`,
		task, string(toolChainJSON), string(filesJSON), costUSD, encodeEmbedding(embedding))
	if err != nil {
		return fmt.Errorf("cache: insert: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("cache: last insert id: %w", err)
	}
	c.embeddings = append(c.embeddings, embedding)
	c.chainIDs = append(c.chainIDs, id)

	slog.Debug("cached tool chain", "task", truncate(task, 80))
	return nil
}

func (c *TaskCache) evictLocked() error {
	var victim int64
	err := c.db.QueryRow(
		`SELECT id FROM task_chains ORDER BY hit_count ASC, id ASC LIMIT 1`).Scan(&victim)
	if err != nil {
		return fmt.Errorf("cache: pick eviction victim: %w", err)
	}
	if _, err := c.db.Exec(`DELETE FROM task_chains WHERE id = ?`, victim); err != nil {
		return fmt.Errorf("cache: evict: %w", err)
	}

	for i, id := range c.chainIDs {
		if id == victim {
			c.chainIDs = append(c.chainIDs[:i], c.chainIDs[i+1:]...)
			c.embeddings = append(c.embeddings[:i], c.embeddings[i+1:]...)
			break
		}
	}
	slog.Debug("evicted cache entry", "id", victim)
	return nil
}

// Size is the number of cached entries.
func (c *TaskCache) Size() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var count int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM task_chains`).Scan(&count); err != nil {
		return 0, fmt.Errorf("cache: count: %w", err)
	}
	return count, nil
}

// TotalHits sums hit counts across all entries.
func (c *TaskCache) TotalHits() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int
	if err := c.db.QueryRow(`SELECT COALESCE(SUM(hit_count), 0) FROM task_chains`).Scan(&total); err != nil {
		return 0, fmt.Errorf("cache: total hits: %w", err)
	}
	return total, nil
}

// Close releases the database connection.
func (c *TaskCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Close()
}

func (c *TaskCache) recordLocked(et trace.EventType, data map[string]any) {
	if c.trace != nil {
		c.trace.Record(et, data)
	}
}

func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	data := make([]byte, len(embedding)*4)
	for i, f := range embedding {
		bits := math.Float32bits(f)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return data
}

func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		bits := uint32(data[i*4]) |
			uint32(data[i*4+1])<<8 |
			uint32(data[i*4+2])<<16 |
			uint32(data[i*4+3])<<24
		embedding[i] = math.Float32frombits(bits)
	}
	return embedding
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
