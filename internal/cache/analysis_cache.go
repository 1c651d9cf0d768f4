package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prospectia/enrichment-back/internal/domain"
)

type Entry struct {
	Analysis      *domain.AnalysisResult
	Provider      string
	PromptVersion string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

type Config struct {
	TTL        time.Duration
	MaxEntries int
}

// AnalysisCache keeps recent provider results keyed by a content signature so
// a re-enqueued prospect with identical inputs does not pay for a second
// provider call inside the TTL.
type AnalysisCache struct {
	mu         sync.RWMutex
	entries    map[string]Entry
	ttl        time.Duration
	maxEntries int
}

func NewAnalysisCache(config Config) *AnalysisCache {
	if config.TTL <= 0 {
		config.TTL = 15 * time.Minute
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 2000
	}
	return &AnalysisCache{
		entries:    make(map[string]Entry),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
	}
}

func (c *AnalysisCache) Get(signature string) (Entry, bool) {
	c.mu.RLock()
	entry, exists := c.entries[signature]
	c.mu.RUnlock()

	if !exists {
		return Entry{}, false
	}
	if time.Now().UTC().After(entry.ExpiresAt) {
		c.mu.Lock()
		delete(c.entries, signature)
		c.mu.Unlock()
		return Entry{}, false
	}
	return cloneEntry(entry), true
}

func (c *AnalysisCache) Set(signature string, entry Entry) {
	now := time.Now().UTC()
	entry = cloneEntry(entry)
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[signature] = entry
}

func (c *AnalysisCache) BuildSignature(parts ...string) string {
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		normalized = append(normalized, strings.TrimSpace(strings.ToLower(part)))
	}
	joined := strings.Join(normalized, "||")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

func (c *AnalysisCache) evictOldest() {
	if len(c.entries) == 0 {
		return
	}

	type pair struct {
		key   string
		value Entry
	}
	pairs := make([]pair, 0, len(c.entries))
	for key, value := range c.entries {
		pairs = append(pairs, pair{key: key, value: value})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].value.CreatedAt.Before(pairs[j].value.CreatedAt)
	})
	delete(c.entries, pairs[0].key)
}

func cloneEntry(entry Entry) Entry {
	clone := entry
	if entry.Analysis != nil {
		analysis := *entry.Analysis
		clone.Analysis = &analysis
	}
	return clone
}
