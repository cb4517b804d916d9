// Package dedup absorbs at-least-once webhook redelivery: a TTL-bounded set
// of message keys that have already been routed into a turn.
package dedup

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

const DefaultTTL = time.Hour

type Config struct {
	TTL    time.Duration
	Now    func() time.Time // injectable clock; defaults to time.Now
	Logger *slog.Logger
}

// Cache is the process-wide set of processed message keys. Create one at
// startup and hand it to whatever hosts the webhook path.
type Cache struct {
	mu      sync.Mutex
	entries map[string]time.Time // key -> first seen
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

type Stats struct {
	TotalEntries   int     `json:"total_entries"`
	TTLSeconds     int     `json:"ttl_seconds"`
	OldestEntryAge float64 `json:"oldest_entry_age"` // seconds
}

func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Cache{
		entries: make(map[string]time.Time),
		ttl:     cfg.TTL,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}
}

type keyEvent struct {
	Data []json.RawMessage `json:"data"`
}

type keyItem struct {
	Message struct {
		ID                string `json:"id"`
		WhatsAppMessageID string `json:"whatsapp_message_id"`
	} `json:"message"`
}

// ExtractKeys derives the dedup keys of every message in a raw webhook body:
// "wa:<whatsapp_message_id>" and "kapso:<id>". Malformed input yields fewer
// keys, never an error.
func (c *Cache) ExtractKeys(raw []byte) []string {
	var ev keyEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.logger.Debug("dedup: cannot extract keys", "error", err)
		return nil
	}

	var keys []string
	for _, item := range ev.Data {
		var it keyItem
		if err := json.Unmarshal(item, &it); err != nil {
			continue
		}
		if id := it.Message.WhatsAppMessageID; id != "" {
			keys = append(keys, "wa:"+id)
		}
		if id := it.Message.ID; id != "" {
			keys = append(keys, "kapso:"+id)
		}
	}
	return keys
}

// AlreadyProcessed reports whether any key is present and unexpired.
func (c *Cache) AlreadyProcessed(keys []string) bool {
	if len(keys) == 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked()
	return c.anyLocked(keys)
}

// MarkProcessed stamps every key with the current time.
func (c *Cache) MarkProcessed(keys []string) {
	if len(keys) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, k := range keys {
		c.entries[k] = now
	}
}

// CheckAndMark is AlreadyProcessed followed by MarkProcessed under one lock.
// It returns true when the keys are new (and now marked). A duplicate leaves
// existing entries untouched. An empty key set is always new.
func (c *Cache) CheckAndMark(keys []string) bool {
	if len(keys) == 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked()
	if c.anyLocked(keys) {
		return false
	}
	now := c.now()
	for _, k := range keys {
		c.entries[k] = now
	}
	return true
}

// Cleanup purges expired entries and returns how many were removed.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleanupLocked()
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked()
	now := c.now()
	var oldest time.Duration
	for _, seen := range c.entries {
		if age := now.Sub(seen); age > oldest {
			oldest = age
		}
	}
	return Stats{
		TotalEntries:   len(c.entries),
		TTLSeconds:     int(c.ttl / time.Second),
		OldestEntryAge: oldest.Seconds(),
	}
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) anyLocked(keys []string) bool {
	for _, k := range keys {
		if _, ok := c.entries[k]; ok {
			return true
		}
	}
	return false
}

func (c *Cache) cleanupLocked() int {
	now := c.now()
	removed := 0
	for k, seen := range c.entries {
		if now.Sub(seen) > c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("dedup: expired entries purged", "removed", removed, "remaining", len(c.entries))
	}
	return removed
}
