package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ecosim/perps-engine/internal/model"
)

// versionKey counts journal inserts. Cached reads are keyed by the version
// they were read under, so a read racing an insert can only ever populate a
// key no later reader asks for.
const versionKey = "journal:version"

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and bump the journal version; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, then bump the version) ---

func (s *CachedStore) InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	if err := s.primary.InsertLedgerEntry(ctx, entry); err != nil {
		return err
	}
	if err := s.rdb.Incr(ctx, versionKey).Err(); err != nil {
		slog.Warn("journal cache invalidation failed", "entry_id", entry.ID, "err", err)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetLedgerEntriesByPosition(ctx context.Context, positionID string) ([]model.LedgerEntry, error) {
	version, ok := s.version(ctx)
	if ok {
		data, err := s.rdb.Get(ctx, positionKey(version, positionID)).Bytes()
		if err == nil {
			var entries []model.LedgerEntry
			if json.Unmarshal(data, &entries) == nil {
				return entries, nil
			}
		}
	}

	entries, err := s.primary.GetLedgerEntriesByPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}

	if ok {
		s.cache(ctx, positionKey(version, positionID), entries)
	}
	return entries, nil
}

func (s *CachedStore) GetJournalStats(ctx context.Context) (*model.JournalStats, error) {
	version, ok := s.version(ctx)
	if ok {
		data, err := s.rdb.Get(ctx, statsKey(version)).Bytes()
		if err == nil {
			var st model.JournalStats
			if json.Unmarshal(data, &st) == nil {
				return &st, nil
			}
		}
	}

	st, err := s.primary.GetJournalStats(ctx)
	if err != nil {
		return nil, err
	}

	if ok {
		s.cache(ctx, statsKey(version), st)
	}
	return st, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListLedgerEntries(ctx context.Context, limit int) ([]model.LedgerEntry, error) {
	return s.primary.ListLedgerEntries(ctx, limit)
}

// --- Cache helpers ---

// version reads the journal version. ok is false when Redis cannot answer,
// in which case the cache is bypassed.
func (s *CachedStore) version(ctx context.Context) (int64, bool) {
	v, err := s.rdb.Get(ctx, versionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	if err != nil {
		return 0, false
	}
	return v, true
}

func (s *CachedStore) cache(ctx context.Context, key string, v interface{}) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func statsKey(version int64) string { return fmt.Sprintf("journal:stats:v%d", version) }

func positionKey(version int64, id string) string {
	return fmt.Sprintf("journal:position:v%d:%s", version, id)
}
