// Package redis implements the URL frontier on Redis lists and sets so several
// crawler processes can share one session.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/sessioncrawler/internal/crawler"
)

// DefaultKeyPrefix namespaces every key the frontier writes.
const DefaultKeyPrefix = "crawler:"

// Frontier is a URLQueueStore backed by Redis. Each session owns a pending
// list, a seen set and an ID counter. LPOP hands every entry out once.
type Frontier struct {
	client *redis.Client
	clock  crawler.Clock
	prefix string
}

// New builds a Frontier on rdb.
func New(rdb *redis.Client, clock crawler.Clock, prefix string) *Frontier {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Frontier{client: rdb, clock: clock, prefix: prefix}
}

// Ping checks that Redis is reachable.
func (f *Frontier) Ping(ctx context.Context) error {
	if err := f.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping redis: %v", crawler.ErrStoreUnavailable, err)
	}
	return nil
}

func (f *Frontier) sessionsKey() string { return f.prefix + "sessions" }
func (f *Frontier) queueKey(session string) string { return f.prefix + session + ":queue" }
func (f *Frontier) seenKey(session string) string { return f.prefix + session + ":seen" }
func (f *Frontier) idKey(session string) string { return f.prefix + session + ":id" }

// pushScript marks the entry seen, allocates its ID and queues it in one step,
// so a failed push leaves no trace in the seen set.
// KEYS: seen, id, queue, sessions. ARGV: dedup key, entry JSON, session ID.
var pushScript = redis.NewScript(`
if redis.call('SADD', KEYS[1], ARGV[1]) == 0 then
  return 0
end
local id = redis.call('INCR', KEYS[2])
redis.call('RPUSH', KEYS[3], id .. ':' .. ARGV[2])
redis.call('SADD', KEYS[4], ARGV[3])
return id
`)

// Push adds req when its (method, url) pair is new to the session.
func (f *Frontier) Push(ctx context.Context, sessionID string, req crawler.RequestData, parent *crawler.QueueEntry) (bool, error) {
	entry, err := crawler.NewQueueEntry(sessionID, req, parent, f.clock.Now())
	if err != nil {
		return false, err
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("marshal queue entry: %w", err)
	}
	keys := []string{f.seenKey(sessionID), f.idKey(sessionID), f.queueKey(sessionID), f.sessionsKey()}
	id, err := pushScript.Run(ctx, f.client, keys, crawler.DedupKey(entry.Method, entry.URL), payload, sessionID).Int64()
	if err != nil {
		return false, crawler.StoreError("push queue entry", err)
	}
	return id > 0, nil
}

// Pop removes the oldest pending entry of the session.
func (f *Frontier) Pop(ctx context.Context, sessionID string) (crawler.QueueEntry, bool, error) {
	raw, err := f.client.LPop(ctx, f.queueKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return crawler.QueueEntry{}, false, nil
	}
	if err != nil {
		return crawler.QueueEntry{}, false, crawler.StoreError("pop queue entry", err)
	}
	entry, err := decodeEntry(raw)
	if err != nil {
		return crawler.QueueEntry{}, false, err
	}
	return entry, true, nil
}

// decodeEntry parses a list element of the form "<id>:<json>".
func decodeEntry(raw string) (crawler.QueueEntry, error) {
	var entry crawler.QueueEntry
	idText, body, ok := strings.Cut(raw, ":")
	if !ok {
		return entry, fmt.Errorf("malformed queue entry %q", raw)
	}
	id, err := strconv.ParseInt(idText, 10, 64)
	if err != nil {
		return entry, fmt.Errorf("parse queue entry id: %w", err)
	}
	if err := json.Unmarshal([]byte(body), &entry); err != nil {
		return entry, fmt.Errorf("unmarshal queue entry: %w", err)
	}
	entry.ID = id
	return entry, nil
}

// Count returns the length of the pending list.
func (f *Frontier) Count(ctx context.Context, sessionID string) (int64, error) {
	n, err := f.client.LLen(ctx, f.queueKey(sessionID)).Result()
	if err != nil {
		return 0, crawler.StoreError("count queue entries", err)
	}
	return n, nil
}

// DeleteBySession drops the session's pending list, seen set and counter.
func (f *Frontier) DeleteBySession(ctx context.Context, sessionID string) error {
	_, err := f.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, f.queueKey(sessionID), f.seenKey(sessionID), f.idKey(sessionID))
		pipe.SRem(ctx, f.sessionsKey(), sessionID)
		return nil
	})
	if err != nil {
		return crawler.StoreError("delete queue session", err)
	}
	return nil
}

// DeleteAll drops every session the frontier knows about.
func (f *Frontier) DeleteAll(ctx context.Context) error {
	sessions, err := f.client.SMembers(ctx, f.sessionsKey()).Result()
	if err != nil {
		return crawler.StoreError("list queue sessions", err)
	}
	for _, s := range sessions {
		if err := f.DeleteBySession(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
