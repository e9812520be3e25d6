package server

import (
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiterShards controls how many independent shards the rate limiter
// uses. Each shard has its own mutex so exports for distinct connections
// rarely contend.
const rateLimiterShards = 16

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per key, spread across shards by FNV
// hash of the key.
type rateLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	shards  [rateLimiterShards]rateLimiterShard
}

type rateLimiterShard struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
}

func newRateLimiter(perSecond float64, burst int, idleTTL time.Duration) *rateLimiter {
	rl := &rateLimiter{limit: rate.Limit(perSecond), burst: burst, idleTTL: idleTTL}
	for i := range rl.shards {
		rl.shards[i].entries = make(map[string]*limiterEntry)
	}
	return rl
}

func (rl *rateLimiter) shard(key string) *rateLimiterShard {
	return &rl.shards[shardIndex(key)]
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(rateLimiterShards))
}

func (rl *rateLimiter) allow(key string) bool {
	s := rl.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, ok := s.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		s.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// cleanup evicts buckets idle for longer than the TTL. The janitor calls it
// so allow never iterates the maps.
func (rl *rateLimiter) cleanup() int {
	now := time.Now()
	evicted := 0
	for i := range rl.shards {
		s := &rl.shards[i]
		s.mu.Lock()
		for k, e := range s.entries {
			if now.Sub(e.lastSeen) > rl.idleTTL {
				delete(s.entries, k)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

func (rl *rateLimiter) size() int {
	n := 0
	for i := range rl.shards {
		s := &rl.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}
