package routing

import (
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/signalsfoundry/leo-swarm-router/model"
)

// SeenSet records which packets an active node has already counted.
type SeenSet struct {
	cache     *ttlcache.Cache[model.DedupKey, bool]
	retention time.Duration
}

// NewSeenSet returns an empty set. With a zero retention entries never
// expire within a run; a positive retention forgets a key that long (wall
// clock) after it was first seen.
func NewSeenSet(retention time.Duration) *SeenSet {
	if retention < 0 {
		retention = 0
	}
	opts := []ttlcache.Option[model.DedupKey, bool]{
		ttlcache.WithDisableTouchOnHit[model.DedupKey, bool](),
	}
	if retention > 0 {
		opts = append(opts, ttlcache.WithTTL[model.DedupKey, bool](retention))
	}
	return &SeenSet{
		cache:     ttlcache.New[model.DedupKey, bool](opts...),
		retention: retention,
	}
}

// MarkSeen records key and reports whether it was new.
func (s *SeenSet) MarkSeen(key model.DedupKey) bool {
	if s.retention > 0 {
		s.cache.DeleteExpired()
	}
	if s.cache.Has(key) {
		return false
	}
	ttl := ttlcache.NoTTL
	if s.retention > 0 {
		ttl = ttlcache.DefaultTTL
	}
	s.cache.Set(key, true, ttl)
	return true
}

// Seen reports whether key was recorded.
func (s *SeenSet) Seen(key model.DedupKey) bool {
	return s.cache.Has(key)
}

// Len returns the number of distinct packets seen.
func (s *SeenSet) Len() int {
	return s.cache.Len()
}
