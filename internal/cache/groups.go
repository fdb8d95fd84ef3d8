// ABOUTME: Group metadata cache filled on miss through a fetcher
// ABOUTME: Concurrent misses for the same group share one fetch

package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/2389/coven-wbot/internal/transport"
)

// GroupFetcher loads metadata for one group from the network.
type GroupFetcher func(ctx context.Context, jid string) (*transport.GroupMetadata, error)

// GroupMetadataCache caches group metadata by group address.
type GroupMetadataCache struct {
	c     *TTL[*transport.GroupMetadata]
	group singleflight.Group
}

// NewGroupMetadataCache creates a group cache. Zero values select the defaults.
func NewGroupMetadataCache(ttl time.Duration, maxSize int) *GroupMetadataCache {
	if ttl == 0 {
		ttl = GroupTTL
	}
	if maxSize == 0 {
		maxSize = GroupMaxSize
	}
	return &GroupMetadataCache{c: NewTTL[*transport.GroupMetadata](ttl, maxSize)}
}

// Get returns cached metadata without fetching.
func (g *GroupMetadataCache) Get(jid string) (*transport.GroupMetadata, bool) {
	return g.c.Get(jid)
}

// Set stores metadata for a group, e.g. after a groups.update event.
func (g *GroupMetadataCache) Set(jid string, md *transport.GroupMetadata) {
	if md == nil {
		g.c.Delete(jid)
		return
	}
	g.c.Set(jid, md)
}

// Fetch returns cached metadata, calling fetch on a miss. Failed fetches are
// not cached.
func (g *GroupMetadataCache) Fetch(ctx context.Context, jid string, fetch GroupFetcher) (*transport.GroupMetadata, error) {
	if md, ok := g.c.Get(jid); ok {
		return md, nil
	}

	v, err, _ := g.group.Do(jid, func() (any, error) {
		if md, ok := g.c.Get(jid); ok {
			return md, nil
		}
		md, err := fetch(ctx, jid)
		if err != nil {
			return nil, err
		}
		if md != nil {
			g.c.Set(jid, md)
		}
		return md, nil
	})
	if err != nil {
		return nil, err
	}
	md, _ := v.(*transport.GroupMetadata)
	return md, nil
}

// Len returns the number of cached groups.
func (g *GroupMetadataCache) Len() int { return g.c.Len() }

// Close stops the sweeper.
func (g *GroupMetadataCache) Close() { g.c.Close() }
