package content

import (
	"context"
	"strconv"
	"time"

	"github.com/icycon/emailengine/pkg/cache"
)

// Cached memoizes another Resolver. Misses are not cached, so a template
// created after a failed lookup is picked up on the next attempt.
type Cached struct {
	next  Resolver
	group *cache.Group[Content]
}

// NewCached wraps next with c. Entries live for ttl.
func NewCached(next Resolver, c cache.Cache[Content], ttl time.Duration) *Cached {
	return &Cached{next: next, group: cache.NewGroup(c, ttl)}
}

func (c *Cached) Resolve(ctx context.Context, tenantID int64, ref string) (Content, error) {
	return c.group.Get(ctx, cacheKey(tenantID, ref), func(ctx context.Context) (Content, error) {
		return c.next.Resolve(ctx, tenantID, ref)
	})
}

// Invalidate drops the cached entry for ref.
func (c *Cached) Invalidate(ctx context.Context, tenantID int64, ref string) error {
	return c.group.Forget(ctx, cacheKey(tenantID, ref))
}

func cacheKey(tenantID int64, ref string) string {
	return strconv.FormatInt(tenantID, 10) + "/" + ref
}
