package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrResolve is returned when the identity source cannot resolve a user's
// roles or permissions. Callers deny the request.
var ErrResolve = errors.New("permission resolution failed")

// Source resolves roles and role permissions from the identity store.
type Source interface {
	RolesOf(ctx context.Context, userID string) ([]string, error)
	PermissionsOf(ctx context.Context, roleCodes []string) ([]Permission, error)
}

// Config tunes the cache.
type Config struct {
	// TTL bounds staleness even when an invalidation is missed.
	TTL        time.Duration
	AdminRoles []string
	Logger     *slog.Logger
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Invalidations uint64 `json:"invalidations"`
	StaleFills    uint64 `json:"staleFills"`
	Entries       int    `json:"entries"`
}

// Cache memoizes each user's resolved roles and permissions.
//
// A miss resolves from the Source and fills the Store. Concurrent misses for
// the same user and generation share one resolution. A fill that started
// before an invalidation of that user is discarded by the Store, so an
// invalidation is never undone by a slow reader.
type Cache struct {
	source     Source
	store      Store
	ttl        time.Duration
	adminRoles []string
	logger     *slog.Logger
	now        func() time.Time

	group singleflight.Group

	hits          atomic.Uint64
	misses        atomic.Uint64
	invalidations atomic.Uint64
	staleFills    atomic.Uint64
}

// NewCache builds a Cache. A nil store defaults to a MemoryStore.
func NewCache(source Source, store Store, cfg Config) *Cache {
	if store == nil {
		store = NewMemoryStore()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.AdminRoles == nil {
		cfg.AdminRoles = DefaultAdminRoles
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Cache{
		source:     source,
		store:      store,
		ttl:        cfg.TTL,
		adminRoles: cfg.AdminRoles,
		logger:     cfg.Logger,
		now:        time.Now,
	}
}

// Get returns the user's entry, resolving it on a miss.
func (c *Cache) Get(ctx context.Context, userID string) (*Entry, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrResolve)
	}

	e, gen, err := c.store.Load(ctx, userID)
	if err != nil {
		// Backend down: resolve directly without caching.
		c.logger.Warn("schoolauth: permission cache load failed", "error", err)
		c.misses.Add(1)
		return c.resolve(ctx, userID)
	}
	if e != nil {
		c.hits.Add(1)
		return e, nil
	}
	c.misses.Add(1)

	key := userID + "|" + strconv.FormatUint(gen.Global, 10) + "|" + strconv.FormatUint(gen.User, 10)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		fresh, err := c.resolve(ctx, userID)
		if err != nil {
			return nil, err
		}
		stored, err := c.store.Fill(ctx, fresh, gen)
		if err != nil {
			c.logger.Warn("schoolauth: permission cache fill failed", "error", err)
		} else if !stored {
			c.staleFills.Add(1)
		}
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

func (c *Cache) resolve(ctx context.Context, userID string) (*Entry, error) {
	if c.source == nil {
		return nil, fmt.Errorf("%w: no source configured", ErrResolve)
	}
	roles, err := c.source.RolesOf(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: roles of %s: %v", ErrResolve, userID, err)
	}
	var perms []Permission
	if len(roles) > 0 {
		perms, err = c.source.PermissionsOf(ctx, roles)
		if err != nil {
			return nil, fmt.Errorf("%w: permissions of %s: %v", ErrResolve, userID, err)
		}
	}
	return newEntry(userID, roles, perms, c.adminRoles, c.now(), c.ttl), nil
}

// HasPermission reports whether the user holds code.
func (c *Cache) HasPermission(ctx context.Context, userID, code string) (bool, error) {
	e, err := c.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return e.Has(code), nil
}

// HasPermissions checks several codes against one entry.
func (c *Cache) HasPermissions(ctx context.Context, userID string, codes []string) (map[string]bool, error) {
	e, err := c.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(codes))
	for _, code := range codes {
		out[code] = e.Has(code)
	}
	return out, nil
}

// HasPath reports whether one of the user's permissions guards path.
func (c *Cache) HasPath(ctx context.Context, userID, path string) (bool, error) {
	e, err := c.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return e.HasPath(path), nil
}

// Warm resolves and caches the user's entry ahead of the first request.
func (c *Cache) Warm(ctx context.Context, userID string) error {
	_, err := c.Get(ctx, userID)
	return err
}

// InvalidateUsers deletes the entries of the given users.
func (c *Cache) InvalidateUsers(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	if err := c.store.Delete(ctx, userIDs...); err != nil {
		return err
	}
	c.invalidations.Add(uint64(len(userIDs)))
	return nil
}

// InvalidateAll deletes every entry.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	if err := c.store.Clear(ctx); err != nil {
		return err
	}
	c.invalidations.Add(1)
	return nil
}

// Stats reports counters and the current entry count.
func (c *Cache) Stats(ctx context.Context) Stats {
	n, err := c.store.Len(ctx)
	if err != nil {
		n = -1
	}
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
		StaleFills:    c.staleFills.Load(),
		Entries:       n,
	}
}
