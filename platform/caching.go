package platform

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gravitalia/signaly/cachestore"
)

// Wraps a Client, caching profile and post lookups, including lookups of
// subjects the platform does not know. Sanctions purge the cached profile so
// the suspended flag is picked up by the next lookup.
type CachingClient struct {
	Name   string
	Inner  Client
	Cache  cachestore.CacheStore
	Logger *slog.Logger
}

var _ Client = (*CachingClient)(nil)

func (c *CachingClient) profileKey() string {
	return "profile:" + c.Name
}

func (c *CachingClient) postKey() string {
	return "post:" + c.Name
}

func (c *CachingClient) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *CachingClient) GetProfile(ctx context.Context, subject string) (*Profile, error) {
	var p Profile
	switch c.lookup(ctx, "profile", c.profileKey(), subject, &p) {
	case cachestore.Hit:
		return &p, nil
	case cachestore.Absent:
		return nil, ErrNotFound
	}
	out, err := c.Inner.GetProfile(ctx, subject)
	if err != nil {
		c.remember(ctx, c.profileKey(), subject, nil, err)
		return nil, err
	}
	c.remember(ctx, c.profileKey(), subject, out, nil)
	return out, nil
}

func (c *CachingClient) GetPost(ctx context.Context, id string) (*Post, error) {
	var p Post
	switch c.lookup(ctx, "post", c.postKey(), id, &p) {
	case cachestore.Hit:
		return &p, nil
	case cachestore.Absent:
		return nil, ErrNotFound
	}
	out, err := c.Inner.GetPost(ctx, id)
	if err != nil {
		c.remember(ctx, c.postKey(), id, nil, err)
		return nil, err
	}
	c.remember(ctx, c.postKey(), id, out, nil)
	return out, nil
}

func (c *CachingClient) SuspendAccount(ctx context.Context, subject string) error {
	defer c.purge(ctx, subject)
	return c.Inner.SuspendAccount(ctx, subject)
}

func (c *CachingClient) UnsuspendAccount(ctx context.Context, subject string) error {
	defer c.purge(ctx, subject)
	return c.Inner.UnsuspendAccount(ctx, subject)
}

func (c *CachingClient) DeleteAccount(ctx context.Context, subject string) error {
	defer c.purge(ctx, subject)
	return c.Inner.DeleteAccount(ctx, subject)
}

// cache failures only cost an extra API call, so they are logged and ignored
func (c *CachingClient) lookup(ctx context.Context, kind, name, key string, out any) cachestore.Lookup {
	res, err := cachestore.GetJSON(ctx, c.Cache, name, key, out)
	if err != nil {
		c.logger().Warn("platform cache read failed", "name", name, "err", err)
	}
	cacheLookups.WithLabelValues(kind, res.String()).Inc()
	return res
}

// Caches a fetched value, or the fact that the platform does not know key.
// Other errors are not cached.
func (c *CachingClient) remember(ctx context.Context, name, key string, val any, fetchErr error) {
	var err error
	switch {
	case fetchErr == nil:
		err = cachestore.SetJSON(ctx, c.Cache, name, key, val)
	case errors.Is(fetchErr, ErrNotFound):
		err = cachestore.MarkAbsent(ctx, c.Cache, name, key)
	default:
		return
	}
	if err != nil {
		c.logger().Warn("platform cache write failed", "name", name, "err", err)
	}
}

func (c *CachingClient) purge(ctx context.Context, subject string) {
	if err := c.Cache.Purge(ctx, c.profileKey(), subject); err != nil {
		c.logger().Warn("platform cache purge failed", "err", err)
	}
}
