package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"taskhub/domain"
	"taskhub/query"
)

const (
	generationKey  = "taskhub:tasks:gen"
	queryKeyPrefix = "taskhub:tasks:q:"
)

// Cache wraps a Store with Redis-backed caching of task queries. Every task
// mutation bumps a generation counter that is part of each query key, so stale
// pages are never served after a write; old keys expire through the TTL.
type Cache struct {
	Store
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Store wrapper using the provided Redis client and TTL.
func NewCache(base Store, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{Store: base, redis: client, ttl: ttl}
}

func (c *Cache) QueryTasks(ctx context.Context, req query.Request) (query.Result, error) {
	req = req.Normalized()
	key, ok := c.queryKey(ctx, req)
	if ok {
		if res, hit := c.load(ctx, key); hit {
			return res, nil
		}
	}
	res, err := c.Store.QueryTasks(ctx, req)
	if err != nil {
		return query.Result{}, err
	}
	if ok {
		c.store(ctx, key, res)
	}
	return res, nil
}

func (c *Cache) CreateTask(ctx context.Context, t domain.TaskRecord) error {
	if err := c.Store.CreateTask(ctx, t); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

func (c *Cache) UpdateTask(ctx context.Context, t domain.TaskRecord) error {
	if err := c.Store.UpdateTask(ctx, t); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

func (c *Cache) DeleteTask(ctx context.Context, id string) error {
	if err := c.Store.DeleteTask(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

// queryKey derives the cache key for req under the current generation. It
// reports false when Redis is unavailable or caching is disabled.
func (c *Cache) queryKey(ctx context.Context, req query.Request) (string, bool) {
	if c.redis == nil || c.ttl == 0 {
		return "", false
	}
	gen, err := c.redis.Get(ctx, generationKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", false
	}
	return queryKeyPrefix + strconv.FormatInt(gen, 10) + ":" + requestDigest(req), true
}

func requestDigest(req query.Request) string {
	status := ""
	if req.Status != nil {
		status = string(*req.Status)
	}
	h := sha256.New()
	for _, part := range []string{status, req.ProjectID, req.AssigneeID, req.SearchTerm(), strconv.Itoa(req.Page), strconv.Itoa(req.PageSize)} {
		h.Write([]byte(strconv.Quote(part)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cache) load(ctx context.Context, key string) (query.Result, bool) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return query.Result{}, false
	}
	var res query.Result
	if err := sonic.Unmarshal(data, &res); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return query.Result{}, false
	}
	if res.Items == nil {
		res.Items = []domain.TaskRecord{}
	}
	return res, true
}

func (c *Cache) store(ctx context.Context, key string, res query.Result) {
	data, err := sonic.Marshal(res)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) invalidate(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Incr(ctx, generationKey).Err()
}
