package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"mathtutor-gateway/internal/model"
)

// SessionCache stores session snapshots in Redis with the session TTL.
type SessionCache struct {
	client *redisv9.Client
	prefix string
}

func NewSessionCache(client *redisv9.Client, prefix string) *SessionCache {
	if prefix == "" {
		prefix = "mathtutor"
	}
	return &SessionCache{client: client, prefix: prefix}
}

func (c *SessionCache) Save(ctx context.Context, s model.Session, ttl time.Duration) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session snapshot failed: %w", err)
	}
	if err := c.client.Set(ctx, c.sessionKey(s.ID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session failed: %w", err)
	}
	return nil
}

func (c *SessionCache) Load(ctx context.Context, id string) (*model.Session, error) {
	raw, err := c.client.Get(ctx, c.sessionKey(id)).Bytes()
	if errors.Is(err, redisv9.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session failed: %w", err)
	}

	var s model.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session snapshot failed: %w", err)
	}
	return &s, nil
}

func (c *SessionCache) Delete(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, c.sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("redis delete session failed: %w", err)
	}
	return nil
}

func (c *SessionCache) sessionKey(id string) string {
	return fmt.Sprintf("%s:session:%s", c.prefix, id)
}
