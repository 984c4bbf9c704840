package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"registrar/internal/identity"
	"registrar/pkg/platform/sentinel"
)

const (
	watermarkKeyPrefix = "registrar:watermark:"
	twitterIDKeyPrefix = "registrar:twitter_id:"
	roomKeyPrefix      = "registrar:room:"
)

// Redis-backed adapter state. Recommended when multiple adapter processes
// share polling state; keys carry a registrar: prefix so the instance can
// coexist with other tenants of the same Redis.

type RedisRoomBindings struct {
	client *redis.Client
}

func NewRedisRoomBindings(client *redis.Client) *RedisRoomBindings {
	return &RedisRoomBindings{client: client}
}

func (s *RedisRoomBindings) Save(ctx context.Context, pk identity.PubKey, roomID string) error {
	return s.client.Set(ctx, roomKeyPrefix+string(pk), roomID, 0).Err()
}

func (s *RedisRoomBindings) Room(ctx context.Context, pk identity.PubKey) (string, error) {
	room, err := s.client.Get(ctx, roomKeyPrefix+string(pk)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("room binding %s: %w", pk, sentinel.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get room binding: %w", err)
	}
	return room, nil
}

type RedisWatermarks struct {
	client *redis.Client
}

func NewRedisWatermarks(client *redis.Client) *RedisWatermarks {
	return &RedisWatermarks{client: client}
}

func (s *RedisWatermarks) Watermark(ctx context.Context, ch identity.ChannelType) (uint64, error) {
	val, err := s.client.Get(ctx, watermarkKeyPrefix+string(ch)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get watermark: %w", err)
	}
	ts, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse watermark %q: %w", val, err)
	}
	return ts, nil
}

func (s *RedisWatermarks) Set(ctx context.Context, ch identity.ChannelType, ts uint64) error {
	prior, err := s.Watermark(ctx, ch)
	if err != nil {
		return err
	}
	// Watermarks never move backwards.
	if ts <= prior {
		return nil
	}
	key := watermarkKeyPrefix + string(ch)
	if err := s.client.Set(ctx, key, strconv.FormatUint(ts, 10), 0).Err(); err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}

type RedisTwitterIDs struct {
	client *redis.Client
}

func NewRedisTwitterIDs(client *redis.Client) *RedisTwitterIDs {
	return &RedisTwitterIDs{client: client}
}

func (s *RedisTwitterIDs) Lookup(ctx context.Context, twitterID string) (CachedTwitterID, error) {
	raw, err := s.client.Get(ctx, twitterIDKeyPrefix+twitterID).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedTwitterID{}, fmt.Errorf("twitter id %s: %w", twitterID, sentinel.ErrNotFound)
	}
	if err != nil {
		return CachedTwitterID{}, fmt.Errorf("get twitter id: %w", err)
	}
	var cached CachedTwitterID
	if err := json.Unmarshal(raw, &cached); err != nil {
		return CachedTwitterID{}, fmt.Errorf("decode twitter id cache entry: %w", err)
	}
	return cached, nil
}

func (s *RedisTwitterIDs) Save(ctx context.Context, twitterID string, account identity.Account) error {
	cached, err := s.Lookup(ctx, twitterID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return err
	}
	cached.Account = account
	return s.put(ctx, twitterID, cached)
}

func (s *RedisTwitterIDs) ConfirmInit(ctx context.Context, twitterID string) error {
	cached, err := s.Lookup(ctx, twitterID)
	if err != nil {
		return err
	}
	cached.InitSent = true
	return s.put(ctx, twitterID, cached)
}

func (s *RedisTwitterIDs) put(ctx context.Context, twitterID string, cached CachedTwitterID) error {
	raw, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("encode twitter id cache entry: %w", err)
	}
	if err := s.client.Set(ctx, twitterIDKeyPrefix+twitterID, raw, 0).Err(); err != nil {
		return fmt.Errorf("set twitter id: %w", err)
	}
	return nil
}
