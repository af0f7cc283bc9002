package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/shohag/chatrelay/internal/models"
)

// RedisStore keeps endpoints in Redis so several processes can share one
// registry. Endpoints live in a hash keyed by id, URLs are claimed in a
// second hash with HSETNX, and a sorted set keeps insertion order.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) endpointsKey() string { return s.prefix + "endpoints" }
func (s *RedisStore) urlsKey() string      { return s.prefix + "urls" }
func (s *RedisStore) orderKey() string     { return s.prefix + "order" }

func (s *RedisStore) Insert(ctx context.Context, ep *models.Endpoint) error {
	data, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("marshaling endpoint: %w", err)
	}

	claimed, err := s.client.HSetNX(ctx, s.urlsKey(), ep.URL, ep.ID).Result()
	if err != nil {
		return fmt.Errorf("claiming endpoint url: %w", err)
	}
	if !claimed {
		return ErrDuplicateURL
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.endpointsKey(), ep.ID, data)
		pipe.ZAdd(ctx, s.orderKey(), redis.Z{
			Score:  float64(ep.CreatedAt.UnixNano()),
			Member: ep.ID,
		})
		return nil
	})
	if err != nil {
		s.client.HDel(ctx, s.urlsKey(), ep.URL)
		return fmt.Errorf("storing endpoint: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Endpoint, error) {
	raw, err := s.client.HGet(ctx, s.endpointsKey(), id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading endpoint: %w", err)
	}
	return decodeEndpoint(raw)
}

func (s *RedisStore) Delete(ctx context.Context, id string) (*models.Endpoint, error) {
	ep, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var removed *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.HDel(ctx, s.endpointsKey(), id)
		pipe.HDel(ctx, s.urlsKey(), ep.URL)
		pipe.ZRem(ctx, s.orderKey(), id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("deleting endpoint: %w", err)
	}
	if removed.Val() == 0 {
		return nil, ErrNotFound
	}
	return ep, nil
}

func (s *RedisStore) List(ctx context.Context) ([]models.Endpoint, error) {
	ids, err := s.client.ZRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing endpoint ids: %w", err)
	}
	if len(ids) == 0 {
		return []models.Endpoint{}, nil
	}

	values, err := s.client.HMGet(ctx, s.endpointsKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("listing endpoints: %w", err)
	}

	eps := make([]models.Endpoint, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // deleted between ZRANGE and HMGET
		}
		ep, err := decodeEndpoint(raw)
		if err != nil {
			return nil, err
		}
		eps = append(eps, *ep)
	}
	return eps, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeEndpoint(raw string) (*models.Endpoint, error) {
	var ep models.Endpoint
	if err := json.Unmarshal([]byte(raw), &ep); err != nil {
		return nil, fmt.Errorf("decoding endpoint: %w", err)
	}
	return &ep, nil
}
