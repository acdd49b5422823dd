package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/timebloom/backend/internal/artifact"
	"github.com/timebloom/backend/pkg/logger"
)

const (
	artifactPrefix       = "artifact:"
	recommendationPrefix = "recommendations:"
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	return NewClientWithOptions(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})
}

func NewClientWithOptions(opts *redis.Options) (*Client, error) {
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", opts.Addr))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Save implements artifact.Store. Artifacts never expire.
func (c *Client) Save(ctx context.Context, name string, blob []byte) error {
	err := c.client.Set(ctx, artifactPrefix+name, blob, 0).Err()
	if err != nil {
		return fmt.Errorf("failed to save artifact %s: %w", name, err)
	}

	logger.Debug("Artifact saved", zap.String("name", name), zap.Int("size_bytes", len(blob)))
	return nil
}

// Load implements artifact.Store.
func (c *Client) Load(ctx context.Context, name string) ([]byte, error) {
	blob, err := c.client.Get(ctx, artifactPrefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, artifact.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact %s: %w", name, err)
	}
	return blob, nil
}

func recommendationKey(userID, slot string) string {
	return fmt.Sprintf("%s%s:%s", recommendationPrefix, userID, slot)
}

func (c *Client) SetRecommendations(ctx context.Context, userID, slot string, result any, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal recommendations: %w", err)
	}

	err = c.client.Set(ctx, recommendationKey(userID, slot), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set recommendation cache: %w", err)
	}

	logger.Debug("Recommendations cached", zap.String("user_id", userID), zap.String("slot", slot), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetRecommendations(ctx context.Context, userID, slot string, result any) (bool, error) {
	data, err := c.client.Get(ctx, recommendationKey(userID, slot)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get recommendation cache: %w", err)
	}

	err = json.Unmarshal(data, result)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal recommendations: %w", err)
	}

	logger.Debug("Recommendation cache hit", zap.String("user_id", userID), zap.String("slot", slot))
	return true, nil
}

// InvalidateUser drops every cached recommendation for userID.
func (c *Client) InvalidateUser(ctx context.Context, userID string) error {
	if err := c.deleteMatching(ctx, recommendationPrefix+userID+":*"); err != nil {
		return err
	}
	logger.Debug("Recommendation cache invalidated", zap.String("user_id", userID))
	return nil
}

// InvalidateAll drops every cached recommendation.
func (c *Client) InvalidateAll(ctx context.Context) error {
	if err := c.deleteMatching(ctx, recommendationPrefix+"*"); err != nil {
		return err
	}
	logger.Debug("Recommendation cache cleared")
	return nil
}

func (c *Client) deleteMatching(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		err := c.client.Del(ctx, iter.Val()).Err()
		if err != nil {
			logger.Warn("Failed to delete cache key", zap.String("key", iter.Val()), zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}
	return nil
}
