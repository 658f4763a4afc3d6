package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis presence mirror.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Key holds a userId -> username hash of everyone online.
	Key string
	// Channel receives the JSON presence set after every change.
	Channel string
	// TTL bounds how long a stale set survives if this process dies.
	TTL time.Duration
}

// RedisMirror replaces the presence hash on every refresh and publishes
// the set on a channel.
type RedisMirror struct {
	client  *redis.Client
	key     string
	channel string
	ttl     time.Duration
}

// NewRedisMirror connects and pings Redis.
func NewRedisMirror(ctx context.Context, cfg RedisConfig) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisMirror(client, cfg), nil
}

func newRedisMirror(client *redis.Client, cfg RedisConfig) *RedisMirror {
	if cfg.Key == "" {
		cfg.Key = "pairchat:presence"
	}
	if cfg.Channel == "" {
		cfg.Channel = "pairchat:presence:events"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	return &RedisMirror{client: client, key: cfg.Key, channel: cfg.Channel, ttl: cfg.TTL}
}

// Mirror atomically swaps the stored set for online and publishes it.
func (m *RedisMirror) Mirror(ctx context.Context, online []Entry) error {
	payload, err := json.Marshal(online)
	if err != nil {
		return err
	}

	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, m.key)
		if len(online) > 0 {
			fields := make(map[string]interface{}, len(online))
			for _, e := range online {
				fields[e.UserID] = e.Username
			}
			pipe.HSet(ctx, m.key, fields)
			pipe.Expire(ctx, m.key, m.ttl)
		}
		pipe.Publish(ctx, m.channel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror presence: %w", err)
	}
	return nil
}

// Online reads the mirrored set back as userId -> username.
func (m *RedisMirror) Online(ctx context.Context) (map[string]string, error) {
	return m.client.HGetAll(ctx, m.key).Result()
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}
