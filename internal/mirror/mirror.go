// Package mirror maintains a Redis sorted-set copy of the leaderboard for the
// realtime feed and stats. The authoritative ranking always comes from the
// score store; the mirror may lag and is rebuilt periodically.
package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/score-keeper/internal/config"
	"github.com/score-keeper/internal/domain"
)

const leaderboardKey = "scores:leaderboard"

// Mirror provides Redis-based leaderboard mirroring
type Mirror struct {
	client *redis.Client
	logger *slog.Logger
}

// New creates a new mirror and verifies the connection
func New(cfg *config.RedisConfig, logger *slog.Logger) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Mirror{
		client: client,
		logger: logger,
	}, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(client *redis.Client, logger *slog.Logger) *Mirror {
	return &Mirror{client: client, logger: logger}
}

// Close closes the Redis connection
func (m *Mirror) Close() error {
	return m.client.Close()
}

// RecordBest raises a player's mirrored score. ZADD GT keeps the maximum on
// the server, so concurrent updates cannot regress the mirror.
func (m *Mirror) RecordBest(ctx context.Context, userKey string, score int64) error {
	err := m.client.ZAddGT(ctx, leaderboardKey, redis.Z{
		Score:  float64(score),
		Member: userKey,
	}).Err()
	if err != nil {
		return fmt.Errorf("recording best score: %w", err)
	}
	return nil
}

// Top returns the mirrored top N, best first. Positions are 1-based; ties are
// ordered by Redis (lexicographic), which is why the deterministic read path
// uses the store instead.
func (m *Mirror) Top(ctx context.Context, n int) ([]domain.Entry, error) {
	results, err := m.client.ZRevRangeWithScores(ctx, leaderboardKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting mirrored top n: %w", err)
	}

	entries := make([]domain.Entry, len(results))
	for i, result := range results {
		entries[i] = domain.Entry{
			Position: i + 1,
			UserKey:  result.Member.(string),
			Score:    int64(result.Score),
		}
	}
	return entries, nil
}

// Count returns the number of mirrored players.
func (m *Mirror) Count(ctx context.Context) (int64, error) {
	count, err := m.client.ZCard(ctx, leaderboardKey).Result()
	if err != nil {
		return 0, fmt.Errorf("counting mirrored players: %w", err)
	}
	return count, nil
}

// Rebuild replaces the mirror contents with the given records in one
// pipeline.
func (m *Mirror) Rebuild(ctx context.Context, records []domain.ScoreRecord) error {
	pipe := m.client.TxPipeline()
	pipe.Del(ctx, leaderboardKey)
	for _, rec := range records {
		pipe.ZAdd(ctx, leaderboardKey, redis.Z{
			Score:  float64(rec.BestScore),
			Member: rec.UserKey,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rebuilding mirror: %w", err)
	}
	return nil
}

// Reset clears the mirror.
func (m *Mirror) Reset(ctx context.Context) error {
	if err := m.client.Del(ctx, leaderboardKey).Err(); err != nil {
		return fmt.Errorf("resetting mirror: %w", err)
	}
	return nil
}
