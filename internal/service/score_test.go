package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/score-keeper/internal/config"
	"github.com/score-keeper/internal/domain"
	filestore "github.com/score-keeper/internal/store/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, mutate func(*config.Config)) *ScoreService {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}

	st, err := filestore.Open(filepath.Join(t.TempDir(), "scores.json"), logger)
	require.NoError(t, err)

	return NewScoreService(st, cfg, logger)
}

func TestSubmitScoreValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	cases := []struct {
		name string
		req  domain.SubmitRequest
	}{
		{"zero score", domain.SubmitRequest{UserKey: "x", Score: 0}},
		{"negative score", domain.SubmitRequest{UserKey: "x", Score: -5}},
		{"empty user key", domain.SubmitRequest{UserKey: "", Score: 10}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.SubmitScore(ctx, tc.req, "", "client-1")
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestSubmitScoreSuccessEvenWhenNotImproved(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	req := domain.SubmitRequest{UserKey: "alice", DisplayName: "Alice", Score: 100}
	require.NoError(t, svc.SubmitScore(ctx, req, "", "client-1"))

	// Lower candidate is a successful no-op.
	req.Score = 40
	require.NoError(t, svc.SubmitScore(ctx, req, "", "client-1"))

	best, err := svc.FetchScore(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 100, best)
}

func TestFetchScoreMissingUser(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	best, err := svc.FetchScore(ctx, "nonexistent")
	require.NoError(t, err)
	assert.EqualValues(t, 0, best)
}

func TestSubmitScoreSignatureRequired(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, func(cfg *config.Config) {
		cfg.Auth.SharedSecret = "topsecret"
	})

	req := domain.SubmitRequest{UserKey: "alice", Score: 10}

	err := svc.SubmitScore(ctx, req, "", "client-1")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	err = svc.SubmitScore(ctx, req, "deadbeef", "client-1")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	require.NoError(t, svc.SubmitScore(ctx, req, svc.SignSubmission(req), "client-1"))
}

func TestSubmitScoreSignatureDisabledByDefault(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	req := domain.SubmitRequest{UserKey: "alice", Score: 10}
	require.NoError(t, svc.SubmitScore(ctx, req, "", "client-1"))
	assert.Empty(t, svc.SignSubmission(req))
}

func TestSubmitScoreRateLimited(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, func(cfg *config.Config) {
		cfg.RateLimit.MaxRequests = 10
		cfg.RateLimit.Window = time.Minute
	})

	req := domain.SubmitRequest{UserKey: "alice", Score: 1}
	for i := 0; i < 10; i++ {
		req.Score = int64(i + 1)
		require.NoError(t, svc.SubmitScore(ctx, req, "", "client-1"))
	}

	req.Score = 11
	err := svc.SubmitScore(ctx, req, "", "client-1")
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	// A different client is unaffected.
	require.NoError(t, svc.SubmitScore(ctx, req, "", "client-2"))
}

func TestRateLimitedSubmissionNeverReachesStore(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, func(cfg *config.Config) {
		cfg.RateLimit.MaxRequests = 1
		cfg.RateLimit.Window = time.Minute
	})

	require.NoError(t, svc.SubmitScore(ctx, domain.SubmitRequest{UserKey: "alice", Score: 5}, "", "client-1"))

	err := svc.SubmitScore(ctx, domain.SubmitRequest{UserKey: "alice", Score: 50}, "", "client-1")
	require.ErrorIs(t, err, domain.ErrRateLimited)

	best, err := svc.FetchScore(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 5, best)
}

func TestLeaderboardPositionsAndDefaults(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, func(cfg *config.Config) {
		cfg.Leaderboard.DefaultLimit = 2
		cfg.Leaderboard.MaxLimit = 3
	})

	for _, sub := range []struct {
		key   string
		score int64
	}{
		{"A", 30}, {"B", 90}, {"C", 90}, {"D", 10},
	} {
		require.NoError(t, svc.IngestScore(ctx, domain.SubmitRequest{UserKey: sub.key, DisplayName: sub.key, Score: sub.score}))
	}

	// Invalid limit falls back to the default.
	entries, err := svc.Leaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Position)
	assert.Equal(t, "B", entries[0].UserKey)
	assert.Equal(t, 2, entries[1].Position)
	assert.Equal(t, "C", entries[1].UserKey)

	// Oversized limit clamps to the maximum.
	entries, err = svc.Leaderboard(ctx, 50)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "A", entries[2].UserKey)
	assert.Equal(t, 3, entries[2].Position)
}

func TestReferralLinkLazyGeneration(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, func(cfg *config.Config) {
		cfg.Referral.LinkBase = "https://t.me/testbot?start="
	})

	link, err := svc.ReferralLink(ctx, "alice")
	require.NoError(t, err)
	assert.Contains(t, link, "https://t.me/testbot?start=")

	again, err := svc.ReferralLink(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, link, again)
}

func TestRegisterReferralFlow(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	link, err := svc.ReferralLink(ctx, "alice")
	require.NoError(t, err)
	code := link[len(svc.cfg.Referral.LinkBase):]

	require.NoError(t, svc.RegisterReferral(ctx, "bob", code))
	assert.ErrorIs(t, svc.RegisterReferral(ctx, "bob", code), domain.ErrAlreadyReferred)
	assert.ErrorIs(t, svc.RegisterReferral(ctx, "eve", "bogus"), domain.ErrReferralNotFound)
	assert.ErrorIs(t, svc.RegisterReferral(ctx, "", code), domain.ErrInvalidInput)
}

func TestStatsAndReset(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	require.NoError(t, svc.IngestScore(ctx, domain.SubmitRequest{UserKey: "a", Score: 10}))
	require.NoError(t, svc.IngestScore(ctx, domain.SubmitRequest{UserKey: "b", Score: 70}))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalPlayers)
	assert.EqualValues(t, 70, stats.TopScore)

	require.NoError(t, svc.Reset(ctx))

	stats, err = svc.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.TotalPlayers)
}
