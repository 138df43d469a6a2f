package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/score-keeper/internal/config"
	"github.com/score-keeper/internal/domain"
	"github.com/score-keeper/internal/mirror"
	"github.com/score-keeper/internal/ratelimit"
	"github.com/score-keeper/internal/signature"
	"github.com/score-keeper/internal/store"
	"github.com/score-keeper/internal/websocket"
)

// broadcastLimit is how many entries go out with each live update.
const broadcastLimit = 10

// ScoreService provides business logic for score operations: request
// validation, optional signature checking, rate limiting and mapping onto the
// score store.
type ScoreService struct {
	store   store.Store
	limiter *ratelimit.Keyed
	cfg     *config.Config
	logger  *slog.Logger

	// Optional collaborators, nil when disabled.
	mirror *mirror.Mirror
	hub    *websocket.Hub
}

// NewScoreService creates a new score service
func NewScoreService(st store.Store, cfg *config.Config, logger *slog.Logger) *ScoreService {
	return &ScoreService{
		store:   st,
		limiter: ratelimit.New(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window),
		cfg:     cfg,
		logger:  logger,
	}
}

// SetMirror attaches the realtime leaderboard mirror
func (s *ScoreService) SetMirror(m *mirror.Mirror) {
	s.mirror = m
}

// SetHub attaches the WebSocket hub for live updates
func (s *ScoreService) SetHub(hub *websocket.Hub) {
	s.hub = hub
}

// FetchScore returns a player's best score. Unknown players read as 0.
func (s *ScoreService) FetchScore(ctx context.Context, userKey string) (int64, error) {
	return s.store.GetBest(ctx, userKey)
}

// canonicalPayload is the byte sequence the request signature covers. Field
// order is fixed by the struct, so both sides produce identical bytes.
func canonicalPayload(req domain.SubmitRequest) []byte {
	payload, _ := json.Marshal(struct {
		UserKey     string `json:"user_key"`
		DisplayName string `json:"display_name"`
		Score       int64  `json:"score"`
	}{req.UserKey, req.DisplayName, req.Score})
	return payload
}

// SignSubmission computes the signature a client must attach to req. Exposed
// for clients and tests; returns the empty string when signing is disabled.
func (s *ScoreService) SignSubmission(req domain.SubmitRequest) string {
	if s.cfg.Auth.SharedSecret == "" {
		return ""
	}
	return signature.Sign([]byte(s.cfg.Auth.SharedSecret), canonicalPayload(req))
}

// SubmitScore validates and authenticates a submission from clientKey, rate
// limits it, then applies it to the store. Submitting a score at or below the
// stored best is a successful no-op.
func (s *ScoreService) SubmitScore(ctx context.Context, req domain.SubmitRequest, sig, clientKey string) error {
	if req.UserKey == "" || req.Score <= 0 {
		return domain.ErrInvalidInput
	}

	if secret := s.cfg.Auth.SharedSecret; secret != "" {
		if sig == "" || !signature.Verify([]byte(secret), canonicalPayload(req), sig) {
			return domain.ErrInvalidSignature
		}
	}

	if !s.limiter.Allow(clientKey) {
		return domain.ErrRateLimited
	}

	return s.IngestScore(ctx, req)
}

// IngestScore applies a validated submission from a trusted path (the Kafka
// consumer, or SubmitScore once authentication and rate limiting passed).
func (s *ScoreService) IngestScore(ctx context.Context, req domain.SubmitRequest) error {
	if req.UserKey == "" || req.Score <= 0 {
		return domain.ErrInvalidInput
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = domain.DefaultDisplayName
	}

	result, err := s.store.Submit(ctx, req.UserKey, displayName, req.Score)
	if err != nil {
		return fmt.Errorf("submitting score: %w", err)
	}

	if result.Improved {
		s.publishUpdate(ctx, req.UserKey, result.Best)
	}
	return nil
}

// publishUpdate pushes a new best into the mirror and broadcasts the fresh
// top entries. Both paths are best-effort; the submission already succeeded.
func (s *ScoreService) publishUpdate(ctx context.Context, userKey string, best int64) {
	if s.mirror != nil {
		if err := s.mirror.RecordBest(ctx, userKey, best); err != nil {
			s.logger.Warn("failed to update leaderboard mirror", "error", err)
		}
	}

	if s.hub == nil {
		return
	}
	entries, err := s.Leaderboard(ctx, broadcastLimit)
	if err != nil {
		s.logger.Warn("failed to load leaderboard for broadcast", "error", err)
		return
	}
	total, err := s.store.Count(ctx)
	if err != nil {
		s.logger.Warn("failed to count players for broadcast", "error", err)
		return
	}
	s.hub.BroadcastLeaderboard(entries, total)
}

// Leaderboard returns up to limit ranked entries. A non-positive limit falls
// back to the configured default; limits above the configured maximum are
// clamped.
func (s *ScoreService) Leaderboard(ctx context.Context, limit int) ([]domain.Entry, error) {
	if limit <= 0 {
		limit = s.cfg.Leaderboard.DefaultLimit
	}
	if limit > s.cfg.Leaderboard.MaxLimit {
		limit = s.cfg.Leaderboard.MaxLimit
	}

	records, err := s.store.TopN(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("getting top scores: %w", err)
	}

	entries := make([]domain.Entry, len(records))
	for i, rec := range records {
		entries[i] = domain.Entry{
			Position:    i + 1,
			UserKey:     rec.UserKey,
			DisplayName: rec.DisplayName,
			Score:       rec.BestScore,
		}
	}
	return entries, nil
}

// ReferralLink returns the player's invite link, minting a referral code on
// first request.
func (s *ScoreService) ReferralLink(ctx context.Context, userKey string) (string, error) {
	if userKey == "" {
		return "", domain.ErrInvalidInput
	}
	code, err := s.store.ReferralCode(ctx, userKey)
	if err != nil {
		return "", fmt.Errorf("getting referral code: %w", err)
	}
	return s.cfg.Referral.LinkBase + code, nil
}

// RegisterReferral links userKey to the owner of code.
func (s *ScoreService) RegisterReferral(ctx context.Context, userKey, code string) error {
	if userKey == "" || code == "" {
		return domain.ErrInvalidInput
	}
	return s.store.RegisterReferral(ctx, userKey, code)
}

// Stats returns aggregate leaderboard statistics.
func (s *ScoreService) Stats(ctx context.Context) (*domain.Stats, error) {
	count, err := s.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting players: %w", err)
	}

	stats := &domain.Stats{TotalPlayers: count}

	top, err := s.store.TopN(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("getting top score: %w", err)
	}
	if len(top) > 0 {
		stats.TopScore = top[0].BestScore
	}
	return stats, nil
}

// Reset wipes the store and the mirror. Administrative use only.
func (s *ScoreService) Reset(ctx context.Context) error {
	if err := s.store.Reset(ctx); err != nil {
		return fmt.Errorf("resetting store: %w", err)
	}
	if s.mirror != nil {
		if err := s.mirror.Reset(ctx); err != nil {
			s.logger.Warn("failed to reset leaderboard mirror", "error", err)
		}
	}
	return nil
}
