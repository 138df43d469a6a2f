package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/score-keeper/internal/config"
	"github.com/score-keeper/internal/domain"
	"github.com/score-keeper/internal/service"
	filestore "github.com/score-keeper/internal/store/file"
	"github.com/score-keeper/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) (*httptest.Server, *service.ScoreService) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.DefaultConfig()
	cfg.RateLimit.MaxRequests = 100
	if mutate != nil {
		mutate(cfg)
	}

	st, err := filestore.Open(filepath.Join(t.TempDir(), "scores.json"), logger)
	require.NoError(t, err)

	svc := service.NewScoreService(st, cfg, logger)

	hub := websocket.NewHub(logger)
	go hub.Run()
	t.Cleanup(hub.Stop)
	svc.SetHub(hub)

	h := NewHandler(svc, hub, logger)
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return ts, svc
}

func postJSON(t *testing.T, url string, body interface{}, headers map[string]string) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response) APIResponse {
	t.Helper()
	defer resp.Body.Close()
	var out APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSubmitAndFetchScore(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/v1/scores", domain.SubmitRequest{UserKey: "alice", DisplayName: "Alice", Score: 42}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeResponse(t, resp).Success)

	resp, err := http.Get(ts.URL + "/api/v1/scores/alice")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decodeResponse(t, resp)
	data, ok := out.Data.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 42, data["best_score"])
}

func TestFetchScoreUnknownUserIsZero(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/v1/scores/nonexistent")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decodeResponse(t, resp)
	data := out.Data.(map[string]interface{})
	assert.EqualValues(t, 0, data["best_score"])
}

func TestSubmitScoreRejectsInvalidInput(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	cases := []domain.SubmitRequest{
		{UserKey: "x", Score: 0},
		{UserKey: "x", Score: -5},
		{UserKey: "", Score: 10},
	}
	for _, req := range cases {
		resp := postJSON(t, ts.URL+"/api/v1/scores", req, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	}

	// Malformed body.
	resp, err := http.Post(ts.URL+"/api/v1/scores", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestSubmitScoreSignature(t *testing.T) {
	ts, svc := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.SharedSecret = "topsecret"
	})

	req := domain.SubmitRequest{UserKey: "alice", Score: 10}

	resp := postJSON(t, ts.URL+"/api/v1/scores", req, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/v1/scores", req, map[string]string{SignatureHeader: "deadbeef"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/v1/scores", req, map[string]string{SignatureHeader: svc.SignSubmission(req)})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestSubmitScoreRateLimited(t *testing.T) {
	ts, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.MaxRequests = 3
	})

	var last int
	for i := 0; i < 4; i++ {
		resp := postJSON(t, ts.URL+"/api/v1/scores", domain.SubmitRequest{UserKey: "alice", Score: int64(i + 1)}, nil)
		last = resp.StatusCode
		resp.Body.Close()
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestLeaderboard(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	for i, key := range []string{"A", "B", "C", "D"} {
		scores := []int64{30, 90, 90, 10}
		resp := postJSON(t, ts.URL+"/api/v1/scores", domain.SubmitRequest{UserKey: key, DisplayName: key, Score: scores[i]}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	resp, err := http.Get(ts.URL + "/api/v1/leaderboard?limit=3")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()

	var out struct {
		Success bool           `json:"success"`
		Data    []domain.Entry `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Data, 3)
	assert.Equal(t, domain.Entry{Position: 1, UserKey: "B", DisplayName: "B", Score: 90}, out.Data[0])
	assert.Equal(t, domain.Entry{Position: 2, UserKey: "C", DisplayName: "C", Score: 90}, out.Data[1])
	assert.Equal(t, domain.Entry{Position: 3, UserKey: "A", DisplayName: "A", Score: 30}, out.Data[2])
}

func TestReferralEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.Referral.LinkBase = "https://t.me/testbot?start="
	})

	resp, err := http.Get(ts.URL + "/api/v1/referrals/alice/link")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeResponse(t, resp)
	link := out.Data.(map[string]interface{})["referral_link"].(string)
	code := link[len("https://t.me/testbot?start="):]
	require.NotEmpty(t, code)

	// First registration succeeds.
	resp = postJSON(t, ts.URL+"/api/v1/referrals/", domain.RegisterReferralRequest{UserKey: "bob", ReferralCode: code}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeResponse(t, resp).Success)

	// Second registration reports success=false, still 200.
	resp = postJSON(t, ts.URL+"/api/v1/referrals/", domain.RegisterReferralRequest{UserKey: "bob", ReferralCode: code}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	repeat := decodeResponse(t, resp)
	assert.False(t, repeat.Success)
	assert.NotEmpty(t, repeat.Message)

	// Unknown code is a 404.
	resp = postJSON(t, ts.URL+"/api/v1/referrals/", domain.RegisterReferralRequest{UserKey: "eve", ReferralCode: "bogus"}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestResetStore(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/v1/scores", domain.SubmitRequest{UserKey: "alice", Score: 42}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/v1/admin/reset", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/api/v1/scores/alice")
	require.NoError(t, err)
	data := decodeResponse(t, resp).Data.(map[string]interface{})
	assert.EqualValues(t, 0, data["best_score"])
}

var errStoreDown = errors.New("connection refused")

// faultyStore fails every operation the way a backend outage would.
type faultyStore struct{}

func fault(op string) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, errStoreDown)
}

func (faultyStore) GetBest(context.Context, string) (int64, error) { return 0, fault("get best") }
func (faultyStore) Submit(context.Context, string, string, int64) (domain.SubmitResult, error) {
	return domain.SubmitResult{}, fault("submit")
}
func (faultyStore) TopN(context.Context, int) ([]domain.ScoreRecord, error) {
	return nil, fault("top n")
}
func (faultyStore) ReferralCode(context.Context, string) (string, error) {
	return "", fault("referral code")
}
func (faultyStore) RegisterReferral(context.Context, string, string) error {
	return fault("register referral")
}
func (faultyStore) Count(context.Context) (int64, error)              { return 0, fault("count") }
func (faultyStore) All(context.Context) ([]domain.ScoreRecord, error) { return nil, fault("all") }
func (faultyStore) Reset(context.Context) error                       { return fault("reset") }
func (faultyStore) Close()                                            {}

func TestStoreFaultSurfacesAsServerError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewScoreService(faultyStore{}, config.DefaultConfig(), logger)
	h := NewHandler(svc, websocket.NewHub(logger), logger)
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)

	resp := postJSON(t, ts.URL+"/api/v1/scores", domain.SubmitRequest{UserKey: "alice", Score: 42}, nil)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	out := decodeResponse(t, resp)
	assert.False(t, out.Success)
	assert.Equal(t, domain.ErrStorageUnavailable.Error(), out.Error)

	for _, path := range []string{"/api/v1/scores/alice", "/api/v1/leaderboard"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, path)
		resp.Body.Close()
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	for _, path := range []string{"/health", "/ready"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, fmt.Sprintf("endpoint %s", path))
		resp.Body.Close()
	}
}
