package domain

import "time"

// DefaultDisplayName is used when a submission carries no display name.
const DefaultDisplayName = "Anonymous"

// ScoreRecord is the single persistent record kept per player. BestScore is
// monotonically non-decreasing; ReferralCode is assigned once and never
// changes; ReferredBy is set at most once, at registration time.
type ScoreRecord struct {
	Seq          int64     `json:"seq"`
	UserKey      string    `json:"user_key"`
	DisplayName  string    `json:"display_name"`
	BestScore    int64     `json:"best_score"`
	ReferralCode string    `json:"referral_code,omitempty"`
	ReferredBy   string    `json:"referred_by,omitempty"`
	InvitedCount int64     `json:"invited_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SubmitResult reports the outcome of a score submission.
type SubmitResult struct {
	Improved bool  `json:"improved"`
	Best     int64 `json:"best"`
}

// SubmitRequest is a candidate score for a player.
type SubmitRequest struct {
	UserKey     string `json:"user_key"`
	DisplayName string `json:"display_name,omitempty"`
	Score       int64  `json:"score"`
}

// RegisterReferralRequest links a new player to the owner of a referral code.
type RegisterReferralRequest struct {
	UserKey      string `json:"user_key"`
	ReferralCode string `json:"referral_code"`
}

// Entry is a ranked leaderboard row. Position is 1-based and assigned by the
// service from the ordered sequence returned by the store.
type Entry struct {
	Position    int    `json:"position"`
	UserKey     string `json:"user_key"`
	DisplayName string `json:"display_name"`
	Score       int64  `json:"score"`
}

// Stats contains aggregate leaderboard statistics.
type Stats struct {
	TotalPlayers int64 `json:"total_players"`
	TopScore     int64 `json:"top_score,omitempty"`
}
