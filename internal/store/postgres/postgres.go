// Package postgres implements the score store on PostgreSQL. The best-score
// upsert is a single INSERT ... ON CONFLICT statement, so concurrent
// submissions for one user can never lose the higher value.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/score-keeper/internal/config"
	"github.com/score-keeper/internal/domain"
)

// Store provides PostgreSQL-based score persistence
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a new PostgreSQL store
func New(cfg *config.PostgresConfig, logger *slog.Logger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Store{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (s *Store) Close() {
	s.pool.Close()
}

// unavailable tags an infrastructure fault so callers can map it to the
// storage error taxonomy with errors.Is.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}

// RunMigrations executes database migrations
func (s *Store) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS score_records (
			seq BIGSERIAL UNIQUE,
			user_key VARCHAR(128) PRIMARY KEY,
			display_name VARCHAR(255) NOT NULL DEFAULT 'Anonymous',
			best_score BIGINT NOT NULL DEFAULT 0 CHECK (best_score >= 0),
			referral_code VARCHAR(64) UNIQUE,
			referred_by VARCHAR(64),
			invited_count BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS referrals (
			id BIGSERIAL PRIMARY KEY,
			referral_code VARCHAR(64) NOT NULL,
			invited_user_key VARCHAR(128) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(referral_code, invited_user_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_score_records_rank ON score_records(best_score DESC, seq ASC)`,
	}

	for _, migration := range migrations {
		if _, err := s.pool.Exec(ctx, migration); err != nil {
			return unavailable("executing migration", err)
		}
	}

	s.logger.Info("database migrations completed")
	return nil
}

// GetBest returns the stored best score, or 0 when no record exists.
func (s *Store) GetBest(ctx context.Context, userKey string) (int64, error) {
	query := `SELECT best_score FROM score_records WHERE user_key = $1`
	var best int64
	err := s.pool.QueryRow(ctx, query, userKey).Scan(&best)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, unavailable("getting best score", err)
	}
	return best, nil
}

// Submit upserts the record, keeping the greater of the stored and candidate
// scores and refreshing the display name. The previous best is read in the
// same statement to report whether the stored value changed.
func (s *Store) Submit(ctx context.Context, userKey, displayName string, score int64) (domain.SubmitResult, error) {
	if displayName == "" {
		displayName = domain.DefaultDisplayName
	}

	// The previous CTE reads the statement snapshot while ON CONFLICT sees the
	// locked latest row, so concurrent submits for one key may each report
	// Improved against a stale previous. The stored best is still the maximum;
	// only the Improved flag is best-effort, and the mirror absorbs duplicate
	// notifications via ZADD GT.
	query := `
		WITH previous AS (
			SELECT best_score FROM score_records WHERE user_key = $1
		), upserted AS (
			INSERT INTO score_records (user_key, display_name, best_score)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_key) DO UPDATE SET
				best_score = GREATEST(score_records.best_score, EXCLUDED.best_score),
				display_name = EXCLUDED.display_name,
				updated_at = CURRENT_TIMESTAMP
			RETURNING best_score
		)
		SELECT upserted.best_score, COALESCE(previous.best_score, -1)
		FROM upserted LEFT JOIN previous ON TRUE
	`
	var best, previous int64
	if err := s.pool.QueryRow(ctx, query, userKey, displayName, score).Scan(&best, &previous); err != nil {
		return domain.SubmitResult{}, unavailable("submitting score", err)
	}
	return domain.SubmitResult{Improved: best > previous, Best: best}, nil
}

// TopN returns up to limit records ordered by best score descending, earliest
// created first on ties.
func (s *Store) TopN(ctx context.Context, limit int) ([]domain.ScoreRecord, error) {
	query := `
		SELECT seq, user_key, display_name, best_score,
		       COALESCE(referral_code, ''), COALESCE(referred_by, ''),
		       invited_count, created_at, updated_at
		FROM score_records
		ORDER BY best_score DESC, seq ASC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, unavailable("querying top scores", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]domain.ScoreRecord, error) {
	var records []domain.ScoreRecord
	for rows.Next() {
		var rec domain.ScoreRecord
		err := rows.Scan(
			&rec.Seq,
			&rec.UserKey,
			&rec.DisplayName,
			&rec.BestScore,
			&rec.ReferralCode,
			&rec.ReferredBy,
			&rec.InvitedCount,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, unavailable("scanning score record", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("reading score records", err)
	}
	return records, nil
}

// ReferralCode returns the player's code, minting one on first request. The
// COALESCE keeps an already-assigned code immutable even under concurrent
// first requests.
func (s *Store) ReferralCode(ctx context.Context, userKey string) (string, error) {
	query := `
		INSERT INTO score_records (user_key, referral_code)
		VALUES ($1, $2)
		ON CONFLICT (user_key) DO UPDATE SET
			referral_code = COALESCE(score_records.referral_code, EXCLUDED.referral_code),
			updated_at = CURRENT_TIMESTAMP
		RETURNING referral_code
	`
	var code string
	if err := s.pool.QueryRow(ctx, query, userKey, uuid.NewString()).Scan(&code); err != nil {
		return "", unavailable("assigning referral code", err)
	}
	return code, nil
}

// RegisterReferral records the referral in a single transaction: the invite
// list row, the invitee's back-reference and the owner's invited_count either
// all land or none do.
func (s *Store) RegisterReferral(ctx context.Context, userKey, code string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable("beginning referral transaction", err)
	}
	defer tx.Rollback(ctx)

	var ownerKey string
	err = tx.QueryRow(ctx, `SELECT user_key FROM score_records WHERE referral_code = $1`, code).Scan(&ownerKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrReferralNotFound
		}
		return unavailable("resolving referral code", err)
	}
	if ownerKey == userKey {
		return domain.ErrSelfReferral
	}

	_, err = tx.Exec(ctx, `INSERT INTO referrals (referral_code, invited_user_key) VALUES ($1, $2)`, code, userKey)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return domain.ErrAlreadyReferred
		}
		return unavailable("recording referral", err)
	}

	var referredBy string
	err = tx.QueryRow(ctx, `
		INSERT INTO score_records (user_key, referred_by)
		VALUES ($1, $2)
		ON CONFLICT (user_key) DO UPDATE SET
			referred_by = COALESCE(score_records.referred_by, EXCLUDED.referred_by),
			updated_at = CURRENT_TIMESTAMP
		RETURNING referred_by
	`, userKey, code).Scan(&referredBy)
	if err != nil {
		return unavailable("setting referral back-reference", err)
	}
	if referredBy != code {
		// Already referred through a different code; roll everything back.
		return domain.ErrAlreadyReferred
	}

	_, err = tx.Exec(ctx, `UPDATE score_records SET invited_count = invited_count + 1, updated_at = CURRENT_TIMESTAMP WHERE user_key = $1`, ownerKey)
	if err != nil {
		return unavailable("updating invite count", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable("committing referral", err)
	}
	return nil
}

// Count returns the total number of records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM score_records`).Scan(&count); err != nil {
		return 0, unavailable("counting score records", err)
	}
	return count, nil
}

// All returns every record in rank order, for mirror rebuilds.
func (s *Store) All(ctx context.Context) ([]domain.ScoreRecord, error) {
	query := `
		SELECT seq, user_key, display_name, best_score,
		       COALESCE(referral_code, ''), COALESCE(referred_by, ''),
		       invited_count, created_at, updated_at
		FROM score_records
		ORDER BY best_score DESC, seq ASC
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, unavailable("querying all scores", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Reset wipes all records.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE score_records, referrals RESTART IDENTITY`); err != nil {
		return unavailable("resetting score store", err)
	}
	return nil
}
