// Package file implements the score store as a single JSON document on disk.
// It is meant for small deployments and tests; production setups use the
// postgres backend.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/score-keeper/internal/domain"
)

// record extends the exported score record with the invite list, which only
// the store needs internally.
type record struct {
	domain.ScoreRecord
	Invited []string `json:"invited,omitempty"`
}

// document is the on-disk layout.
type document struct {
	NextSeq int64              `json:"next_seq"`
	Records map[string]*record `json:"records"`
}

// Store is a mutex-guarded JSON file store. Every mutation is staged on a
// copy of the document, rewritten through a temp file and rename, and only
// swapped in once the rewrite succeeds, so readers never observe a torn file
// or the state of a failed write.
type Store struct {
	path   string
	logger *slog.Logger

	mu  sync.RWMutex
	doc *document
}

// Open loads the document at path, creating an empty one when the file does
// not exist yet.
func Open(path string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		logger: logger,
		doc:    &document{NextSeq: 1, Records: make(map[string]*record)},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Info("score file not found, starting empty", "path", path)
			return s, nil
		}
		return nil, fmt.Errorf("opening score file: %w: %w", domain.ErrStorageUnavailable, err)
	}

	if len(data) > 0 {
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing score file %s: %w: %w", path, domain.ErrCorruptState, err)
		}
		if doc.Records == nil {
			doc.Records = make(map[string]*record)
		}
		if doc.NextSeq == 0 {
			doc.NextSeq = 1
		}
		s.doc = &doc
	}

	return s, nil
}

// clone deep-copies the document so a mutation can be staged without
// touching the state readers see.
func (d *document) clone() *document {
	next := &document{NextSeq: d.NextSeq, Records: make(map[string]*record, len(d.Records))}
	for key, rec := range d.Records {
		cp := *rec
		cp.Invited = append([]string(nil), rec.Invited...)
		next.Records[key] = &cp
	}
	return next
}

// persist writes doc atomically. Callers must hold the write lock.
func (s *Store) persist(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding score file: %w: %w", domain.ErrStorageUnavailable, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".scores-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp score file: %w: %w", domain.ErrStorageUnavailable, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing score file: %w: %w", domain.ErrStorageUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing score file: %w: %w", domain.ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing score file: %w: %w", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// getOrCreate returns the record for userKey, creating it with zero score
// when absent.
func (d *document) getOrCreate(userKey, displayName string) *record {
	if rec, ok := d.Records[userKey]; ok {
		return rec
	}
	if displayName == "" {
		displayName = domain.DefaultDisplayName
	}
	now := time.Now().UTC()
	rec := &record{
		ScoreRecord: domain.ScoreRecord{
			Seq:         d.NextSeq,
			UserKey:     userKey,
			DisplayName: displayName,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
	d.NextSeq++
	d.Records[userKey] = rec
	return rec
}

// GetBest returns the stored best score, or 0 when no record exists.
func (s *Store) GetBest(ctx context.Context, userKey string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.doc.Records[userKey]
	if !ok {
		return 0, nil
	}
	return rec.BestScore, nil
}

// Submit creates or raises the record's best score under the store lock, so
// concurrent submissions for the same key always settle on the maximum.
func (s *Store) Submit(ctx context.Context, userKey, displayName string, score int64) (domain.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc.clone()
	rec := next.getOrCreate(userKey, displayName)

	improved := score > rec.BestScore
	if improved {
		rec.BestScore = score
	}
	if displayName != "" {
		rec.DisplayName = displayName
	}
	rec.UpdatedAt = time.Now().UTC()

	if err := s.persist(next); err != nil {
		return domain.SubmitResult{}, err
	}
	s.doc = next
	return domain.SubmitResult{Improved: improved, Best: rec.BestScore}, nil
}

// TopN returns up to limit records, best score first, earliest-created first
// on ties.
func (s *Store) TopN(ctx context.Context, limit int) ([]domain.ScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.ranked(limit), nil
}

// ranked returns ordered copies of the records. Callers must hold a lock.
func (s *Store) ranked(limit int) []domain.ScoreRecord {
	out := make([]domain.ScoreRecord, 0, len(s.doc.Records))
	for _, rec := range s.doc.Records {
		out = append(out, rec.ScoreRecord)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BestScore != out[j].BestScore {
			return out[i].BestScore > out[j].BestScore
		}
		return out[i].Seq < out[j].Seq
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ReferralCode returns the player's code, minting one on first request.
func (s *Store) ReferralCode(ctx context.Context, userKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.doc.Records[userKey]; ok && rec.ReferralCode != "" {
		return rec.ReferralCode, nil
	}

	next := s.doc.clone()
	rec := next.getOrCreate(userKey, "")
	rec.ReferralCode = uuid.NewString()
	rec.UpdatedAt = time.Now().UTC()
	if err := s.persist(next); err != nil {
		return "", err
	}
	s.doc = next
	return rec.ReferralCode, nil
}

// RegisterReferral appends userKey to the invite list of the code's owner and
// sets the invited record's back-reference, all under one lock so a partial
// update is never persisted.
func (s *Store) RegisterReferral(ctx context.Context, userKey, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc.clone()

	var owner *record
	for _, rec := range next.Records {
		if rec.ReferralCode == code {
			owner = rec
			break
		}
	}
	if owner == nil {
		return domain.ErrReferralNotFound
	}
	if owner.UserKey == userKey {
		return domain.ErrSelfReferral
	}

	for _, invited := range owner.Invited {
		if invited == userKey {
			return domain.ErrAlreadyReferred
		}
	}
	invitee := next.getOrCreate(userKey, "")
	if invitee.ReferredBy != "" {
		return domain.ErrAlreadyReferred
	}

	now := time.Now().UTC()
	invitee.ReferredBy = code
	invitee.UpdatedAt = now
	owner.Invited = append(owner.Invited, userKey)
	owner.InvitedCount = int64(len(owner.Invited))
	owner.UpdatedAt = now

	if err := s.persist(next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

// Count returns the total number of records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.doc.Records)), nil
}

// All returns every record in rank order.
func (s *Store) All(ctx context.Context) ([]domain.ScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ranked(0), nil
}

// Reset wipes all records.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := &document{NextSeq: 1, Records: make(map[string]*record)}
	if err := s.persist(next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

// Close is a no-op for the file backend.
func (s *Store) Close() {}
