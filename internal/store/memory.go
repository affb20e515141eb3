package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/voxprep/voxprep/pkg/interview"
)

// Memory is a map-backed store for development and single-process
// deployments without Postgres. Safe for concurrent use.
type Memory struct {
	mu         sync.Mutex
	interviews map[string]*interview.Config
	feedback   map[string]*interview.FeedbackRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		interviews: make(map[string]*interview.Config),
		feedback:   make(map[string]*interview.FeedbackRecord),
	}
}

func feedbackKey(interviewID, email string) string {
	return interviewID + "|" + strings.ToLower(strings.TrimSpace(email))
}

// CreateInterview stores a copy of cfg.
func (s *Memory) CreateInterview(ctx context.Context, cfg *interview.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now().UTC()
	}
	cp := *cfg
	s.interviews[cfg.ID] = &cp
	return nil
}

// GetInterview returns the stored interview or ErrNotFound.
func (s *Memory) GetInterview(ctx context.Context, id string) (*interview.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.interviews[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *cfg
	return &cp, nil
}

// ListInterviews returns stored interviews newest first.
func (s *Memory) ListInterviews(ctx context.Context, limit int) ([]*interview.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*interview.Config, 0, len(s.interviews))
	for _, cfg := range s.interviews {
		cp := *cfg
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveFeedback upserts a copy of rec.
func (s *Memory) SaveFeedback(ctx context.Context, rec *interview.FeedbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	cp := *rec
	s.feedback[feedbackKey(rec.InterviewID, rec.CandidateEmail)] = &cp
	return nil
}

// GetFeedback returns the stored record or ErrNotFound.
func (s *Memory) GetFeedback(ctx context.Context, interviewID, candidateEmail string) (*interview.FeedbackRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.feedback[feedbackKey(interviewID, candidateEmail)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// FeedbackCount reports how many records are stored.
func (s *Memory) FeedbackCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.feedback)
}
