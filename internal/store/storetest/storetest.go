// Package storetest provides a scriptable in-memory stand-in for the
// Postgres store, for handler and pipeline tests.
package storetest

import (
	"context"
	"sync"

	"github.com/voxprep/voxprep/internal/store"
	"github.com/voxprep/voxprep/pkg/interview"
)

// Store wraps the in-memory store with scriptable failures.
type Store struct {
	mem *store.Memory

	mu sync.Mutex
	// CreateErr, SaveErr, and GetErr, when set, are returned by the
	// corresponding operations instead of touching the data.
	CreateErr error
	SaveErr   error
	GetErr    error
}

// New creates an empty scriptable store.
func New() *Store {
	return &Store{mem: store.NewMemory()}
}

func (s *Store) CreateInterview(ctx context.Context, cfg *interview.Config) error {
	if err := s.scripted(&s.CreateErr); err != nil {
		return err
	}
	return s.mem.CreateInterview(ctx, cfg)
}

func (s *Store) GetInterview(ctx context.Context, id string) (*interview.Config, error) {
	if err := s.scripted(&s.GetErr); err != nil {
		return nil, err
	}
	return s.mem.GetInterview(ctx, id)
}

func (s *Store) ListInterviews(ctx context.Context, limit int) ([]*interview.Config, error) {
	if err := s.scripted(&s.GetErr); err != nil {
		return nil, err
	}
	return s.mem.ListInterviews(ctx, limit)
}

func (s *Store) SaveFeedback(ctx context.Context, rec *interview.FeedbackRecord) error {
	if err := s.scripted(&s.SaveErr); err != nil {
		return err
	}
	return s.mem.SaveFeedback(ctx, rec)
}

func (s *Store) GetFeedback(ctx context.Context, interviewID, candidateEmail string) (*interview.FeedbackRecord, error) {
	if err := s.scripted(&s.GetErr); err != nil {
		return nil, err
	}
	return s.mem.GetFeedback(ctx, interviewID, candidateEmail)
}

// FeedbackCount reports how many records are stored.
func (s *Store) FeedbackCount() int {
	return s.mem.FeedbackCount()
}

// SetErrors scripts the failure fields under the lock.
func (s *Store) SetErrors(create, save, get error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CreateErr, s.SaveErr, s.GetErr = create, save, get
}

func (s *Store) scripted(field *error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *field
}
