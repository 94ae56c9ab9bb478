package indexer

import (
	"errors"
	"sync"
	"time"

	"github.com/seanblong/codenav/pkg/models"
)

var errNotIndexing = errors.New("no indexing run in progress")

// State holds the current snapshot and the indexing status. Every read and
// write of either goes through mu, and the only transitions are the ones
// exposed as methods.
type State struct {
	mu       sync.Mutex
	snapshot *Snapshot
	status   models.Status
	now      func() time.Time
}

// NewState returns a State in the not_indexed state.
func NewState() *State {
	s := &State{now: time.Now}
	s.status = models.Status{
		State:     models.StateNotIndexed,
		Detail:    "No repository indexed yet",
		UpdatedAt: s.now(),
	}
	return s
}

// Status returns a copy of the current status.
func (s *State) Status() models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot returns the current snapshot, or nil before the first
// successful run.
func (s *State) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Begin moves to indexing unless a run is already in progress.
func (s *State) Begin(repo string) (models.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.State == models.StateIndexing {
		return models.Status{}, ErrConflict
	}
	s.status = models.Status{
		State:     models.StateIndexing,
		Repo:      repo,
		Detail:    "Indexing started",
		UpdatedAt: s.now(),
	}
	return s.status, nil
}

// Publish installs snap as the current snapshot and finishes the run. The
// replaced snapshot, if any, is returned so its index can be released.
func (s *State) Publish(snap *Snapshot, repo string) (*Snapshot, error) {
	if snap == nil || snap.ChunkCount() == 0 {
		return nil, ErrNoFiles
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.State != models.StateIndexing {
		return nil, errNotIndexing
	}
	prev := s.snapshot
	s.snapshot = snap
	s.status = models.Status{
		State:     models.StateIndexed,
		Repo:      repo,
		Files:     snap.FileCount(),
		Chunks:    snap.ChunkCount(),
		Detail:    "Indexing complete",
		UpdatedAt: s.now(),
	}
	return prev, nil
}

// Fail finishes the run with an error. The previous snapshot, if any, stays
// queryable.
func (s *State) Fail(detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.State != models.StateIndexing {
		return errNotIndexing
	}
	s.status.State = models.StateError
	s.status.Detail = detail
	s.status.UpdatedAt = s.now()
	return nil
}
