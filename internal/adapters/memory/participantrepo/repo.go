package participantrepo

import (
	"context"
	"sort"
	"sync"

	"github.com/campus-carpool/rides-api/internal/domain"
	"github.com/campus-carpool/rides-api/internal/ports/out/participantrepo"
)

// Repo is an in-memory implementation of participantrepo.Repository.
// It is safe for concurrent use.
type Repo struct {
	mu sync.RWMutex
	m  map[participantrepo.Participant]struct{}
}

func NewRepo() *Repo {
	return &Repo{m: make(map[participantrepo.Participant]struct{})}
}

func (r *Repo) Insert(ctx context.Context, p participantrepo.Participant) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[p]; ok {
		return participantrepo.ErrAlreadyJoined
	}
	r.m[p] = struct{}{}
	return nil
}

func (r *Repo) Delete(ctx context.Context, p participantrepo.Participant) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[p]; !ok {
		return participantrepo.ErrNotFound
	}
	delete(r.m, p)
	return nil
}

func (r *Repo) ListRideIDsByUser(ctx context.Context, userID domain.UserID) ([]domain.RideID, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.RideID, 0)
	for p := range r.m {
		if p.UserID == userID {
			out = append(out, p.RideID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
