package profilerepo

import (
	"context"
	"sync"
	"time"

	"github.com/campus-carpool/rides-api/internal/domain"
	"github.com/campus-carpool/rides-api/internal/ports/out/profilerepo"
)

// Repo is an in-memory implementation of profilerepo.Repository.
// It is safe for concurrent use.
type Repo struct {
	mu   sync.RWMutex
	byID map[domain.UserID]profilerepo.Profile
}

func NewRepo() *Repo {
	return &Repo{byID: make(map[domain.UserID]profilerepo.Profile)}
}

func (r *Repo) GetByID(ctx context.Context, id domain.UserID) (profilerepo.Profile, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return profilerepo.Profile{}, profilerepo.ErrNotFound
	}
	return cloneProfile(p), nil
}

func (r *Repo) Create(ctx context.Context, p profilerepo.Profile) (profilerepo.Profile, error) {
	_ = ctx
	if p.ID == "" {
		return profilerepo.Profile{}, profilerepo.ErrInvalidID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[p.ID]; ok {
		return profilerepo.Profile{}, profilerepo.ErrAlreadyExists
	}
	r.byID[p.ID] = cloneProfile(p)
	return cloneProfile(p), nil
}

func (r *Repo) UpdateContactHandle(ctx context.Context, id domain.UserID, whatsApp string, updatedAt time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return profilerepo.ErrNotFound
	}
	p.WhatsApp = &whatsApp
	p.UpdatedAt = updatedAt.UTC()
	r.byID[id] = p
	return nil
}

func cloneProfile(p profilerepo.Profile) profilerepo.Profile {
	out := p
	out.PhotoURL = cloneStringPtr(p.PhotoURL)
	out.WhatsApp = cloneStringPtr(p.WhatsApp)
	return out
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
