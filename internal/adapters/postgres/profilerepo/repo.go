package profilerepo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/campus-carpool/rides-api/internal/adapters/postgres"
	"github.com/campus-carpool/rides-api/internal/domain"
	"github.com/campus-carpool/rides-api/internal/ports/out/profilerepo"
)

// Repo is a Postgres implementation of profilerepo.Repository.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

func (r *Repo) GetByID(ctx context.Context, id domain.UserID) (profilerepo.Profile, error) {
	if r.pool == nil {
		return profilerepo.Profile{}, errors.New("nil postgres pool")
	}
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, name, photo_url, whatsapp, updated_at
		FROM user_profiles
		WHERE id = $1
	`, string(id))
	return scanProfile(row)
}

func (r *Repo) Create(ctx context.Context, p profilerepo.Profile) (profilerepo.Profile, error) {
	if r.pool == nil {
		return profilerepo.Profile{}, errors.New("nil postgres pool")
	}
	if p.ID == "" {
		return profilerepo.Profile{}, profilerepo.ErrInvalidID
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO user_profiles (id, email, name, photo_url, whatsapp, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, email, name, photo_url, whatsapp, updated_at
	`,
		string(p.ID),
		p.Email,
		p.Name,
		p.PhotoURL,
		p.WhatsApp,
		p.UpdatedAt.UTC(),
	)
	out, err := scanProfile(row)
	if err != nil {
		if pe, ok := postgres.AsPgError(err); ok && pe.Code == postgres.UniqueViolationCode {
			return profilerepo.Profile{}, profilerepo.ErrAlreadyExists
		}
		return profilerepo.Profile{}, err
	}
	return out, nil
}

func (r *Repo) UpdateContactHandle(ctx context.Context, id domain.UserID, whatsApp string, updatedAt time.Time) error {
	if r.pool == nil {
		return errors.New("nil postgres pool")
	}
	ct, err := r.pool.Exec(ctx, `
		UPDATE user_profiles
		SET whatsapp = $2,
		    updated_at = $3
		WHERE id = $1
	`, string(id), whatsApp, updatedAt.UTC())
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return profilerepo.ErrNotFound
	}
	return nil
}

func scanProfile(row interface {
	Scan(dest ...any) error
}) (profilerepo.Profile, error) {
	var (
		id        string
		email     string
		name      string
		photoURL  *string
		whatsApp  *string
		updatedAt time.Time
	)
	if err := row.Scan(&id, &email, &name, &photoURL, &whatsApp, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return profilerepo.Profile{}, profilerepo.ErrNotFound
		}
		return profilerepo.Profile{}, err
	}
	return profilerepo.Profile{
		ID:        domain.UserID(id),
		Email:     email,
		Name:      name,
		PhotoURL:  photoURL,
		WhatsApp:  whatsApp,
		UpdatedAt: updatedAt.UTC(),
	}, nil
}
