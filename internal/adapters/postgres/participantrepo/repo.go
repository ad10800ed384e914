package participantrepo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/campus-carpool/rides-api/internal/adapters/postgres"
	"github.com/campus-carpool/rides-api/internal/domain"
	"github.com/campus-carpool/rides-api/internal/ports/out/participantrepo"
)

// Repo is a Postgres implementation of participantrepo.Repository.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

func (r *Repo) Insert(ctx context.Context, p participantrepo.Participant) error {
	if r.pool == nil {
		return errors.New("nil postgres pool")
	}
	rid, err := uuid.Parse(string(p.RideID))
	if err != nil {
		return fmt.Errorf("invalid ride id: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO ride_participants (ride_id, user_id)
		VALUES ($1, $2)
	`, rid, string(p.UserID))
	if err != nil {
		if pe, ok := postgres.AsPgError(err); ok {
			switch pe.Code {
			case postgres.UniqueViolationCode:
				return participantrepo.ErrAlreadyJoined
			case postgres.ForeignKeyViolationCode:
				return fmt.Errorf("ride %s does not exist: %w", p.RideID, err)
			}
		}
		return err
	}
	return nil
}

func (r *Repo) Delete(ctx context.Context, p participantrepo.Participant) error {
	if r.pool == nil {
		return errors.New("nil postgres pool")
	}
	rid, err := uuid.Parse(string(p.RideID))
	if err != nil {
		return participantrepo.ErrNotFound
	}
	ct, err := r.pool.Exec(ctx, `
		DELETE FROM ride_participants
		WHERE ride_id = $1 AND user_id = $2
	`, rid, string(p.UserID))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return participantrepo.ErrNotFound
	}
	return nil
}

func (r *Repo) ListRideIDsByUser(ctx context.Context, userID domain.UserID) ([]domain.RideID, error) {
	if r.pool == nil {
		return nil, errors.New("nil postgres pool")
	}
	rows, err := r.pool.Query(ctx, `
		SELECT ride_id
		FROM ride_participants
		WHERE user_id = $1
		ORDER BY ride_id ASC
	`, string(userID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.RideID, 0)
	for rows.Next() {
		var rid uuid.UUID
		if err := rows.Scan(&rid); err != nil {
			return nil, err
		}
		out = append(out, domain.RideID(rid.String()))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
