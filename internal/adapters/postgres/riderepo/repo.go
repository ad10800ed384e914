package riderepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campus-carpool/rides-api/internal/domain"
	"github.com/campus-carpool/rides-api/internal/ports/out/riderepo"
)

const rideColumns = `
	id,
	source,
	destination,
	to_char("date", 'YYYY-MM-DD'),
	start_time,
	end_time,
	seats_available,
	creator_id,
	creator_name,
	creator_email,
	creator_whatsapp,
	created_at`

// Repo is a Postgres implementation of riderepo.Repository.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

func (r *Repo) ListNewestFirst(ctx context.Context) ([]riderepo.Ride, error) {
	if r.pool == nil {
		return nil, errors.New("nil postgres pool")
	}
	rows, err := r.pool.Query(ctx, `SELECT `+rideColumns+`
		FROM rides
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]riderepo.Ride, 0)
	for rows.Next() {
		ride, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ride)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) Create(ctx context.Context, in riderepo.NewRide) (riderepo.Ride, error) {
	if r.pool == nil {
		return riderepo.Ride{}, errors.New("nil postgres pool")
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO rides (
			source,
			destination,
			"date",
			start_time,
			end_time,
			seats_available,
			creator_id,
			creator_name,
			creator_email,
			creator_whatsapp
		) VALUES ($1, $2, $3::text::date, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+rideColumns,
		in.Source,
		in.Destination,
		in.Date,
		in.StartTime,
		in.EndTime,
		in.SeatsAvailable,
		string(in.CreatorID),
		in.CreatorName,
		in.CreatorEmail,
		in.CreatorWhatsApp,
	)
	out, err := scanRide(row)
	if err != nil {
		return riderepo.Ride{}, fmt.Errorf("insert ride: %w", err)
	}
	return out, nil
}

func (r *Repo) DecrementSeat(ctx context.Context, id domain.RideID) (int, error) {
	if r.pool == nil {
		return 0, errors.New("nil postgres pool")
	}
	rid, err := uuid.Parse(string(id))
	if err != nil {
		return 0, riderepo.ErrNotFound
	}

	var remaining int
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE rides
			SET seats_available = seats_available - 1
			WHERE id = $1 AND seats_available > 0
			RETURNING seats_available
		`, rid).Scan(&remaining)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rides WHERE id = $1)`, rid).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return riderepo.ErrNotFound
		}
		return riderepo.ErrNoSeats
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

func scanRide(row interface {
	Scan(dest ...any) error
}) (riderepo.Ride, error) {
	var (
		id          uuid.UUID
		source      string
		destination string
		date        string
		startTime   string
		endTime     string
		seats       int
		creatorID   string
		creatorName string
		email       string
		whatsApp    *string
		createdAt   time.Time
	)
	if err := row.Scan(
		&id,
		&source,
		&destination,
		&date,
		&startTime,
		&endTime,
		&seats,
		&creatorID,
		&creatorName,
		&email,
		&whatsApp,
		&createdAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return riderepo.Ride{}, riderepo.ErrNotFound
		}
		return riderepo.Ride{}, err
	}
	return riderepo.Ride{
		ID:              domain.RideID(id.String()),
		Source:          source,
		Destination:     destination,
		Date:            date,
		StartTime:       startTime,
		EndTime:         endTime,
		SeatsAvailable:  seats,
		CreatorID:       domain.UserID(creatorID),
		CreatorName:     creatorName,
		CreatorEmail:    email,
		CreatorWhatsApp: whatsApp,
		CreatedAt:       createdAt.UTC(),
	}, nil
}
