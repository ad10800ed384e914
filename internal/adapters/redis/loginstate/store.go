package loginstate

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/campus-carpool/rides-api/internal/ports/out/loginstate"
)

const keyPrefix = "rides:login-state:"

// Store is a Redis implementation of loginstate.Store. Expiry is delegated to
// key TTLs and Take uses GETDEL so a state value is consumed at most once.
type Store struct {
	client goredis.Cmdable
}

func NewStore(client goredis.Cmdable) *Store {
	return &Store{client: client}
}

type record struct {
	RedirectTo string    `json:"redirectTo"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (s *Store) Put(ctx context.Context, st loginstate.State, rec loginstate.Record, ttl time.Duration) error {
	if s.client == nil {
		return errors.New("nil redis client")
	}
	b, err := json.Marshal(record{RedirectTo: rec.RedirectTo, CreatedAt: rec.CreatedAt.UTC()})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, keyPrefix+string(st), b, ttl).Err()
}

func (s *Store) Take(ctx context.Context, st loginstate.State) (loginstate.Record, error) {
	if s.client == nil {
		return loginstate.Record{}, errors.New("nil redis client")
	}
	b, err := s.client.GetDel(ctx, keyPrefix+string(st)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return loginstate.Record{}, loginstate.ErrNotFound
		}
		return loginstate.Record{}, err
	}
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return loginstate.Record{}, err
	}
	return loginstate.Record{RedirectTo: rec.RedirectTo, CreatedAt: rec.CreatedAt.UTC()}, nil
}
