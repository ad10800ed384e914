package rides

import (
	"time"

	"github.com/campus-carpool/rides-api/internal/domain"
)

// Outcome classifies a join attempt.
type Outcome string

const (
	OutcomeJoined        Outcome = "joined"
	OutcomeNotFound      Outcome = "ride_not_found"
	OutcomeFull          Outcome = "ride_full"
	OutcomeAlreadyJoined Outcome = "already_joined"

	OutcomeParticipantInsertFailed Outcome = "participant_insert_failed"
	OutcomeSeatDecrementFailed     Outcome = "seat_decrement_failed"
	// OutcomeCompensationFailed means the seat decrement failed and the join
	// record could not be removed afterwards; the store may hold an orphan row.
	OutcomeCompensationFailed Outcome = "compensation_failed"
)

type JoinResult struct {
	Outcome Outcome
	// SeatsAvailable is the store's remaining count after a successful join.
	SeatsAvailable int
	// Err is the remote failure behind a failed outcome, if any.
	Err error
}

func (r JoinResult) OK() bool { return r.Outcome == OutcomeJoined }

// State is a snapshot of the repository's load status.
type State struct {
	Loading  bool
	Err      error
	LoadedAt time.Time
}

type ChangeKind string

const (
	ChangeReloaded     ChangeKind = "reloaded"
	ChangeReloadFailed ChangeKind = "reload_failed"
	ChangeCreated      ChangeKind = "created"
	ChangeJoined       ChangeKind = "joined"
	ChangeReset        ChangeKind = "reset"
)

// Change is delivered to subscribers after local state changes.
type Change struct {
	Kind   ChangeKind
	RideID domain.RideID
}
