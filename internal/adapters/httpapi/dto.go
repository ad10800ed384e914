package httpapi

import (
	"time"

	"github.com/oapi-codegen/nullable"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/campus-carpool/rides-api/internal/app/live"
	"github.com/campus-carpool/rides-api/internal/app/rides"
	"github.com/campus-carpool/rides-api/internal/domain"
)

type User struct {
	UserId             string                    `json:"userId"`
	Name               string                    `json:"name"`
	Email              openapi_types.Email       `json:"email"`
	PhotoUrl           nullable.Nullable[string] `json:"photoUrl"`
	ContactHandle      nullable.Nullable[string] `json:"contactHandle"`
	NeedsContactHandle bool                      `json:"needsContactHandle"`
}

type Ride struct {
	RideId               string                    `json:"rideId"`
	Source               string                    `json:"source"`
	Destination          string                    `json:"destination"`
	Date                 openapi_types.Date        `json:"date"`
	StartTime            string                    `json:"startTime"`
	EndTime              string                    `json:"endTime"`
	SeatsAvailable       int                       `json:"seatsAvailable"`
	CreatorId            string                    `json:"creatorId"`
	CreatorName          string                    `json:"creatorName"`
	CreatorEmail         openapi_types.Email       `json:"creatorEmail"`
	CreatorContactHandle nullable.Nullable[string] `json:"creatorContactHandle"`
	CreatedAt            time.Time                 `json:"createdAt"`
	Joined               bool                      `json:"joined"`
}

type LoadState struct {
	Loading  bool                         `json:"loading"`
	Error    nullable.Nullable[ErrorBody] `json:"error"`
	LoadedAt nullable.Nullable[time.Time] `json:"loadedAt"`
}

type ListRidesResponse struct {
	Rides         []Ride    `json:"rides"`
	JoinedRideIds []string  `json:"joinedRideIds"`
	State         LoadState `json:"state"`
}

type CreateRideRequest struct {
	Source         string `json:"source"`
	Destination    string `json:"destination"`
	Date           string `json:"date"`
	StartTime      string `json:"startTime"`
	EndTime        string `json:"endTime"`
	SeatsAvailable int    `json:"seatsAvailable"`
}

type RideResponse struct {
	Ride Ride `json:"ride"`
}

type JoinRideResponse struct {
	Outcome        string `json:"outcome"`
	SeatsAvailable int    `json:"seatsAvailable"`
	Ride           *Ride  `json:"ride,omitempty"`
}

type SetContactHandleRequest struct {
	ContactHandle string `json:"contactHandle"`
}

type MeResponse struct {
	User User `json:"user"`
}

type CallbackResponse struct {
	IdToken    string                       `json:"idToken"`
	ExpiresAt  nullable.Nullable[time.Time] `json:"expiresAt"`
	RedirectTo nullable.Nullable[string]    `json:"redirectTo"`
}

type LocationsResponse struct {
	Locations []string `json:"locations"`
}

type LiveStatusResponse struct {
	Status string                    `json:"status"`
	Error  nullable.Nullable[string] `json:"error"`
}

func nullableString(p *string) nullable.Nullable[string] {
	var out nullable.Nullable[string]
	if p != nil {
		out.Set(*p)
	}
	return out
}

func nullableTime(t time.Time) nullable.Nullable[time.Time] {
	var out nullable.Nullable[time.Time]
	if !t.IsZero() {
		out.Set(t.UTC())
	}
	return out
}

func userFromDomain(u domain.User, needsContactHandle bool) User {
	return User{
		UserId:             string(u.ID),
		Name:               u.Name,
		Email:              openapi_types.Email(u.Email),
		PhotoUrl:           nullableString(u.PhotoURL),
		ContactHandle:      nullableString(u.ContactHandle),
		NeedsContactHandle: needsContactHandle,
	}
}

func rideFromDomain(r domain.Ride, joined bool) Ride {
	out := Ride{
		RideId:               string(r.ID),
		Source:               r.Source,
		Destination:          r.Destination,
		StartTime:            r.StartTime,
		EndTime:              r.EndTime,
		SeatsAvailable:       r.SeatsAvailable,
		CreatorId:            string(r.CreatorID),
		CreatorName:          r.CreatorName,
		CreatorEmail:         openapi_types.Email(r.CreatorEmail),
		CreatorContactHandle: nullableString(r.CreatorContactHandle),
		CreatedAt:            r.CreatedAt.UTC(),
		Joined:               joined,
	}
	if d, err := time.Parse(domain.DateLayout, r.Date); err == nil {
		out.Date = openapi_types.Date{Time: d}
	}
	return out
}

func loadStateFromRides(st rides.State, requestID string) LoadState {
	out := LoadState{Loading: st.Loading, LoadedAt: nullableTime(st.LoadedAt)}
	if st.Err != nil {
		body := errorBodyFor(st.Err)
		if requestID != "" {
			body.RequestId = nullable.NewNullableWithValue(requestID)
		}
		out.Error = nullable.NewNullableWithValue(body)
	}
	return out
}

func liveStatusFrom(st live.Status, err error) LiveStatusResponse {
	out := LiveStatusResponse{Status: string(st)}
	if err != nil {
		out.Error = nullable.NewNullableWithValue(err.Error())
	}
	return out
}
