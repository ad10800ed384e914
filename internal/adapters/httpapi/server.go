package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/campus-carpool/rides-api/internal/adapters/oidc"
	"github.com/campus-carpool/rides-api/internal/app/rides"
	"github.com/campus-carpool/rides-api/internal/app/session"
	"github.com/campus-carpool/rides-api/internal/app/workspace"
	"github.com/campus-carpool/rides-api/internal/domain"
	clockport "github.com/campus-carpool/rides-api/internal/ports/out/clock"
	"github.com/campus-carpool/rides-api/internal/ports/out/identity"
	"github.com/campus-carpool/rides-api/internal/ports/out/profilerepo"
)

// Authenticator completes the OAuth redirect flow.
type Authenticator interface {
	Callback(ctx context.Context, code, state string) (oidc.CallbackResult, error)
}

type ServerOptions struct {
	Registry *workspace.Registry

	// LoginProvider builds sign-in redirects for /auth/login.
	LoginProvider identity.Provider
	Profiles      profilerepo.Repository
	Clock         clockport.Clock

	// Auth is nil when the OAuth flow is not configured.
	Auth Authenticator

	AllowedEmailDomains []string
	AllowedOrigins      []string
	Logger              *slog.Logger
}

// Server is the HTTP adapter over per-subject workspaces.
type Server struct {
	reg      *workspace.Registry
	login    *session.Store
	clock    clockport.Clock
	auth     Authenticator
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewServer(opts ServerOptions) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	// Sign-in redirects share one store; identity lives in per-subject workspaces.
	login := session.NewStore(opts.LoginProvider, opts.Profiles, opts.Clock, session.Options{
		AllowedEmailDomains: opts.AllowedEmailDomains,
		Logger:              log,
	})
	return &Server{
		reg:   opts.Registry,
		login: login,
		clock: opts.Clock,
		auth:  opts.Auth,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
	}
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var redirectTo *string
	if err := runtime.BindQueryParameter("form", true, false, "redirect", r.URL.Query(), &redirectTo); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", "invalid redirect parameter", nil)
		return
	}
	target := ""
	if redirectTo != nil {
		target = *redirectTo
	}

	u, err := s.login.Login(r.Context(), target)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}

func (s *Server) Callback(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(w, r, http.StatusNotFound, "NOT_CONFIGURED", "OAuth sign-in is not configured", nil)
		return
	}
	var code, state string
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, true, "code", q, &code); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", "missing code", nil)
		return
	}
	if err := runtime.BindQueryParameter("form", true, true, "state", q, &state); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", "missing state", nil)
		return
	}

	res, err := s.auth.Callback(r.Context(), code, state)
	if err != nil {
		if errors.Is(err, oidc.ErrInvalidState) {
			writeError(w, r, http.StatusBadRequest, "INVALID_STATE", "sign-in state is invalid or expired", nil)
			return
		}
		s.log.Warn("oauth callback failed", "error", err, "requestId", middleware.GetReqID(r.Context()))
		writeError(w, r, http.StatusBadGateway, "SIGN_IN_FAILED", "sign-in could not be completed", nil)
		return
	}
	out := CallbackResponse{IdToken: res.IDToken, ExpiresAt: nullableTime(res.ExpiresAt)}
	if res.RedirectTo != "" {
		out.RedirectTo.Set(res.RedirectTo)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	ws, _ := WorkspaceFromContext(r.Context())
	sub, _ := SubjectFromContext(r.Context())
	ws.Session.Logout(r.Context())
	if err := s.reg.Close(sub); err != nil {
		s.log.Warn("workspace close failed", "subject", sub, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) GetMe(w http.ResponseWriter, r *http.Request) {
	ws, _ := WorkspaceFromContext(r.Context())
	u, ok := ws.Session.User()
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "no active session", nil)
		return
	}
	writeJSON(w, http.StatusOK, MeResponse{User: userFromDomain(u, ws.Session.NeedsContactHandle())})
}

func (s *Server) SetContactHandle(w http.ResponseWriter, r *http.Request) {
	ws, _ := WorkspaceFromContext(r.Context())
	var body SetContactHandleRequest
	if !decodeBody(w, r, &body) {
		return
	}
	u, err := ws.Session.SetContactHandle(r.Context(), body.ContactHandle)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MeResponse{User: userFromDomain(u, ws.Session.NeedsContactHandle())})
}

type ListRidesParams struct {
	Source      *string
	Destination *string
	Date        *openapi_types.Date
	StartTime   *string
	EndTime     *string
}

func (s *Server) ListRides(w http.ResponseWriter, r *http.Request) {
	ws, _ := WorkspaceFromContext(r.Context())

	var p ListRidesParams
	q := r.URL.Query()
	for name, dest := range map[string]any{
		"source":      &p.Source,
		"destination": &p.Destination,
		"date":        &p.Date,
		"startTime":   &p.StartTime,
		"endTime":     &p.EndTime,
	} {
		if err := runtime.BindQueryParameter("form", true, false, name, q, dest); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", "invalid "+name, nil)
			return
		}
	}

	var f domain.SearchFilter
	if p.Source != nil {
		f.Source = *p.Source
	}
	if p.Destination != nil {
		f.Destination = *p.Destination
	}
	if p.Date != nil {
		f.Date = p.Date.Time.Format(domain.DateLayout)
	}
	fe := map[string]any{}
	if p.StartTime != nil {
		if !domain.IsClockTime(*p.StartTime) {
			fe["startTime"] = "must be HH:MM"
		}
		f.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		if !domain.IsClockTime(*p.EndTime) {
			fe["endTime"] = "must be HH:MM"
		}
		f.EndTime = *p.EndTime
	}
	if len(fe) > 0 {
		writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid search filter", fe)
		return
	}

	joined := ws.Rides.JoinedRideIDs()
	joinedSet := make(map[domain.RideID]bool, len(joined))
	ids := make([]string, 0, len(joined))
	for _, id := range joined {
		joinedSet[id] = true
		ids = append(ids, string(id))
	}

	var list []domain.Ride
	if f.IsEmpty() {
		list = ws.Rides.Rides()
	} else {
		list = ws.Rides.SearchRides(f)
	}
	out := make([]Ride, 0, len(list))
	for _, ride := range list {
		out = append(out, rideFromDomain(ride, joinedSet[ride.ID]))
	}
	writeJSON(w, http.StatusOK, ListRidesResponse{
		Rides:         out,
		JoinedRideIds: ids,
		State:         loadStateFromRides(ws.Rides.State(), middleware.GetReqID(r.Context())),
	})
}

func (s *Server) GetRide(w http.ResponseWriter, r *http.Request) {
	ws, _ := WorkspaceFromContext(r.Context())
	id, ok := bindRideID(w, r)
	if !ok {
		return
	}
	ride, found := ws.Rides.RideByID(id)
	if !found {
		writeError(w, r, http.StatusNotFound, "RIDE_NOT_FOUND", "ride not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, RideResponse{Ride: rideFromDomain(ride, ws.Rides.HasJoined(id))})
}

func (s *Server) CreateRide(w http.ResponseWriter, r *http.Request) {
	ws, _ := WorkspaceFromContext(r.Context())
	if ws.Session.NeedsContactHandle() {
		writeError(w, r, http.StatusConflict, "CONTACT_HANDLE_REQUIRED", "add a contact number before offering a ride", nil)
		return
	}
	var body CreateRideRequest
	if !decodeBody(w, r, &body) {
		return
	}
	ride, err := ws.Rides.CreateRide(r.Context(), domain.RideDraft{
		Source:         body.Source,
		Destination:    body.Destination,
		Date:           body.Date,
		StartTime:      body.StartTime,
		EndTime:        body.EndTime,
		SeatsAvailable: body.SeatsAvailable,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, RideResponse{Ride: rideFromDomain(ride, false)})
}

func (s *Server) JoinRide(w http.ResponseWriter, r *http.Request) {
	ws, _ := WorkspaceFromContext(r.Context())
	if ws.Session.NeedsContactHandle() {
		writeError(w, r, http.StatusConflict, "CONTACT_HANDLE_REQUIRED", "add a contact number before joining a ride", nil)
		return
	}
	id, ok := bindRideID(w, r)
	if !ok {
		return
	}
	res, err := ws.Rides.JoinRide(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	switch res.Outcome {
	case rides.OutcomeJoined:
		out := JoinRideResponse{Outcome: string(res.Outcome), SeatsAvailable: res.SeatsAvailable}
		if ride, found := ws.Rides.RideByID(id); found {
			dto := rideFromDomain(ride, true)
			out.Ride = &dto
		}
		writeJSON(w, http.StatusOK, out)
	case rides.OutcomeNotFound:
		writeError(w, r, http.StatusNotFound, "RIDE_NOT_FOUND", "ride not found", nil)
	case rides.OutcomeFull:
		writeError(w, r, http.StatusConflict, "RIDE_FULL", "no seats left on this ride", nil)
	case rides.OutcomeAlreadyJoined:
		writeError(w, r, http.StatusConflict, "ALREADY_JOINED", "you already joined this ride", nil)
	default:
		details := map[string]any{"outcome": string(res.Outcome)}
		writeError(w, r, http.StatusBadGateway, "JOIN_FAILED", "could not join ride", details)
	}
}

func (s *Server) ReloadRides(w http.ResponseWriter, r *http.Request) {
	ws, _ := WorkspaceFromContext(r.Context())
	if err := ws.Rides.Reload(r.Context()); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loadStateFromRides(ws.Rides.State(), ""))
}

func (s *Server) Locations(w http.ResponseWriter, _ *http.Request) {
	locs := make([]string, len(domain.PresetLocations))
	copy(locs, domain.PresetLocations)
	writeJSON(w, http.StatusOK, LocationsResponse{Locations: locs})
}

func (s *Server) LiveStatus(w http.ResponseWriter, r *http.Request) {
	ws, _ := WorkspaceFromContext(r.Context())
	writeJSON(w, http.StatusOK, liveStatusFrom(ws.Live.Status()))
}

func bindRideID(w http.ResponseWriter, r *http.Request) (domain.RideID, bool) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "rideId", chi.URLParam(r, "rideId"), &id, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", "invalid rideId", nil)
		return "", false
	}
	return domain.RideID(id), true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "missing request body", nil)
		return false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(dest); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body is not valid JSON", nil)
		return false
	}
	return true
}
