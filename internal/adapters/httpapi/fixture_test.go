package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	memchangefeed "github.com/campus-carpool/rides-api/internal/adapters/memory/changefeed"
	memclock "github.com/campus-carpool/rides-api/internal/adapters/memory/clock"
	memidentity "github.com/campus-carpool/rides-api/internal/adapters/memory/identity"
	memparticipants "github.com/campus-carpool/rides-api/internal/adapters/memory/participantrepo"
	memprofiles "github.com/campus-carpool/rides-api/internal/adapters/memory/profilerepo"
	memrides "github.com/campus-carpool/rides-api/internal/adapters/memory/riderepo"
	"github.com/campus-carpool/rides-api/internal/app/workspace"
	"github.com/campus-carpool/rides-api/internal/platform/logging"
	"github.com/campus-carpool/rides-api/internal/ports/out/identity"
	"github.com/campus-carpool/rides-api/internal/ports/out/profilerepo"
)

type testEnv struct {
	h      http.Handler
	srv    *Server
	reg    *workspace.Registry
	rides  *memrides.Repo
	broker *memchangefeed.Broker
	clock  *memclock.ManualClock
}

type envOptions struct {
	auth  func(http.Handler) http.Handler
	oauth Authenticator
	// wrapProfiles decorates the in-memory profile repository.
	wrapProfiles func(profilerepo.Repository) profilerepo.Repository
}

func newTestEnv(t *testing.T, opts envOptions) testEnv {
	t.Helper()

	clk := memclock.NewManualClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	rr := memrides.NewRepo(clk)
	broker := memchangefeed.NewBroker()
	rr.SetNotifier(broker.Publish)
	var profiles profilerepo.Repository = memprofiles.NewRepo()
	if opts.wrapProfiles != nil {
		profiles = opts.wrapProfiles(profiles)
	}

	reg := workspace.NewRegistry(workspace.Deps{
		Profiles:      profiles,
		Rides:         rr,
		Participants:  memparticipants.NewRepo(),
		Feed:          broker,
		Clock:         clk,
		Logger:        logging.Discard(),
		ReloadTimeout: 2 * time.Second,
	}, func(string) identity.Provider { return memidentity.NewProvider() })
	t.Cleanup(func() { _ = reg.CloseAll() })

	srv := NewServer(ServerOptions{
		Registry:      reg,
		LoginProvider: memidentity.NewProvider(),
		Profiles:      profiles,
		Clock:         clk,
		Auth:          opts.oauth,
		Logger:        logging.Discard(),
	})
	auth := opts.auth
	if auth == nil {
		// Empty default subject: requests must send X-Debug-Subject.
		auth = NewDevAuthMiddleware("", "")
	}
	h := NewRouterWithOptions(srv, RouterOptions{AuthMiddleware: auth})
	return testEnv{h: h, srv: srv, reg: reg, rides: rr, broker: broker, clock: clk}
}

// caller identifies a dev-auth user by subject; the email is derived from it.
type caller string

func (c caller) email() string { return string(c) + "@vitstudent.ac.in" }

func (e testEnv) do(t *testing.T, method, path string, who caller, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.send(t, method, path, who, who.email(), body)
}

func (e testEnv) doWithEmail(t *testing.T, method, path string, who caller, email string) *httptest.ResponseRecorder {
	t.Helper()
	return e.send(t, method, path, who, email, nil)
}

func (e testEnv) send(t *testing.T, method, path string, who caller, email string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if who != "" {
		req.Header.Set("X-Debug-Subject", string(who))
		req.Header.Set("X-Debug-Email", email)
		req.Header.Set("X-Debug-Name", "Student "+string(who))
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v body=%s", err, rec.Body.String())
	}
	return out
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status: got %d want %d body=%s", rec.Code, want, rec.Body.String())
	}
}

func requireErrorCode(t *testing.T, rec *httptest.ResponseRecorder, wantStatus int, wantCode string) {
	t.Helper()
	requireStatus(t, rec, wantStatus)
	er := decode[ErrorResponse](t, rec)
	if er.Error.Code != wantCode {
		t.Fatalf("error.code: got %q want %q body=%s", er.Error.Code, wantCode, rec.Body.String())
	}
}

func validRide() CreateRideRequest {
	return CreateRideRequest{
		Source:         "VIT Vellore Campus",
		Destination:    "Chennai Airport",
		Date:           "2026-03-10",
		StartTime:      "09:00",
		EndTime:        "11:00",
		SeatsAvailable: 2,
	}
}

// onboard sets a contact handle so the caller may create and join rides.
func (e testEnv) onboard(t *testing.T, who caller) {
	t.Helper()
	rec := e.do(t, http.MethodPut, "/me/contact-handle", who, SetContactHandleRequest{ContactHandle: "98765 43210"})
	requireStatus(t, rec, http.StatusOK)
}
