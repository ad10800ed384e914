package itest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/campus-carpool/rides-api/internal/adapters/httpapi"
	memchangefeed "github.com/campus-carpool/rides-api/internal/adapters/memory/changefeed"
	memclock "github.com/campus-carpool/rides-api/internal/adapters/memory/clock"
	memidentity "github.com/campus-carpool/rides-api/internal/adapters/memory/identity"
	memparticipantrepo "github.com/campus-carpool/rides-api/internal/adapters/memory/participantrepo"
	memprofilerepo "github.com/campus-carpool/rides-api/internal/adapters/memory/profilerepo"
	memriderepo "github.com/campus-carpool/rides-api/internal/adapters/memory/riderepo"
	pgchangefeed "github.com/campus-carpool/rides-api/internal/adapters/postgres/changefeed"
	pgparticipantrepo "github.com/campus-carpool/rides-api/internal/adapters/postgres/participantrepo"
	pgprofilerepo "github.com/campus-carpool/rides-api/internal/adapters/postgres/profilerepo"
	pgriderepo "github.com/campus-carpool/rides-api/internal/adapters/postgres/riderepo"
	postgres_testutil "github.com/campus-carpool/rides-api/internal/adapters/postgres/testutil"
	"github.com/campus-carpool/rides-api/internal/app/workspace"
	"github.com/campus-carpool/rides-api/internal/platform/logging"
	"github.com/campus-carpool/rides-api/internal/ports/out/changefeed"
	"github.com/campus-carpool/rides-api/internal/ports/out/identity"
	participantrepoport "github.com/campus-carpool/rides-api/internal/ports/out/participantrepo"
	profilerepoport "github.com/campus-carpool/rides-api/internal/ports/out/profilerepo"
	riderepoport "github.com/campus-carpool/rides-api/internal/ports/out/riderepo"
)

type backend string

const (
	backendMemory   backend = "memory"
	backendPostgres backend = "postgres"
)

func backendsFromEnv(t *testing.T) []backend {
	t.Helper()
	switch strings.ToLower(strings.TrimSpace(os.Getenv("ITEST_BACKEND"))) {
	case "", "memory":
		return []backend{backendMemory}
	case "postgres":
		return []backend{backendPostgres}
	case "all":
		return []backend{backendMemory, backendPostgres}
	default:
		t.Fatalf("unknown ITEST_BACKEND value (expected memory|postgres|all)")
		return nil
	}
}

type testServer struct {
	baseURL string
	client  *http.Client
}

func newTestServer(t *testing.T, b backend) *testServer {
	t.Helper()

	clk := memclock.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	broker := memchangefeed.NewBroker()
	log := logging.Discard()

	var (
		profileRepo     profilerepoport.Repository
		rideRepo        riderepoport.Repository
		participantRepo participantrepoport.Repository
	)

	switch b {
	case backendPostgres:
		pool := postgres_testutil.OpenMigratedPool(t)
		profileRepo = pgprofilerepo.NewRepo(pool)
		rideRepo = pgriderepo.NewRepo(pool)
		participantRepo = pgparticipantrepo.NewRepo(pool)

		// The broker starts out subscribed; mark it connecting until LISTEN is in place.
		broker.ReportStatus(changefeed.StatusConnecting, nil)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = pgchangefeed.NewListener(pool, broker, log).Run(ctx)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
		waitSubscribed(t, broker)
	case backendMemory:
		rides := memriderepo.NewRepo(clk)
		rides.SetNotifier(broker.Publish)
		profileRepo = memprofilerepo.NewRepo()
		rideRepo = rides
		participantRepo = memparticipantrepo.NewRepo()
	default:
		t.Fatalf("unknown backend: %s", b)
	}

	reg := workspace.NewRegistry(workspace.Deps{
		Profiles:      profileRepo,
		Rides:         rideRepo,
		Participants:  participantRepo,
		Feed:          broker,
		Clock:         clk,
		Logger:        log,
		ReloadTimeout: 5 * time.Second,
	}, func(string) identity.Provider { return memidentity.NewProvider() })
	t.Cleanup(func() { _ = reg.CloseAll() })

	api := httpapi.NewServer(httpapi.ServerOptions{
		Registry:      reg,
		LoginProvider: memidentity.NewProvider(),
		Profiles:      profileRepo,
		Clock:         clk,
		Logger:        log,
	})

	// Integration tests use the dev auth middleware to stay fully local and deterministic.
	// We pass an empty default subject to ensure requests MUST provide X-Debug-Subject.
	authMW := httpapi.NewDevAuthMiddleware("", "")
	handler := httpapi.NewRouterWithOptions(api, httpapi.RouterOptions{AuthMiddleware: authMW})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testServer{
		baseURL: srv.URL,
		client:  srv.Client(),
	}
}

func (s *testServer) url(path string) string {
	if strings.HasPrefix(path, "/") {
		return s.baseURL + path
	}
	return s.baseURL + "/" + path
}

func (s *testServer) doJSON(t *testing.T, method string, path string, subject string, body any) (int, []byte, http.Header) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.url(path), r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if subject != "" {
		req.Header.Set("X-Debug-Subject", subject)
		req.Header.Set("X-Debug-Email", subject+"@vitstudent.ac.in")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, resp.Header
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func mustUnmarshal[T any](t *testing.T, b []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v\nbody=%s", err, string(b))
	}
	return out
}

func requireStatus(t *testing.T, status int, body []byte, want int) {
	t.Helper()
	if status != want {
		t.Fatalf("status=%d want=%d body=%s", status, want, string(body))
	}
}

func requireErrorCode(t *testing.T, status int, body []byte, wantStatus int, wantCode string) {
	t.Helper()
	requireStatus(t, status, body, wantStatus)
	got := mustUnmarshal[errorResponse](t, body)
	if got.Error.Code != wantCode {
		t.Fatalf("error.code=%q want=%q body=%s", got.Error.Code, wantCode, string(body))
	}
}

func requireHeaderPresent(t *testing.T, h http.Header, key string) {
	t.Helper()
	if strings.TrimSpace(h.Get(key)) == "" {
		t.Fatalf("expected header %q to be present", key)
	}
}

// eventually polls fn until it returns true or the deadline passes.
func eventually(t *testing.T, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !fn() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// waitSubscribed blocks until the upstream change feed reports it is listening.
func waitSubscribed(t *testing.T, broker *memchangefeed.Broker) {
	t.Helper()
	ready := make(chan struct{})
	var once sync.Once
	sub, err := broker.Subscribe(context.Background(), "rides", changefeed.Handlers{
		OnStatus: func(st changefeed.Status, _ error) {
			if st == changefeed.StatusSubscribed {
				once.Do(func() { close(ready) })
			}
		},
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	select {
	case <-ready:
	case <-time.After(10 * time.Second):
		t.Fatalf("change feed did not subscribe")
	}
}
