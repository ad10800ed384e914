package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/campus-carpool/rides-api/internal/adapters/httpapi"
	memchangefeed "github.com/campus-carpool/rides-api/internal/adapters/memory/changefeed"
	memidentity "github.com/campus-carpool/rides-api/internal/adapters/memory/identity"
	memloginstate "github.com/campus-carpool/rides-api/internal/adapters/memory/loginstate"
	memparticipantrepo "github.com/campus-carpool/rides-api/internal/adapters/memory/participantrepo"
	memprofilerepo "github.com/campus-carpool/rides-api/internal/adapters/memory/profilerepo"
	memriderepo "github.com/campus-carpool/rides-api/internal/adapters/memory/riderepo"
	"github.com/campus-carpool/rides-api/internal/adapters/oidc"
	postgres "github.com/campus-carpool/rides-api/internal/adapters/postgres"
	pgchangefeed "github.com/campus-carpool/rides-api/internal/adapters/postgres/changefeed"
	pgparticipantrepo "github.com/campus-carpool/rides-api/internal/adapters/postgres/participantrepo"
	pgprofilerepo "github.com/campus-carpool/rides-api/internal/adapters/postgres/profilerepo"
	pgriderepo "github.com/campus-carpool/rides-api/internal/adapters/postgres/riderepo"
	redisadapter "github.com/campus-carpool/rides-api/internal/adapters/redis"
	redisloginstate "github.com/campus-carpool/rides-api/internal/adapters/redis/loginstate"
	"github.com/campus-carpool/rides-api/internal/app/workspace"
	"github.com/campus-carpool/rides-api/internal/platform/auth/jwtverifier"
	platformclock "github.com/campus-carpool/rides-api/internal/platform/clock"
	"github.com/campus-carpool/rides-api/internal/platform/config"
	"github.com/campus-carpool/rides-api/internal/platform/logging"
	"github.com/campus-carpool/rides-api/internal/ports/out/identity"
	loginstateport "github.com/campus-carpool/rides-api/internal/ports/out/loginstate"
	participantrepoport "github.com/campus-carpool/rides-api/internal/ports/out/participantrepo"
	profilerepoport "github.com/campus-carpool/rides-api/internal/ports/out/profilerepo"
	riderepoport "github.com/campus-carpool/rides-api/internal/ports/out/riderepo"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	log := logging.New(os.Stdout, cfg.LogLevel, "rides-api")
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := platformclock.NewSystemClock()
	broker := memchangefeed.NewBroker()

	var (
		profileRepo     profilerepoport.Repository
		rideRepo        riderepoport.Repository
		participantRepo participantrepoport.Repository
	)

	switch cfg.StorageBackend {
	case config.StoragePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{})
		if err != nil {
			return err
		}
		defer pool.Close()
		if cfg.DBAutoMigrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				return err
			}
			log.Info("database schema applied")
		}
		profileRepo = pgprofilerepo.NewRepo(pool)
		rideRepo = pgriderepo.NewRepo(pool)
		participantRepo = pgparticipantrepo.NewRepo(pool)

		done := startChangeFeed(ctx, pool, broker, log)
		defer func() {
			stop()
			<-done
		}()
	default:
		rides := memriderepo.NewRepo(clk)
		rides.SetNotifier(broker.Publish)
		profileRepo = memprofilerepo.NewRepo()
		rideRepo = rides
		participantRepo = memparticipantrepo.NewRepo()
	}

	var states loginstateport.Store = memloginstate.NewStore()
	if cfg.RedisURL != "" {
		client, err := redisadapter.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		states = redisloginstate.NewStore(client)
	}

	var (
		authMW        func(http.Handler) http.Handler
		newProvider   workspace.ProviderFactory
		loginProvider identity.Provider
		authn         httpapi.Authenticator
	)
	switch cfg.AuthMode {
	case config.AuthModeDev:
		// Local dev: no token verification, callers are named by X-Debug-Subject.
		authMW = httpapi.NewDevAuthMiddleware(cfg.DevSubject, cfg.DevEmail)
		newProvider = func(string) identity.Provider { return memidentity.NewProvider() }
		loginProvider = memidentity.NewProvider()
		log.Warn("dev auth mode enabled; do not use in production")
	default:
		verifier := jwtverifier.New(cfg.JWT, clk)
		authMW = httpapi.NewAuthMiddleware(verifier)
		if cfg.OAuth.Enabled() {
			a := oidc.NewAuthenticator(cfg.OAuth, verifier, states, clk, cfg.LoginStateTTL)
			authn = a
			newProvider = func(string) identity.Provider { return oidc.NewSession(a) }
			loginProvider = oidc.NewSession(a)
		} else {
			noRedirect := unconfiguredSignIn{}
			newProvider = func(string) identity.Provider { return oidc.NewSession(noRedirect) }
			loginProvider = oidc.NewSession(noRedirect)
			log.Warn("OAuth redirect flow not configured; clients must obtain ID tokens themselves")
		}
	}

	reg := workspace.NewRegistry(workspace.Deps{
		Profiles:            profileRepo,
		Rides:               rideRepo,
		Participants:        participantRepo,
		Feed:                broker,
		Clock:               clk,
		Logger:              log,
		AllowedEmailDomains: cfg.AllowedEmailDomains,
		ReloadTimeout:       cfg.RidesReloadTimeout,
	}, newProvider)
	go reg.RunSweeper(ctx, cfg.SessionSweepInterval)
	defer func() {
		if err := reg.CloseAll(); err != nil {
			log.Warn("closing workspaces", "error", err)
		}
	}()

	api := httpapi.NewServer(httpapi.ServerOptions{
		Registry:            reg,
		LoginProvider:       loginProvider,
		Profiles:            profileRepo,
		Clock:               clk,
		Auth:                authn,
		AllowedEmailDomains: cfg.AllowedEmailDomains,
		AllowedOrigins:      cfg.CORSAllowedOrigins,
		Logger:              log,
	})
	handler := httpapi.NewRouterWithOptions(api, httpapi.RouterOptions{
		AuthMiddleware:     authMW,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("api listening", "port", cfg.Port, "storage", cfg.StorageBackend, "authMode", cfg.AuthMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// startChangeFeed relays Postgres notifications into broker until ctx is done.
// The returned channel closes once the listener has stopped.
func startChangeFeed(ctx context.Context, pool *pgxpool.Pool, broker *memchangefeed.Broker, log *slog.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := pgchangefeed.NewListener(pool, broker, log).Run(ctx); err != nil {
			log.Error("change feed stopped", "error", err)
		}
	}()
	return done
}

type unconfiguredSignIn struct{}

func (unconfiguredSignIn) SignInURL(context.Context, string) (string, error) {
	return "", errors.New("OAuth sign-in is not configured")
}
