package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterOptions struct {
	// AuthMiddleware verifies the caller and stores a Principal. Required.
	AuthMiddleware func(http.Handler) http.Handler

	CORSAllowedOrigins []string
}

// NewRouterWithOptions constructs the API HTTP router.
//
// Public routes: health, sign-in redirect and callback, preset locations.
// Everything else runs behind AuthMiddleware and the workspace middleware.
func NewRouterWithOptions(s *Server, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(opts.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Debug-Subject", "X-Debug-Email", "X-Debug-Name"},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	// Health endpoint is used for infra checks.
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/auth/login", s.Login)
	r.Get("/auth/callback", s.Callback)
	r.Get("/locations", s.Locations)

	authMW := opts.AuthMiddleware
	if authMW == nil {
		authMW = denyAll
	}

	r.Group(func(r chi.Router) {
		r.Use(authMW)
		r.Use(NewWorkspaceMiddleware(s.reg))

		r.Post("/auth/logout", s.Logout)
		r.Get("/me", s.GetMe)
		r.Put("/me/contact-handle", s.SetContactHandle)

		r.Get("/rides", s.ListRides)
		r.Post("/rides", s.CreateRide)
		r.Post("/rides/reload", s.ReloadRides)
		r.Get("/rides/stream", s.StreamRides)
		r.Get("/rides/{rideId}", s.GetRide)
		r.Post("/rides/{rideId}/join", s.JoinRide)

		r.Get("/live/status", s.LiveStatus)
	})
	return r
}

func denyAll(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication is not configured", nil)
	})
}
