// Command devjwt is a local stand-in for the campus identity provider. It
// publishes a JWKS and mints RS256 ID tokens carrying the profile claims the
// rides API reads, so development runs exercise real token verification.
// It is not an OIDC provider.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"

	"github.com/campus-carpool/rides-api/internal/platform/logging"
)

type issuer struct {
	url         string
	audience    string
	kid         string
	emailDomain string
	ttl         time.Duration
	key         *rsa.PrivateKey
}

type tokenResponse struct {
	Token     string `json:"token"`
	Subject   string `json:"sub"`
	Email     string `json:"email"`
	Issuer    string `json:"iss"`
	Audience  string `json:"aud"`
	ExpiresAt int64  `json:"exp"`
}

func main() {
	_ = godotenv.Load()
	log := logging.New(os.Stdout, os.Getenv("LOG_LEVEL"), "devjwt")

	ttl, err := time.ParseDuration(getenv("TTL", "30m"))
	if err != nil || ttl <= 0 {
		log.Error("TTL must be a positive duration", "value", os.Getenv("TTL"))
		os.Exit(1)
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		log.Error("generate key", "error", err)
		os.Exit(1)
	}
	iss := &issuer{
		url:         getenv("ISSUER", "http://devjwt:5556"),
		audience:    getenv("AUDIENCE", "campus-rides"),
		kid:         getenv("KID", "dev-kid-1"),
		emailDomain: getenv("EMAIL_DOMAIN", "vitstudent.ac.in"),
		ttl:         ttl,
		key:         key,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Get("/.well-known/jwks.json", iss.serveJWKS)
	r.Get("/token", iss.serveToken)

	port := getenv("PORT", "5556")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info("devjwt listening", "port", port, "iss", iss.url, "aud", iss.audience, "kid", iss.kid, "ttl", ttl.String())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func (i *issuer) serveJWKS(w http.ResponseWriter, _ *http.Request) {
	pub := i.key.PublicKey
	enc := base64.RawURLEncoding
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"use": "sig",
			"alg": "RS256",
			"kid": i.kid,
			"n":   enc.EncodeToString(pub.N.Bytes()),
			"e":   enc.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

// serveToken mints an ID token:
//
//	GET /token?sub=ravi
//	GET /token?sub=ravi&email=ravi@gmail.com&name=Ravi%20S&picture=https://...
//
// email defaults to <sub>@EMAIL_DOMAIN.
func (i *issuer) serveToken(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sub := strings.TrimSpace(q.Get("sub"))
	if sub == "" {
		http.Error(w, "missing sub", http.StatusBadRequest)
		return
	}
	email := strings.TrimSpace(q.Get("email"))
	if email == "" {
		email = sub + "@" + i.emailDomain
	}

	now := time.Now().UTC()
	exp := now.Add(i.ttl)
	claims := jwt.MapClaims{
		"iss":            i.url,
		"aud":            i.audience,
		"sub":            sub,
		"iat":            now.Unix(),
		"nbf":            now.Add(-5 * time.Second).Unix(),
		"exp":            exp.Unix(),
		"email":          email,
		"email_verified": true,
	}
	if name := strings.TrimSpace(q.Get("name")); name != "" {
		claims["full_name"] = name
	}
	if pic := strings.TrimSpace(q.Get("picture")); pic != "" {
		claims["picture"] = pic
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = i.kid
	signed, err := tok.SignedString(i.key)
	if err != nil {
		http.Error(w, "failed to mint token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tokenResponse{
		Token:     signed,
		Subject:   sub,
		Email:     email,
		Issuer:    i.url,
		Audience:  i.audience,
		ExpiresAt: exp.Unix(),
	})
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}
