package jwtverifier

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/campus-carpool/rides-api/internal/platform/config"
	clockport "github.com/campus-carpool/rides-api/internal/ports/out/clock"
)

// ErrUnauthorized is returned for every token that does not verify. The
// underlying cause is wrapped for logging; callers should only test with errors.Is.
var ErrUnauthorized = errors.New("unauthorized")

// Claims is the identity carried by a verified ID token.
type Claims struct {
	jwt.RegisteredClaims

	Email         string `json:"email,omitempty"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	FullName      string `json:"full_name,omitempty"`
	AvatarURL     string `json:"avatar_url,omitempty"`
	Picture       string `json:"picture,omitempty"`
}

// Verifier checks RS256 ID tokens against a cached JWKS.
type Verifier struct {
	cfg    config.JWTConfig
	client *http.Client
	clock  clockport.Clock

	fetch singleflight.Group

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	lastRefresh time.Time
}

func New(cfg config.JWTConfig, clk clockport.Clock) *Verifier {
	return NewWithClient(cfg, nil, clk)
}

// NewWithClient uses httpClient for JWKS fetches; nil means a client bounded by cfg.HTTPTimeout.
func NewWithClient(cfg config.JWTConfig, httpClient *http.Client, clk clockport.Clock) *Verifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return &Verifier{
		cfg:    cfg,
		client: httpClient,
		clock:  clk,
		keys:   map[string]*rsa.PublicKey{},
	}
}

// VerifyClaims checks signature, iss, aud, exp and nbf and returns the claims.
// Tokens without a subject, or whose issuer marks the email unverified, are rejected.
func (v *Verifier) VerifyClaims(ctx context.Context, token string) (Claims, error) {
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithAudience(v.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.cfg.ClockSkew),
		jwt.WithTimeFunc(v.clock.Now),
	)
	_, err := parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		return v.key(ctx, kid)
	})
	switch {
	case err != nil:
		return Claims{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	case claims.Subject == "":
		return Claims{}, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	case claims.EmailVerified != nil && !*claims.EmailVerified:
		return Claims{}, fmt.Errorf("%w: email not verified", ErrUnauthorized)
	}
	return claims, nil
}

// key returns the public key for kid, refreshing the JWKS first when the
// periodic interval has elapsed or when kid is unknown and the minimum
// interval allows another fetch.
func (v *Verifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	now := v.clock.Now()

	v.mu.RLock()
	pub := v.keys[kid]
	last := v.lastRefresh
	v.mu.RUnlock()

	stale := !last.IsZero() && v.cfg.JWKSRefreshInterval > 0 && now.Sub(last) >= v.cfg.JWKSRefreshInterval
	mayRefetch := last.IsZero() || v.cfg.JWKSMinRefreshInterval <= 0 || now.Sub(last) >= v.cfg.JWKSMinRefreshInterval
	if stale || (pub == nil && mayRefetch) {
		if err := v.refresh(ctx); err != nil {
			return nil, err
		}
		v.mu.RLock()
		pub = v.keys[kid]
		v.mu.RUnlock()
	}
	if pub == nil {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return pub, nil
}

// refresh replaces the key set. Concurrent callers share one fetch.
func (v *Verifier) refresh(ctx context.Context) error {
	ch := v.fetch.DoChan("jwks", func() (any, error) {
		keys, err := fetchJWKS(context.WithoutCancel(ctx), v.client, v.cfg.JWKSURL)
		if err != nil {
			return nil, err
		}
		v.mu.Lock()
		v.keys = keys
		v.lastRefresh = v.clock.Now()
		v.mu.Unlock()
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}
