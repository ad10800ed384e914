package oidc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/campus-carpool/rides-api/internal/platform/auth/jwtverifier"
	"github.com/campus-carpool/rides-api/internal/platform/config"
	clockport "github.com/campus-carpool/rides-api/internal/ports/out/clock"
	"github.com/campus-carpool/rides-api/internal/ports/out/loginstate"
)

var (
	// ErrInvalidState indicates the callback carried an unknown, expired or reused state value.
	ErrInvalidState = errors.New("invalid login state")
	// ErrMissingIDToken indicates the token endpoint answered without an id_token.
	ErrMissingIDToken = errors.New("token response has no id_token")
)

type TokenVerifier interface {
	VerifyClaims(ctx context.Context, token string) (jwtverifier.Claims, error)
}

// Authenticator runs the authorization-code redirect against the identity provider.
type Authenticator struct {
	oauth    *oauth2.Config
	verifier TokenVerifier
	states   loginstate.Store
	clock    clockport.Clock
	ttl      time.Duration

	newState func() loginstate.State
}

func NewAuthenticator(cfg config.OAuthConfig, verifier TokenVerifier, states loginstate.Store, clk clockport.Clock, stateTTL time.Duration) *Authenticator {
	return &Authenticator{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
		},
		verifier: verifier,
		states:   states,
		clock:    clk,
		ttl:      stateTTL,
		newState: func() loginstate.State {
			return loginstate.State(uuid.NewString())
		},
	}
}

// SignInURL records a one-time state value and returns the provider's authorization URL.
func (a *Authenticator) SignInURL(ctx context.Context, redirectTo string) (string, error) {
	st := a.newState()
	if err := a.states.Put(ctx, st, loginstate.Record{RedirectTo: redirectTo, CreatedAt: a.clock.Now()}, a.ttl); err != nil {
		return "", fmt.Errorf("store login state: %w", err)
	}
	return a.oauth.AuthCodeURL(string(st), oauth2.AccessTypeOnline), nil
}

type CallbackResult struct {
	IDToken    string
	ExpiresAt  time.Time
	RedirectTo string
	Claims     jwtverifier.Claims
}

// Callback consumes state, exchanges code for tokens and verifies the returned ID token.
func (a *Authenticator) Callback(ctx context.Context, code, state string) (CallbackResult, error) {
	rec, err := a.states.Take(ctx, loginstate.State(state))
	if err != nil {
		if errors.Is(err, loginstate.ErrNotFound) {
			return CallbackResult{}, ErrInvalidState
		}
		return CallbackResult{}, err
	}

	tok, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return CallbackResult{}, fmt.Errorf("exchange code: %w", err)
	}
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return CallbackResult{}, ErrMissingIDToken
	}
	claims, err := a.verifier.VerifyClaims(ctx, raw)
	if err != nil {
		return CallbackResult{}, err
	}
	res := CallbackResult{IDToken: raw, RedirectTo: rec.RedirectTo, Claims: claims}
	if claims.ExpiresAt != nil {
		res.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return res, nil
}

// SetNewStateForTest overrides state generation for deterministic tests.
// It should not be used in production code.
func (a *Authenticator) SetNewStateForTest(fn func() loginstate.State) {
	if fn != nil {
		a.newState = fn
	}
}
