package httpapi

import (
	"context"
	"time"

	"github.com/campus-carpool/rides-api/internal/app/workspace"
	"github.com/campus-carpool/rides-api/internal/ports/out/identity"
)

// Principal is the verified caller of a request.
type Principal struct {
	Subject string
	User    identity.ExternalUser
	// ExpiresAt is the token expiry; zero in dev auth mode.
	ExpiresAt time.Time
}

type principalKey struct{}

type workspaceKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.Subject != ""
}

func SubjectFromContext(ctx context.Context) (string, bool) {
	p, ok := PrincipalFromContext(ctx)
	return p.Subject, ok
}

func WithWorkspace(ctx context.Context, w *workspace.Workspace) context.Context {
	return context.WithValue(ctx, workspaceKey{}, w)
}

func WorkspaceFromContext(ctx context.Context) (*workspace.Workspace, bool) {
	w, ok := ctx.Value(workspaceKey{}).(*workspace.Workspace)
	return w, ok && w != nil
}
