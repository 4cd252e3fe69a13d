package authz

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/cpike5/gatelink/pkg/httputil"
)

// ErrNotAuthorized indicates the identity does not hold a required role.
// Identities with no roles at all (including unlinked ones) get this, never
// a distinct error.
var ErrNotAuthorized = errors.New("not authorized")

// ExternalIDHeader carries the caller's external identity on guarded
// administrative routes. The upstream gateway is trusted to set it.
const ExternalIDHeader = "X-External-ID"

// Guard is the precondition check applied before privileged actions. It is
// a plain function call, composed explicitly by the command or request
// layer rather than driven by metadata.
type Guard struct {
	cache Cache
}

// NewGuard creates a guard over the cache.
func NewGuard(cache Cache) *Guard {
	return &Guard{cache: cache}
}

// Require returns nil when the identity holds the role, ErrNotAuthorized
// when it does not, and the underlying fault when the check itself fails.
func (g *Guard) Require(ctx context.Context, externalID int64, role string) error {
	ok, err := g.cache.IsInRole(ctx, externalID, role)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAuthorized
	}
	return nil
}

// RequireAny succeeds when the identity holds at least one of the roles.
func (g *Guard) RequireAny(ctx context.Context, externalID int64, roles ...string) error {
	held, err := g.cache.RolesOf(ctx, externalID)
	if err != nil {
		return err
	}
	for _, role := range roles {
		if containsRole(held, role) {
			return nil
		}
	}
	return ErrNotAuthorized
}

// RequireRole wraps an HTTP handler with a role precondition, reading the
// caller's external identity from ExternalIDHeader.
func (g *Guard) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(ExternalIDHeader)
			if raw == "" {
				httputil.WriteUnauthorized(w, "missing external identity")
				return
			}
			externalID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				httputil.WriteUnauthorized(w, "invalid external identity")
				return
			}

			switch err := g.Require(r.Context(), externalID, role); {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, ErrNotAuthorized):
				httputil.WriteForbidden(w, "insufficient role")
			default:
				httputil.WriteInternalError(w, err)
			}
		})
	}
}
