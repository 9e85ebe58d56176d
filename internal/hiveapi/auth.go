package hiveapi

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey string

const orgIDKey ctxKey = "hive-org-id"

// withOrgID stashes orgID on ctx for downstream handlers, which scope
// every query they run by it.
func withOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgIDKey, orgID)
}

func orgIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(orgIDKey).(string)
	return v
}

// requireAPIKey is the access-control boundary for HTTP callers: it
// resolves the bearer API key to a node's organization and rejects the
// request outright if the key does not validate.
func (s *Server) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		key := strings.TrimPrefix(authz, "Bearer ")
		if key == "" || key == authz {
			http.Error(w, "missing bearer api key", http.StatusUnauthorized)
			return
		}
		node, err := s.store.ValidateAPIKey(r.Context(), key)
		if err != nil {
			http.Error(w, "invalid api key", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(withOrgID(r.Context(), node.OrgID)))
	}
}
