package api

import (
	"net/http"
	"strings"

	"ardupilot-manager/pkg/auth"
)

// authFunc accepts the static token in X-Auth-Token or as a bearer token,
// or a bearer JWT signed with secret. With neither configured every
// request passes.
func authFunc(token string, secret []byte) func(r *http.Request) bool {
	if token == "" && len(secret) == 0 {
		return func(_ *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		if token != "" && r.Header.Get("X-Auth-Token") == token {
			return true
		}
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(authz, "Bearer ") {
			return false
		}
		bearer := strings.TrimPrefix(authz, "Bearer ")
		if token != "" && bearer == token {
			return true
		}
		if len(secret) > 0 {
			_, err := auth.Parse(bearer, secret)
			return err == nil
		}
		return false
	}
}

func requireAuth(check func(*http.Request) bool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !check(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
