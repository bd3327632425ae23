package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authRealm is advertised in WWW-Authenticate challenges.
const authRealm = "fieldhand"

// requireToken guards the /v1 farm assistant routes with the bearer token kept
// in the platform secret store. The scheme is matched case-insensitively. An
// empty configured token admits nobody.
func requireToken(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, present := bearerToken(r)
			if !present {
				w.Header().Set("WWW-Authenticate", `Bearer realm="`+authRealm+`"`)
				httpError(w, http.StatusUnauthorized, "authentication_error", "missing bearer token; run `fieldhand` on this machine or set FIELDHAND_API_TOKEN")
				return
			}
			if len(want) == 0 || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="`+authRealm+`", error="invalid_token"`)
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the credential from an Authorization header. present is
// false when the header is absent, uses another scheme or carries no token.
func bearerToken(r *http.Request) (tok string, present bool) {
	scheme, rest, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(rest)
	return tok, tok != ""
}
