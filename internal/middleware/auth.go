package middleware

import (
	"context"
	"net/http"
	"strings"

	jwt_internal "github.com/basement-chat/basement/internal/jwt"
	"github.com/basement-chat/basement/shared/domain"
	"github.com/basement-chat/basement/shared/utils"
)

// Key to store the wallet credential in the request context
type key int

const CredentialKey key = 0

// Auth extracts the wallet credential from the access token. Handlers never
// see the token itself, only the verified credential.
type Auth struct {
	jwtService jwt_internal.JwtService
}

func NewAuth(jwtService jwt_internal.JwtService) *Auth {
	return &Auth{jwtService: jwtService}
}

// NeedAuth returns middleware that rejects requests without a valid token.
func (a *Auth) NeedAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential, err := a.extractCredential(r)
			if err != nil {
				if err == errNoToken {
					http.Error(w, "Please sign-in", http.StatusUnauthorized)
					return
				}
				utils.WriteErrorAndStatusCode(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), CredentialKey, credential)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractCredential pulls the token from the accessToken cookie (browser
// clients) or the Authorization header (API clients) and verifies it.
func (a *Auth) extractCredential(r *http.Request) (domain.Credential, error) {
	var tokenString string
	accessCookie, err := r.Cookie("accessToken")
	if err == nil {
		tokenString = accessCookie.Value
	} else if token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); found {
		tokenString = token
	}

	if tokenString == "" {
		return "", errNoToken
	}

	return a.jwtService.DecodeToken(tokenString)
}

var errNoToken = errorString("no token")

type errorString string

func (e errorString) Error() string { return string(e) }

// GetCredentialFromContext retrieves the verified wallet credential, or ""
// when the request passed through without auth.
func GetCredentialFromContext(r *http.Request) domain.Credential {
	credential, ok := r.Context().Value(CredentialKey).(domain.Credential)
	if !ok {
		return ""
	}
	return credential
}
