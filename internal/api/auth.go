package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthMiddleware verifies the bearer token minted by the external login
// collaborator and puts the patient identity on the context. The engine
// trusts the token's subject; it never sees credentials.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, found := strings.CutPrefix(header, "Bearer ")
			if !found || raw == "" {
				writeError(w, http.StatusUnauthorized, "missing_token", "Authorization: Bearer token required")
				return
			}

			token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return key, nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "invalid_token", "token rejected")
				return
			}

			sub, err := token.Claims.GetSubject()
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid_token", "missing subject")
				return
			}
			patientID, err := uuid.Parse(sub)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid_token", "subject must be a patient id")
				return
			}

			ctx := context.WithValue(r.Context(), patientIDKey, patientID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
