package auth

import (
	"errors"
	"net/http"
	"strings"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var ErrNoTokenHash = errors.New("ADMIN_TOKEN_HASH is not set")

// HashToken returns the bcrypt hash to put in ADMIN_TOKEN_HASH.
func HashToken(token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", errors.New("empty token")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireAdmin rejects requests whose bearer token does not match tokenHash.
func RequireAdmin(tokenHash string) (func(http.Handler) http.Handler, error) {
	if tokenHash == "" {
		return nil, ErrNoTokenHash
	}
	if _, err := bcrypt.Cost([]byte(tokenHash)); err != nil {
		return nil, err
	}
	hash := []byte(tokenHash)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" || bcrypt.CompareHashAndPassword(hash, []byte(token)) != nil {
				logger.WithFields(map[string]interface{}{
					"remote": r.RemoteAddr,
					"path":   r.URL.Path,
				}).Warn("admin request rejected")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := WithAdmin(r.Context(), &Admin{RemoteAddr: r.RemoteAddr})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}
