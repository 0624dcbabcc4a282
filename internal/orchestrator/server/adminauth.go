package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// AdminClaims identifies the operator a bearer token was issued to.
type AdminClaims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// adminAuthExempt lists admin routes reachable without a bearer token: the
// liveness probe and the Prometheus scrape endpoint, both expected to be
// polled by infrastructure that has no operator identity of its own.
var adminAuthExempt = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// JWTAuthMiddleware rejects admin requests lacking a valid HS256 bearer
// token signed with secret, except for paths in adminAuthExempt.
func JWTAuthMiddleware(secret string, log logrus.FieldLogger) mux.MiddlewareFunc {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminAuthExempt[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			tokenString := strings.TrimPrefix(header, "Bearer ")
			if tokenString == "" || tokenString == header {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			claims := &AdminClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrTokenSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				log.WithError(err).Warn("admin request rejected: invalid bearer token")
				http.Error(w, "invalid bearer token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IssueAdminToken mints an HS256 bearer token for an operator, signed with
// secret and valid for ttl.
func IssueAdminToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
