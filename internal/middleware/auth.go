// Package middleware содержит HTTP middleware сервиса лояльности.
package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

type contextKey string

const callerKey contextKey = "caller"

const (
	apiKeyHeader = "X-API-Key"
	bearerPrefix = "Bearer "
)

// AuthMiddleware проверяет ключ API вызывающей стороны.
type AuthMiddleware struct {
	key []byte
}

// NewAuthMiddleware создаёт AuthMiddleware. Пустой ключ отключает проверку.
func NewAuthMiddleware(apiKey string) *AuthMiddleware {
	return &AuthMiddleware{key: []byte(apiKey)}
}

// Enabled сообщает, включена ли проверка ключа.
func (a *AuthMiddleware) Enabled() bool {
	return len(a.key) > 0
}

// Middleware проверяет ключ из заголовка X-API-Key или Authorization: Bearer
// и добавляет отпечаток ключа в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		presented := requestKey(r)
		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), a.key) != 1 {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), callerKey, fingerprint(presented))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(auth, bearerPrefix))
	}
	return ""
}

func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4])
}

// GetCallerFromContext извлекает отпечаток ключа вызывающей стороны из контекста запроса.
func GetCallerFromContext(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(callerKey).(string)
	return caller, ok
}
