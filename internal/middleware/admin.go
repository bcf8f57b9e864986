package middleware

import (
	"crypto/hmac"
	"net/http"
	"strings"
)

// AdminAuth проверяет статический bearer-токен административных запросов.
// Пустой токен полностью отключает административную поверхность.
type AdminAuth struct {
	token string
}

// NewAdminAuth создаёт guard административных маршрутов с указанным токеном.
func NewAdminAuth(token string) *AdminAuth {
	return &AdminAuth{token: token}
}

// Middleware пропускает запрос только при совпадении bearer-токена.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.token == "" {
			http.NotFound(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		presented, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || !hmac.Equal([]byte(presented), []byte(a.token)) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
