package middleware

import (
	"net/http"
	"strings"

	"smcbot/pkg/crypto"
	"smcbot/pkg/utils"
)

// AdminTokenHeader заголовок с административным токеном
const AdminTokenHeader = "X-Admin-Token"

// AdminAuth - middleware для мутирующих эндпоинтов (входящие сигналы, сброс счёта)
//
// Токен передаётся в X-Admin-Token или Authorization: Bearer <token> и
// сверяется с bcrypt-хешем из конфигурации. Пустой хеш отключает эндпоинты (403).
func AdminAuth(tokenHash string, log *utils.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = utils.L()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				http.Error(w, "admin endpoints disabled", http.StatusForbidden)
				return
			}

			token := extractToken(r)
			if token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if err := crypto.VerifyToken(token, tokenHash); err != nil {
				log.Warn("Admin token rejected",
					utils.String("path", r.URL.Path),
					utils.String("remote", r.RemoteAddr),
					utils.Err(err),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request) string {
	if t := r.Header.Get(AdminTokenHeader); t != "" {
		return t
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}
