package middleware

import (
	"net/http"
	"strings"

	"farmstand/models"
	"farmstand/utils"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

type Middleware func(httprouter.Handle) httprouter.Handle

// Chain applies middlewares in order, so the first one runs outermost.
func Chain(mws ...Middleware) Middleware {
	return func(final httprouter.Handle) httprouter.Handle {
		for i := len(mws) - 1; i >= 0; i-- {
			final = mws[i](final)
		}
		return final
	}
}

// TokenVerifier validates an access token and returns its claims.
type TokenVerifier interface {
	Verify(token string) (*models.Claims, error)
}

// Authenticate requires a valid bearer token. Websocket upgrades may pass
// the token in the "token" query parameter instead, since browsers cannot
// set headers on the handshake.
func Authenticate(v TokenVerifier) Middleware {
	return func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			tokenString := bearerToken(r)
			if tokenString == "" && websocket.IsWebSocketUpgrade(r) {
				tokenString = r.URL.Query().Get("token")
			}
			if tokenString == "" {
				utils.RespondWithError(w, http.StatusUnauthorized, "Missing token")
				return
			}

			claims, err := v.Verify(tokenString)
			if err != nil {
				utils.RespondWithError(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			next(w, r.WithContext(utils.WithClaims(r.Context(), claims)), ps)
		}
	}
}

// RequireRoles must run after Authenticate.
func RequireRoles(roles ...models.Role) Middleware {
	return func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			claims := utils.ClaimsFromContext(r.Context())
			if claims == nil {
				utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			for _, role := range roles {
				if claims.Role == role {
					next(w, r, ps)
					return
				}
			}
			utils.RespondWithError(w, http.StatusForbidden, "Forbidden")
		}
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 8 || !strings.EqualFold(h[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}
