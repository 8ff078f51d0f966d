package handlers

import (
	"strings"

	"github.com/nimasrn/drone-dispatch/internal/auth"
	xhttp "github.com/nimasrn/drone-dispatch/pkg/http"
	"github.com/nimasrn/drone-dispatch/pkg/logger"
)

const actorValueKey = "actor"

type TokenParser interface {
	ParseBearer(header string) (auth.Actor, error)
}

// AuthMiddleware resolves the bearer token into the request actor. Requests
// without an Authorization header continue anonymously, a bad token is
// rejected with 401.
func AuthMiddleware(tokens TokenParser) xhttp.MiddlewareFunc {
	return func(next xhttp.RequestHandler) xhttp.RequestHandler {
		return func(ctx *xhttp.RequestCtx) {
			header := strings.TrimSpace(string(ctx.Request.Header.Peek("Authorization")))
			if header == "" {
				next(ctx)
				return
			}
			a, err := tokens.ParseBearer(header)
			if err != nil {
				logger.Debug("[handlers] rejected token", "error", err, "path", string(ctx.Path()))
				writeMessage(ctx, xhttp.StatusUnauthorized, "invalid or expired token")
				return
			}
			ctx.SetUserValue(actorValueKey, a)
			next(ctx)
		}
	}
}
