package httpapi

import (
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/latticeforge/coregate/internal/auth"
	"github.com/latticeforge/coregate/pkg/apierr"
)

// middleware is a fasthttp handler decorator, the same shape the teacher's
// proxy package chains recovery/requestID/timing/cors/security through.
type middleware func(fasthttp.RequestHandler) fasthttp.RequestHandler

// applyMiddleware wraps h so mws[0] executes first on request and last on
// response: applyMiddleware(h, mw1, mw2) == mw1(mw2(h)).
func applyMiddleware(h fasthttp.RequestHandler, mws ...middleware) fasthttp.RequestHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func recovery(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("handler_panic",
					slog.Any("panic", r),
					slog.String("path", string(ctx.Path())),
					slog.String("method", string(ctx.Method())),
				)
				ctx.ResetBody()
				apierr.WriteJSON(ctx, apierr.New(apierr.KindInternal, "internal server error"))
			}
		}()
		next(ctx)
	}
}

const requestIDKey = "request_id"

func requestIDMiddleware(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := string(ctx.Request.Header.Peek("X-Request-ID"))
		if id == "" {
			id = uuid.New().String()
		}
		ctx.Response.Header.Set("X-Request-ID", id)
		ctx.SetUserValue(requestIDKey, id)
		next(ctx)
	}
}

func timing(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		ctx.Response.Header.Set("X-Response-Time", time.Since(start).String())
	}
}

func securityHeaders(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		next(ctx)
		h := &ctx.Response.Header
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "0")
		h.Set("Content-Security-Policy", "default-src 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Permissions-Policy", "geolocation=(), camera=(), microphone=()")
	}
}

func corsHandler(origins []string) middleware {
	origin := "*"
	if len(origins) > 0 && !(len(origins) == 1 && origins[0] == "*") {
		origin = strings.Join(origins, ", ")
	}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			ctx.Response.Header.Set("Access-Control-Allow-Origin", origin)
			ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			ctx.Response.Header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			if string(ctx.Method()) == fasthttp.MethodOptions {
				ctx.SetStatusCode(fasthttp.StatusNoContent)
				return
			}
			next(ctx)
		}
	}
}

const principalKey = "principal"

// authMiddleware resolves the inbound Authorization header into an
// auth.Principal and stores it on the request context. mode "none" skips
// resolution entirely; "optional" proceeds anonymously when no credential
// validates; "required" rejects the request with 401 on failure.
func authMiddleware(authenticator *auth.Authenticator, mode string) middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			if mode == "none" || authenticator == nil {
				next(ctx)
				return
			}

			creds := auth.Credentials{
				AuthorizationHeader: string(ctx.Request.Header.Peek("Authorization")),
				RemoteIP:            remoteIP(ctx),
			}
			principal, err := authenticator.Authenticate(ctx, creds)
			if err != nil {
				if mode == "required" {
					apierr.WriteJSON(ctx, apierr.Of(err))
					return
				}
				next(ctx)
				return
			}
			ctx.SetUserValue(principalKey, principal)
			next(ctx)
		}
	}
}

func remoteIP(ctx *fasthttp.RequestCtx) net.IP {
	if xff := ctx.Request.Header.Peek("X-Forwarded-For"); len(xff) > 0 {
		first := strings.TrimSpace(strings.SplitN(string(xff), ",", 2)[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip
		}
	}
	if tcpAddr, ok := ctx.RemoteAddr().(*net.TCPAddr); ok {
		return tcpAddr.IP
	}
	return nil
}

// principalFromCtx returns the Principal resolved by authMiddleware, or nil
// if authentication was skipped or ran in optional mode without a credential.
func principalFromCtx(ctx *fasthttp.RequestCtx) *auth.Principal {
	p, _ := ctx.UserValue(principalKey).(*auth.Principal)
	return p
}

func requestIDFromCtx(ctx *fasthttp.RequestCtx) string {
	id, _ := ctx.UserValue(requestIDKey).(string)
	return id
}
