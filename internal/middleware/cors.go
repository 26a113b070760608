package middleware

import (
	"strings"

	"github.com/valyala/fasthttp"
)

const (
	corsAllowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization, X-Request-ID"
)

// CORS answers preflight requests and decorates responses for allowed origins.
// An origin list containing "*" allows every origin.
func CORS(origins []string, credentials bool) Middleware {
	allowed := make(map[string]struct{}, len(origins))
	wildcard := false
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			wildcard = true
		}
		allowed[o] = struct{}{}
	}

	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			origin := string(ctx.Request.Header.Peek("Origin"))
			if origin != "" {
				if _, ok := allowed[origin]; ok || wildcard {
					h := &ctx.Response.Header
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Methods", corsAllowMethods)
					h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
					h.Set("Access-Control-Expose-Headers", "X-Request-ID")
					h.Add("Vary", "Origin")
					if credentials {
						h.Set("Access-Control-Allow-Credentials", "true")
					}
					if ctx.IsOptions() {
						ctx.SetStatusCode(fasthttp.StatusNoContent)
						return
					}
				}
			}
			next(ctx)
		}
	}
}
