package middleware

import (
	"encoding/json"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/fastygo/realty-mesh/api/transport"
)

// Middleware decorates a request handler.
type Middleware func(fasthttp.RequestHandler) fasthttp.RequestHandler

// Chain applies middlewares so that the first one runs outermost.
func Chain(h fasthttp.RequestHandler, mws ...Middleware) fasthttp.RequestHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}

// Unless skips mw for requests whose path starts with one of prefixes.
func Unless(mw Middleware, prefixes ...string) Middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		wrapped := mw(next)
		return func(ctx *fasthttp.RequestCtx) {
			path := string(ctx.Path())
			for _, p := range prefixes {
				if strings.HasPrefix(path, p) {
					next(ctx)
					return
				}
			}
			wrapped(ctx)
		}
	}
}

func reject(ctx *fasthttp.RequestCtx, status int, message string) {
	body, _ := json.Marshal(transport.NewError(status, message, string(ctx.Path())))
	ctx.Response.Header.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(body)
}
