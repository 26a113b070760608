package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	apiHandler "github.com/fastygo/realty-mesh/api/handler"
	"github.com/fastygo/realty-mesh/api/transport"
)

type GatewayHandlers struct {
	Proxy   *apiHandler.ProxyHandler
	Health  *apiHandler.HealthHandler
	Metrics fasthttp.RequestHandler
}

// NewGateway builds the gateway route table. Everything under /api/v1/{service}
// is forwarded to the upstream of that name.
func NewGateway(handlers GatewayHandlers) *router.Router {
	r := newRouter()

	r.GET("/health", handlers.Health.Check)
	r.GET("/health/live", handlers.Health.Live)
	r.GET("/health/services", handlers.Health.Services)
	r.GET("/health/services/{service}", handlers.Health.Service)

	if handlers.Metrics != nil {
		r.GET("/metrics", handlers.Metrics)
	}

	r.ANY("/api/v1/{service}", handlers.Proxy.Forward)
	r.ANY("/api/v1/{service}/{path:*}", handlers.Proxy.Forward)

	return r
}

type SearchHandlers struct {
	Search  *apiHandler.SearchHandler
	Health  *apiHandler.DependencyHealthHandler
	Metrics fasthttp.RequestHandler
}

// NewSearch builds the search service route table.
func NewSearch(handlers SearchHandlers) *router.Router {
	r := newRouter()

	r.GET("/health", handlers.Health.Check)

	if handlers.Metrics != nil {
		r.GET("/metrics", handlers.Metrics)
	}

	r.GET("/api/v1/search/properties", handlers.Search.Search)
	r.GET("/api/v1/search/properties/{id}", handlers.Search.Get)
	r.GET("/api/v1/search/stats", handlers.Search.Stats)
	r.GET("/api/v1/search/suggest", handlers.Search.Suggest)

	return r
}

func newRouter() *router.Router {
	r := router.New()
	r.NotFound = envelope(http.StatusNotFound)
	r.MethodNotAllowed = envelope(http.StatusMethodNotAllowed)
	return r
}

func envelope(status int) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		body, _ := json.Marshal(transport.Wrap(status, nil, string(ctx.Path()), time.Now()))
		ctx.Response.Header.SetContentType("application/json")
		ctx.SetStatusCode(status)
		ctx.SetBody(body)
	}
}
