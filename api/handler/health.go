package handler

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/realty-mesh/api/transport"
	"github.com/fastygo/realty-mesh/domain"
	"github.com/fastygo/realty-mesh/internal/gateway"
	"github.com/fastygo/realty-mesh/pkg/httpcontext"
)

// HealthHandler reports upstream health as seen by the gateway.
type HealthHandler struct {
	baseHandler
	monitor    *gateway.Monitor
	aggregator *gateway.Aggregator
}

func NewHealthHandler(mon *gateway.Monitor, agg *gateway.Aggregator, adapter *httpcontext.Adapter, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		baseHandler: newBaseHandler(adapter, logger),
		monitor:     mon,
		aggregator:  agg,
	}
}

// @Summary Aggregated health from the last monitor round
// @Tags health
// @Router /health [get]
func (h *HealthHandler) Check(ctx *fasthttp.RequestCtx) {
	h.respondStatus(ctx, h.monitor.Status())
}

// @Summary Liveness probe
// @Tags health
// @Router /health/live [get]
func (h *HealthHandler) Live(ctx *fasthttp.RequestCtx) {
	h.respondSuccess(ctx, http.StatusOK, map[string]string{"status": "ok"})
}

// @Summary Probe every upstream now
// @Tags health
// @Router /health/services [get]
func (h *HealthHandler) Services(ctx *fasthttp.RequestCtx) {
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()
	h.respondStatus(ctx, h.monitor.Refresh(stdCtx))
}

// @Summary Probe one upstream
// @Tags health
// @Router /health/services/{service} [get]
func (h *HealthHandler) Service(ctx *fasthttp.RequestCtx) {
	name, _ := ctx.UserValue("service").(string)
	if !h.aggregator.Has(name) {
		h.respondError(ctx, domain.NewError(domain.ErrCodeNotFound, fmt.Sprintf("Service %s not found", name)))
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	healthy := h.aggregator.Probe(stdCtx, name)
	payload := map[string]interface{}{"service": name, "healthy": healthy}
	if !healthy {
		h.respond(ctx, http.StatusServiceUnavailable, transport.Detailed{
			Message: fmt.Sprintf("Service %s is currently unavailable", name),
			Details: payload,
		})
		return
	}
	h.respondSuccess(ctx, http.StatusOK, payload)
}

func (h *HealthHandler) respondStatus(ctx *fasthttp.RequestCtx, status gateway.Status) {
	if status.Healthy {
		h.respondSuccess(ctx, http.StatusOK, status)
		return
	}
	h.respond(ctx, http.StatusServiceUnavailable, transport.Detailed{
		Message: "One or more services are unhealthy",
		Details: status,
	})
}

// Check probes one dependency; nil means healthy.
type Check func(ctx context.Context) error

// DependencyHealthHandler reports the health of a service's own dependencies.
type DependencyHealthHandler struct {
	baseHandler
	checks  map[string]Check
	timeout time.Duration
}

func NewDependencyHealthHandler(checks map[string]Check, adapter *httpcontext.Adapter, logger *zap.Logger) *DependencyHealthHandler {
	return &DependencyHealthHandler{
		baseHandler: newBaseHandler(adapter, logger),
		checks:      checks,
		timeout:     3 * time.Second,
	}
}

// @Summary Dependency health
// @Tags health
// @Router /health [get]
func (h *DependencyHealthHandler) Check(ctx *fasthttp.RequestCtx) {
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()
	checkCtx, cancelChecks := context.WithTimeout(stdCtx, h.timeout)
	defer cancelChecks()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]bool, len(names))
		healthy = true
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			err := h.checks[name](checkCtx)
			if err != nil {
				h.logger.Warn("dependency unhealthy", zap.String("dependency", name), zap.Error(err))
			}
			mu.Lock()
			results[name] = err == nil
			if err != nil {
				healthy = false
			}
			mu.Unlock()
		}(name)
	}
	wg.Wait()

	payload := map[string]interface{}{
		"timestamp":    time.Now().UTC(),
		"dependencies": results,
	}
	if healthy {
		h.respondSuccess(ctx, http.StatusOK, payload)
		return
	}
	h.respond(ctx, http.StatusServiceUnavailable, transport.Detailed{
		Message: "dependencies unhealthy",
		Details: payload,
	})
}
