package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/realty-mesh/internal/gateway"
	"github.com/fastygo/realty-mesh/pkg/httpcontext"
)

// ProxyHandler exposes the dispatcher as /api/v1/{service}/{path:*}.
type ProxyHandler struct {
	baseHandler
	dispatcher *gateway.Dispatcher
}

func NewProxyHandler(dispatcher *gateway.Dispatcher, adapter *httpcontext.Adapter, logger *zap.Logger) *ProxyHandler {
	return &ProxyHandler{
		baseHandler: newBaseHandler(adapter, logger),
		dispatcher:  dispatcher,
	}
}

// Forward sends the inbound request to the service named in the route and
// relays the answer inside the standard envelope.
func (h *ProxyHandler) Forward(ctx *fasthttp.RequestCtx) {
	service, _ := ctx.UserValue("service").(string)
	path, _ := ctx.UserValue("path").(string)

	target := "/" + strings.TrimPrefix(path, "/")
	if query := ctx.URI().QueryString(); len(query) > 0 {
		target += "?" + string(query)
	}

	headers := make(map[string]string)
	ctx.Request.Header.VisitAll(func(key, value []byte) {
		headers[string(key)] = string(value)
	})
	headers[httpcontext.HeaderRequestID] = httpcontext.RequestID(ctx)

	var body interface{}
	if raw := ctx.PostBody(); len(raw) > 0 {
		body = append([]byte(nil), raw...)
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	payload, err := h.dispatcher.Dispatch(stdCtx, gateway.Call{
		Service: service,
		Method:  string(ctx.Method()),
		Path:    target,
		Body:    body,
		Headers: headers,
	})
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.relay(ctx, payload)
}

func (h *ProxyHandler) relay(ctx *fasthttp.RequestCtx, payload *gateway.Payload) {
	status := payload.Status
	if status == 0 {
		status = http.StatusOK
	}

	raw, ok := payload.JSON()
	if !ok {
		if len(payload.Body) == 0 {
			h.respond(ctx, status, nil)
			return
		}
		h.respond(ctx, status, string(payload.Body))
		return
	}

	// services answering with the envelope already are relayed untouched
	if isEnvelope(raw) {
		ctx.Response.Header.SetContentType("application/json")
		ctx.SetStatusCode(status)
		ctx.SetBody(raw)
		return
	}
	h.respond(ctx, status, raw)
}

func isEnvelope(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var probe struct {
		Success *bool `json:"success"`
	}
	return json.Unmarshal(trimmed, &probe) == nil && probe.Success != nil
}
