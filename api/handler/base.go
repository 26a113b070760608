package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/realty-mesh/api/transport"
	"github.com/fastygo/realty-mesh/domain"
	"github.com/fastygo/realty-mesh/pkg/httpcontext"
)

type baseHandler struct {
	adapter *httpcontext.Adapter
	logger  *zap.Logger
	now     func() time.Time
}

func newBaseHandler(adapter *httpcontext.Adapter, logger *zap.Logger) baseHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return baseHandler{adapter: adapter, logger: logger, now: time.Now}
}

func (h baseHandler) requestContext(ctx *fasthttp.RequestCtx) (context.Context, context.CancelFunc) {
	if h.adapter != nil {
		return h.adapter.Attach(ctx)
	}
	return context.WithCancel(context.Background())
}

func (h baseHandler) respondJSON(ctx *fasthttp.RequestCtx, status int, payload transport.Envelope) {
	ctx.Response.Header.SetContentType("application/json")
	ctx.SetStatusCode(status)
	body, _ := json.Marshal(payload)
	ctx.SetBody(body)
}

// respond wraps payload in the envelope matching status.
func (h baseHandler) respond(ctx *fasthttp.RequestCtx, status int, payload interface{}) {
	h.respondJSON(ctx, status, transport.Wrap(status, payload, string(ctx.Path()), h.now()))
}

func (h baseHandler) respondSuccess(ctx *fasthttp.RequestCtx, status int, data interface{}) {
	h.respond(ctx, status, data)
}

func (h baseHandler) respondError(ctx *fasthttp.RequestCtx, err error) {
	status, message := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", string(ctx.Path())),
			zap.String("request_id", httpcontext.RequestID(ctx)),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	h.respond(ctx, status, message)
}

// mapError converts errors into a status and a client safe message.
func mapError(err error) (int, string) {
	var pErr *domain.ProxyError
	if errors.As(err, &pErr) {
		return pErr.HTTPStatus(), pErr.Message
	}

	var dErr *domain.Error
	if errors.As(err, &dErr) {
		switch dErr.Code {
		case domain.ErrCodeUnauthorized:
			return http.StatusUnauthorized, dErr.Message
		case domain.ErrCodeForbidden:
			return http.StatusForbidden, dErr.Message
		case domain.ErrCodeInvalid:
			return http.StatusBadRequest, dErr.Message
		case domain.ErrCodeNotFound:
			return http.StatusNotFound, dErr.Message
		case domain.ErrCodeConflict:
			return http.StatusConflict, dErr.Message
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, http.StatusText(http.StatusGatewayTimeout)
	}
	return http.StatusInternalServerError, "Internal server error"
}
