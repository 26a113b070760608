package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/realty-mesh/domain"
	"github.com/fastygo/realty-mesh/internal/metrics"
	"github.com/fastygo/realty-mesh/internal/upstream"
	"github.com/fastygo/realty-mesh/pkg/httpcontext"
	appLogger "github.com/fastygo/realty-mesh/pkg/logger"
)

const (
	headerForwardedFor = "X-Forwarded-For"
	defaultForwarder   = "api-gateway"
)

// Headers never copied from the inbound request.
var skippedHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailer":             {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"host":                {},
	"content-length":      {},
	"accept-encoding":     {},
}

// Call is a single request to forward to an upstream service.
// Body is sent verbatim when it is []byte or json.RawMessage and JSON encoded otherwise.
type Call struct {
	Service string
	Method  string
	Path    string
	Body    interface{}
	Headers map[string]string
}

// Payload is a successful upstream response.
type Payload struct {
	Status      int
	ContentType string
	Body        []byte
}

// JSON returns the body as raw JSON when it is valid JSON.
func (p *Payload) JSON() (json.RawMessage, bool) {
	if p == nil || len(p.Body) == 0 || !json.Valid(p.Body) {
		return nil, false
	}
	return json.RawMessage(p.Body), true
}

// Dispatcher forwards calls through the upstream pool and maps every failure
// onto a *domain.ProxyError. It never retries.
type Dispatcher struct {
	pool    *upstream.Pool
	logger  *zap.Logger
	metrics *metrics.Registry
}

// NewDispatcher wires a dispatcher over a built pool.
func NewDispatcher(pool *upstream.Pool, logger *zap.Logger, m *metrics.Registry) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{pool: pool, logger: logger, metrics: m}
}

// Services lists the registered upstream names.
func (d *Dispatcher) Services() []string {
	return d.pool.Names()
}

// Has reports whether a service is registered.
func (d *Dispatcher) Has(service string) bool {
	_, ok := d.pool.Resolve(service)
	return ok
}

type roundTripResult struct {
	status      int
	contentType string
	body        []byte
	err         error
}

// Dispatch forwards call and returns the upstream response or a *domain.ProxyError.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) (*Payload, error) {
	method := strings.ToUpper(strings.TrimSpace(call.Method))
	if method == "" {
		method = fasthttp.MethodGet
	}

	reqID := headerValue(call.Headers, httpcontext.HeaderRequestID)
	if reqID == "" {
		reqID = appLogger.RequestIDFromContext(ctx)
	}
	if reqID == "" {
		reqID = httpcontext.NewRequestID()
	}

	log := d.logger.With(
		zap.String("service", call.Service),
		zap.String("method", method),
		zap.String("path", call.Path),
		zap.String("request_id", reqID),
	)

	client, ok := d.pool.Resolve(call.Service)
	if !ok {
		log.Warn("unknown service")
		d.metrics.ObserveProxy(call.Service, "not_found", 0)
		return nil, domain.ServiceNotFound(call.Service)
	}

	if err := ctx.Err(); err != nil {
		log.Warn("request cancelled before dispatch", zap.Error(err))
		d.metrics.ObserveProxy(call.Service, "unavailable", 0)
		return nil, domain.ServiceUnavailable(call.Service, err)
	}

	body, contentType, err := encodeBody(call.Body)
	if err != nil {
		log.Error("encode request body", zap.Error(err))
		d.metrics.ObserveProxy(call.Service, "internal", 0)
		return nil, domain.InternalProxyError(call.Service, err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	req.SetRequestURI(client.URL(call.Path))
	req.Header.SetMethod(method)
	for key, value := range call.Headers {
		if _, skip := skippedHeaders[strings.ToLower(key)]; skip {
			continue
		}
		req.Header.Set(key, value)
	}
	req.Header.Set(httpcontext.HeaderRequestID, reqID)
	forwardedFor := headerValue(call.Headers, headerForwardedFor)
	if forwardedFor == "" {
		forwardedFor = defaultForwarder
	}
	req.Header.Set(headerForwardedFor, forwardedFor)
	if body != nil {
		req.SetBodyRaw(body)
		if contentType != "" {
			req.Header.SetContentType(contentType)
		}
	}

	callerDeadline, hasDeadline := ctx.Deadline()
	start := time.Now()
	deadline := client.Deadline(start, callerDeadline, hasDeadline)

	log.Debug("proxying request")

	// The goroutine owns req and resp so a cancelled caller returns immediately.
	done := make(chan roundTripResult, 1)
	go func() {
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)
		if err := client.Do(req, resp, deadline); err != nil {
			done <- roundTripResult{err: err}
			return
		}
		done <- roundTripResult{
			status:      resp.StatusCode(),
			contentType: string(resp.Header.ContentType()),
			body:        append([]byte(nil), resp.Body()...),
		}
	}()

	var res roundTripResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = roundTripResult{err: ctx.Err()}
	}
	elapsed := time.Since(start)

	if res.err != nil {
		if isTransportError(res.err) {
			log.Warn("upstream unavailable", zap.Duration("elapsed", elapsed), zap.Error(res.err))
			d.metrics.ObserveProxy(call.Service, "unavailable", elapsed)
			return nil, domain.ServiceUnavailable(call.Service, res.err)
		}
		log.Error("proxy failure", zap.Error(res.err))
		d.metrics.ObserveProxy(call.Service, "internal", elapsed)
		return nil, domain.InternalProxyError(call.Service, res.err)
	}

	d.metrics.ObserveProxy(call.Service, metrics.StatusOutcome(res.status), elapsed)

	if res.status < http.StatusOK || res.status >= http.StatusMultipleChoices {
		message := upstreamMessage(res.body, res.status)
		log.Warn("upstream error response", zap.Int("status", res.status), zap.String("message", message))
		return nil, domain.UpstreamError(call.Service, res.status, message)
	}

	log.Debug("upstream responded", zap.Int("status", res.status), zap.Duration("elapsed", elapsed))
	return &Payload{Status: res.status, ContentType: res.contentType, Body: res.body}, nil
}

// Get forwards a GET request.
func (d *Dispatcher) Get(ctx context.Context, service, path string, headers map[string]string) (*Payload, error) {
	return d.Dispatch(ctx, Call{Service: service, Method: fasthttp.MethodGet, Path: path, Headers: headers})
}

// Post forwards a POST request.
func (d *Dispatcher) Post(ctx context.Context, service, path string, body interface{}, headers map[string]string) (*Payload, error) {
	return d.Dispatch(ctx, Call{Service: service, Method: fasthttp.MethodPost, Path: path, Body: body, Headers: headers})
}

// Put forwards a PUT request.
func (d *Dispatcher) Put(ctx context.Context, service, path string, body interface{}, headers map[string]string) (*Payload, error) {
	return d.Dispatch(ctx, Call{Service: service, Method: fasthttp.MethodPut, Path: path, Body: body, Headers: headers})
}

// Patch forwards a PATCH request.
func (d *Dispatcher) Patch(ctx context.Context, service, path string, body interface{}, headers map[string]string) (*Payload, error) {
	return d.Dispatch(ctx, Call{Service: service, Method: fasthttp.MethodPatch, Path: path, Body: body, Headers: headers})
}

// Delete forwards a DELETE request.
func (d *Dispatcher) Delete(ctx context.Context, service, path string, headers map[string]string) (*Payload, error) {
	return d.Dispatch(ctx, Call{Service: service, Method: fasthttp.MethodDelete, Path: path, Headers: headers})
}

func encodeBody(body interface{}) ([]byte, string, error) {
	switch v := body.(type) {
	case nil:
		return nil, "", nil
	case json.RawMessage:
		if len(v) == 0 {
			return nil, "", nil
		}
		return v, "application/json", nil
	case []byte:
		if len(v) == 0 {
			return nil, "", nil
		}
		return v, "", nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		return raw, "application/json", nil
	}
}

func headerValue(headers map[string]string, name string) string {
	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// isTransportError reports failures where no response was received.
func isTransportError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, fasthttp.ErrBodyTooLarge) {
		return false
	}
	// Dial, DNS, reset and timeout errors from fasthttp all land here.
	return true
}

// upstreamMessage extracts a human readable message from an error body.
func upstreamMessage(body []byte, status int) string {
	var parsed struct {
		Message json.RawMessage `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if len(body) > 0 && json.Unmarshal(body, &parsed) == nil {
		if msg := flattenMessage(parsed.Message); msg != "" {
			return msg
		}
		if msg := flattenMessage(parsed.Error); msg != "" {
			return msg
		}
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fasthttp.StatusMessage(status)
}

func flattenMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return strings.Join(list, "; ")
	}
	// nested error envelope such as {"error":{"message":"..."}}
	var nested struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &nested) == nil {
		return nested.Message
	}
	return ""
}
