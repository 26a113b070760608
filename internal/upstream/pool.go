package upstream

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// DefaultTimeout applies to endpoints registered without one.
const DefaultTimeout = 5 * time.Second

// Endpoint is the static description of one backend service.
type Endpoint struct {
	Name    string
	BaseURL string
	Timeout time.Duration
}

// Client is the pre-built HTTP client of a single endpoint.
type Client struct {
	endpoint Endpoint
	http     *fasthttp.Client
}

// Endpoint returns the configuration the client was built from.
func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

// URL joins the endpoint base URL with a path that may carry a query string.
func (c *Client) URL(path string) string {
	base := strings.TrimRight(c.endpoint.BaseURL, "/")
	if path == "" || path == "/" {
		return base + "/"
	}
	if strings.HasPrefix(path, "?") {
		return base + "/" + path
	}
	return base + "/" + strings.TrimLeft(path, "/")
}

// Deadline returns the earlier of now+timeout and the caller deadline.
func (c *Client) Deadline(now time.Time, callerDeadline time.Time, hasCaller bool) time.Time {
	deadline := now.Add(c.endpoint.Timeout)
	if hasCaller && callerDeadline.Before(deadline) {
		return callerDeadline
	}
	return deadline
}

// Do performs the request, failing with fasthttp.ErrTimeout once deadline passes.
func (c *Client) Do(req *fasthttp.Request, resp *fasthttp.Response, deadline time.Time) error {
	return c.http.DoDeadline(req, resp, deadline)
}

// Pool maps service names to clients. It is built once and never mutated,
// so lookups need no locking.
type Pool struct {
	clients map[string]*Client
	names   []string
}

// NewPool validates the endpoints and builds one client per service.
func NewPool(endpoints []Endpoint) (*Pool, error) {
	pool := &Pool{
		clients: make(map[string]*Client, len(endpoints)),
		names:   make([]string, 0, len(endpoints)),
	}

	for _, ep := range endpoints {
		if strings.TrimSpace(ep.Name) == "" {
			return nil, errors.New("upstream: endpoint name is required")
		}
		if _, exists := pool.clients[ep.Name]; exists {
			return nil, fmt.Errorf("upstream: duplicate endpoint %q", ep.Name)
		}
		parsed, err := url.Parse(ep.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("upstream: endpoint %q: %w", ep.Name, err)
		}
		if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return nil, fmt.Errorf("upstream: endpoint %q: base url %q must be absolute http(s)", ep.Name, ep.BaseURL)
		}
		if ep.Timeout <= 0 {
			ep.Timeout = DefaultTimeout
		}

		pool.clients[ep.Name] = &Client{
			endpoint: ep,
			http: &fasthttp.Client{
				Name:                   "realty-gateway",
				ReadTimeout:            ep.Timeout,
				WriteTimeout:           ep.Timeout,
				MaxIdleConnDuration:    90 * time.Second,
				MaxConnsPerHost:        512,
				DisablePathNormalizing: true,
			},
		}
		pool.names = append(pool.names, ep.Name)
	}

	sort.Strings(pool.names)
	return pool, nil
}

// Resolve returns the client registered under name.
func (p *Pool) Resolve(name string) (*Client, bool) {
	c, ok := p.clients[name]
	return c, ok
}

// Names lists registered services in sorted order.
func (p *Pool) Names() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Len returns the number of registered services.
func (p *Pool) Len() int {
	return len(p.names)
}
