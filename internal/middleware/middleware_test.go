package middleware

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/fastygo/realty-mesh/api/transport"
)

const testSecret = "test-secret"

func newCtx(method, uri string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}, nil)
	return ctx
}

func ok(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusOK)
}

func sign(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func decodeEnvelope(t *testing.T, ctx *fasthttp.RequestCtx) transport.Envelope {
	t.Helper()
	var env transport.Envelope
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &env))
	return env
}

func TestJWTAuthAcceptsValidToken(t *testing.T) {
	ctx := newCtx("GET", "/api/v1/user/users/me")
	ctx.Request.Header.Set("Authorization", "Bearer "+sign(t, jwt.MapClaims{
		"user_id": "u-1",
		"role":    "agent",
		"iss":     "realty",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}, testSecret))
	ctx.Request.Header.Set(HeaderUserID, "spoofed")

	var seenUser, seenRole string
	JWTAuth(testSecret, "realty", nil)(func(ctx *fasthttp.RequestCtx) {
		seenUser = string(ctx.Request.Header.Peek(HeaderUserID))
		seenRole = string(ctx.Request.Header.Peek(HeaderUserRole))
		ok(ctx)
	})(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "u-1", seenUser)
	assert.Equal(t, "agent", seenRole)
}

func TestJWTAuthRejects(t *testing.T) {
	cases := map[string]string{
		"missing":      "",
		"bad secret":   "Bearer " + sign(t, jwt.MapClaims{"sub": "u"}, "other"),
		"expired":      "Bearer " + sign(t, jwt.MapClaims{"sub": "u", "exp": time.Now().Add(-time.Hour).Unix()}, testSecret),
		"wrong issuer": "Bearer " + sign(t, jwt.MapClaims{"sub": "u", "iss": "elsewhere"}, testSecret),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := newCtx("GET", "/api/v1/user/users/me")
			if header != "" {
				ctx.Request.Header.Set("Authorization", header)
			}

			JWTAuth(testSecret, "realty", nil)(ok)(ctx)

			assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
			env := decodeEnvelope(t, ctx)
			assert.False(t, env.Success)
			assert.Equal(t, 401, env.Error.Code)
			assert.Equal(t, "/api/v1/user/users/me", env.Error.Path)
		})
	}
}

func TestUnlessSkipsPublicPrefixes(t *testing.T) {
	h := Chain(ok, Unless(JWTAuth(testSecret, "", nil), "/health", "/api/v1/auth"))

	public := newCtx("POST", "/api/v1/auth/login")
	h(public)
	assert.Equal(t, fasthttp.StatusOK, public.Response.StatusCode())

	private := newCtx("GET", "/api/v1/property/properties")
	h(private)
	assert.Equal(t, fasthttp.StatusUnauthorized, private.Response.StatusCode())
}

func TestStripIdentityOnPublicRoutes(t *testing.T) {
	var seenUser, seenRole string
	capture := func(ctx *fasthttp.RequestCtx) {
		seenUser = string(ctx.Request.Header.Peek(HeaderUserID))
		seenRole = string(ctx.Request.Header.Peek(HeaderUserRole))
		ok(ctx)
	}

	chains := map[string]fasthttp.RequestHandler{
		"public prefix": Chain(capture, StripIdentity(), Unless(JWTAuth(testSecret, "", nil), "/health", "/api/v1/auth")),
		"jwt disabled":  Chain(capture, StripIdentity()),
	}
	for name, h := range chains {
		t.Run(name, func(t *testing.T) {
			seenUser, seenRole = "", ""
			ctx := newCtx("POST", "/api/v1/auth/login")
			ctx.Request.Header.Set(HeaderUserID, "admin-1")
			ctx.Request.Header.Set(HeaderUserRole, "admin")

			h(ctx)

			assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
			assert.Empty(t, seenUser)
			assert.Empty(t, seenRole)
		})
	}
}

func TestRateLimiterPerIP(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 2)
	h := rl.Middleware()(ok)

	for i := 0; i < 2; i++ {
		ctx := newCtx("GET", "/api/v1/property/properties")
		h(ctx)
		assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	}

	ctx := newCtx("GET", "/api/v1/property/properties")
	h(ctx)
	assert.Equal(t, fasthttp.StatusTooManyRequests, ctx.Response.StatusCode())
	assert.NotEmpty(t, ctx.Response.Header.Peek("Retry-After"))

	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestRateLimiterEvictsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 1)
	now := time.Now()
	rl.now = func() time.Time { return now }

	require.True(t, rl.Allow("a"))
	now = now.Add(2 * limiterIdleTTL)
	require.True(t, rl.Allow("b"))

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.visitors, "a")
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"http://app.local"}, true)(ok)

	preflight := newCtx("OPTIONS", "/api/v1/property/properties")
	preflight.Request.Header.Set("Origin", "http://app.local")
	h(preflight)
	assert.Equal(t, fasthttp.StatusNoContent, preflight.Response.StatusCode())
	assert.Equal(t, "http://app.local", string(preflight.Response.Header.Peek("Access-Control-Allow-Origin")))
	assert.Equal(t, "true", string(preflight.Response.Header.Peek("Access-Control-Allow-Credentials")))

	foreign := newCtx("GET", "/api/v1/property/properties")
	foreign.Request.Header.Set("Origin", "http://evil.local")
	h(foreign)
	assert.Equal(t, fasthttp.StatusOK, foreign.Response.StatusCode())
	assert.Empty(t, foreign.Response.Header.Peek("Access-Control-Allow-Origin"))
}
