package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 1, 12, 30, 0, 123_000_000, time.UTC)

func TestWrapSuccess(t *testing.T) {
	env := Wrap(http.StatusOK, map[string]string{"id": "P1"}, "/api/v1/property/properties/P1", fixedNow)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"data":{"id":"P1"},"timestamp":"2024-03-01T12:30:00.123Z"}`, string(raw))
	assert.NoError(t, env.Err())
}

func TestWrapError(t *testing.T) {
	env := Wrap(http.StatusServiceUnavailable, errors.New("Service auth is currently unavailable"), "/api/v1/auth/login", fixedNow)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"success": false,
		"error": {
			"code": 503,
			"message": "Service auth is currently unavailable",
			"timestamp": "2024-03-01T12:30:00.123Z",
			"path": "/api/v1/auth/login"
		}
	}`, string(raw))
	assert.EqualError(t, env.Err(), "Service auth is currently unavailable")
}

func TestWrapErrorMessageSources(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		payload interface{}
		want    string
	}{
		{"string", 404, "Property not found", "Property not found"},
		{"map message", 400, map[string]interface{}{"message": "bad"}, "bad"},
		{"map error", 409, map[string]interface{}{"error": "dup"}, "dup"},
		{"empty falls back to status", 429, "", "Too Many Requests"},
		{"unknown payload", 500, 42, "Internal Server Error"},
		{"detailed", 503, Detailed{Message: "degraded", Details: map[string]bool{"auth": false}}, "degraded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := Wrap(tc.status, tc.payload, "/", fixedNow)
			require.NotNil(t, env.Error)
			assert.Equal(t, tc.want, env.Error.Message)
			assert.Equal(t, tc.status, env.Error.Code)
		})
	}
}

func TestWrapKeepsDetails(t *testing.T) {
	env := Wrap(503, Detailed{Message: "degraded", Details: map[string]bool{"auth": false}}, "/health", fixedNow)

	assert.Equal(t, map[string]bool{"auth": false}, env.Error.Details)
}
