package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// TimestampLayout renders timestamps with millisecond precision in UTC.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Envelope is the standard API response wrapper used for both success and error payloads.
type Envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorBody  `json:"error,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// ErrorBody describes a failed request. Code mirrors the HTTP status.
type ErrorBody struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Timestamp string      `json:"timestamp"`
	Path      string      `json:"path"`
	Details   interface{} `json:"details,omitempty"`
}

// Detailed carries a message plus structured details into an error envelope.
type Detailed struct {
	Message string
	Details interface{}
}

// Wrap builds the envelope for a response with the given status. Statuses below
// 400 produce a success envelope around payload; anything else an error envelope
// whose message is derived from payload.
func Wrap(status int, payload interface{}, path string, now time.Time) Envelope {
	ts := now.UTC().Format(TimestampLayout)
	if status < http.StatusBadRequest {
		return Envelope{Success: true, Data: payload, Timestamp: ts}
	}

	body := &ErrorBody{
		Code:      status,
		Message:   errorMessage(status, payload),
		Timestamp: ts,
		Path:      path,
	}
	if d, ok := payload.(Detailed); ok {
		body.Details = d.Details
	}
	return Envelope{Success: false, Error: body}
}

// NewSuccess returns a success envelope stamped with the current time.
func NewSuccess(data interface{}) Envelope {
	return Wrap(http.StatusOK, data, "", time.Now())
}

// NewError returns an error envelope stamped with the current time.
func NewError(status int, message, path string) Envelope {
	return Wrap(status, message, path, time.Now())
}

func errorMessage(status int, payload interface{}) string {
	switch v := payload.(type) {
	case string:
		if v != "" {
			return v
		}
	case Detailed:
		if v.Message != "" {
			return v.Message
		}
	case error:
		if v != nil {
			return v.Error()
		}
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok && msg != "" {
			return msg
		}
		if msg, ok := v["error"].(string); ok && msg != "" {
			return msg
		}
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "Internal server error"
}

// String returns the JSON representation (best-effort) for logging purposes.
func (e Envelope) String() string {
	out, err := json.Marshal(e)
	if err != nil {
		return "{}"
	}
	return string(out)
}

// Err returns the failure as an error, or nil for success envelopes.
func (e Envelope) Err() error {
	if e.Success || e.Error == nil {
		return nil
	}
	return errors.New(e.Error.Message)
}
