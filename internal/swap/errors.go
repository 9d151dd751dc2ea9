package swap

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error categories. Every error returned by Client wraps exactly one of these.
var (
	ErrBadRequest         = errors.New("swap: bad request")
	ErrRateLimited        = errors.New("swap: rate limited")
	ErrUpstream           = errors.New("swap: upstream failure")
	ErrSwapFailed         = errors.New("swap: request failed")
	ErrGatewayUnavailable = errors.New("swap: gateway unavailable")
)

// APIError carries the category, HTTP status (0 for transport failures) and
// the service's message.
type APIError struct {
	Category error
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%v [%d]: %s", e.Category, e.Status, e.Message)
	}
	return fmt.Sprintf("%v: %s", e.Category, e.Message)
}

func (e *APIError) Unwrap() error { return e.Category }

// categorize maps a non-2xx response to an APIError.
func categorize(status int, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	msg := eb.Error
	if msg == "" {
		msg = eb.Message
	}

	var cat error
	switch status {
	case http.StatusBadRequest:
		cat = ErrBadRequest
		if msg == "" {
			msg = "Invalid swap request"
		}
	case http.StatusTooManyRequests:
		cat = ErrRateLimited
		if msg == "" {
			msg = "Rate limit exceeded"
		}
	case http.StatusInternalServerError:
		cat = ErrUpstream
		if msg == "" {
			msg = "Swap service error"
		}
	default:
		cat = ErrSwapFailed
		if msg == "" {
			msg = "Swap request failed"
		}
	}
	return &APIError{Category: cat, Status: status, Message: msg}
}
