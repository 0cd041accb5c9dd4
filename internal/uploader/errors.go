package uploader

import (
	"errors"
	"fmt"
)

// ErrNoFile is returned when no file, or an empty one, was selected. No
// request is made in that case.
var ErrNoFile = errors.New("no file selected")

// TransportError means the request never produced an HTTP response.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upload to %s failed: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ResponseError is an application level failure: the server answered with a
// non-OK status.
type ResponseError struct {
	StatusCode int
	// Message is the "error" field of the JSON payload, when present.
	Message string
	Payload []byte
}

func (e *ResponseError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server responded %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("server responded %d", e.StatusCode)
}

// DecodeError means a successful response body was not the expected JSON.
type DecodeError struct {
	StatusCode int
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response (status %d): %v", e.StatusCode, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Kind names the error class for logging.
func Kind(err error) string {
	var (
		transport *TransportError
		response  *ResponseError
		decode    *DecodeError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoFile):
		return "no_file"
	case errors.As(err, &transport):
		return "transport"
	case errors.As(err, &response):
		return "response"
	case errors.As(err, &decode):
		return "decode"
	default:
		return "other"
	}
}
