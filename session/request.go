package session

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Request describes one call against the backing API.
type Request struct {
	// Method defaults to GET when empty.
	Method string

	// Path is resolved against the client's base URL. An absolute URL is
	// used as-is; requests leaving the base host are never tenant-scoped.
	Path string

	// Query holds additional query parameters merged into the URL.
	Query url.Values

	// Header holds additional request headers. A caller-supplied
	// Content-Type is never overridden, so multipart and other pre-encoded
	// payloads pass through untouched.
	Header http.Header

	// Body is the request payload: nil, []byte, string and io.Reader are
	// sent as-is, url.Values is form-encoded, anything else is
	// JSON-marshalled with Content-Type application/json.
	Body any
}

func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

// encodePayload converts the request body into bytes once, so the same
// payload can be replayed on the single post-refresh retry.
func encodePayload(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "", nil
	case string:
		return []byte(b), "", nil
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read request body: %w", err)
		}
		return data, "", nil
	case url.Values:
		return []byte(b.Encode()), "application/x-www-form-urlencoded", nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode request body: %w", err)
		}
		return data, "application/json", nil
	}
}
