package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// decodeBody turns a 2xx response into its caller-visible value: JSON bodies
// decode into the generic any form, anything else is returned as raw text,
// and an empty or 204 response yields nil.
func decodeBody(status int, header http.Header, body []byte) (any, error) {
	if status == http.StatusNoContent || len(body) == 0 {
		return nil, nil
	}
	if strings.Contains(header.Get("Content-Type"), "application/json") {
		var value any
		if err := json.Unmarshal(body, &value); err != nil {
			return nil, fmt.Errorf("failed to decode JSON response: %w", err)
		}
		return value, nil
	}
	return string(body), nil
}

// failureCode extracts the machine-readable reason from a 401 body. An
// unparseable or missing code reads as empty, which is never recoverable.
func failureCode(body []byte) string {
	var failure authFailure
	if err := json.Unmarshal(body, &failure); err != nil {
		return ""
	}
	return failure.Code
}
