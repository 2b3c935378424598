package upstream

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AuthError reports a missing or rejected bearer token. The crawl API
// answers these with a body shaped {"detail": "Not authenticated"}.
type AuthError struct {
	Detail string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("upstream rejected credentials: %s", e.Detail)
}

// FieldError is one entry of the crawl API's validation failure payload.
// Loc mixes strings and array indexes, e.g. ["body", "urls"].
type FieldError struct {
	Type  string          `json:"type"`
	Loc   []any           `json:"loc"`
	Msg   string          `json:"msg"`
	Input json.RawMessage `json:"input"`
}

// ValidationError reports a request body the crawl API refused, such as a
// submission carrying a singular "url" field instead of the required
// "urls" array.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "upstream rejected request body"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		loc := make([]string, 0, len(f.Loc))
		for _, l := range f.Loc {
			loc = append(loc, fmt.Sprint(l))
		}
		parts = append(parts, fmt.Sprintf("%s: %s", strings.Join(loc, "."), f.Msg))
	}
	return "upstream rejected request body: " + strings.Join(parts, "; ")
}

// StatusError covers upstream responses with no richer decoding, such as a
// 404 for an unknown task.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// detailEnvelope is the common wrapper of crawl API error bodies. Detail is
// a bare string for auth failures and an array of field errors for
// validation failures, so it is kept raw until the shape is known.
type detailEnvelope struct {
	Detail json.RawMessage `json:"detail"`
}

// decodeError converts a non-2xx upstream response into a typed error.
func decodeError(status int, body []byte) error {
	var env detailEnvelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Detail) > 0 {
		var msg string
		if err := json.Unmarshal(env.Detail, &msg); err == nil {
			if status == 401 || status == 403 {
				return &AuthError{Detail: msg}
			}
			return &StatusError{StatusCode: status, Body: msg}
		}
		var fields []FieldError
		if err := json.Unmarshal(env.Detail, &fields); err == nil {
			return &ValidationError{Fields: fields}
		}
	}
	return &StatusError{StatusCode: status, Body: string(body)}
}
