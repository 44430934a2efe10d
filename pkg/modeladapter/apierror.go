package modeladapter

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// APIError is a failure reported by the backend: either a non-2xx HTTP
// response (StatusCode set) or an error envelope received mid-stream
// (StatusCode zero). Body keeps the raw diagnostic for display.
type APIError struct {
	Provider   string
	StatusCode int
	Header     http.Header
	Body       []byte
	Transient  bool
}

func (e *APIError) Error() string {
	body := string(e.Body)
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: stream error: %s", e.Provider, body)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.StatusCode, body)
}

// InStream reports whether the error arrived inside a successful stream.
func (e *APIError) InStream() bool {
	return e.StatusCode == 0
}

// Message extracts the human-readable message from common vendor envelopes,
// falling back to the raw body.
func (e *APIError) Message() string {
	for _, path := range []string{"error.message", "message", "error", "detail"} {
		if r := gjson.GetBytes(e.Body, path); r.Type == gjson.String && r.String() != "" {
			return r.String()
		}
	}
	if s := strings.TrimSpace(string(e.Body)); s != "" {
		return s
	}
	return http.StatusText(e.StatusCode)
}

// StatusSet is a set of HTTP status codes.
type StatusSet map[int]struct{}

// NewStatusSet builds a set from codes.
func NewStatusSet(codes ...int) StatusSet {
	s := make(StatusSet, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether code is in the set. A nil set contains nothing.
func (s StatusSet) Has(code int) bool {
	_, ok := s[code]
	return ok
}

// Codes returns the codes in ascending order.
func (s StatusSet) Codes() []int {
	out := make([]int, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}
