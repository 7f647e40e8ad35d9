package offcache

import (
	"bytes"
	"net/http"
)

// Destination is what the client intends to do with the response.
type Destination string

const (
	DestinationEmpty    Destination = ""
	DestinationDocument Destination = "document"
	DestinationStyle    Destination = "style"
	DestinationScript   Destination = "script"
	DestinationImage    Destination = "image"
	DestinationFont     Destination = "font"
)

// Mode is the fetch mode of a request. Only navigations matter to routing.
type Mode string

const (
	ModeNavigate Mode = "navigate"
	ModeCORS     Mode = "cors"
	ModeNoCORS   Mode = "no-cors"
	ModeSameOrig Mode = "same-origin"
)

// Request is an intercepted outbound request.
// URL may be relative to the engine origin; the engine canonicalizes it.
type Request struct {
	Method      string
	URL         string
	Destination Destination
	Mode        Mode
	Header      http.Header
}

// IsNavigation reports whether the request loads a top-level document.
func (r *Request) IsNavigation() bool {
	return r.Mode == ModeNavigate || r.Destination == DestinationDocument
}

// Response is a fully buffered response.
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
	URL        string
}

// OK reports a 2xx status. Only OK responses are written to a cache.
func (r *Response) OK() bool { return r != nil && r.Status >= 200 && r.Status <= 299 }

// Clone returns a deep copy; the engine persists clones so callers may keep
// mutating what Handle returned.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	return &Response{
		Status:     r.Status,
		StatusText: r.StatusText,
		Header:     r.Header.Clone(),
		Body:       bytes.Clone(r.Body),
		URL:        r.URL,
	}
}

// RequestKey is the cache key of a GET for the canonical absolute url.
// Method and URL identify an entry; headers do not.
func RequestKey(canonicalURL string) string {
	return http.MethodGet + " " + canonicalURL
}
