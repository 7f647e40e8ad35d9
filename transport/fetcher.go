// Package transport puts an offcache.Engine in front of an HTTP origin.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/unkn0wn-root/offcache"
)

// ErrBodyTooLarge is returned when an upstream body exceeds HTTPFetcher.MaxBody.
var ErrBodyTooLarge = errors.New("transport: response body too large")

// hop-by-hop headers never stored nor forwarded
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// conditional headers would turn a cacheable 200 into a 304
var droppedRequestHeaders = append([]string{
	"Accept-Encoding",
	"If-None-Match",
	"If-Modified-Since",
	"Range",
}, hopHeaders...)

// HTTPFetcher fetches over net/http and buffers the whole body.
type HTTPFetcher struct {
	Client  *http.Client // nil => client with a 30s timeout
	MaxBody int64        // 0 => unlimited
}

var _ offcache.Fetcher = (*HTTPFetcher)(nil)

var defaultClient = &http.Client{Timeout: 30 * time.Second}

func (f *HTTPFetcher) Fetch(ctx context.Context, req *offcache.Request) (*offcache.Response, error) {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		hreq.Header[k] = append([]string(nil), vs...)
	}
	for _, h := range droppedRequestHeaders {
		hreq.Header.Del(h)
	}

	client := f.Client
	if client == nil {
		client = defaultClient
	}
	resp, err := client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body []byte
	if f.MaxBody > 0 {
		body, err = io.ReadAll(io.LimitReader(resp.Body, f.MaxBody+1))
		if err == nil && int64(len(body)) > f.MaxBody {
			return nil, fmt.Errorf("%w: %s", ErrBodyTooLarge, req.URL)
		}
	} else {
		body, err = io.ReadAll(resp.Body)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: read %s: %w", req.URL, err)
	}

	header := resp.Header.Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}
	header.Del("Content-Length")
	if resp.Uncompressed {
		header.Del("Content-Encoding")
	}

	return &offcache.Response{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Header:     header,
		Body:       body,
		URL:        resp.Request.URL.String(),
	}, nil
}
