package offcache

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/unkn0wn-root/offcache/internal/util"
)

// Strategy is the fetch/cache interplay applied to a request.
type Strategy string

const (
	StrategyBypass               Strategy = "bypass"
	StrategyNetworkFirst         Strategy = "network-first"
	StrategyCacheFirst           Strategy = "cache-first"
	StrategyStaleWhileRevalidate Strategy = "stale-while-revalidate"
)

// Route is the outcome of classifying one request.
// Fallback is set when a failed document navigation may be answered with the
// offline page.
type Route struct {
	Strategy Strategy
	Role     Role
	Fallback bool
}

// Manifest is the resolved set of URLs precached by a generation.
type Manifest struct {
	urls []string
	set  map[string]struct{}
}

// NewManifest resolves entries against origin. Duplicates are kept once, in
// first-seen order.
func NewManifest(origin *url.URL, entries []string) (Manifest, error) {
	m := Manifest{set: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		u, err := util.CanonicalURL(origin, e)
		if err != nil {
			return Manifest{}, &ManifestError{URL: e, Err: err}
		}
		if _, dup := m.set[u]; dup {
			continue
		}
		m.set[u] = struct{}{}
		m.urls = append(m.urls, u)
	}
	return m, nil
}

// URLs returns the canonical manifest URLs in manifest order.
func (m Manifest) URLs() []string { return append([]string(nil), m.urls...) }

// Contains reports whether the canonical url is precached.
func (m Manifest) Contains(canonicalURL string) bool {
	_, ok := m.set[canonicalURL]
	return ok
}

// Len is the number of distinct manifest URLs.
func (m Manifest) Len() int { return len(m.urls) }

// Classify maps a request with a canonical URL to a route. It is pure: first
// matching rule wins.
//
//  1. not a GET                                -> bypass
//  2. path under apiPrefix                     -> api, network-first
//  3. in manifest, or style/script destination -> static, cache-first
//  4. image destination                        -> image, stale-while-revalidate
//  5. anything else                            -> dynamic, cache-first
func Classify(req *Request, m Manifest, apiPrefix string) Route {
	if req == nil || (req.Method != http.MethodGet && req.Method != "") {
		return Route{Strategy: StrategyBypass}
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return Route{Strategy: StrategyBypass}
	}
	switch {
	case apiPrefix != "" && strings.HasPrefix(u.Path, apiPrefix):
		return Route{Strategy: StrategyNetworkFirst, Role: RoleAPI}
	case m.Contains(req.URL), req.Destination == DestinationStyle, req.Destination == DestinationScript:
		return Route{Strategy: StrategyCacheFirst, Role: RoleStatic, Fallback: true}
	case req.Destination == DestinationImage:
		return Route{Strategy: StrategyStaleWhileRevalidate, Role: RoleImage}
	default:
		return Route{Strategy: StrategyCacheFirst, Role: RoleDynamic, Fallback: true}
	}
}
