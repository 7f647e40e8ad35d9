package offcache

const (
	defaultOrigin        = "http://localhost:3000"
	defaultAPIPrefix     = "/api/"
	defaultFallbackURL   = "/index.html"
	defaultClientBuffer  = 8
	defaultInstallFanout = 6
	defaultTracerName    = "github.com/unkn0wn-root/offcache"
	defaultEntryPrefix   = "entry"
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
