package util

import (
	"crypto/sha256"
	"fmt"
	"net/url"
)

// StorageKey returns the provider key of a cache entry: prefix, cache name and a short
// hash of the request key. Request keys are URLs and may contain characters some
// providers reject (S3 object keys, redis cluster hash tags), so they are never used raw.
func StorageKey(prefix, cache, key string) string {
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%s:%s:%x", prefix, cache, sum[:16])
}

// CanonicalURL resolves raw against base and strips the fragment.
// Relative manifest entries ("/index.html") and absolute CDN URLs end up in one form.
func CanonicalURL(base *url.URL, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("url %q is not absolute", raw)
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}
