package offcache

import (
	"fmt"
	"sort"
)

// Role is the purpose of a named cache within a generation.
type Role string

const (
	RoleStatic  Role = "static"
	RoleDynamic Role = "dynamic"
	RoleAPI     Role = "api"
	RoleImage   Role = "image"
)

// Roles lists every role a generation must name a cache for.
var Roles = [...]Role{RoleStatic, RoleDynamic, RoleAPI, RoleImage}

// GenerationSet maps each role to the cache name a generation uses for it.
type GenerationSet map[Role]string

// DefaultCaches are the cache names of the budget tracker's current release.
var DefaultCaches = GenerationSet{
	RoleStatic:  "budget-tracker-static-v3",
	RoleDynamic: "budget-tracker-dynamic-v2",
	RoleAPI:     "budget-tracker-api-v2",
	RoleImage:   "budget-tracker-images-v1",
}

// Names returns the cache names of s, sorted.
func (s GenerationSet) Names() []string {
	out := make([]string, 0, len(s))
	for _, n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Has reports whether name belongs to s.
func (s GenerationSet) Has(name string) bool {
	for _, n := range s {
		if n == name {
			return true
		}
	}
	return false
}

func (s GenerationSet) validate() error {
	seen := make(map[string]Role, len(Roles))
	for _, r := range Roles {
		name := s[r]
		if name == "" {
			return fmt.Errorf("offcache: generation has no %s cache", r)
		}
		if other, dup := seen[name]; dup {
			return fmt.Errorf("offcache: cache %q used for both %s and %s", name, other, r)
		}
		seen[name] = r
	}
	if len(s) != len(Roles) {
		return fmt.Errorf("offcache: generation names %d caches, want %d", len(s), len(Roles))
	}
	return nil
}

// Limits caps the entry count per role. A missing role or a value <= 0 means
// unbounded.
type Limits map[Role]int

// DefaultLimits bounds the runtime caches; static and image caches grow freely.
var DefaultLimits = Limits{
	RoleDynamic: 50,
	RoleAPI:     100,
}

func (l Limits) of(r Role) int {
	if n := l[r]; n > 0 {
		return n
	}
	return 0
}

// DefaultManifest is precached into the static cache on install.
var DefaultManifest = []string{
	"/",
	"/index.html",
	"/styles.css",
	"/index.js",
	"/db.js",
	"/manifest.webmanifest",
	"/icons/icon-192x192.png",
	"/icons/icon-512x512.png",
	"https://stackpath.bootstrapcdn.com/font-awesome/4.7.0/css/font-awesome.min.css",
	"https://cdn.jsdelivr.net/npm/chart.js@4.4.0",
}
