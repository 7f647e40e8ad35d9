package transport

import (
	"net/http"
	"path"
	"strings"

	"github.com/unkn0wn-root/offcache"
)

// RequestOf converts an inbound request. Origin-form targets ("/app.js") stay
// relative and resolve against the engine origin; absolute-form targets
// (forward proxy) are kept as they are.
func RequestOf(r *http.Request) *offcache.Request {
	target := r.URL.RequestURI()
	if r.URL.IsAbs() {
		target = r.URL.String()
	}
	dest := DestinationOf(r)
	return &offcache.Request{
		Method:      r.Method,
		URL:         target,
		Destination: dest,
		Mode:        modeOf(r, dest),
		Header:      r.Header.Clone(),
	}
}

// DestinationOf reads Sec-Fetch-Dest, falling back to Accept and the path
// extension for clients that do not send fetch metadata.
func DestinationOf(r *http.Request) offcache.Destination {
	switch d := r.Header.Get("Sec-Fetch-Dest"); d {
	case "document", "iframe":
		return offcache.DestinationDocument
	case "style":
		return offcache.DestinationStyle
	case "script", "worker", "sharedworker", "serviceworker":
		return offcache.DestinationScript
	case "image":
		return offcache.DestinationImage
	case "font":
		return offcache.DestinationFont
	case "":
	default:
		return offcache.DestinationEmpty
	}

	switch strings.ToLower(path.Ext(r.URL.Path)) {
	case ".css":
		return offcache.DestinationStyle
	case ".js", ".mjs":
		return offcache.DestinationScript
	case ".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico", ".avif":
		return offcache.DestinationImage
	case ".woff", ".woff2", ".ttf", ".otf":
		return offcache.DestinationFont
	}

	accept := r.Header.Get("Accept")
	switch {
	case strings.Contains(accept, "text/html"):
		return offcache.DestinationDocument
	case strings.HasPrefix(accept, "image/"):
		return offcache.DestinationImage
	case strings.HasPrefix(accept, "text/css"):
		return offcache.DestinationStyle
	}
	return offcache.DestinationEmpty
}

func modeOf(r *http.Request, dest offcache.Destination) offcache.Mode {
	if m := r.Header.Get("Sec-Fetch-Mode"); m != "" {
		return offcache.Mode(m)
	}
	if dest == offcache.DestinationDocument {
		return offcache.ModeNavigate
	}
	return ""
}
