package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/unkn0wn-root/offcache"
)

// Control endpoints, served by the Handler itself.
const (
	EventsPath = "/__offcache/events"
	SyncPath   = "/__offcache/sync"
	PushPath   = "/__offcache/push"
	ClickPath  = "/__offcache/click"
	DrainPath  = "/__offcache/drain"
)

const (
	heartbeatInterval = 25 * time.Second
	maxPushPayload    = 4 << 10
)

// Handler answers requests through the engine and proxies whatever the engine
// bypasses to the upstream origin.
type Handler struct {
	engine offcache.Engine
	proxy  *httputil.ReverseProxy
	log    offcache.Logger
	mux    *http.ServeMux
}

func NewHandler(eng offcache.Engine, upstream *url.URL, log offcache.Logger) *Handler {
	if log == nil {
		log = offcache.NopLogger{}
	}
	h := &Handler{engine: eng, log: log}
	h.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			if pr.In.URL.IsAbs() {
				u := *pr.In.URL
				pr.Out.URL = &u
				pr.Out.Host = ""
			} else {
				pr.SetURL(upstream)
			}
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Warn("upstream unreachable", offcache.Fields{"url": r.URL.String(), "err": err})
			w.WriteHeader(http.StatusBadGateway)
		},
	}

	h.mux = http.NewServeMux()
	h.mux.HandleFunc("GET "+EventsPath, h.handleEvents)
	h.mux.HandleFunc("POST "+SyncPath, h.handleSync)
	h.mux.HandleFunc("POST "+PushPath, h.handlePush)
	h.mux.HandleFunc("POST "+ClickPath, h.handleClick)
	h.mux.HandleFunc("POST "+DrainPath, h.handleDrain)
	h.mux.HandleFunc("/", h.handleIntercept)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleIntercept(w http.ResponseWriter, r *http.Request) {
	resp, err := h.engine.Handle(r.Context(), RequestOf(r))
	switch {
	case err == nil:
		writeResponse(w, r, resp)
	case errors.Is(err, offcache.ErrBypass):
		h.proxy.ServeHTTP(w, r)
	case errors.Is(err, offcache.ErrNoImage):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		h.engine.ReportError(fmt.Errorf("%s %s: %w", r.Method, r.URL, err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
	}
}

func writeResponse(w http.ResponseWriter, r *http.Request, resp *offcache.Response) {
	dst := w.Header()
	for k, vs := range resp.Header {
		dst[k] = append([]string(nil), vs...)
	}
	dst.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.Status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(resp.Body)
	}
}

// handleEvents streams engine messages as server-sent events until the
// client disconnects or the engine closes.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	client := h.engine.Subscribe()
	defer client.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: hello\ndata: {\"client\":%d}\n\n", client.ID())
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg, ok := <-client.Messages():
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				h.log.Warn("event marshal failed", offcache.Fields{"type": msg.Type, "err": err})
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, data)
			flusher.Flush()
		}
	}
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		tag = offcache.SyncTag
	}
	if err := h.engine.Sync(r.Context(), tag); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePush(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPushPayload))
	if err != nil {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	if err := h.engine.Push(r.Context(), payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleClick(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Click(r.Context(), r.URL.Query().Get("action")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDrain(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.Drain(r.Context())
	switch {
	case errors.Is(err, offcache.ErrNoJournal):
		http.Error(w, err.Error(), http.StatusNotImplemented)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"replayed": n})
}
