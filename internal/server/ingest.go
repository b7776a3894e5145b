package server

import (
	"net/http"
	"sort"
	"strings"
	"sync"
)

// IngestDispatcher routes <prefix>/<name> to handlers mounted at runtime.
type IngestDispatcher struct {
	prefix   string
	mu       sync.RWMutex
	handlers map[string]http.Handler
}

// NewIngestDispatcher returns a dispatcher serving paths under prefix.
func NewIngestDispatcher(prefix string) *IngestDispatcher {
	return &IngestDispatcher{
		prefix:   "/" + strings.Trim(prefix, "/"),
		handlers: make(map[string]http.Handler),
	}
}

// key strips the prefix and normalizes to a leading slash without a trailing one.
func (d *IngestDispatcher) key(path string) string {
	path = strings.TrimPrefix(path, d.prefix)
	path = strings.TrimSuffix(path, "/")
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	return path
}

// Mount registers h for path. Both "/ingest/app" and "app" mount at the same place.
func (d *IngestDispatcher) Mount(path string, h http.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[d.key(path)] = h
}

// Unmount removes whatever is mounted at path.
func (d *IngestDispatcher) Unmount(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, d.key(path))
}

// Paths lists mounted endpoints with the prefix restored.
func (d *IngestDispatcher) Paths() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for k := range d.handlers {
		out = append(out, d.prefix+k)
	}
	sort.Strings(out)
	return out
}

func (d *IngestDispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.RLock()
	h, ok := d.handlers[d.key(r.URL.Path)]
	d.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	h.ServeHTTP(w, r)
}
