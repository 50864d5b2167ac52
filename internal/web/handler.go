// Package web serves the harvester's status surface: a small dashboard,
// the JSON snapshot behind it, and Prometheus metrics.
package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Its-Zeus/shadowharvester/internal/metrics"
	"github.com/Its-Zeus/shadowharvester/internal/pool"
)

// SnapshotFunc supplies the current dashboard state. It must be cheap
// and safe to call from any request goroutine.
type SnapshotFunc func() pool.Snapshot

// statusCache holds a cached JSON response so a fast-polling dashboard
// never contends with the mining loops more than once per TTL.
type statusCache struct {
	mu      sync.Mutex
	data    []byte
	expires time.Time
}

const statusCacheTTL = 2 * time.Second

func (c *statusCache) get(snapshot SnapshotFunc) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Now().Before(c.expires) {
		return c.data
	}
	buf, _ := json.Marshal(snapshot())
	c.data = buf
	c.expires = time.Now().Add(statusCacheTTL)
	return c.data
}

// NewHandler creates the HTTP handler for the status port.
func NewHandler(snapshot SnapshotFunc) http.Handler {
	mux := http.NewServeMux()
	cache := &statusCache{}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Security-Policy",
			"default-src 'none'; script-src 'unsafe-inline'; style-src 'unsafe-inline'; connect-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Write([]byte(dashboardHTML))
	})

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Write(cache.get(snapshot))
	})

	mux.Handle("/metrics", metrics.Handler())

	return mux
}
