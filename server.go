package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgnsrekt/dropscout/internal/cache"
)

// maxBodySize caps PUT bodies at the default storage budget.
const maxBodySize = 5 << 20

// Query parameters consumed by the server rather than used as lookup params.
const (
	queryTTL        = "ttl"
	queryPreset     = "preset"
	queryMemoryOnly = "memory_only"
)

// cacheServer exposes a cache manager over HTTP.
type cacheServer struct {
	cache    *cache.Manager
	gatherer prometheus.Gatherer
	logger   *log.Logger
}

func newCacheServer(m *cache.Manager, gatherer prometheus.Gatherer, logger *log.Logger) *cacheServer {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = log.Default()
	}
	return &cacheServer{cache: m, gatherer: gatherer, logger: logger}
}

func (s *cacheServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("POST /sweep", s.handleSweep)
	mux.HandleFunc("GET /cache/{category}", s.handleGet)
	mux.HandleFunc("PUT /cache/{category}", s.handlePut)
	mux.HandleFunc("DELETE /cache/{category}", s.handleDelete)
	mux.HandleFunc("DELETE /cache", s.handleClear)
	return s.logRequests(mux)
}

func (s *cacheServer) handleGet(w http.ResponseWriter, r *http.Request) {
	category := r.PathValue("category")
	raw, ok := s.cache.Get(category, queryParams(r.URL.Query()))
	if !ok {
		w.Header().Set("X-Cache", "MISS")
		http.Error(w, "not cached", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "HIT")
	_, _ = w.Write(raw)
}

func (s *cacheServer) handlePut(w http.ResponseWriter, r *http.Request) {
	category := r.PathValue("category")
	q := r.URL.Query()

	var opts []cache.SetOption
	if v := q.Get(queryTTL); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid ttl: %v", err), http.StatusBadRequest)
			return
		}
		opts = append(opts, cache.WithTTL(ttl))
	}
	if v := q.Get(queryPreset); v != "" {
		p := cache.Preset(v)
		if _, ok := p.TTL(); !ok {
			http.Error(w, fmt.Sprintf("unknown preset %q", v), http.StatusBadRequest)
			return
		}
		opts = append(opts, cache.WithPreset(p))
	}
	if q.Get(queryMemoryOnly) == "true" {
		opts = append(opts, cache.MemoryOnly())
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "unable to read body", http.StatusRequestEntityTooLarge)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "body must be valid JSON", http.StatusBadRequest)
		return
	}

	s.cache.Set(category, queryParams(q, queryTTL, queryPreset, queryMemoryOnly), json.RawMessage(body), opts...)
	w.WriteHeader(http.StatusNoContent)
}

func (s *cacheServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.cache.Invalidate(r.PathValue("category"), queryParams(r.URL.Query()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *cacheServer) handleClear(w http.ResponseWriter, _ *http.Request) {
	s.cache.ClearAll()
	w.WriteHeader(http.StatusNoContent)
}

func (s *cacheServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	body, err := json.Marshal(statsResponse(s.cache.Stats(), s.cache.Config()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *cacheServer) handleSweep(w http.ResponseWriter, _ *http.Request) {
	if !s.cache.TriggerSweep() {
		http.Error(w, "sweep recently run or in progress", http.StatusTooManyRequests)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *cacheServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("Request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
