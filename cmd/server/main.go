// Package main is the entry point for the market data hub, a reconciliation
// service that fetches A-share data from several upstreams, standardizes and
// validates it and serves graded results from a TTL cache.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/marketdata-hub/internal/cache"
	"github.com/yourorg/marketdata-hub/internal/calendar"
	"github.com/yourorg/marketdata-hub/internal/config"
	"github.com/yourorg/marketdata-hub/internal/coordinator"
	"github.com/yourorg/marketdata-hub/internal/metrics"
	"github.com/yourorg/marketdata-hub/internal/model"
	"github.com/yourorg/marketdata-hub/internal/otel"
	"github.com/yourorg/marketdata-hub/internal/reliability"
	"github.com/yourorg/marketdata-hub/internal/render"
	"github.com/yourorg/marketdata-hub/internal/scheduler"
)

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// Server represents the service instance
type Server struct {
	cfg *config.Config

	coord     *coordinator.Coordinator
	calendar  *calendar.Calendar
	scheduler *scheduler.Scheduler

	// Metrics registry served on /metrics
	registry *prometheus.Registry

	server *http.Server
}

// main is the entry point for the application
func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("Failed to load .env file")
	}

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)

	shutdownTracer, err := otel.InitTracer(cfg.OtelEndpoint, "marketdata-hub")
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdownTracer()

	server, err := NewServer(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create server")
	}
	server.Start()
}

// setupLogging configures the logging for the application
func setupLogging(level, format string) {
	switch strings.ToLower(format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}

// NewServer wires every component from the configuration.
func NewServer(cfg *config.Config) (*Server, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("calendar timezone: %w", err)
	}
	cal := calendar.New(
		calendar.WithLocation(loc),
		calendar.WithReleaseHour(cfg.Calendar.ReleaseHour),
		calendar.WithWindowDays(cfg.Calendar.SensitiveWindowDays),
	)

	registry, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	tracker := reliability.New(cfg.ReliabilityOptions()).
		WithTransitionCallback(func(id string, from, to reliability.State, score float64) {
			logrus.WithFields(logrus.Fields{
				"provider": id,
				"from":     from,
				"to":       to,
				"score":    score,
			}).Warn("Provider state changed")
		})

	store := cache.New(cache.Options{
		MaxEntries: cfg.Cache.MaxEntries,
		HitWindow:  cfg.Cache.HitWindow,
	})

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	base, sensitive := cfg.TTLs()
	opts := coordinator.Options{
		Enabled:             cfg.Enabled,
		FetchTimeout:        cfg.FetchTimeout,
		WorkerPoolSize:      cfg.WorkerPoolSize,
		Retry:               cfg.RetryPolicy(),
		BaseTTL:             base,
		SensitiveTTL:        sensitive,
		SensitiveWindowDays: cfg.Calendar.SensitiveWindowDays,
		ProviderPriority:    cfg.ProviderPriority,
	}
	coord := coordinator.New(registry, tracker, store, opts,
		coordinator.WithCalendar(cal),
		coordinator.WithMetrics(metrics.New(promRegistry)),
	)

	s := &Server{
		cfg:      cfg,
		coord:    coord,
		calendar: cal,
		registry: promRegistry,
	}

	if cfg.Scheduler.Enabled {
		categories, err := cfg.WarmupCategories()
		if err != nil {
			return nil, err
		}
		s.scheduler = scheduler.New(context.Background(), coord, cal, cfg.Scheduler.Watchlist, categories)
		if err := s.scheduler.RegisterAll(cfg.Scheduler.WarmupCron, cfg.Scheduler.ReleaseCron); err != nil {
			return nil, err
		}
	}

	logrus.WithFields(logrus.Fields{
		"providers": registry.Len(),
		"enabled":   cfg.Enabled,
		"timezone":  loc.String(),
		"scheduler": cfg.Scheduler.Enabled,
	}).Info("Market data hub initialized")

	return s, nil
}

// routes registers the HTTP endpoints
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/providers", s.handleProviders)
	mux.HandleFunc("/resolve", s.handleResolve)
	mux.HandleFunc("/resolve/batch", s.handleBatch)
	mux.HandleFunc("/invalidate", s.handleInvalidate)
	mux.HandleFunc("/crossvalidate", s.handleCrossValidate)
	mux.HandleFunc("/volumehistory", s.handleVolumeHistory)
	return mux
}

// Start begins the HTTP server and sets up graceful shutdown
func (s *Server) Start() {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.cfg.FetchTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.scheduler != nil {
		s.scheduler.Start()
	}

	go func() {
		logrus.Infof("Server starting on port %d", s.cfg.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server shutdown failed: %v", err)
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	s.coord.Close()

	logrus.Info("Server stopped")
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(startTime).Round(time.Second).String(),
	})
}

// handleStatus reports cache and provider health
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.coord.Stats()
	now := time.Now().In(s.calendar.Location())
	deadline := s.calendar.NextDeadline(now)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled":           s.cfg.Enabled,
		"uptime":            time.Since(startTime).Round(time.Second).String(),
		"cache_entries":     stats.EntryCount,
		"hit_rate_windowed": stats.HitRateWindowed,
		"hits":              stats.Hits,
		"misses":            stats.Misses,
		"providers":         providerViews(stats.ProviderScores),
		"next_deadline": map[string]interface{}{
			"quarter":    deadline.Quarter,
			"at":         deadline.At,
			"days_until": s.calendar.DaysUntilNextDeadline(now),
			"sensitive":  s.calendar.IsWithinSensitiveWindow(now, s.calendar.WindowDays()),
		},
	})
}

type providerView struct {
	reliability.ProviderScore
	Tier  string `json:"tier"`
	State string `json:"state"`
}

func providerViews(scores []reliability.ProviderScore) []providerView {
	out := make([]providerView, 0, len(scores))
	for _, sc := range scores {
		out = append(out, providerView{ProviderScore: sc, Tier: sc.Tier.String(), State: sc.State.String()})
	}
	return out
}

// handleProviders lists provider scores, or resets them on POST
// (/providers?action=reset[&id=...])
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	tracker := s.coord.Tracker()
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		if r.URL.Query().Get("action") != "reset" {
			errorResponse(w, http.StatusBadRequest, "Unknown action")
			return
		}
		if id := r.URL.Query().Get("id"); id != "" {
			if _, ok := tracker.Score(id); !ok {
				errorResponse(w, http.StatusNotFound, fmt.Sprintf("Unknown provider %q", id))
				return
			}
			tracker.Reset(id)
		} else {
			tracker.ResetAll()
		}
	default:
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, providerViews(tracker.Scores()))
}

// handleResolve serves /resolve?symbol=&category=&as_of=[&format=text]
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	q := r.URL.Query()
	req, err := s.parseRequest(q.Get("symbol"), q.Get("category"), q.Get("as_of"))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	res := s.coord.Resolve(r.Context(), req.Symbol, req.AsOf, req.Category)
	status := http.StatusOK
	if res.Unavailable {
		status = http.StatusServiceUnavailable
	}

	if q.Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprint(w, render.TextBlock(res))
		return
	}
	writeJSON(w, status, res)
}

// Request body limits
const (
	maxBodyBytes  = 1 << 20
	maxBatchItems = 200
)

type batchItem struct {
	Symbol   string `json:"symbol"`
	Category string `json:"category"`
	AsOf     string `json:"as_of"`
}

// handleBatch resolves a JSON array of requests
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var items []batchItem
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(items) > maxBatchItems {
		errorResponse(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Batch exceeds %d items", maxBatchItems))
		return
	}
	reqs := make([]coordinator.Request, 0, len(items))
	for i, it := range items {
		req, err := s.parseRequest(it.Symbol, it.Category, it.AsOf)
		if err != nil {
			errorResponse(w, http.StatusBadRequest, fmt.Sprintf("item %d: %v", i, err))
			return
		}
		reqs = append(reqs, req)
	}
	writeJSON(w, http.StatusOK, s.coord.ResolveBatch(r.Context(), reqs))
}

// handleInvalidate drops cache entries: POST /invalidate?symbol=[&as_of=] or ?category=
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	q := r.URL.Query()

	var removed int
	switch {
	case q.Get("symbol") != "":
		var asOf *time.Time
		if raw := q.Get("as_of"); raw != "" {
			d, err := time.ParseInLocation("2006-01-02", raw, s.calendar.Location())
			if err != nil {
				errorResponse(w, http.StatusBadRequest, "Invalid as_of, expected YYYY-MM-DD")
				return
			}
			asOf = &d
		}
		removed = s.coord.Invalidate(q.Get("symbol"), asOf)
	case q.Get("category") != "":
		category, err := model.ParseCategory(q.Get("category"))
		if err != nil {
			errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		removed = s.coord.InvalidateCategory(category)
	default:
		errorResponse(w, http.StatusBadRequest, "symbol or category is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// handleCrossValidate serves /crossvalidate?symbol=&metric=[&sources=a,b]
func (s *Server) handleCrossValidate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol, metric := q.Get("symbol"), q.Get("metric")
	if symbol == "" || metric == "" {
		errorResponse(w, http.StatusBadRequest, "symbol and metric are required")
		return
	}
	var sources []string
	if raw := q.Get("sources"); raw != "" {
		sources = strings.Split(raw, ",")
	}
	writeJSON(w, http.StatusOK, s.coord.CrossValidate(r.Context(), symbol, sources, metric))
}

// handleVolumeHistory checks a posted volume series: {"volumes": [...]}
func (s *Server) handleVolumeHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var body struct {
		Volumes []float64 `json:"volumes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, s.coord.CheckVolumeHistory(body.Volumes))
}

// parseRequest validates request parameters. An empty date means today in the
// calendar's timezone.
func (s *Server) parseRequest(symbol, category, asOf string) (coordinator.Request, error) {
	if symbol == "" {
		return coordinator.Request{}, fmt.Errorf("symbol is required")
	}
	cat, err := model.ParseCategory(category)
	if err != nil {
		return coordinator.Request{}, err
	}
	date := time.Now().In(s.calendar.Location())
	if asOf != "" {
		date, err = time.ParseInLocation("2006-01-02", asOf, s.calendar.Location())
		if err != nil {
			return coordinator.Request{}, fmt.Errorf("invalid as_of %q, expected YYYY-MM-DD", asOf)
		}
	}
	return coordinator.Request{Symbol: symbol, AsOf: date, Category: cat}, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Error("Failed to encode response")
	}
}

// errorResponse sends an error in the standard shape
func errorResponse(w http.ResponseWriter, statusCode int, errorMsg string) {
	logrus.WithFields(logrus.Fields{
		"status": statusCode,
		"error":  errorMsg,
	}).Warn("Request failed")
	writeJSON(w, statusCode, map[string]interface{}{
		"status":     "errored",
		"statusCode": statusCode,
		"error":      errorMsg,
	})
}
