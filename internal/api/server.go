package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/RichardTsang202/crypto-monitor-vercel/internal/cache"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/database"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/indicator"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/messaging"
	"github.com/RichardTsang202/crypto-monitor-vercel/internal/store"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/config"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/logger"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/models"
)

const recentLogLines = 50

// StatusProvider exposes the monitor snapshot to the API.
type StatusProvider interface {
	Status() models.MonitorStatus
}

// Server represents the HTTP status API server
type Server struct {
	cfg        *config.Config
	logger     *logrus.Logger
	router     *mux.Router
	httpServer *http.Server

	monitor StatusProvider
	store   *store.Store
	logRing *logger.RingHook

	// Optional integrations, reported by the health endpoint.
	redisCache *cache.RedisClient
	natsClient *messaging.NATSClient
	influxDB   *database.InfluxClient
}

// NewServer creates a new API server
func NewServer(
	cfg *config.Config,
	log *logrus.Logger,
	monitor StatusProvider,
	st *store.Store,
	logRing *logger.RingHook,
) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  log,
		monitor: monitor,
		store:   st,
		logRing: logRing,
	}

	s.setupRoutes()

	return s
}

// SetCache attaches the Redis client for health reporting.
func (s *Server) SetCache(c *cache.RedisClient) { s.redisCache = c }

// SetMessaging attaches the NATS client for health reporting.
func (s *Server) SetMessaging(n *messaging.NATSClient) { s.natsClient = n }

// SetPersistence attaches the InfluxDB client for health reporting.
func (s *Server) SetPersistence(i *database.InfluxClient) { s.influxDB = i }

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	s.router.Use(logger.Middleware(s.logger))
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.corsMiddleware)

	apiV1 := s.router.PathPrefix("/api/v1").Subrouter()

	apiV1.HandleFunc("/health", s.handleHealth).Methods("GET")
	apiV1.HandleFunc("/status", s.handleStatus).Methods("GET")
	apiV1.HandleFunc("/symbols", s.handleGetSymbols).Methods("GET")
	apiV1.HandleFunc("/symbols/{symbol}/candles", s.handleGetCandles).Methods("GET")
	apiV1.HandleFunc("/symbols/{symbol}/indicators", s.handleGetIndicators).Methods("GET")
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := s.cfg.GetServerAddr()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.logger.WithField("address", addr).Info("Starting HTTP server")

	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the configured router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Middleware functions

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.WithFields(logrus.Fields{
					"error": err,
					"path":  r.URL.Path,
				}).Error("Panic recovered")

				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(next)
}

// Handler functions

// handleHealth reports process liveness and integration connectivity.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	services := map[string]bool{}
	if s.redisCache != nil {
		services["redis"] = s.redisCache.Health(ctx) == nil
	}
	if s.natsClient != nil {
		services["nats"] = s.natsClient.IsConnected()
	}
	if s.influxDB != nil {
		services["influxdb"] = s.influxDB.Health(ctx) == nil
	}

	writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"services":  services,
		"timestamp": time.Now().Unix(),
	})
}

// handleStatus returns the monitor snapshot with recent log lines.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.monitor.Status()
	if s.logRing != nil {
		status.RecentLogs = s.logRing.Recent(recentLogLines)
	}

	writeJSON(w, status)
}

// handleGetSymbols lists the symbols with buffered candle counts.
func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	type symbolInfo struct {
		Symbol  string `json:"symbol"`
		Candles int    `json:"candles"`
	}

	symbols := s.store.Symbols()
	out := make([]symbolInfo, 0, len(symbols))
	for _, symbol := range symbols {
		out = append(out, symbolInfo{Symbol: symbol, Candles: s.store.Len(symbol)})
	}

	writeJSON(w, map[string]interface{}{
		"symbols": out,
		"count":   len(out),
	})
}

// handleGetCandles returns the most recent closed candles for a symbol.
func (s *Server) handleGetCandles(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol := vars["symbol"]

	limit := s.cfg.Monitor.MinAnalysisWindow
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	available := s.store.Len(symbol)
	if available == 0 {
		http.Error(w, "Symbol not tracked", http.StatusNotFound)
		return
	}
	if limit > available {
		limit = available
	}

	candles, err := s.store.Window(symbol, limit)
	if err != nil {
		http.Error(w, "Failed to load candles", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"symbol":  symbol,
		"candles": candles,
		"count":   len(candles),
	})
}

// handleGetIndicators returns the indicator values at the last closed
// candle of a symbol's analysis window.
func (s *Server) handleGetIndicators(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol := vars["symbol"]

	window, err := s.store.Window(symbol, s.cfg.Monitor.MinAnalysisWindow)
	if err != nil {
		http.Error(w, "Not enough history", http.StatusNotFound)
		return
	}

	snapshot, err := indicator.Snapshot(window, indicator.DefaultParams())
	if err != nil {
		http.Error(w, "Not enough history", http.StatusNotFound)
		return
	}

	writeJSON(w, snapshot)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
