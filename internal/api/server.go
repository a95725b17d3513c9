package api

import (
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"remotedesk/internal/auth"
	"remotedesk/internal/clock"
	"remotedesk/internal/config"
	"remotedesk/internal/filetransfer"
	"remotedesk/internal/logging"
	"remotedesk/internal/metrics"
	"remotedesk/internal/monitor"
	"remotedesk/internal/quality"
	"remotedesk/internal/ratelimit"
	"remotedesk/internal/router"
	"remotedesk/internal/session"
	"remotedesk/internal/sweeper"
	"remotedesk/internal/transport/ws"
)

type Dependencies struct {
	Config       config.Config
	Clock        clock.Clock
	Lifecycle    *session.Lifecycle
	Router       *router.Router
	Sockets      *ws.Handler
	Capabilities *auth.Service
	Monitors     *monitor.Coordinator
	Transfers    *filetransfer.Manager
	Quality      *quality.Controller
	Health       *quality.HealthMonitor
	Metrics      *metrics.Counters
	Liveness     *sweeper.Liveness
	Logger       *log.Logger
	Version      string
}

type Server struct {
	cfg          config.Config
	clock        clock.Clock
	lifecycle    *session.Lifecycle
	hub          *router.Router
	sockets      *ws.Handler
	capabilities *auth.Service
	monitors     *monitor.Coordinator
	transfers    *filetransfer.Manager
	quality      *quality.Controller
	health       *quality.HealthMonitor
	metrics      *metrics.Counters
	liveness     *sweeper.Liveness
	logger       *log.Logger
	version      string
	rateLimiters map[string]*ratelimit.Limiter
	Router       http.Handler
}

func NewServer(deps Dependencies) *Server {
	logSink := deps.Logger
	if logSink == nil {
		logSink = log.New(io.Discard, "", 0)
	}
	version := deps.Version
	if version == "" {
		version = "0.1"
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	capabilities := deps.Capabilities
	if capabilities == nil {
		capabilities = auth.NewService(deps.Config.Secret(), clk, nil)
	}
	counters := deps.Metrics
	if counters == nil {
		counters = metrics.NewCounters()
	}

	rateLimiters := map[string]*ratelimit.Limiter{}
	if deps.Config.RateLimitHealth.Max > 0 {
		rateLimiters["health"] = ratelimit.New(deps.Config.RateLimitHealth.Max, deps.Config.RateLimitHealth.Window, clk)
	}
	if deps.Config.RateLimitV1.Max > 0 {
		rateLimiters["v1"] = ratelimit.New(deps.Config.RateLimitV1.Max, deps.Config.RateLimitV1.Window, clk)
	}
	// Daily per-user cap on opened sessions, keyed by token subject.
	if deps.Config.Session.PerDay > 0 {
		rateLimiters["session-create"] = ratelimit.New(int(deps.Config.Session.PerDay), 24*time.Hour, clk)
	}
	if deps.Config.RateLimitAdmit.Max > 0 {
		rateLimiters["admit"] = ratelimit.New(deps.Config.RateLimitAdmit.Max, deps.Config.RateLimitAdmit.Window, clk)
	}

	server := &Server{
		cfg:          deps.Config,
		clock:        clk,
		lifecycle:    deps.Lifecycle,
		hub:          deps.Router,
		sockets:      deps.Sockets,
		capabilities: capabilities,
		monitors:     deps.Monitors,
		transfers:    deps.Transfers,
		quality:      deps.Quality,
		health:       deps.Health,
		metrics:      counters,
		liveness:     deps.Liveness,
		logger:       logSink,
		version:      version,
		rateLimiters: rateLimiters,
	}

	server.Router = server.routes()
	return server
}

func (s *Server) allowSessionCreate(userID string) bool {
	limiter := s.rateLimiters["session-create"]
	return limiter == nil || limiter.Allow("user:"+userID)
}

// Limiters exposes the route limiters so the sweeper can drop idle windows.
func (s *Server) Limiters() []*ratelimit.Limiter {
	out := make([]*ratelimit.Limiter, 0, len(s.rateLimiters))
	for _, limiter := range s.rateLimiters {
		out = append(out, limiter)
	}
	return out
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(s.safeLogger)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))

		r.With(s.rateLimit("health")).Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": s.version})
		})
		r.With(s.rateLimit("health")).Get("/readyz", s.handleReady)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/v1", func(r chi.Router) {
			r.Use(s.rateLimit("v1"))
			r.Post("/sessions", s.handleCreateSession)
			r.Get("/sessions/{sessionID}", s.handleGetSession)
			r.Post("/sessions/{sessionID}/pin", s.handleIssuePIN)
			r.With(s.rateLimit("admit")).Post("/sessions/{sessionID}/admit", s.handleAdmit)
			r.Post("/sessions/{sessionID}/end", s.handleEndSession)
			r.Get("/sessions/{sessionID}/monitors", s.handleMonitors)
			r.Get("/sessions/{sessionID}/quality", s.handleQuality)
			r.Get("/sessions/{sessionID}/transfers", s.handleTransfers)
			r.Get("/hosts/{hostID}/health", s.handleHostHealth)
		})
	})

	// Websocket upgrades are long-lived and must not inherit the timeout.
	r.Route("/ws", func(r chi.Router) {
		r.Use(s.rateLimit("v1"))
		r.Get("/sessions/{sessionID}", s.handleParticipantSocket)
		r.Get("/host", s.handleHostSocket)
		r.Get("/admin", s.handleAdminSocket)
	})

	return r
}

func (s *Server) safeLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unknown"
		}
		logging.Allowlist(s.logger, map[string]string{
			"method":      r.Method,
			"route":       route,
			"status":      strconv.Itoa(ww.Status()),
			"duration_ms": strconv.FormatInt(time.Since(start).Milliseconds(), 10),
			"ip_hash":     peerHash(clientIP(r)),
		})
	})
}

func (s *Server) rateLimit(group string) func(http.Handler) http.Handler {
	limiter := s.rateLimiters[group]
	if limiter == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := group + ":" + clientIP(r)
			if !limiter.Allow(key) {
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate_limited"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.liveness == nil || s.cfg.SweepInterval <= 0 {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	if s.liveness.Stalled(s.clock.Now(), s.cfg.SweepInterval) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "sweeper_stalled"})
		return
	}
	status := s.liveness.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"last_sweep": status.LastSweep.UTC().Format(time.RFC3339),
		"sweeps":     status.Runs,
	})
}
