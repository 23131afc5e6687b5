package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Layr-Labs/merkle-mint-go/pkg/distributor"
	"github.com/Layr-Labs/merkle-mint-go/pkg/events"
	"github.com/Layr-Labs/merkle-mint-go/pkg/metrics"
	"github.com/Layr-Labs/merkle-mint-go/pkg/persistence"
)

/*
Server exposes a Distributor over HTTP.

Public endpoints:
  GET  /health                 persistence health check
  GET  /metrics                prometheus metrics
  GET  /distribution           current root, supply, price and metadata
  GET  /claims/{address}       claim descriptor and proof from the stored snapshot
  GET  /claims/index/{index}   whether an index has been claimed
  GET  /events                 server-sent event stream (when a broadcaster is set)

Rate limited endpoints:
  POST /claim                  submit a claim on behalf of an account
  POST /mint                   paid mint, body signed by the payer in X-Signature

Admin endpoints (body signed by the owner in X-Admin-Signature):
  POST /admin/root             publish a root, optionally with its snapshot
  POST /admin/free-mint        issue units without payment
  POST /admin/uri              set the metadata URI once
  POST /admin/owner            transfer ownership

Signed bodies carry an issuedAt unix timestamp. Bodies older than the signature max
age, or whose signature was already seen, are rejected.
*/
type Server struct {
	cfg         Config
	distributor *distributor.Distributor
	store       persistence.IDistributionPersistence
	broadcaster *events.Broadcaster
	logger      *zap.Logger

	limiter    *RateLimiter
	signatures *replayCache
	now        func() time.Time

	httpServer *http.Server
}

// Config holds the HTTP surface settings
type Config struct {
	Port            int
	RateLimit       float64 // requests per second per client
	RateBurst       int
	AllowedOrigins  []string
	SignatureMaxAge time.Duration
}

const (
	defaultRateLimit       = 5.0
	defaultRateBurst       = 10
	defaultSignatureMaxAge = 5 * time.Minute
	maxBodyBytes           = 4 << 20
)

// NewServer creates a new server instance. broadcaster may be nil, which disables /events.
func NewServer(
	cfg Config,
	d *distributor.Distributor,
	store persistence.IDistributionPersistence,
	broadcaster *events.Broadcaster,
	logger *zap.Logger,
) *Server {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst < 1 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.SignatureMaxAge <= 0 {
		cfg.SignatureMaxAge = defaultSignatureMaxAge
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cfg:         cfg,
		distributor: d,
		store:       store,
		broadcaster: broadcaster,
		logger:      logger,
		limiter:     NewRateLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		signatures:  newReplayCache(cfg.SignatureMaxAge),
		now:         time.Now,
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", signatureHeader, adminSignatureHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/distribution", s.handleDistribution)
	r.Get("/claims/index/{index}", s.handleClaimStatus)
	r.Get("/claims/{address}", s.handleClaimLookup)
	if s.broadcaster != nil {
		r.Get("/events", s.handleEvents)
	}

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(s.limiter))
		r.Post("/claim", s.handleClaim)
		r.With(s.signedBody(signatureHeader)).Post("/mint", s.handleMint)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.signedBody(adminSignatureHeader))
		r.Use(s.requireAdmin)
		r.Post("/root", s.handleSetRoot)
		r.Post("/free-mint", s.handleFreeMint)
		r.Post("/uri", s.handleSetURI)
		r.Post("/owner", s.handleTransferOwnership)
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go func() {
		s.logger.Sugar().Infow("Starting HTTP server",
			"distributor", s.distributor.Address().Hex(),
			"port", s.httpServer.Addr,
		)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Sugar().Errorw("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests until ctx is done, then stops background workers
func (s *Server) Stop(ctx context.Context) error {
	defer s.limiter.Stop()
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the HTTP handler (for testing)
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
