package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/wacampaign/internal/campaign"
	"github.com/foxzi/wacampaign/internal/config"
	"github.com/foxzi/wacampaign/internal/instance"
	"github.com/foxzi/wacampaign/internal/metrics"
	"github.com/foxzi/wacampaign/internal/models"
	"github.com/foxzi/wacampaign/internal/notify"
)

// Version is reported by the health endpoint
var Version = "dev"

// Dispatcher sends campaigns
type Dispatcher interface {
	Dispatch(ctx context.Context, draft *models.CampaignDraft) (*models.Campaign, error)
}

// CampaignReader reads stored campaigns
type CampaignReader interface {
	List(ctx context.Context, filter models.CampaignListFilter) ([]models.Campaign, error)
	Stats(ctx context.Context, filter models.CampaignListFilter) (*models.CampaignStats, error)
}

// InstanceManager runs instance lifecycle operations
type InstanceManager interface {
	Create(ctx context.Context, name string) (*models.Instance, error)
	Instances(ctx context.Context) ([]models.Instance, error)
	QRCode(ctx context.Context, name string) ([]byte, error)
	CheckStatus(ctx context.Context, name string) (*instance.Session, error)
	RefreshQR(ctx context.Context, name string) (*instance.Session, error)
	Connect(ctx context.Context, name string) (*instance.Session, error)
	Disconnect(ctx context.Context, name string) (*instance.Session, error)
	ClosePairing(name string) bool
	Pairing() (string, bool)
	Sessions() []instance.Session
}

// Reconciler settles stuck dispatch intents on demand
type Reconciler interface {
	RunOnce(ctx context.Context) (campaign.ReconcileResult, error)
}

// Deps are the components the API exposes. Reconciler, Events and Metrics
// may be nil.
type Deps struct {
	Dispatcher Dispatcher
	Campaigns  CampaignReader
	Instances  InstanceManager
	Reconciler Reconciler
	Events     *notify.Chan
	Metrics    *metrics.Metrics
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
	config     *config.Config
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(deps Deps, cfg *config.Config, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		deps:      deps,
		config:    cfg,
		logger:    logger.With("component", "api"),
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware)

	s.router.Get("/health", s.handleHealth)

	if s.deps.Metrics != nil && s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, metrics.Handler(s.deps.Metrics, s.config.Metrics.AllowedIPs, s.logger))
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", s.handleDispatch)
			r.Get("/", s.handleListCampaigns)
			r.Get("/stats", s.handleCampaignStats)
			r.Get("/phones-template", s.handlePhonesTemplate)
		})

		r.Route("/instances", func(r chi.Router) {
			r.Post("/", s.handleCreateInstance)
			r.Get("/", s.handleListInstances)
			r.Get("/{name}/qr", s.handleQRCode)
			r.Post("/{name}/check", s.handleCheckStatus)
			r.Post("/{name}/connect", s.handleConnect)
			r.Post("/{name}/refresh-qr", s.handleRefreshQR)
			r.Post("/{name}/disconnect", s.handleDisconnect)
			r.Delete("/{name}/pairing", s.handleClosePairing)
		})

		r.Get("/pairing", s.handlePairing)
		r.Get("/events", s.handleEvents)
		r.Post("/reconcile", s.handleReconcile)
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.Server.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.Server.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
