package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/gadgetry/internal/api/http"
	"github.com/GriffinCanCode/gadgetry/internal/api/middleware"
	"github.com/GriffinCanCode/gadgetry/internal/api/ws"
	"github.com/GriffinCanCode/gadgetry/internal/app"
	"github.com/GriffinCanCode/gadgetry/internal/devwatch"
	"github.com/GriffinCanCode/gadgetry/internal/fetch"
	"github.com/GriffinCanCode/gadgetry/internal/gadget"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/config"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/logging"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/tracing"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	handler http.Handler
	pages   *app.Manager
	tracer  *tracing.Tracer
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	http    *http.Server
	watcher *devwatch.Watcher
	wg      sync.WaitGroup
}

// NewServer creates a new server instance. A nil metrics collector is
// replaced by one on a private registry.
func NewServer(cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics) (*Server, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if metrics == nil {
		reg := prometheus.NewRegistry()
		metrics = monitoring.NewMetricsWith(reg, reg)
	}

	logger.Info("Initializing gadgetry server",
		zap.String("port", cfg.Server.Port),
		zap.String("frames", cfg.Frames.Mode),
		zap.String("root_url", cfg.Dev.RootURL),
	)

	tracer := tracing.New("gadgetry", logger.Logger)

	fetcher := fetch.NewClient(cfg.Fetch, fetch.Options{UserAgent: cfg.Runtime.UserAgent}, logger)
	opts := gadget.Options{
		Runtime: cfg.Runtime,
		Fetcher: fetcher,
		Logger:  logger,
		Metrics: metrics,
	}
	embedder, err := gadget.NewEmbedder(cfg.Frames, opts)
	if err != nil {
		tracer.Close()
		return nil, fmt.Errorf("failed to configure frames: %w", err)
	}
	opts.Embedder = embedder

	pages := app.NewManager(opts)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(pages, metrics, tracer, fetcher)
	frames := ws.NewHandler(pages, logger)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.GET("/pages", handlers.ListPages)
	router.GET("/render", handlers.Render)
	router.GET("/page", handlers.RootPage)
	router.POST("/page/reload", handlers.ReloadRoot)

	router.GET("/frame", frames.HandleConnection)

	if cfg.Dev.GadgetDir != "" {
		router.Static("/gadgets", cfg.Dev.GadgetDir)
		logger.Info("Serving gadget sources", zap.String("dir", cfg.Dev.GadgetDir))
	}

	ctx, cancel := context.WithCancel(context.Background())

	logger.Info("Server initialized successfully")

	return &Server{
		router:  router,
		handler: compress(router),
		pages:   pages,
		tracer:  tracer,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// compress gzips responses for clients that accept it. Websocket upgrades
// bypass it since the connection is hijacked.
func compress(next http.Handler) http.Handler {
	gz := gzhttp.GzipHandler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	})
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler { return s.handler }

// Pages returns the page manager
func (s *Server) Pages() *app.Manager { return s.pages }

// Start opens the root page and starts the uptime gauge and, with
// Dev.Watch, the source watcher. The gadget sources must be reachable, so
// call it once the listener is up.
func (s *Server) Start() error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.metrics.Run(s.ctx.Done())
	}()

	dev := s.config.Dev
	if dev.RootURL != "" {
		ctx, cancel := context.WithTimeout(s.ctx, s.config.Runtime.ScriptTimeout+s.config.Fetch.Timeout)
		err := s.pages.OpenRoot(ctx, dev.RootURL)
		cancel()
		if err != nil {
			s.logger.Warn("Root page failed to open", zap.Error(err))
		}
	}

	if dev.Watch && dev.GadgetDir != "" {
		watcher, err := devwatch.New(dev.GadgetDir, devwatch.Options{
			Pattern: dev.Pattern,
			Logger:  s.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to watch gadget sources: %w", err)
		}

		s.mu.Lock()
		s.watcher = watcher
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			err := watcher.Run(s.ctx, s.reload)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("Source watcher stopped", zap.Error(err))
			}
		}()
	}
	return nil
}

// reload reopens the root page after gadget sources changed
func (s *Server) reload(changes []devwatch.Change) {
	for _, c := range changes {
		s.logger.Info("Gadget source changed", zap.String("path", c.Path), zap.String("op", string(c.Op)))
	}
	if s.pages.Root() == nil {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.config.Runtime.ScriptTimeout+s.config.Fetch.Timeout)
	defer cancel()
	if err := s.pages.Reload(ctx); err != nil {
		s.logger.Warn("Root page reload crashed", zap.Error(err))
	}
}

// Run listens on the configured address, starts the server and serves
// until Close
func (s *Server) Run() error {
	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	if err := s.Start(); err != nil {
		srv.Close()
		<-errc
		return err
	}

	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts down the server
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	s.mu.Lock()
	srv, watcher := s.http, s.watcher
	s.mu.Unlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down http server: %w", err))
		}
	}

	s.cancel()
	if watcher != nil {
		if err := watcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close source watcher: %w", err))
		}
	}
	s.pages.Close()
	s.wg.Wait()
	s.tracer.Close()

	// Sync logger before exit
	s.logger.Sync()

	return errors.Join(errs...)
}
