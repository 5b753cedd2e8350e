package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/scriptdeck/scriptdeck/internal/api/http"
	"github.com/scriptdeck/scriptdeck/internal/api/middleware"
	"github.com/scriptdeck/scriptdeck/internal/api/ws"
	"github.com/scriptdeck/scriptdeck/internal/domain/execution"
	"github.com/scriptdeck/scriptdeck/internal/domain/queue"
	"github.com/scriptdeck/scriptdeck/internal/domain/ratelimit"
	"github.com/scriptdeck/scriptdeck/internal/domain/validation"
	"github.com/scriptdeck/scriptdeck/internal/domain/video"
	"github.com/scriptdeck/scriptdeck/internal/domain/webhook"
	"github.com/scriptdeck/scriptdeck/internal/domain/worker"
	"github.com/scriptdeck/scriptdeck/internal/infrastructure/config"
	"github.com/scriptdeck/scriptdeck/internal/infrastructure/logging"
	"github.com/scriptdeck/scriptdeck/internal/infrastructure/monitoring"
	"github.com/scriptdeck/scriptdeck/internal/infrastructure/resilience"
	"github.com/scriptdeck/scriptdeck/internal/shared/types"
)

// Server wires the orchestrator and serves it over HTTP.
type Server struct {
	router   *gin.Engine
	http     *http.Server
	log      *logging.Logger
	manager  *execution.Manager
	notifier *webhook.Notifier
	sweeper  *video.Sweeper
	hub      *ws.Hub
	pool     *worker.Pool
}

// multiSink fans one lifecycle event out to every consumer.
type multiSink []types.EventSink

func (m multiSink) Emit(event types.Event) {
	for _, sink := range m {
		sink.Emit(event)
	}
}

// New builds the full service from configuration.
func New(cfg *config.Config, log *logging.Logger) (*Server, error) {
	if log == nil {
		log = logging.NewNop()
	}
	metrics := monitoring.NewMetrics()

	policy := validation.DefaultPolicy()
	if cfg.Validator.PolicyPath != "" {
		loaded, err := validation.LoadPolicy(cfg.Validator.PolicyPath)
		if err != nil {
			return nil, fmt.Errorf("load validation policy: %w", err)
		}
		policy = loaded
	}
	if cfg.Validator.MaxScriptSize > 0 {
		policy.MaxScriptSize = cfg.Validator.MaxScriptSize
	}
	validator, err := validation.New(policy)
	if err != nil {
		return nil, fmt.Errorf("compile validation policy: %w", err)
	}

	loader := worker.NewHTTPLoader(30 * time.Second)
	pool, err := worker.NewPool(cfg.Pool.Capacity, func() (worker.Session, error) {
		session, err := worker.NewBrowserSession(worker.SessionConfig{
			Loader:         loader,
			ViewportWidth:  cfg.Video.Width,
			ViewportHeight: cfg.Video.Height,
		})
		if err != nil {
			return nil, err
		}
		return session, nil
	})
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	pool.OnRetire(func() { metrics.WorkersRetired.Inc() })

	videos, err := video.NewManager(video.Config{
		Dir:       cfg.Video.Dir,
		Retention: cfg.Video.Retention,
		Width:     cfg.Video.Width,
		Height:    cfg.Video.Height,
	}, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create video manager: %w", err)
	}
	videos.WithMetrics(metrics)

	notifier := webhook.NewNotifier(cfg.Webhook, log).WithMetrics(metrics)
	hub := ws.NewHub(log)

	breaker := resilience.New(resilience.Settings{
		Threshold: cfg.Execution.BreakerThreshold,
		Cooldown:  cfg.Execution.BreakerCooldown,
	})
	limiter := ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.PerIdentity, cfg.RateLimit.Global)

	manager, err := execution.NewManager(cfg.Execution, cfg.Queue, execution.Deps{
		Queue:     queue.New(),
		Pool:      pool,
		Limiter:   limiter,
		Validator: validator,
		Breaker:   breaker,
		Videos:    videos,
		Sink:      multiSink{notifier, hub},
		Metrics:   metrics,
		Log:       log,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create execution manager: %w", err)
	}

	sweeper := video.NewSweeper(videos, cfg.Video.SweepInterval)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.HTTPRate.Enabled {
		router.Use(middleware.GlobalRateLimit(cfg.HTTPRate))
		router.Use(middleware.RateLimit(cfg.HTTPRate))
	}
	router.Use(middleware.Auth(cfg.Auth))

	handlers := apihttp.NewHandlers(manager, validator, videos, metrics, log)
	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.POST("/execute", handlers.Execute)
	router.GET("/executions/:id", handlers.Status)
	router.DELETE("/executions/:id", handlers.Cancel)
	router.GET("/queue", handlers.Queue)
	router.POST("/validate", handlers.Validate)
	router.GET("/videos/:id", handlers.Video)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/stream", hub.HandleConnection)

	return &Server{
		router:   router,
		log:      log,
		manager:  manager,
		notifier: notifier,
		sweeper:  sweeper,
		hub:      hub,
		pool:     pool,
	}, nil
}

// Start launches the background tasks: webhook delivery, retention
// sweeping, and the dispatcher.
func (s *Server) Start() {
	s.notifier.Start()
	s.sweeper.Start()
	s.manager.Start()
}

// Run starts background tasks and serves HTTP until Close.
func (s *Server) Run(port string) error {
	s.Start()

	s.http = &http.Server{
		Addr:    ":" + port,
		Handler: s.router,
	}
	s.log.Info("server listening", zap.String("port", port))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts everything down in dependency order: stop accepting
// traffic, drain running executions, then stop the outbound surfaces.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var firstErr error
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.manager.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	s.sweeper.Stop()
	s.notifier.Stop()
	s.hub.Close()
	s.log.Info("server stopped")
	return firstErr
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
