// Package server assembles the pseudo-kernel: task table, debug
// filesystem, the getpinfo channel module, and the HTTP surface over them.
package server

import (
	"go.uber.org/zap"

	"github.com/gin-gonic/gin"

	apihttp "github.com/picokernel/kernel/internal/api/http"
	"github.com/picokernel/kernel/internal/api/middleware"
	"github.com/picokernel/kernel/internal/debugfs"
	"github.com/picokernel/kernel/internal/getpinfo"
	"github.com/picokernel/kernel/internal/infrastructure/config"
	"github.com/picokernel/kernel/internal/infrastructure/monitoring"
	"github.com/picokernel/kernel/internal/logging"
	"github.com/picokernel/kernel/internal/task"
	"github.com/picokernel/kernel/internal/ws"
)

// Version names the running pseudo-kernel build, exposed as a read-only
// node in the debug filesystem.
const Version = "picokernel 0.3.0"

// Server wraps the HTTP server and its dependencies.
type Server struct {
	router  *gin.Engine
	table   *task.Table
	fs      *debugfs.FS
	module  *getpinfo.Module
	hub     *ws.Hub
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer boots the kernel state and mounts the routes.
func NewServer(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}

	logger.Info("Initializing picokernel",
		zap.String("port", cfg.Server.Port),
		zap.String("channel_dir", cfg.Channel.DirName),
	)

	metrics := monitoring.NewMetrics()

	// The init seed is not a registration; only the live gauge sees it.
	table := task.NewTable()
	metrics.SetTasksLive(table.Len())

	pfs := debugfs.New()
	if _, err := pfs.CreateFile("version", 0o444, nil, debugfs.StaticFile([]byte(Version+"\n"))); err != nil {
		return nil, err
	}

	hub := ws.NewHub(logger.Named("ws"), metrics)

	opts := getpinfo.DefaultOptions()
	opts.DirName = cfg.Channel.DirName
	opts.FileName = cfg.Channel.FileName
	opts.BufferCount = cfg.Channel.BufferPoolSize
	opts.OrphanTimeout = cfg.Channel.OrphanTimeout
	opts.JanitorInterval = cfg.Channel.JanitorInterval
	opts.Logger = logger.Named("getpinfo")
	opts.Recorder = getpinfo.MultiRecorder{metrics, ws.NewChannelRecorder(hub)}

	module, err := getpinfo.Load(pfs, table, opts)
	if err != nil {
		return nil, err
	}
	logger.Info("Channel module loaded", zap.String("path", module.Path()))

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS())
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(cfg.RateLimit))
	}

	handlers := apihttp.NewHandlers(table, pfs, module, hub, metrics, logger.Named("http"))

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)

	router.POST("/tasks", handlers.RegisterTask)
	router.GET("/tasks", handlers.ListTasks)
	router.GET("/tasks/:pid", handlers.GetTask)
	router.DELETE("/tasks/:pid", handlers.ExitTask)

	router.POST("/fs/write", handlers.WriteFile)
	router.POST("/fs/read", handlers.ReadFile)
	router.GET("/fs", handlers.ListFS)

	router.GET("/stream", hub.HandleConnection)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	logger.Info("Server initialized")

	return &Server{
		router:  router,
		table:   table,
		fs:      pfs,
		module:  module,
		hub:     hub,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Run starts the HTTP server and blocks.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Close unloads the channel module and releases server resources.
func (s *Server) Close() error {
	s.logger.Info("Shutting down")

	s.module.Unload()
	s.hub.Close()
	s.metrics.Close()
	s.logger.Sync()
	return nil
}
