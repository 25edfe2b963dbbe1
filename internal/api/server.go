package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"executor-core/internal/account"
	"executor-core/internal/emergency"
	"executor-core/internal/events"
	"executor-core/internal/order"
	"executor-core/internal/risk"
	"executor-core/internal/strategy"
	"executor-core/pkg/db"
)

// Server wires the control-plane HTTP endpoints around the engine.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	DB        *db.Database
	Registry  *strategy.Registry
	Validator *risk.Validator
	Accounts  *account.Manager
	Emergency *emergency.Controller
	Queue     *order.Queue

	JWTSecret     string
	AdminUser     string
	AdminPassHash string
	Meta          SystemMeta
}

// SystemMeta describes runtime status exposed to operators.
type SystemMeta struct {
	InstanceID  string
	DryRun      bool
	UseMockFeed bool
	Version     string
}

func NewServer(bus *events.Bus, database *db.Database, registry *strategy.Registry,
	validator *risk.Validator, accounts *account.Manager, em *emergency.Controller,
	queue *order.Queue, gatherer prometheus.Gatherer, meta SystemMeta,
	jwtSecret, adminUser, adminPassHash string) *Server {

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:        r,
		Bus:           bus,
		DB:            database,
		Registry:      registry,
		Validator:     validator,
		Accounts:      accounts,
		Emergency:     em,
		Queue:         queue,
		JWTSecret:     jwtSecret,
		AdminUser:     adminUser,
		AdminPassHash: adminPassHash,
		Meta:          meta,
	}
	s.routes(gatherer)
	return s
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	if gatherer != nil {
		s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := s.Router.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", s.login)
		}

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/system/status", s.getSystemStatus)
			protected.GET("/strategies", s.getStrategies)
			protected.POST("/strategies/:id/start", s.startStrategy)
			protected.POST("/strategies/:id/stop", s.stopStrategy)
			protected.POST("/strategies/:id/pause", s.pauseStrategy)
			protected.POST("/strategies/:id/resume", s.resumeStrategy)
			protected.PUT("/strategies/:id", s.updateStrategy)

			protected.GET("/limits", s.getLimits)
			protected.PUT("/limits", s.updateLimits)

			protected.GET("/emergency", s.getEmergency)
			protected.POST("/emergency/stop", s.triggerEmergency)
			protected.POST("/emergency/clear", s.clearEmergency)

			protected.GET("/account", s.getAccount)
			protected.GET("/commands", s.getCommands)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
