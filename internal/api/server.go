// Package api exposes the management HTTP interface: scan triggers, run status, the
// monitored email list and the schedule.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"BreachWatch/internal/domain"
	"BreachWatch/internal/metrics"
	"BreachWatch/internal/ports"
	"BreachWatch/internal/usecase"
)

// Scanner is the orchestrator surface the API drives.
type Scanner interface {
	Run(ctx context.Context, tier *domain.Frequency) (usecase.RunResult, error)
	ScanOne(ctx context.Context, emailID string) (usecase.SingleResult, error)
	Status(ctx context.Context) (usecase.Status, error)
}

// Schedule is the live schedule trigger.
type Schedule interface {
	Rebuild(ctx context.Context) error
	Entries() map[domain.Frequency]time.Time
}

// Settings serves credentials and accepts updates of the non-secret settings.
type Settings interface {
	ports.SecretStore
	SetSchedule(cfg domain.ScheduleConfig) error
	SetRPMLimit(rpm int) error
	SetNotificationEmail(address string)
}

// Deps wires the server.
type Deps struct {
	Store    ports.Store
	Scanner  Scanner
	Schedule Schedule
	Settings Settings
	Logger   *slog.Logger

	Now   func() time.Time
	NewID func() string
}

// Server owns the gin engine and the handlers behind it.
type Server struct {
	engine   *gin.Engine
	store    ports.Store
	scanner  Scanner
	schedule Schedule
	settings Settings
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	s := &Server{
		engine:   gin.New(),
		store:    deps.Store,
		scanner:  deps.Scanner,
		schedule: deps.Schedule,
		settings: deps.Settings,
		logger:   logger,
		now:      deps.Now,
		newID:    deps.NewID,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}

	s.engine.Use(requestLogger(logger), recovery(logger))
	s.routes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := s.engine.Group("/api")
	{
		scans := api.Group("/scans")
		scans.POST("", s.triggerScan)
		scans.GET("", s.listScans)
		scans.GET("/status", s.scanStatus)

		emails := api.Group("/emails")
		emails.GET("", s.listEmails)
		emails.POST("", s.createEmail)
		emails.GET("/:id", s.getEmail)
		emails.PATCH("/:id", s.updateEmail)
		emails.DELETE("/:id", s.deleteEmail)
		emails.GET("/:id/breaches", s.emailBreaches)
		emails.POST("/:id/scan", s.scanEmail)

		schedule := api.Group("/schedule")
		schedule.GET("", s.getSchedule)
		schedule.PUT("", s.putSchedule)
		schedule.POST("/rebuild", s.rebuildSchedule)

		settings := api.Group("/settings")
		settings.GET("", s.getSettings)
		settings.PATCH("", s.updateSettings)
		settings.GET("/status", s.settingsStatus)
	}
}
