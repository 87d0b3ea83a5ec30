package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"BreachWatch/internal/domain"
	"BreachWatch/internal/infrastructure/secrets"
)

type scheduleResponse struct {
	Schedule     domain.ScheduleConfig `json:"schedule"`
	Descriptions map[string]string     `json:"descriptions"`
	NextRuns     map[string]time.Time  `json:"nextRuns"`
}

func (s *Server) scheduleView(c *gin.Context) (scheduleResponse, error) {
	cfg, err := s.settings.Schedule(c.Request.Context())
	if err != nil {
		return scheduleResponse{}, err
	}
	resp := scheduleResponse{
		Schedule:     cfg,
		Descriptions: make(map[string]string, len(domain.Frequencies)),
		NextRuns:     make(map[string]time.Time, len(domain.Frequencies)),
	}
	for _, tier := range domain.Frequencies {
		resp.Descriptions[string(tier)] = cfg.Describe(tier)
	}
	for tier, next := range s.schedule.Entries() {
		if !next.IsZero() {
			resp.NextRuns[string(tier)] = next
		}
	}
	return resp, nil
}

// getSchedule GET /api/schedule
func (s *Server) getSchedule(c *gin.Context) {
	resp, err := s.scheduleView(c)
	if err != nil {
		respondInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// putSchedule stores a new schedule and re-registers the tier timers. PUT /api/schedule
func (s *Server) putSchedule(c *gin.Context) {
	var cfg domain.ScheduleConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		respondBadRequest(c, err)
		return
	}
	if err := cfg.Validate(); err != nil {
		respondBadRequest(c, err)
		return
	}
	if err := s.settings.SetSchedule(cfg); err != nil {
		respondBadRequest(c, err)
		return
	}
	if err := s.schedule.Rebuild(c.Request.Context()); err != nil {
		respondInternal(c, err)
		return
	}
	s.logger.Info("schedule updated")
	s.getSchedule(c)
}

// rebuildSchedule POST /api/schedule/rebuild
func (s *Server) rebuildSchedule(c *gin.Context) {
	if err := s.schedule.Rebuild(c.Request.Context()); err != nil {
		respondInternal(c, err)
		return
	}
	s.getSchedule(c)
}

// settingsStatus reports which credentials are configured. GET /api/settings/status
func (s *Server) settingsStatus(c *gin.Context) {
	status, err := secrets.Inspect(c.Request.Context(), s.settings)
	if err != nil {
		respondInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

type settingsResponse struct {
	RPMLimit          int            `json:"rpmLimit"`
	NotificationEmail string         `json:"notificationEmail"`
	Status            secrets.Status `json:"status"`
}

type updateSettingsRequest struct {
	RPMLimit          *int    `json:"rpmLimit" binding:"omitempty,min=1"`
	NotificationEmail *string `json:"notificationEmail" binding:"omitempty,email"`
}

// getSettings returns the runtime settings without credential values. GET /api/settings
func (s *Server) getSettings(c *gin.Context) {
	ctx := c.Request.Context()
	rpm, err := s.settings.RPMLimit(ctx)
	if err != nil {
		respondInternal(c, err)
		return
	}
	email, err := s.settings.NotificationEmail(ctx)
	if err != nil {
		respondInternal(c, err)
		return
	}
	status, err := secrets.Inspect(ctx, s.settings)
	if err != nil {
		respondInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, settingsResponse{RPMLimit: rpm, NotificationEmail: email, Status: status})
}

// updateSettings changes the request budget and the alert recipient. Omitted fields
// are left alone. PATCH /api/settings
func (s *Server) updateSettings(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	if req.RPMLimit != nil {
		if err := s.settings.SetRPMLimit(*req.RPMLimit); err != nil {
			respondBadRequest(c, err)
			return
		}
		s.logger.Info("rpm limit updated", "rpm", *req.RPMLimit)
	}
	if req.NotificationEmail != nil {
		s.settings.SetNotificationEmail(*req.NotificationEmail)
		s.logger.Info("notification email updated")
	}
	s.getSettings(c)
}
