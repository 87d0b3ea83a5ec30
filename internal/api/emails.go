package api

import (
	"errors"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"BreachWatch/internal/domain"
	"BreachWatch/internal/ports"
)

type createEmailRequest struct {
	Address       string `json:"address" binding:"required,email"`
	ScanFrequency string `json:"scanFrequency"`
}

type updateEmailRequest struct {
	ScanFrequency string `json:"scanFrequency" binding:"required"`
}

type emailPage struct {
	Emails      []emailDTO `json:"emails"`
	TotalCount  int        `json:"totalCount"`
	TotalPages  int        `json:"totalPages"`
	CurrentPage int        `json:"currentPage"`
}

// listEmails pages through monitored emails, newest first, with breach counts.
// GET /api/emails?page=1&limit=10
func (s *Server) listEmails(c *gin.Context) {
	page, err := intQuery(c, "page", 1, 1, 1<<30)
	if err != nil {
		respondBadRequest(c, err)
		return
	}
	limit, err := intQuery(c, "limit", 10, 1, 100)
	if err != nil {
		respondBadRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	emails, err := s.store.ListEmails(ctx, nil)
	if err != nil {
		respondInternal(c, err)
		return
	}
	counts, err := s.store.CountBreaches(ctx)
	if err != nil {
		respondInternal(c, err)
		return
	}

	slices.Reverse(emails)
	total := len(emails)
	start := min((page-1)*limit, total)
	end := min(start+limit, total)

	c.JSON(http.StatusOK, emailPage{
		Emails: lo.Map(emails[start:end], func(e domain.MonitoredEmail, _ int) emailDTO {
			dto := toEmailDTO(e)
			dto.BreachCount = lo.ToPtr(counts[e.ID])
			return dto
		}),
		TotalCount:  total,
		TotalPages:  (total + limit - 1) / limit,
		CurrentPage: page,
	})
}

// createEmail POST /api/emails
func (s *Server) createEmail(c *gin.Context) {
	var req createEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	freq := domain.FrequencyDaily
	if req.ScanFrequency != "" {
		parsed, err := domain.ParseFrequency(req.ScanFrequency)
		if err != nil {
			respondBadRequest(c, err)
			return
		}
		freq = parsed
	}

	email := domain.MonitoredEmail{
		ID:        s.newID(),
		Address:   domain.NormalizeAddress(req.Address),
		Frequency: freq,
		CreatedAt: s.now(),
	}
	err := s.store.CreateEmail(c.Request.Context(), email)
	switch {
	case errors.Is(err, ports.ErrConflict):
		respondError(c, http.StatusConflict, "ALREADY_MONITORED", err)
		return
	case err != nil:
		respondInternal(c, err)
		return
	}
	s.logger.Info("email added", "email", email.Address, "frequency", email.Frequency)
	c.JSON(http.StatusCreated, toEmailDTO(email))
}

// getEmail GET /api/emails/:id
func (s *Server) getEmail(c *gin.Context) {
	id := c.Param("id")
	email, err := s.store.GetEmail(c.Request.Context(), id)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		respondNotFound(c, "email", id)
		return
	case err != nil:
		respondInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, toEmailDTO(email))
}

// updateEmail changes the scan tier. PATCH /api/emails/:id
func (s *Server) updateEmail(c *gin.Context) {
	id := c.Param("id")
	var req updateEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	freq, err := domain.ParseFrequency(req.ScanFrequency)
	if err != nil {
		respondBadRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	err = s.store.UpdateFrequency(ctx, id, freq)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		respondNotFound(c, "email", id)
		return
	case err != nil:
		respondInternal(c, err)
		return
	}

	email, err := s.store.GetEmail(ctx, id)
	if err != nil {
		respondInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, toEmailDTO(email))
}

// deleteEmail removes the address with its breaches. DELETE /api/emails/:id
func (s *Server) deleteEmail(c *gin.Context) {
	id := c.Param("id")
	err := s.store.DeleteEmail(c.Request.Context(), id)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		respondNotFound(c, "email", id)
		return
	case err != nil:
		respondInternal(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// emailBreaches lists breaches of one address with their risk level.
// GET /api/emails/:id/breaches
func (s *Server) emailBreaches(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	_, err := s.store.GetEmail(ctx, id)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		respondNotFound(c, "email", id)
		return
	case err != nil:
		respondInternal(c, err)
		return
	}

	records, err := s.store.ListBreaches(ctx, id)
	if err != nil {
		respondInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(records, func(b domain.BreachRecord, _ int) breachDTO {
		return toBreachDTO(b)
	}))
}
