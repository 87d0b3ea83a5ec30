package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"BreachWatch/internal/domain"
	"BreachWatch/internal/usecase"
)

type triggerScanRequest struct {
	Frequency string `json:"frequency"`
}

type runResultResponse struct {
	RunID         string   `json:"runId"`
	EmailsScanned int      `json:"emailsScanned"`
	NewBreaches   int      `json:"newBreaches"`
	Errors        []string `json:"errors"`
}

// triggerScan runs a scan and waits for it. POST /api/scans
// The run outlives a disconnecting client so it is never left half done.
func (s *Server) triggerScan(c *gin.Context) {
	var req triggerScanRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondBadRequest(c, err)
		return
	}

	var tier *domain.Frequency
	if req.Frequency != "" {
		f, err := domain.ParseFrequency(req.Frequency)
		if err != nil {
			respondBadRequest(c, err)
			return
		}
		tier = &f
	}

	result, err := s.scanner.Run(context.WithoutCancel(c.Request.Context()), tier)
	switch {
	case errors.Is(err, usecase.ErrScanInProgress):
		respondError(c, http.StatusConflict, "SCAN_IN_PROGRESS", err)
		return
	case err != nil:
		respondInternal(c, err)
		return
	}

	c.JSON(http.StatusOK, runResultResponse{
		RunID:         result.RunID,
		EmailsScanned: result.EmailsScanned,
		NewBreaches:   result.NewBreaches,
		Errors:        lo.Ternary(result.Errors == nil, []string{}, result.Errors),
	})
}

type scanStatusResponse struct {
	IsRunning         bool        `json:"isRunning"`
	CurrentScan       *scanRunDTO `json:"currentScan"`
	LastCompletedScan *scanRunDTO `json:"lastCompletedScan"`
}

// scanStatus GET /api/scans/status
func (s *Server) scanStatus(c *gin.Context) {
	status, err := s.scanner.Status(c.Request.Context())
	if err != nil {
		respondInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, scanStatusResponse{
		IsRunning:         status.Running != nil,
		CurrentScan:       toScanRunDTO(status.Running),
		LastCompletedScan: toScanRunDTO(status.LastCompleted),
	})
}

// listScans returns the most recent runs. GET /api/scans?limit=10
func (s *Server) listScans(c *gin.Context) {
	limit, err := intQuery(c, "limit", 10, 1, 50)
	if err != nil {
		respondBadRequest(c, err)
		return
	}

	runs, err := s.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		respondInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(runs, func(run domain.ScanRun, _ int) *scanRunDTO {
		return toScanRunDTO(&run)
	}))
}

// scanEmail scans one address immediately. POST /api/emails/:id/scan
func (s *Server) scanEmail(c *gin.Context) {
	id := c.Param("id")
	result, err := s.scanner.ScanOne(context.WithoutCancel(c.Request.Context()), id)

	var lookupErr *domain.LookupError
	switch {
	case errors.Is(err, usecase.ErrEmailNotFound):
		respondNotFound(c, "email", id)
		return
	case errors.As(err, &lookupErr) && lookupErr.Kind == domain.LookupRateLimited:
		respondError(c, http.StatusTooManyRequests, "RATE_LIMITED", err)
		return
	case errors.As(err, &lookupErr):
		respondError(c, http.StatusBadGateway, "LOOKUP_FAILED", err)
		return
	case err != nil:
		respondInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
