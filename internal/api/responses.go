package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"BreachWatch/internal/domain"
)

// apiError is the body of every non-2xx response.
type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	_ = c.Error(err)
	c.JSON(status, apiError{Error: err.Error(), Code: code})
}

func respondBadRequest(c *gin.Context, err error) {
	respondError(c, http.StatusBadRequest, "BAD_REQUEST", err)
}

func respondNotFound(c *gin.Context, resource, id string) {
	c.JSON(http.StatusNotFound, apiError{
		Error: fmt.Sprintf("%s not found: %s", resource, id),
		Code:  "NOT_FOUND",
	})
}

func respondInternal(c *gin.Context, err error) {
	respondError(c, http.StatusInternalServerError, "INTERNAL", err)
}

// intQuery reads an optional integer query parameter within [lower, upper].
func intQuery(c *gin.Context, name string, def, lower, upper int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if v < lower || v > upper {
		return 0, fmt.Errorf("%s must be between %d and %d", name, lower, upper)
	}
	return v, nil
}

type scanRunDTO struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	Tier          *string    `json:"tier"`
	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt"`
	EmailsScanned int        `json:"emailsScanned"`
	NewBreaches   int        `json:"newBreaches"`
	Errors        []string   `json:"errors"`
}

func toScanRunDTO(run *domain.ScanRun) *scanRunDTO {
	if run == nil {
		return nil
	}
	dto := &scanRunDTO{
		ID:            run.ID,
		Status:        string(run.Status),
		StartedAt:     run.StartedAt,
		CompletedAt:   run.CompletedAt,
		EmailsScanned: run.EmailsScanned,
		NewBreaches:   run.NewBreaches,
		Errors:        lo.Ternary(run.Errors == nil, []string{}, run.ErrorLines()),
	}
	if run.Tier != nil {
		dto.Tier = lo.ToPtr(string(*run.Tier))
	}
	return dto
}

type emailDTO struct {
	ID            string     `json:"id"`
	Address       string     `json:"address"`
	ScanFrequency string     `json:"scanFrequency"`
	LastScannedAt *time.Time `json:"lastScannedAt"`
	CreatedAt     time.Time  `json:"createdAt"`
	BreachCount   *int       `json:"breachCount,omitempty"`
}

func toEmailDTO(e domain.MonitoredEmail) emailDTO {
	return emailDTO{
		ID:            e.ID,
		Address:       e.Address,
		ScanFrequency: string(e.Frequency),
		LastScannedAt: e.LastScannedAt,
		CreatedAt:     e.CreatedAt,
	}
}

type breachDTO struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Title              string     `json:"title"`
	Domain             string     `json:"domain"`
	BreachDate         *time.Time `json:"breachDate"`
	AddedDate          *time.Time `json:"addedDate"`
	Description        string     `json:"description"`
	DataClasses        []string   `json:"dataClasses"`
	PwnCount           int64      `json:"pwnCount"`
	IsVerified         bool       `json:"isVerified"`
	DiscoveredAt       time.Time  `json:"discoveredAt"`
	NotificationSentAt *time.Time `json:"notificationSentAt"`
	Status             string     `json:"status"`
	RiskLevel          string     `json:"riskLevel"`
}

func toBreachDTO(b domain.BreachRecord) breachDTO {
	return breachDTO{
		ID:                 b.ID,
		Name:               b.Name,
		Title:              b.DisplayTitle(),
		Domain:             b.Domain,
		BreachDate:         b.BreachDate,
		AddedDate:          b.AddedDate,
		Description:        b.Description,
		DataClasses:        lo.Ternary(b.DataClasses == nil, []string{}, b.DataClasses),
		PwnCount:           b.PwnCount,
		IsVerified:         b.IsVerified,
		DiscoveredAt:       b.DiscoveredAt,
		NotificationSentAt: b.NotificationSentAt,
		Status:             string(b.Status),
		RiskLevel:          string(b.Risk()),
	}
}
