package internalhttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/merchlift/email-tracking/internal/app"
	"github.com/merchlift/email-tracking/internal/cohort"
	"github.com/merchlift/email-tracking/internal/pixel"
	"github.com/merchlift/email-tracking/internal/storage"
)

type Server struct {
	app    *app.App
	server *http.Server
}

type SendEmailRequest struct {
	RecipientAddress string `json:"recipient_address"`
	SenderAddress    string `json:"sender_address"`
	Subject          string `json:"subject"`
	CampaignName     string `json:"campaign_name"`
	MerchantID       string `json:"merchant_id"`
	AccountID        string `json:"account_id"`
	CohortName       string `json:"cohort_name"`
	CohortBatch      int    `json:"cohort_batch"`
	TestGroup        string `json:"test_group"`
	RampPhase        string `json:"ramp_phase"`
}

func NewServer(a *app.App, host string, port string) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{app: a}

	router := gin.New()
	router.Use(s.loggingMiddleware(), gin.Recovery())

	router.GET("/health", s.health)
	router.GET("/track/:tracking_id", s.trackPixel)
	router.POST("/api/v1/emails/send", s.sendEmail)
	router.GET("/api/v1/emails/:tracking_id", s.emailDetails)
	router.GET("/api/v1/reports/cohorts", s.cohortReport)
	router.GET("/api/v1/reports/ab-test", s.abTestReport)
	router.GET("/api/v1/reports/ramp", s.rampReport)

	s.server = &http.Server{
		Addr:    net.JoinHostPort(host, port),
		Handler: router,
	}

	return s
}

func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		s.app.GetLogger().Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
			"client", c.ClientIP(),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	if err := s.app.Ping(); err != nil {
		s.app.GetLogger().Error("health check failed: " + err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"status": "unhealthy", "database": "disconnected"})

		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "connected"})
}

// trackPixel always answers with the same 1x1 transparent image. A broken or
// missing image in an opened email would give the tracking away, so recording
// failures only ever reach the logs.
func (s *Server) trackPixel(c *gin.Context) {
	trackingID := c.Param("tracking_id")

	err := s.app.RecordOpen(trackingID, c.ClientIP(), c.Request.UserAgent(), time.Now())
	if err != nil && !errors.Is(err, storage.ErrTrackingIDNotFound) {
		s.app.GetLogger().Error("cannot record open: " + err.Error())
	}

	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Data(http.StatusOK, pixel.ContentType, pixel.Image)
}

func (s *Server) sendEmail(c *gin.Context) {
	var req SendEmailRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	result, err := s.app.TrackSend(cohort.SendFields{
		RecipientAddress: req.RecipientAddress,
		SenderAddress:    req.SenderAddress,
		Subject:          req.Subject,
		CampaignName:     req.CampaignName,
		MerchantID:       req.MerchantID,
		AccountID:        req.AccountID,
		CohortName:       req.CohortName,
		CohortBatch:      req.CohortBatch,
		TestGroup:        req.TestGroup,
		RampPhase:        req.RampPhase,
	})
	if err != nil {
		if errors.Is(err, cohort.ErrMissingField) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) emailDetails(c *gin.Context) {
	details, err := s.app.EmailDetails(c.Param("tracking_id"))
	if err != nil {
		if errors.Is(err, storage.ErrTrackingIDNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tracking id not found"})

			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	c.JSON(http.StatusOK, details)
}

func (s *Server) cohortReport(c *gin.Context) {
	rows, err := s.app.CohortPerformance(sinceFromDays(c.Query("days")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	c.JSON(http.StatusOK, gin.H{"cohorts": rows})
}

func (s *Server) abTestReport(c *gin.Context) {
	var groups []string
	if raw := c.Query("groups"); raw != "" {
		for _, group := range strings.Split(raw, ",") {
			if group = strings.TrimSpace(group); group != "" {
				groups = append(groups, group)
			}
		}
	}

	rows, err := s.app.ABTestResults(sinceFromDays(c.Query("days")), groups)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	c.JSON(http.StatusOK, gin.H{"groups": rows})
}

func (s *Server) rampReport(c *gin.Context) {
	dashboard, err := s.app.RampDashboard(sinceFromDays(c.Query("days")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	c.JSON(http.StatusOK, dashboard)
}

// sinceFromDays turns a "days" query value into a cutoff timestamp,
// zero means no time filter.
func sinceFromDays(raw string) time.Time {
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		return time.Time{}
	}

	return time.Now().AddDate(0, 0, -days)
}
