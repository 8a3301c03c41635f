package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/preventive-health-engine/internal/config"
	"github.com/preventive-health-engine/internal/domain"
	"github.com/preventive-health-engine/internal/service"
)

// Server exposes the assessment engine over HTTP
type Server struct {
	cfg      config.ServerConfig
	assessor *service.AssessorService
	store    domain.TimelineStore
	audit    domain.AssessmentStore
	log      *logrus.Logger
	router   *gin.Engine
	server   *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(cfg config.ServerConfig, logLevel string, assessor *service.AssessorService, store domain.TimelineStore, audit domain.AssessmentStore, logger *logrus.Logger) *Server {
	if logLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestIDMiddleware())

	server := &Server{
		cfg:      cfg,
		assessor: assessor,
		store:    store,
		audit:    audit,
		log:      logger,
		router:   router,
	}

	server.setupRoutes()

	return server
}

// Handler returns the underlying HTTP handler, used by tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server until the context is cancelled, then shuts
// down gracefully
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/datapoints", s.handleAddDataPoint)
		v1.POST("/events", s.handleAddEvent)
		v1.POST("/assessments", s.handleRunAssessment)
		v1.GET("/users/:id/timeline", s.handleGetTimeline)
		v1.GET("/users/:id/risk/history", s.handleRiskHistory)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

type dataPointRequest struct {
	UserID    string  `json:"user_id" binding:"required"`
	Parameter string  `json:"parameter" binding:"required"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
	Date      string  `json:"date" binding:"required"`
	SourceID  string  `json:"source_id" binding:"required"`
}

func (s *Server) handleAddDataPoint(c *gin.Context) {
	var req dataPointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}

	point := domain.DataPoint{
		UserID:    req.UserID,
		Parameter: req.Parameter,
		Value:     req.Value,
		Unit:      req.Unit,
		Date:      date,
		SourceID:  req.SourceID,
	}
	if err := s.store.AddDataPoint(point); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "stored"})
}

type eventRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Type     string `json:"type" binding:"required"`
	TestType string `json:"test_type"`
	Date     string `json:"date" binding:"required"`
}

func (s *Server) handleAddEvent(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}

	event := domain.Event{
		UserID:   req.UserID,
		Type:     domain.EventType(req.Type),
		TestType: req.TestType,
		Date:     date,
	}
	if err := s.store.AddEvent(event); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "stored"})
}

type assessmentRequest struct {
	UserID      string   `json:"user_id" binding:"required"`
	BirthDate   string   `json:"birth_date" binding:"required"`
	Gender      string   `json:"gender" binding:"required"`
	RiskFactors []string `json:"risk_factors"`
	AsOf        string   `json:"as_of"`
}

func (s *Server) handleRunAssessment(c *gin.Context) {
	var req assessmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	birthDate, err := time.Parse("2006-01-02", req.BirthDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "birth_date must be YYYY-MM-DD"})
		return
	}

	at := time.Now().UTC()
	if req.AsOf != "" {
		at, err = time.Parse("2006-01-02", req.AsOf)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "as_of must be YYYY-MM-DD"})
			return
		}
	}

	profile := domain.UserProfile{
		UserID:      req.UserID,
		BirthDate:   birthDate,
		Gender:      domain.Gender(req.Gender),
		RiskFactors: req.RiskFactors,
	}

	result, err := s.assessor.Assess(c.Request.Context(), profile, at)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetTimeline(c *gin.Context) {
	userID := c.Param("id")

	snapshot, err := s.store.Snapshot(userID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": snapshot.UserID,
		"version": snapshot.Version,
		"points":  snapshot.Points,
		"events":  snapshot.Events,
	})
}

func (s *Server) handleRiskHistory(c *gin.Context) {
	userID := c.Param("id")

	history, err := s.audit.RiskHistory(c.Request.Context(), userID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"history": history,
	})
}

// respondError maps engine errors onto HTTP status codes
func (s *Server) respondError(c *gin.Context, err error) {
	if domain.IsNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	var ee *domain.EngineError
	if errors.As(err, &ee) && ee.Code == domain.ErrInvalidInput {
		c.JSON(http.StatusBadRequest, gin.H{"error": ee.Message})
		return
	}

	s.log.WithError(err).Error("Request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key")
		c.Header("Access-Control-Expose-Headers", "Content-Length")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestIDMiddleware adds a unique request ID to each request
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}
