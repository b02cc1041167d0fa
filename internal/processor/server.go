package processor

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/KENTA-CMC/learning-program/internal/errors"
	"github.com/KENTA-CMC/learning-program/internal/observability"
	"github.com/KENTA-CMC/learning-program/internal/session"
)

// Assistant replies stored in chat transcripts
const (
	replyAnswered = "分析を完了しました。"
	replyNoData   = "該当するデータが見つかりませんでした。条件を変更して再度お試しください。"
)

// Scopes checked on API routes
const (
	scopeQuery   = "query"
	scopeHistory = "history"
)

// AuthMiddleware is an interface for authentication middleware
type AuthMiddleware interface {
	Middleware() gin.HandlerFunc
	RequireScope(scope string) gin.HandlerFunc
}

// QueryRequest is the body of POST /api/v1/query
type QueryRequest struct {
	Question  string `json:"question" binding:"required"`
	SessionID string `json:"session_id,omitempty"`
}

// QueryResponse is an outcome plus the chat session it was recorded in
type QueryResponse struct {
	*Outcome
	SessionID string `json:"session_id,omitempty"`
}

// Server exposes a Pipeline over HTTP
type Server struct {
	pipeline      *Pipeline
	sessions      *session.Manager
	healthChecker *observability.HealthChecker
}

// NewServer creates an HTTP server for pipeline
func NewServer(pipeline *Pipeline) *Server {
	return &Server{pipeline: pipeline}
}

// SetSessions enables chat transcripts
func (s *Server) SetSessions(sessions *session.Manager) {
	s.sessions = sessions
}

// SetHealthChecker sets the health checker for the server
func (s *Server) SetHealthChecker(healthChecker *observability.HealthChecker) {
	s.healthChecker = healthChecker
}

// AssistantReply is the transcript message for an outcome
func AssistantReply(outcome *Outcome) string {
	if outcome.Result.Empty() {
		return replyNoData
	}
	return replyAnswered + "\n\n" + outcome.Summary
}

// SetupRoutes configures HTTP routes with optional authentication
func (s *Server) SetupRoutes(authMiddleware AuthMiddleware) *gin.Engine {
	r := gin.New()
	logger := s.pipeline.logger
	r.Use(observability.RecoveryMiddleware(logger))
	r.Use(observability.RequestLoggingMiddleware(logger, s.pipeline.metrics))
	r.Use(observability.CORSWithLogging(logger))

	if s.healthChecker != nil {
		r.GET("/health", observability.HealthHandler(s.healthChecker))
	} else {
		r.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		})
	}
	r.GET("/metrics", s.pipeline.metrics.Handler())

	scope := func(string) gin.HandlerFunc { return func(c *gin.Context) { c.Next() } }
	api := r.Group("/api/v1")
	if authMiddleware != nil {
		api.Use(authMiddleware.Middleware())
		scope = authMiddleware.RequireScope
	}
	{
		api.POST("/query", scope(scopeQuery), s.handleQuery)
		api.GET("/templates", s.handleTemplates)
		api.GET("/dataset", s.handleDataset)
		api.GET("/history", scope(scopeHistory), s.handleHistory)
		api.GET("/history/similar", scope(scopeHistory), s.handleSimilar)

		if s.sessions != nil {
			chat := api.Group("/sessions", scope(scopeQuery))
			chat.POST("", s.handleCreateSession)
			chat.GET("/:id/messages", s.handleGetMessages)
			chat.POST("/:id/messages", s.handleAppendMessage)
			chat.DELETE("/:id/messages", s.handleDeleteMessages)
		}
	}

	return r
}

func (s *Server) handleQuery(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.NewInvalidInputError("request body", err.Error()))
		return
	}

	ctx := c.Request.Context()
	if req.SessionID != "" && s.sessions != nil {
		s.appendBestEffort(c, req.SessionID, session.Message{Role: session.RoleUser, Content: req.Question})
	}

	outcome, err := s.pipeline.Run(ctx, req.Question)
	if err != nil {
		respondError(c, err)
		return
	}

	if req.SessionID != "" && s.sessions != nil {
		s.appendBestEffort(c, req.SessionID, session.Message{Role: session.RoleAssistant, Content: AssistantReply(outcome)})
	}

	c.JSON(http.StatusOK, QueryResponse{Outcome: outcome, SessionID: req.SessionID})
}

func (s *Server) appendBestEffort(c *gin.Context, sessionID string, msg session.Message) {
	if err := s.sessions.Append(c.Request.Context(), sessionID, msg); err != nil {
		s.pipeline.logger.Warn(c.Request.Context(), "Failed to append chat message", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
}

func (s *Server) handleTemplates(c *gin.Context) {
	registry := s.pipeline.Registry()
	c.JSON(http.StatusOK, gin.H{
		"templates": registry.Templates(),
		"default":   registry.Default(),
		"count":     len(registry.Templates()),
	})
}

func (s *Server) handleDataset(c *gin.Context) {
	if s.pipeline.dataset == nil {
		respondError(c, errors.NewNotFoundError("dataset", s.pipeline.guard.Table()))
		return
	}
	info, err := s.pipeline.dataset.Describe(c.Request.Context())
	if err != nil {
		respondError(c, errors.NewDatabaseQueryError(err, "describing dataset"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"dataset":     info,
		"schema":      info.SchemaDescription(),
		"llm_enabled": s.pipeline.LanguageModelAvailable(),
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.pipeline.history == nil {
		respondError(c, errors.NewNotFoundError("history", "query history"))
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	entries, err := s.pipeline.history.Recent(c.Request.Context(), limit)
	if err != nil {
		respondError(c, errors.NewDatabaseQueryError(err, "fetching query history"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"queries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleSimilar(c *gin.Context) {
	if s.pipeline.history == nil {
		respondError(c, errors.NewNotFoundError("history", "query history"))
		return
	}
	question := c.Query("q")
	if question == "" {
		respondError(c, errors.NewInvalidInputError("q", "query parameter q is required"))
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	entries, err := s.pipeline.history.FindSimilar(c.Request.Context(), question, limit)
	if err != nil {
		respondError(c, errors.NewDatabaseQueryError(err, "searching query history"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"queries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleCreateSession(c *gin.Context) {
	id, err := session.NewID()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session_id": id})
}

func (s *Server) handleGetMessages(c *gin.Context) {
	messages, err := s.sessions.Messages(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, errors.Wrap(err, errors.ErrCodeCacheRead, "Failed to load chat transcript"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"count":    len(messages),
	})
}

func (s *Server) handleAppendMessage(c *gin.Context) {
	var msg session.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		respondError(c, errors.NewInvalidInputError("request body", err.Error()))
		return
	}
	if err := s.sessions.Append(c.Request.Context(), c.Param("id"), msg); err != nil {
		if err == session.ErrInvalidRole {
			respondError(c, errors.NewInvalidInputError("role", err.Error()))
			return
		}
		respondError(c, errors.Wrap(err, errors.ErrCodeCacheWrite, "Failed to store chat message"))
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeleteMessages(c *gin.Context) {
	if err := s.sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, errors.Wrap(err, errors.ErrCodeCacheWrite, "Failed to delete chat transcript"))
		return
	}
	c.Status(http.StatusNoContent)
}

// queryLimit parses the optional limit parameter, writing a 400 on bad input
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		respondError(c, errors.NewInvalidInputError("limit", "limit must be a non-negative integer"))
		return 0, false
	}
	return limit, true
}

func respondError(c *gin.Context, err error) {
	c.JSON(getErrorStatusCode(err), formatErrorResponse(err))
}

// formatErrorResponse formats an error into a user-friendly response
func formatErrorResponse(err error) gin.H {
	if enhancedErr, ok := err.(*errors.EnhancedError); ok {
		body := gin.H{
			"code":    enhancedErr.Code,
			"message": enhancedErr.Message,
		}
		if enhancedErr.Details != "" {
			body["details"] = enhancedErr.Details
		}
		if enhancedErr.Suggestion != "" {
			body["suggestion"] = enhancedErr.Suggestion
		}
		if enhancedErr.Documentation != "" {
			body["documentation"] = enhancedErr.Documentation
		}
		if len(enhancedErr.Metadata) > 0 {
			body["metadata"] = enhancedErr.Metadata
		}
		return gin.H{"error": body}
	}

	return gin.H{
		"error": gin.H{
			"code":    errors.ErrCodeInternal,
			"message": err.Error(),
		},
	}
}

// getErrorStatusCode returns the appropriate HTTP status code for an error
func getErrorStatusCode(err error) int {
	enhancedErr, ok := err.(*errors.EnhancedError)
	if !ok {
		return http.StatusInternalServerError
	}
	switch enhancedErr.Code {
	case errors.ErrCodeInvalidInput, errors.ErrCodeMissingRequired:
		return http.StatusBadRequest
	case errors.ErrCodeInvalidCredentials, errors.ErrCodeNotAuthenticated:
		return http.StatusUnauthorized
	case errors.ErrCodeInsufficientPerms:
		return http.StatusForbidden
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case errors.ErrCodeFallbackExecution, errors.ErrCodeDatabaseConnection:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

