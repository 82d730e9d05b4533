package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"hostel-assistant/internal/assistant/gateway"
	"hostel-assistant/internal/assistant/orchestrator"
	"hostel-assistant/internal/assistant/student"
	"hostel-assistant/internal/common/auth"
	apperrors "hostel-assistant/internal/common/errors"
	"hostel-assistant/internal/common/logger"
	"hostel-assistant/internal/models"
)

const (
	msgPromptRequired = "Prompt is required"
	msgInternal       = "An internal error occurred."
)

type AdminProcessor interface {
	Process(ctx context.Context, turn models.ConversationTurn) (*orchestrator.Response, error)
}

type StudentAnswerer interface {
	Answer(ctx context.Context, userID, prompt string) (string, error)
}

type VisitorAnswerer interface {
	Answer(ctx context.Context, prompt string) (string, error)
}

// HealthChecker is implemented by the database clients.
type HealthChecker interface {
	Ping(ctx context.Context) error
	Name() string
}

type Handler struct {
	admin    AdminProcessor
	student  StudentAnswerer
	visitor  VisitorAnswerer
	verifier *auth.Verifier
	checks   []HealthChecker
	errors   *apperrors.ErrorHandler
	logger   logger.Logger
}

func (h *Handler) index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "AI Microservice is running",
		"services": gin.H{
			"admin":   "/admin/query (Protected)",
			"student": "/student/query (Protected)",
			"visitor": "/visitor/query (Public)",
		},
	})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().Format(time.RFC3339)})
}

func (h *Handler) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	for _, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			stdErr := apperrors.NewDatabaseConnectionFailedError(err).WithMetadata("dependency", check.Name())
			h.errors.Handle(c.FullPath(), requestIDFrom(c), stdErr)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "dependency": check.Name()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "time": time.Now().Format(time.RFC3339)})
}

func (h *Handler) visitorTest(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Visitor AI Service is running"})
}

// bindPrompt decodes the body and rejects a missing or blank prompt.
func (h *Handler) bindPrompt(c *gin.Context) (*models.QueryRequest, bool) {
	var req models.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		details := msgPromptRequired
		if err != nil {
			details = err.Error()
		}
		h.errors.Handle(c.FullPath(), requestIDFrom(c), apperrors.NewBadRequestError(details))
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Status:  "error",
			Message: msgPromptRequired,
			Code:    string(apperrors.ErrCodeBadRequest),
		})
		return nil, false
	}
	return &req, true
}

func (h *Handler) adminQuery(c *gin.Context) {
	req, ok := h.bindPrompt(c)
	if !ok {
		return
	}

	turn := models.ConversationTurn{
		RequestID: requestIDFrom(c),
		Prompt:    req.Prompt,
		History:   req.History,
	}
	if p := principalFrom(c); p != nil {
		turn.UserID = p.UserID
	}

	resp, err := h.admin.Process(c.Request.Context(), turn)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.QueryResponse{
		Status:  "admin",
		Message: resp.Label,
		Data:    resp.Text,
		Meta:    &models.Meta{IsAction: resp.IsAction},
	})
}

func (h *Handler) studentQuery(c *gin.Context) {
	req, ok := h.bindPrompt(c)
	if !ok {
		return
	}

	p := principalFrom(c)
	reply, err := h.student.Answer(c.Request.Context(), p.UserID, req.Prompt)
	if err != nil {
		if errors.Is(err, student.ErrStudentNotFound) {
			err = apperrors.NewStudentNotFoundError(p.UserID)
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.QueryResponse{Status: "student", Message: orchestrator.LabelProcessed, Data: reply})
}

func (h *Handler) visitorQuery(c *gin.Context) {
	req, ok := h.bindPrompt(c)
	if !ok {
		return
	}

	reply, err := h.visitor.Answer(c.Request.Context(), req.Prompt)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.QueryResponse{Status: "visitor", Message: orchestrator.LabelProcessed, Data: reply})
}

// classify maps domain errors onto StandardErrors.
func classify(err error) *apperrors.StandardError {
	var stdErr *apperrors.StandardError
	switch {
	case errors.As(err, &stdErr):
		return stdErr
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewGatewayTimeoutError(err)
	case errors.Is(err, orchestrator.ErrRetriesExhausted):
		return apperrors.NewRetriesExhaustedError(0, err)
	case errors.Is(err, gateway.ErrGatewayFailed):
		return apperrors.NewGatewayFailedError(err)
	default:
		return apperrors.NewInternalError(err)
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, stdErr := h.errors.Handle(c.FullPath(), requestIDFrom(c), classify(err))
	msg := stdErr.Message
	if status >= http.StatusInternalServerError {
		msg = msgInternal
	}
	c.JSON(status, models.ErrorResponse{Status: "error", Message: msg, Code: string(stdErr.Code)})
}

func (h *Handler) abort(c *gin.Context, stdErr *apperrors.StandardError) {
	status, _ := h.errors.Handle(c.FullPath(), requestIDFrom(c), stdErr)
	c.AbortWithStatusJSON(status, models.ErrorResponse{Status: "error", Message: stdErr.Message, Code: string(stdErr.Code)})
}
