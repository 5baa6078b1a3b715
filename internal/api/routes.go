package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/livecaption/domain"
	"github.com/satriahrh/livecaption/domain/entities"
	"github.com/satriahrh/livecaption/domain/repositories"
	"github.com/satriahrh/livecaption/internal/auth"
	"github.com/satriahrh/livecaption/internal/websocket"
	"github.com/satriahrh/livecaption/usecase"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	anonymousViewer  = "anonymous"
)

// Recorder controls the recording session
type Recorder interface {
	Start(ctx context.Context) (*entities.Session, error)
	Stop(ctx context.Context) (*entities.Session, error)
	Pause(ctx context.Context) (*entities.Session, error)
	Resume(ctx context.Context) (*entities.Session, error)
	Status() usecase.RecordingStatus
	Session() *entities.Session
}

// Assistant answers requests about a session
type Assistant interface {
	Assist(ctx context.Context, sessionID, query, action string) (entities.AILogEntry, error)
}

// Dependencies are the services the routes call into. Devices, Assistant and
// Issuer are optional: without an issuer, viewers connect without a token.
type Dependencies struct {
	Hub       *websocket.Hub
	Recorder  Recorder
	Sessions  repositories.SessionRepository
	Devices   usecase.DeviceLister
	Assistant Assistant
	Issuer    *auth.Issuer
	Passcode  string
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies, logger *zap.Logger) {
	h := &handlers{deps: deps, logger: logger}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "livecaption",
		})
	})

	// API v1 routes
	v1 := e.Group("/api/v1")

	v1.POST("/sessions/start", h.startSession)
	v1.POST("/sessions/stop", h.stopSession)
	v1.POST("/sessions/pause", h.pauseSession)
	v1.POST("/sessions/resume", h.resumeSession)
	v1.GET("/sessions", h.listSessions)
	v1.GET("/sessions/:id", h.getSession)
	v1.DELETE("/sessions/:id", h.deleteSession)
	v1.GET("/sessions/:id/export", h.exportSession)
	v1.POST("/sessions/:id/assist", h.assist)
	v1.GET("/recording", h.recordingStatus)
	v1.GET("/devices", h.listDevices)
	v1.POST("/auth/token", h.issueToken)

	// WebSocket endpoint with JWT validation
	e.GET("/ws", h.websocketWithAuth)
}

type handlers struct {
	deps   Dependencies
	logger *zap.Logger
}

func (h *handlers) startSession(c echo.Context) error {
	session, err := h.deps.Recorder.Start(c.Request().Context())
	if err != nil {
		return h.recordingError(c, "start", err)
	}
	return c.JSON(http.StatusCreated, session)
}

func (h *handlers) stopSession(c echo.Context) error {
	session, err := h.deps.Recorder.Stop(c.Request().Context())
	if err != nil {
		return h.recordingError(c, "stop", err)
	}
	return c.JSON(http.StatusOK, session)
}

func (h *handlers) pauseSession(c echo.Context) error {
	session, err := h.deps.Recorder.Pause(c.Request().Context())
	if err != nil {
		return h.recordingError(c, "pause", err)
	}
	return c.JSON(http.StatusOK, session)
}

func (h *handlers) resumeSession(c echo.Context) error {
	session, err := h.deps.Recorder.Resume(c.Request().Context())
	if err != nil {
		return h.recordingError(c, "resume", err)
	}
	return c.JSON(http.StatusOK, session)
}

func (h *handlers) recordingStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.deps.Recorder.Status())
}

func (h *handlers) listSessions(c echo.Context) error {
	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_limit",
				Message: "limit must be a positive integer",
			})
		}
		limit = n
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	sessions, err := h.deps.Sessions.List(c.Request().Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list sessions", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to list sessions",
		})
	}

	resp := SessionListResponse{Sessions: make([]SessionSummary, 0, len(sessions))}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, summarize(s))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *handlers) getSession(c echo.Context) error {
	id := c.Param("id")

	// the live copy is fresher than the stored one
	if active := h.deps.Recorder.Session(); active != nil && active.ID == id {
		return c.JSON(http.StatusOK, active)
	}

	session, err := h.deps.Sessions.GetByID(c.Request().Context(), id)
	if err != nil {
		return h.lookupError(c, id, err)
	}
	return c.JSON(http.StatusOK, session)
}

// exportSession serves the whole session as an indented JSON download
func (h *handlers) exportSession(c echo.Context) error {
	id := c.Param("id")

	session := h.deps.Recorder.Session()
	if session == nil || session.ID != id {
		var err error
		session, err = h.deps.Sessions.GetByID(c.Request().Context(), id)
		if err != nil {
			return h.lookupError(c, id, err)
		}
	}

	payload, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		h.logger.Error("Failed to encode session export", zap.String("sessionID", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to export session",
		})
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", "session-"+id+".json"))
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, payload)
}

func (h *handlers) assist(c echo.Context) error {
	if h.deps.Assistant == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "assist_unavailable",
			Message: "No language model is configured",
		})
	}

	var req AssistRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	id := c.Param("id")
	entry, err := h.deps.Assistant.Assist(c.Request().Context(), id, req.Query, req.Action)
	switch {
	case err == nil:
	case errors.Is(err, usecase.ErrEmptyQuery):
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "query is required",
		})
	case errors.Is(err, usecase.ErrAssistUnavailable):
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "assist_unavailable",
			Message: "No language model is configured",
		})
	case errors.Is(err, repositories.ErrSessionNotFound):
		return h.lookupError(c, id, err)
	default:
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "assist_failed",
			Message: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, AssistResponse{
		SessionID: id,
		Type:      entry.Type,
		Content:   entry.Text,
		Time:      entry.Time,
	})
}

func (h *handlers) deleteSession(c echo.Context) error {
	id := c.Param("id")
	if active := h.deps.Recorder.Session(); active != nil && active.ID == id {
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "session_active",
			Message: "Stop the recording before deleting it",
		})
	}

	if err := h.deps.Sessions.Delete(c.Request().Context(), id); err != nil {
		return h.lookupError(c, id, err)
	}
	h.logger.Info("Session deleted", zap.String("sessionID", id))
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) listDevices(c echo.Context) error {
	if h.deps.Devices == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "audio_unavailable",
			Message: "Audio device enumeration is not available",
		})
	}

	devices, err := h.deps.Devices.Devices()
	if err != nil {
		h.logger.Error("Failed to list capture devices", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to list capture devices",
		})
	}
	if devices == nil {
		devices = []entities.CaptureDevice{}
	}
	return c.JSON(http.StatusOK, DeviceListResponse{Devices: devices})
}

func (h *handlers) issueToken(c echo.Context) error {
	if h.deps.Issuer == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "auth_disabled",
			Message: "Viewer tokens are not enabled, set jwt_secret",
		})
	}

	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		h.logger.Error("Failed to bind token request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	req.ViewerID = strings.TrimSpace(req.ViewerID)
	if req.ViewerID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "viewer_id is required",
		})
	}

	if h.deps.Passcode != "" && subtle.ConstantTimeCompare([]byte(req.Passcode), []byte(h.deps.Passcode)) != 1 {
		h.logger.Warn("Viewer token rejected", zap.String("viewerID", req.ViewerID))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid passcode",
		})
	}

	token, expiresAt, err := h.deps.Issuer.GenerateViewerToken(req.ViewerID)
	if err != nil {
		h.logger.Error("Failed to generate viewer token",
			zap.String("viewerID", req.ViewerID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	h.logger.Info("Viewer token issued", zap.String("viewerID", req.ViewerID))
	return c.JSON(http.StatusOK, TokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		ViewerID:  req.ViewerID,
	})
}

// websocketWithAuth accepts the token from the query string, where browsers
// can set it, or from a bearer Authorization header
func (h *handlers) websocketWithAuth(c echo.Context) error {
	if h.deps.Issuer == nil {
		return websocket.ServeViewer(h.deps.Hub, c, anonymousViewer, h.logger)
	}

	token := c.QueryParam("token")
	if token == "" {
		authHeader := c.Request().Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}

	if token == "" {
		h.logger.Warn("WebSocket connection rejected: missing token")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "JWT token is required",
		})
	}

	claims, err := h.deps.Issuer.ValidateToken(token)
	if err != nil {
		h.logger.Warn("WebSocket connection rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired JWT token",
		})
	}

	h.logger.Info("WebSocket connection authenticated", zap.String("viewerID", claims.ViewerID))
	return websocket.ServeViewer(h.deps.Hub, c, claims.ViewerID, h.logger)
}

func (h *handlers) lookupError(c echo.Context, id string, err error) error {
	if errors.Is(err, repositories.ErrSessionNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Session not found",
		})
	}
	h.logger.Error("Session lookup failed", zap.String("sessionID", id), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "Failed to load session",
	})
}

// recordingError maps recorder failures to responses
func (h *handlers) recordingError(c echo.Context, op string, err error) error {
	status := http.StatusInternalServerError
	code := "internal_error"

	switch {
	case errors.Is(err, usecase.ErrAlreadyRecording),
		errors.Is(err, usecase.ErrNotRecording),
		errors.Is(err, usecase.ErrNotPaused):
		status, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusRequestTimeout, "cancelled"
	default:
		switch domain.KindOf(err) {
		case domain.KindNoInputSource, domain.KindNoUsableSource, domain.KindSourceDevice:
			status = http.StatusUnprocessableEntity
		case domain.KindBackendUnsupported:
			status = http.StatusBadRequest
		case domain.KindBackendStartupFailure, domain.KindBackendIO:
			status = http.StatusBadGateway
		}
		if kind := domain.KindOf(err); kind != "" {
			code = string(kind)
		}
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Recording request failed", zap.String("op", op), zap.Error(err))
	} else {
		h.logger.Warn("Recording request rejected", zap.String("op", op), zap.Error(err))
	}
	return c.JSON(status, ErrorResponse{Error: code, Message: err.Error()})
}
