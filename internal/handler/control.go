package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/shoptalk-ai/webhook-gateway/internal/middleware"
	"github.com/shoptalk-ai/webhook-gateway/internal/model"
	"github.com/shoptalk-ai/webhook-gateway/internal/service"
	"github.com/shoptalk-ai/webhook-gateway/internal/store"
	"github.com/shoptalk-ai/webhook-gateway/pkg/logger"
)

// ControlHandler exposes the dashboard control API.
type ControlHandler struct {
	control *service.ControlService
	logger  *logger.Logger
}

// NewControlHandler creates a control handler.
func NewControlHandler(control *service.ControlService, log *logger.Logger) *ControlHandler {
	return &ControlHandler{
		control: control,
		logger:  log,
	}
}

// GetState handles GET /api/v1/conversations/{id}/control
func (h *ControlHandler) GetState(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	state, err := h.control.GetState(r.Context(), conversationID)
	if err != nil {
		h.writeServiceError(w, err, "failed to get control state")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// SetMode handles PUT /api/v1/conversations/{id}/control
func (h *ControlHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SetControlModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.ControlMode.Valid() {
		writeError(w, http.StatusBadRequest, "unknown control mode")
		return
	}

	conv, err := h.control.SetMode(r.Context(), conversationID, req.ControlMode)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info("control mode set",
		zap.String("conversation_id", conversationID),
		zap.String("control_mode", string(conv.ControlMode)),
		zap.String("operator_id", middleware.GetOperatorID(r.Context())),
	)
	writeJSON(w, http.StatusOK, conv)
}

// SetPause handles PUT /api/v1/conversations/{id}/pause
func (h *ControlHandler) SetPause(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SetPauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil || d <= 0 {
		writeError(w, http.StatusBadRequest, "invalid pause duration")
		return
	}

	conv, err := h.control.SetPause(r.Context(), conversationID, d)
	if err != nil {
		h.writeServiceError(w, err, "failed to set pause")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// ClearPause handles DELETE /api/v1/conversations/{id}/pause
func (h *ControlHandler) ClearPause(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.control.ClearPause(r.Context(), conversationID)
	if err != nil {
		h.writeServiceError(w, err, "failed to clear pause")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// ListMessages handles GET /api/v1/conversations/{id}/messages
func (h *ControlHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var afterSequence uint64
	if a := r.URL.Query().Get("after"); a != "" {
		if parsed, err := strconv.ParseUint(a, 10, 64); err == nil {
			afterSequence = parsed
		}
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	resp, err := h.control.ListMessages(r.Context(), conversationID, afterSequence, limit)
	if err != nil {
		h.writeServiceError(w, err, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// SendMessage handles POST /api/v1/conversations/{id}/messages
func (h *ControlHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageText(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.control.SendOperatorMessage(r.Context(), conversationID, req.Text)
	if err != nil {
		if errors.Is(err, service.ErrConversationBusy) {
			writeError(w, http.StatusConflict, "conversation is busy, retry shortly")
			return
		}
		h.writeServiceError(w, err, "failed to send message")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *ControlHandler) writeServiceError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	h.logger.Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, msg)
}
