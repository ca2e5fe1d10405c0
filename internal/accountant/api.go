package accountant

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/praxia-health/platform/internal/shared/auth"
	"github.com/praxia-health/platform/internal/shared/errors"
	"github.com/praxia-health/platform/internal/shared/types"
)

// Handler exposes the invitation workflow endpoints
type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/invitations", h.invite)
	r.Get("/requests", h.listPending)
	r.Post("/requests/{requestID}/approve", h.approve)
	r.Post("/requests/{requestID}/reject", h.reject)

	return r
}

// invite is called by the therapist, naming the accountant.
func (h *Handler) invite(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return
	}

	var req InviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	accountantID, err := types.ParseID(req.AccountantID)
	if err != nil {
		writeError(w, errors.BadRequest("invalid accountant ID"))
		return
	}

	request, err := h.service.Invite(r.Context(), user.ID, accountantID)
	if err != nil {
		h.logger.Error("invite accountant", zap.Error(err))
		writeError(w, errors.Wrap(err, "failed to create invitation"))
		return
	}
	writeJSON(w, http.StatusCreated, request)
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return
	}
	if !user.Flags.IsAccountant {
		writeError(w, errors.Forbidden("accountant role required"))
		return
	}

	requests, err := h.service.Pending(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("list pending requests", zap.Error(err))
		writeError(w, errors.Internal(err))
		return
	}
	if requests == nil {
		requests = []*Request{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": requests})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.Approve)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.Reject)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, decide func(ctx context.Context, accountantID, requestID types.ID) error) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return
	}
	if !user.Flags.IsAccountant {
		writeError(w, errors.Forbidden("accountant role required"))
		return
	}

	requestID, err := types.ParseID(chi.URLParam(r, "requestID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid request ID"))
		return
	}

	if err := decide(r.Context(), user.ID, requestID); err != nil {
		h.logger.Error("decide accountant request",
			zap.String("request_id", requestID.String()),
			zap.Error(err))
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
