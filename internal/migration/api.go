package migration

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/praxia-health/platform/internal/shared/auth"
	"github.com/praxia-health/platform/internal/shared/errors"
	"github.com/praxia-health/platform/internal/shared/types"
)

// Handler exposes migration endpoints
type Handler struct {
	coordinator *Coordinator
	logger      *zap.Logger
}

func NewHandler(coordinator *Coordinator, logger *zap.Logger) *Handler {
	return &Handler{coordinator: coordinator, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/users/{userID}/status", h.status)
	r.Post("/users/{userID}/migrate", h.migrate)
	r.Post("/users/{userID}/retire", h.retire)

	return r
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return
	}

	userID, err := types.ParseID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid user ID"))
		return
	}

	status, err := h.coordinator.Status(r.Context(), userID, user.OrganizationID)
	if err != nil {
		h.logger.Error("migration status", zap.Error(err))
		writeError(w, errors.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (h *Handler) migrate(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return
	}
	if !user.Flags.IsAdmin && !user.Flags.IsFullTherapist {
		writeError(w, errors.Forbidden("insufficient role for migration"))
		return
	}

	userID, err := types.ParseID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid user ID"))
		return
	}

	if err := h.coordinator.Migrate(r.Context(), userID, user.OrganizationID); err != nil {
		h.logger.Error("migrate user",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(StatusBoth)})
}

// retire is admin only; it deletes legacy data and cannot be undone.
func (h *Handler) retire(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return
	}
	if !user.Flags.IsAdmin {
		writeError(w, errors.Forbidden("only administrators can retire legacy data"))
		return
	}

	userID, err := types.ParseID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid user ID"))
		return
	}

	if err := h.coordinator.Retire(r.Context(), userID, user.OrganizationID); err != nil {
		h.logger.Error("retire user",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(StatusNewOnly)})
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
