package resolution

import (
	"encoding/json"
	goerrors "errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/praxia-health/platform/internal/access"
	"github.com/praxia-health/platform/internal/shared/auth"
	"github.com/praxia-health/platform/internal/shared/errors"
)

// Handler exposes the resolved-access surface the frontend consumes.
type Handler struct {
	resolver *CachedResolver
	logger   *zap.Logger
}

func NewHandler(resolver *CachedResolver, logger *zap.Logger) *Handler {
	return &Handler{resolver: resolver, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.accessMap)
	r.Get("/emission-mode", h.emissionMode)
	r.Get("/{domain}", h.resolveDomain)
	r.Post("/organization-switch", h.organizationSwitch)

	return r
}

func evalFor(user *auth.User) Evaluation {
	return Evaluation{
		UserID:         user.ID,
		OrganizationID: user.OrganizationID,
		Flags:          user.Flags,
	}
}

// accessMap returns the effective level for every domain at once.
func (h *Handler) accessMap(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return
	}

	m, err := h.resolver.AccessMap(r.Context(), evalFor(user))
	if err != nil {
		h.logger.Error("resolve access map", zap.Error(err))
		writeError(w, errors.Internal(err))
		return
	}

	out := make(map[string]string, len(m))
	for d, level := range m {
		out[d.String()] = level.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{"access": out})
}

func (h *Handler) resolveDomain(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return
	}

	domain, err := access.ParseDomain(chi.URLParam(r, "domain"))
	if err != nil {
		writeError(w, errors.Validation("validation failed", map[string]string{"domain": err.Error()}))
		return
	}

	level, err := h.resolver.Resolve(r.Context(), evalFor(user), domain)
	if err != nil {
		h.logger.Error("resolve domain",
			zap.String("domain", domain.String()),
			zap.Error(err))
		writeError(w, errors.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"domain": domain.String(),
		"level":  level.String(),
	})
}

func (h *Handler) emissionMode(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return
	}

	mode, err := h.resolver.ResolveEmissionMode(r.Context(), evalFor(user))
	if err != nil {
		if goerrors.Is(err, errors.ErrEmissionModeUnavailable) {
			writeError(w, errors.Conflict("manager company emission requires a manager with a registered fiscal identity"))
			return
		}
		h.logger.Error("resolve emission mode", zap.Error(err))
		writeError(w, errors.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"emission_mode": string(mode)})
}

// organizationSwitch drops every cached result for the user. The session
// layer calls this when the active organization changes; serving stale
// cross-organization access is a correctness bug.
func (h *Handler) organizationSwitch(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return
	}

	h.resolver.SwitchOrganization(user.ID)
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
