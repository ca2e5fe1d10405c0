package organization

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/praxia-health/platform/internal/access"
	"github.com/praxia-health/platform/internal/shared/errors"
	"github.com/praxia-health/platform/internal/shared/events"
	"github.com/praxia-health/platform/internal/shared/types"
)

// Invalidator drops cached access maps after a hierarchy write
type Invalidator interface {
	Invalidate(userID types.ID)
}

// Store is the hierarchy persistence the handlers work against.
type Store interface {
	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, id types.ID) (*Organization, error)
	ListLevels(ctx context.Context, orgID types.ID) ([]Level, error)
	CreateLevel(ctx context.Context, level *Level) error
	GetLevel(ctx context.Context, id types.ID) (*Level, error)
	CreatePosition(ctx context.Context, pos *Position) error
	PermissionsForLevel(ctx context.Context, levelID types.ID) ([]LevelPermission, error)
	UpsertPermission(ctx context.Context, perm *LevelPermission) error
	BindUser(ctx context.Context, binding *UserPosition) error
	UnbindUser(ctx context.Context, userID, orgID types.ID) error
	LevelForUser(ctx context.Context, userID, orgID types.ID) (*Level, error)
	UsersAtLevel(ctx context.Context, levelID types.ID) ([]types.ID, error)
	RegisterFiscalIdentity(ctx context.Context, orgID, userID types.ID, cnpj types.CNPJ) error
}

// Handler provides HTTP handlers for the organization hierarchy
type Handler struct {
	repo        Store
	bus         events.EventBus
	invalidator Invalidator
	logger      *zap.Logger
}

// NewHandler creates a new organization handler
func NewHandler(repo Store, bus events.EventBus, invalidator Invalidator, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, bus: bus, invalidator: invalidator, logger: logger}
}

// Routes registers the organization routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateOrganization)

	r.Route("/{orgID}", func(r chi.Router) {
		r.Get("/", h.GetOrganization)

		r.Route("/levels", func(r chi.Router) {
			r.Get("/", h.ListLevels)
			r.Post("/", h.CreateLevel)

			r.Route("/{levelID}/permissions", func(r chi.Router) {
				r.Get("/", h.ListPermissions)
				r.Put("/", h.UpsertPermission)
			})
		})

		r.Post("/positions", h.CreatePosition)

		r.Route("/members", func(r chi.Router) {
			r.Post("/", h.BindUser)
			r.Delete("/{userID}", h.UnbindUser)
			r.Get("/{userID}/level", h.GetUserLevel)
			r.Post("/fiscal", h.RegisterFiscalIdentity)
		})
	})

	return r
}

// CreateOrganization creates a new organization
func (h *Handler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req CreateOrganizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	legalID, err := types.ParseCNPJ(req.LegalID)
	if err != nil {
		writeError(w, errors.Validation("validation failed", map[string]string{
			"legal_id": err.Error(),
		}))
		return
	}

	ownerID, err := types.ParseID(req.OwnerID)
	if err != nil {
		writeError(w, errors.BadRequest("invalid owner ID"))
		return
	}

	if req.Name == "" {
		writeError(w, errors.Validation("validation failed", map[string]string{
			"name": "name is required",
		}))
		return
	}

	org := &Organization{
		ID:      types.NewID(),
		LegalID: legalID,
		Name:    req.Name,
		OwnerID: ownerID,
	}

	if err := h.repo.CreateOrganization(r.Context(), org); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, org)
}

// GetOrganization gets an organization by ID
func (h *Handler) GetOrganization(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "orgID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid organization ID"))
		return
	}

	org, err := h.repo.GetOrganization(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, org)
}

// ListLevels lists an organization's levels
func (h *Handler) ListLevels(w http.ResponseWriter, r *http.Request) {
	orgID, err := types.ParseID(chi.URLParam(r, "orgID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid organization ID"))
		return
	}

	levels, err := h.repo.ListLevels(r.Context(), orgID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": levels})
}

// CreateLevel adds a level to an organization
func (h *Handler) CreateLevel(w http.ResponseWriter, r *http.Request) {
	orgID, err := types.ParseID(chi.URLParam(r, "orgID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid organization ID"))
		return
	}

	var req CreateLevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if req.Rank < 1 || req.Name == "" {
		writeError(w, errors.Validation("validation failed", map[string]string{
			"rank": "rank must be >= 1",
			"name": "name is required",
		}))
		return
	}

	level := &Level{
		ID:             types.NewID(),
		OrganizationID: orgID,
		Rank:           req.Rank,
		Name:           req.Name,
	}

	if err := h.repo.CreateLevel(r.Context(), level); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, level)
}

// CreatePosition creates a position in the hierarchy tree
func (h *Handler) CreatePosition(w http.ResponseWriter, r *http.Request) {
	var req CreatePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	levelID, err := types.ParseID(req.LevelID)
	if err != nil {
		writeError(w, errors.BadRequest("invalid level ID"))
		return
	}

	pos := &Position{
		ID:      types.NewID(),
		LevelID: levelID,
		Name:    req.Name,
	}

	if req.ParentID != nil {
		parentID, err := types.ParseID(*req.ParentID)
		if err != nil {
			writeError(w, errors.BadRequest("invalid parent position ID"))
			return
		}
		pos.ParentID = &parentID
	}

	if err := h.repo.CreatePosition(r.Context(), pos); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, pos)
}

// ListPermissions lists a level's permission set
func (h *Handler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	levelID, err := types.ParseID(chi.URLParam(r, "levelID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid level ID"))
		return
	}

	perms, err := h.repo.PermissionsForLevel(r.Context(), levelID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": perms})
}

// UpsertPermission sets one (level, domain) permission row. Rank 1 is
// implicitly full-access and never carries a permission set.
func (h *Handler) UpsertPermission(w http.ResponseWriter, r *http.Request) {
	levelID, err := types.ParseID(chi.URLParam(r, "levelID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid level ID"))
		return
	}

	var req UpsertPermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	domain, err := access.ParseDomain(req.Domain)
	if err != nil {
		writeError(w, errors.Validation("validation failed", map[string]string{"domain": err.Error()}))
		return
	}

	level, err := access.ParseLevel(req.AccessLevel)
	if err != nil {
		writeError(w, errors.Validation("validation failed", map[string]string{"access_level": err.Error()}))
		return
	}

	mode := access.EmitOwnCompany
	if req.EmissionMode != "" {
		mode, err = access.ParseEmissionMode(req.EmissionMode)
		if err != nil {
			writeError(w, errors.Validation("validation failed", map[string]string{"nfse_emission_mode": err.Error()}))
			return
		}
	}

	orgLevel, err := h.repo.GetLevel(r.Context(), levelID)
	if err != nil {
		writeError(w, err)
		return
	}
	if orgLevel.Rank == 1 {
		writeError(w, errors.BadRequest("rank 1 is implicitly full-access and carries no permission set"))
		return
	}

	if domain.IsManagementOnly() && level != access.LevelNone {
		writeError(w, errors.BadRequest("management-only domains cannot be granted to subordinate levels"))
		return
	}

	perm := &LevelPermission{
		ID:                 types.NewID(),
		LevelID:            levelID,
		Domain:             domain,
		AccessLevel:        level,
		ManagesOwnPatients: req.ManagesOwnPatients,
		HasFinancialAccess: req.HasFinancialAccess,
		EmissionMode:       mode,
	}

	if err := h.repo.UpsertPermission(r.Context(), perm); err != nil {
		writeError(w, err)
		return
	}

	h.invalidateLevel(r, levelID)

	if h.bus != nil {
		event := events.NewEvent(events.TypePermissionChanged, "organization", map[string]string{
			"level_id": levelID.String(),
			"domain":   domain.String(),
		})
		if err := h.bus.Publish(r.Context(), event); err != nil {
			h.logger.Warn("publish permission changed", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, perm)
}

// invalidateLevel drops the cached access map of every user bound to the
// level, so a permission-set write takes effect on the next resolution.
func (h *Handler) invalidateLevel(r *http.Request, levelID types.ID) {
	users, err := h.repo.UsersAtLevel(r.Context(), levelID)
	if err != nil {
		h.logger.Warn("list users for cache invalidation", zap.Error(err))
		return
	}
	for _, userID := range users {
		h.invalidator.Invalidate(userID)
	}
}

// BindUser binds a user to a position
func (h *Handler) BindUser(w http.ResponseWriter, r *http.Request) {
	orgID, err := types.ParseID(chi.URLParam(r, "orgID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid organization ID"))
		return
	}

	var req BindUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	userID, err := types.ParseID(req.UserID)
	if err != nil {
		writeError(w, errors.BadRequest("invalid user ID"))
		return
	}

	positionID, err := types.ParseID(req.PositionID)
	if err != nil {
		writeError(w, errors.BadRequest("invalid position ID"))
		return
	}

	binding := &UserPosition{
		ID:             types.NewID(),
		UserID:         userID,
		OrganizationID: orgID,
		PositionID:     positionID,
	}

	if err := h.repo.BindUser(r.Context(), binding); err != nil {
		writeError(w, err)
		return
	}

	h.invalidator.Invalidate(userID)

	writeJSON(w, http.StatusCreated, binding)
}

// UnbindUser removes a user from the organization hierarchy
func (h *Handler) UnbindUser(w http.ResponseWriter, r *http.Request) {
	orgID, err := types.ParseID(chi.URLParam(r, "orgID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid organization ID"))
		return
	}

	userID, err := types.ParseID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid user ID"))
		return
	}

	if err := h.repo.UnbindUser(r.Context(), userID, orgID); err != nil {
		writeError(w, err)
		return
	}

	h.invalidator.Invalidate(userID)

	w.WriteHeader(http.StatusNoContent)
}

// GetUserLevel returns the level a user occupies in the organization
func (h *Handler) GetUserLevel(w http.ResponseWriter, r *http.Request) {
	orgID, err := types.ParseID(chi.URLParam(r, "orgID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid organization ID"))
		return
	}

	userID, err := types.ParseID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid user ID"))
		return
	}

	level, err := h.repo.LevelForUser(r.Context(), userID, orgID)
	if err != nil {
		writeError(w, err)
		return
	}
	if level == nil {
		writeError(w, errors.NotFound("user level", userID.String()))
		return
	}

	writeJSON(w, http.StatusOK, level)
}

// RegisterFiscalIdentity records a member's fiscal identity
func (h *Handler) RegisterFiscalIdentity(w http.ResponseWriter, r *http.Request) {
	orgID, err := types.ParseID(chi.URLParam(r, "orgID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid organization ID"))
		return
	}

	var req RegisterFiscalIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	userID, err := types.ParseID(req.UserID)
	if err != nil {
		writeError(w, errors.BadRequest("invalid user ID"))
		return
	}

	cnpj, err := types.ParseCNPJ(req.CNPJ)
	if err != nil {
		writeError(w, errors.Validation("validation failed", map[string]string{"cnpj": err.Error()}))
		return
	}

	if err := h.repo.RegisterFiscalIdentity(r.Context(), orgID, userID, cnpj); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

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
