package sharing

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/praxia-health/platform/internal/access"
	"github.com/praxia-health/platform/internal/shared/auth"
	"github.com/praxia-health/platform/internal/shared/errors"
	"github.com/praxia-health/platform/internal/shared/events"
	"github.com/praxia-health/platform/internal/shared/types"
)

// OwnerLookup answers hierarchy questions the grants depend on: who owns
// the organization, and who sits on a level.
type OwnerLookup interface {
	OrganizationOwner(ctx context.Context, orgID types.ID) (types.ID, error)
	UsersAtLevel(ctx context.Context, levelID types.ID) ([]types.ID, error)
}

// Invalidator drops cached access maps after a grant changes
type Invalidator interface {
	Invalidate(userID types.ID)
}

// Store is the grant persistence the handlers work against.
type Store interface {
	SameLevel(ctx context.Context, orgID, userA, userB types.ID) (bool, error)
	UpsertPeerSharing(ctx context.Context, s *PeerSharing) error
	DeletePeerSharing(ctx context.Context, orgID, ownerID, receiverID types.ID) error
	OutgoingGrants(ctx context.Context, orgID, ownerID types.ID) ([]*PeerSharing, error)
	SetLevelSharing(ctx context.Context, levelID types.ID, domains []access.Domain) error
	GetLevelSharing(ctx context.Context, levelID types.ID) (*LevelSharing, error)
}

// Handler exposes sharing-grant endpoints
type Handler struct {
	repo        Store
	owners      OwnerLookup
	invalidator Invalidator
	bus         events.EventBus
	logger      *zap.Logger
}

func NewHandler(repo Store, owners OwnerLookup, invalidator Invalidator, bus events.EventBus, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, owners: owners, invalidator: invalidator, bus: bus, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/peers", h.listPeerGrants)
	r.Put("/peers", h.upsertPeerGrant)
	r.Delete("/peers/{receiverID}", h.deletePeerGrant)

	r.Get("/levels/{levelID}", h.getLevelSharing)
	r.Put("/levels/{levelID}", h.setLevelSharing)

	return r
}

func (h *Handler) listPeerGrants(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return
	}

	grants, err := h.repo.OutgoingGrants(r.Context(), user.OrganizationID, user.ID)
	if err != nil {
		h.logger.Error("list peer grants", zap.Error(err))
		writeError(w, errors.Internal(err))
		return
	}
	if grants == nil {
		grants = []*PeerSharing{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": grants})
}

func (h *Handler) upsertPeerGrant(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return
	}

	var req UpsertPeerSharingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	receiverID, err := types.ParseID(req.ReceiverID)
	if err != nil {
		writeError(w, errors.BadRequest("invalid receiver ID"))
		return
	}
	if receiverID == user.ID {
		writeError(w, errors.BadRequest("cannot share with yourself"))
		return
	}

	domains, details := parseDomains(req.Domains)
	if details != nil {
		writeError(w, errors.Validation("validation failed", details))
		return
	}

	same, err := h.repo.SameLevel(r.Context(), user.OrganizationID, user.ID, receiverID)
	if err != nil {
		h.logger.Error("same level check", zap.Error(err))
		writeError(w, errors.Internal(err))
		return
	}
	if !same {
		writeError(w, errors.RankViolation("peer sharing requires both users at the same level"))
		return
	}

	grant := &PeerSharing{
		ID:              types.NewID(),
		OrganizationID:  user.OrganizationID,
		OwnerID:         user.ID,
		ReceiverID:      receiverID,
		Domains:         domains,
		IsBidirectional: req.IsBidirectional,
	}
	if err := h.repo.UpsertPeerSharing(r.Context(), grant); err != nil {
		h.logger.Error("upsert peer grant", zap.Error(err))
		writeError(w, errors.Internal(err))
		return
	}

	h.invalidator.Invalidate(receiverID)
	h.invalidator.Invalidate(user.ID)
	h.publishUpdate(r.Context(), user, receiverID)

	writeJSON(w, http.StatusOK, grant)
}

func (h *Handler) deletePeerGrant(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return
	}

	receiverID, err := types.ParseID(chi.URLParam(r, "receiverID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid receiver ID"))
		return
	}

	if err := h.repo.DeletePeerSharing(r.Context(), user.OrganizationID, user.ID, receiverID); err != nil {
		h.logger.Error("delete peer grant", zap.Error(err))
		writeError(w, errors.Internal(err))
		return
	}

	h.invalidator.Invalidate(receiverID)
	h.invalidator.Invalidate(user.ID)
	h.publishUpdate(r.Context(), user, receiverID)

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getLevelSharing(w http.ResponseWriter, r *http.Request) {
	if auth.GetUser(r.Context()) == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return
	}

	levelID, err := types.ParseID(chi.URLParam(r, "levelID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid level ID"))
		return
	}

	ls, err := h.repo.GetLevelSharing(r.Context(), levelID)
	if err != nil {
		h.logger.Error("get level sharing", zap.Error(err))
		writeError(w, errors.Internal(err))
		return
	}
	if ls == nil {
		ls = &LevelSharing{LevelID: levelID, Domains: []access.Domain{}}
	}
	writeJSON(w, http.StatusOK, ls)
}

func (h *Handler) setLevelSharing(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return
	}

	ownerID, err := h.owners.OrganizationOwner(r.Context(), user.OrganizationID)
	if err != nil {
		h.logger.Error("resolve organization owner", zap.Error(err))
		writeError(w, errors.Internal(err))
		return
	}
	if ownerID != user.ID && !user.Flags.IsAdmin {
		writeError(w, errors.Forbidden("only the organization owner can change level sharing"))
		return
	}

	levelID, err := types.ParseID(chi.URLParam(r, "levelID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid level ID"))
		return
	}

	var req SetLevelSharingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	domains, details := parseDomains(req.Domains)
	if details != nil {
		writeError(w, errors.Validation("validation failed", details))
		return
	}

	if err := h.repo.SetLevelSharing(r.Context(), levelID, domains); err != nil {
		h.logger.Error("set level sharing", zap.Error(err))
		writeError(w, errors.Internal(err))
		return
	}

	members, err := h.owners.UsersAtLevel(r.Context(), levelID)
	if err != nil {
		h.logger.Warn("list level members for cache invalidation", zap.Error(err))
	}
	for _, memberID := range members {
		h.invalidator.Invalidate(memberID)
	}

	h.publishUpdate(r.Context(), user, types.NilID)

	writeJSON(w, http.StatusOK, &LevelSharing{LevelID: levelID, Domains: domains})
}

func (h *Handler) publishUpdate(ctx context.Context, user *auth.User, receiverID types.ID) {
	event := events.NewEvent(events.TypeSharingUpdated, "sharing", map[string]string{
		"receiver_id": receiverID.String(),
	}).WithActor(user.ID, user.OrganizationID)
	if err := h.bus.Publish(ctx, event); err != nil {
		h.logger.Warn("publish sharing update", zap.Error(err))
	}
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
