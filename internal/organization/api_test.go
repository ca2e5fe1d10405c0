package organization

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/praxia-health/platform/internal/shared/events"
	"github.com/praxia-health/platform/internal/shared/types"
)

type fakeStore struct {
	levels   map[types.ID]*Level
	members  map[types.ID][]types.ID
	bindings []*UserPosition
	perms    []*LevelPermission
	unbound  []types.ID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		levels:  make(map[types.ID]*Level),
		members: make(map[types.ID][]types.ID),
	}
}

func (s *fakeStore) CreateOrganization(ctx context.Context, org *Organization) error { return nil }
func (s *fakeStore) GetOrganization(ctx context.Context, id types.ID) (*Organization, error) {
	return nil, nil
}
func (s *fakeStore) ListLevels(ctx context.Context, orgID types.ID) ([]Level, error) {
	return nil, nil
}
func (s *fakeStore) CreateLevel(ctx context.Context, level *Level) error { return nil }
func (s *fakeStore) GetLevel(ctx context.Context, id types.ID) (*Level, error) {
	level, ok := s.levels[id]
	if !ok {
		return nil, fmt.Errorf("level %s not found", id)
	}
	return level, nil
}
func (s *fakeStore) CreatePosition(ctx context.Context, pos *Position) error { return nil }
func (s *fakeStore) PermissionsForLevel(ctx context.Context, levelID types.ID) ([]LevelPermission, error) {
	return nil, nil
}
func (s *fakeStore) UpsertPermission(ctx context.Context, perm *LevelPermission) error {
	s.perms = append(s.perms, perm)
	return nil
}
func (s *fakeStore) BindUser(ctx context.Context, binding *UserPosition) error {
	s.bindings = append(s.bindings, binding)
	return nil
}
func (s *fakeStore) UnbindUser(ctx context.Context, userID, orgID types.ID) error {
	s.unbound = append(s.unbound, userID)
	return nil
}
func (s *fakeStore) LevelForUser(ctx context.Context, userID, orgID types.ID) (*Level, error) {
	return nil, nil
}
func (s *fakeStore) UsersAtLevel(ctx context.Context, levelID types.ID) ([]types.ID, error) {
	return s.members[levelID], nil
}
func (s *fakeStore) RegisterFiscalIdentity(ctx context.Context, orgID, userID types.ID, cnpj types.CNPJ) error {
	return nil
}

type recordingInvalidator struct {
	invalidated []types.ID
}

func (r *recordingInvalidator) Invalidate(userID types.ID) {
	r.invalidated = append(r.invalidated, userID)
}

func TestUpsertPermissionInvalidatesLevelMembers(t *testing.T) {
	store := newFakeStore()
	inv := &recordingInvalidator{}
	handler := NewHandler(store, nil, inv, zap.NewNop())

	orgID := types.NewID()
	levelID := types.NewID()
	memberA := types.NewID()
	memberB := types.NewID()
	store.levels[levelID] = &Level{ID: levelID, OrganizationID: orgID, Rank: 2}
	store.members[levelID] = []types.ID{memberA, memberB}

	body, _ := json.Marshal(UpsertPermissionRequest{
		Domain:             "financial",
		AccessLevel:        "write",
		ManagesOwnPatients: true,
		HasFinancialAccess: true,
	})
	url := fmt.Sprintf("/%s/levels/%s/permissions", orgID, levelID)
	req := httptest.NewRequest(http.MethodPut, url, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, store.perms, 1)

	// Everyone bound to the level loses their cached access map.
	assert.ElementsMatch(t, []types.ID{memberA, memberB}, inv.invalidated)
}

type failingBus struct {
	events.NopBus
}

func (failingBus) Publish(context.Context, events.Event) error {
	return fmt.Errorf("bus unavailable")
}

func TestUpsertPermissionLogsPublishFailure(t *testing.T) {
	store := newFakeStore()
	core, logs := observer.New(zap.WarnLevel)
	handler := NewHandler(store, failingBus{}, &recordingInvalidator{}, zap.New(core))

	orgID := types.NewID()
	levelID := types.NewID()
	store.levels[levelID] = &Level{ID: levelID, OrganizationID: orgID, Rank: 2}

	body, _ := json.Marshal(UpsertPermissionRequest{Domain: "reports", AccessLevel: "read"})
	url := fmt.Sprintf("/%s/levels/%s/permissions", orgID, levelID)
	req := httptest.NewRequest(http.MethodPut, url, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	// The write still succeeds; the publish failure is surfaced in the log.
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, logs.FilterMessage("publish permission changed").Len())
}

func TestBindUserInvalidates(t *testing.T) {
	store := newFakeStore()
	inv := &recordingInvalidator{}
	handler := NewHandler(store, nil, inv, zap.NewNop())

	orgID := types.NewID()
	userID := types.NewID()
	positionID := types.NewID()

	body, _ := json.Marshal(BindUserRequest{
		UserID:     userID.String(),
		PositionID: positionID.String(),
	})
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/%s/members", orgID), bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, store.bindings, 1)
	assert.Equal(t, []types.ID{userID}, inv.invalidated)
}

func TestUnbindUserInvalidates(t *testing.T) {
	store := newFakeStore()
	inv := &recordingInvalidator{}
	handler := NewHandler(store, nil, inv, zap.NewNop())

	orgID := types.NewID()
	userID := types.NewID()

	url := fmt.Sprintf("/%s/members/%s", orgID, userID)
	req := httptest.NewRequest(http.MethodDelete, url, nil)
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []types.ID{userID}, inv.invalidated)
	assert.Equal(t, []types.ID{userID}, store.unbound)
}
