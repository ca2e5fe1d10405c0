package organization

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/praxia-health/platform/internal/access"
	"github.com/praxia-health/platform/internal/shared/errors"
	"github.com/praxia-health/platform/internal/shared/types"
)

// Repository provides database operations for the organization hierarchy
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new hierarchy repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// --- Organization Operations ---

// CreateOrganization creates a new organization
func (r *Repository) CreateOrganization(ctx context.Context, org *Organization) error {
	query := `
		INSERT INTO hierarchy.organizations (id, legal_id, name, owner_id)
		VALUES ($1, $2, $3, $4)`

	_, err := r.pool.Exec(ctx, query, org.ID, org.LegalID.String(), org.Name, org.OwnerID)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("organization already exists")
		}
		return errors.Wrap(err, "failed to create organization")
	}

	return nil
}

// GetOrganization retrieves an organization by ID
func (r *Repository) GetOrganization(ctx context.Context, id types.ID) (*Organization, error) {
	query := `
		SELECT id, legal_id, name, owner_id, created_at, updated_at
		FROM hierarchy.organizations
		WHERE id = $1`

	org := &Organization{}
	var legalID string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&org.ID, &legalID, &org.Name, &org.OwnerID, &org.CreatedAt, &org.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("organization", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get organization")
	}

	org.LegalID = types.CNPJ(legalID)
	return org, nil
}

// OrganizationOwner returns the owner user id of an organization
func (r *Repository) OrganizationOwner(ctx context.Context, orgID types.ID) (types.ID, error) {
	var ownerID types.ID
	err := r.pool.QueryRow(ctx,
		`SELECT owner_id FROM hierarchy.organizations WHERE id = $1`, orgID,
	).Scan(&ownerID)

	if err == pgx.ErrNoRows {
		return "", errors.NotFound("organization", orgID.String())
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to get organization owner")
	}

	return ownerID, nil
}

// --- Level Operations ---

// CreateLevel adds a level with a unique rank to an organization
func (r *Repository) CreateLevel(ctx context.Context, level *Level) error {
	query := `
		INSERT INTO hierarchy.organization_levels (id, organization_id, rank, name)
		VALUES ($1, $2, $3, $4)`

	_, err := r.pool.Exec(ctx, query, level.ID, level.OrganizationID, level.Rank, level.Name)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("level rank already used in this organization")
		}
		return errors.Wrap(err, "failed to create level")
	}

	return nil
}

// GetLevel retrieves a level by ID
func (r *Repository) GetLevel(ctx context.Context, id types.ID) (*Level, error) {
	query := `
		SELECT id, organization_id, rank, name, created_at
		FROM hierarchy.organization_levels
		WHERE id = $1`

	level := &Level{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&level.ID, &level.OrganizationID, &level.Rank, &level.Name, &level.CreatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("level", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get level")
	}

	return level, nil
}

// LevelByRank retrieves a level by (organization, rank); nil when absent
func (r *Repository) LevelByRank(ctx context.Context, orgID types.ID, rank int) (*Level, error) {
	query := `
		SELECT id, organization_id, rank, name, created_at
		FROM hierarchy.organization_levels
		WHERE organization_id = $1 AND rank = $2`

	level := &Level{}
	err := r.pool.QueryRow(ctx, query, orgID, rank).Scan(
		&level.ID, &level.OrganizationID, &level.Rank, &level.Name, &level.CreatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get level by rank")
	}

	return level, nil
}

// ListLevels lists an organization's levels ordered by rank
func (r *Repository) ListLevels(ctx context.Context, orgID types.ID) ([]Level, error) {
	query := `
		SELECT id, organization_id, rank, name, created_at
		FROM hierarchy.organization_levels
		WHERE organization_id = $1
		ORDER BY rank`

	rows, err := r.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list levels")
	}
	defer rows.Close()

	var levels []Level
	for rows.Next() {
		var l Level
		if err := rows.Scan(&l.ID, &l.OrganizationID, &l.Rank, &l.Name, &l.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan level")
		}
		levels = append(levels, l)
	}

	return levels, rows.Err()
}

// --- Position Operations ---

// CreatePosition creates a position after validating hierarchy integrity:
// a root position must sit on rank 1, and a child's level rank must be
// strictly greater than its parent's.
func (r *Repository) CreatePosition(ctx context.Context, pos *Position) error {
	level, err := r.GetLevel(ctx, pos.LevelID)
	if err != nil {
		return err
	}

	var parentLevel *Level
	if pos.ParentID != nil {
		parentLevel, err = r.levelForPosition(ctx, *pos.ParentID)
		if err != nil {
			return err
		}
	}

	if err := ValidatePlacement(level, parentLevel); err != nil {
		return err
	}

	query := `
		INSERT INTO hierarchy.organization_positions (id, level_id, parent_id, name)
		VALUES ($1, $2, $3, $4)`

	if _, err := r.pool.Exec(ctx, query, pos.ID, pos.LevelID, pos.ParentID, pos.Name); err != nil {
		return errors.Wrap(err, "failed to create position")
	}

	return nil
}

// GetPosition retrieves a position by ID
func (r *Repository) GetPosition(ctx context.Context, id types.ID) (*Position, error) {
	query := `
		SELECT id, level_id, parent_id, name, created_at
		FROM hierarchy.organization_positions
		WHERE id = $1`

	pos := &Position{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&pos.ID, &pos.LevelID, &pos.ParentID, &pos.Name, &pos.CreatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("position", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get position")
	}

	return pos, nil
}

// levelForPosition resolves a position's level
func (r *Repository) levelForPosition(ctx context.Context, positionID types.ID) (*Level, error) {
	query := `
		SELECT l.id, l.organization_id, l.rank, l.name, l.created_at
		FROM hierarchy.organization_positions p
		JOIN hierarchy.organization_levels l ON l.id = p.level_id
		WHERE p.id = $1`

	level := &Level{}
	err := r.pool.QueryRow(ctx, query, positionID).Scan(
		&level.ID, &level.OrganizationID, &level.Rank, &level.Name, &level.CreatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("position", positionID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get position level")
	}

	return level, nil
}

// --- User Binding Operations ---

// BindUser binds a user to a position. One active binding per
// (user, organization) is enforced by the unique constraint.
func (r *Repository) BindUser(ctx context.Context, binding *UserPosition) error {
	query := `
		INSERT INTO hierarchy.user_positions (id, user_id, organization_id, position_id)
		VALUES ($1, $2, $3, $4)`

	_, err := r.pool.Exec(ctx, query,
		binding.ID, binding.UserID, binding.OrganizationID, binding.PositionID)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("user already holds a position in this organization")
		}
		return errors.Wrap(err, "failed to bind user")
	}

	return nil
}

// UnbindUser removes a user's binding in an organization
func (r *Repository) UnbindUser(ctx context.Context, userID, orgID types.ID) error {
	result, err := r.pool.Exec(ctx,
		`DELETE FROM hierarchy.user_positions WHERE user_id = $1 AND organization_id = $2`,
		userID, orgID)
	if err != nil {
		return errors.Wrap(err, "failed to unbind user")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("user position", userID.String())
	}

	return nil
}

// HasPosition reports whether the user holds a position in the organization
func (r *Repository) HasPosition(ctx context.Context, userID, orgID types.ID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM hierarchy.user_positions
			WHERE user_id = $1 AND organization_id = $2
		)`, userID, orgID).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check user position")
	}
	return exists, nil
}

// LevelForUser walks UserPosition -> Position -> Level; nil when the user
// holds no position in the organization.
func (r *Repository) LevelForUser(ctx context.Context, userID, orgID types.ID) (*Level, error) {
	query := `
		SELECT l.id, l.organization_id, l.rank, l.name, l.created_at
		FROM hierarchy.user_positions up
		JOIN hierarchy.organization_positions p ON p.id = up.position_id
		JOIN hierarchy.organization_levels l ON l.id = p.level_id
		WHERE up.user_id = $1 AND up.organization_id = $2`

	level := &Level{}
	err := r.pool.QueryRow(ctx, query, userID, orgID).Scan(
		&level.ID, &level.OrganizationID, &level.Rank, &level.Name, &level.CreatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user level")
	}

	return level, nil
}

// UsersAtLevel lists every user currently bound to a position on the level.
func (r *Repository) UsersAtLevel(ctx context.Context, levelID types.ID) ([]types.ID, error) {
	query := `
		SELECT up.user_id
		FROM hierarchy.user_positions up
		JOIN hierarchy.organization_positions p ON p.id = up.position_id
		WHERE p.level_id = $1`

	rows, err := r.pool.Query(ctx, query, levelID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list users at level")
	}
	defer rows.Close()

	var users []types.ID
	for rows.Next() {
		var id types.ID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan user at level")
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// PositionForUser returns the user's position in the organization; nil when
// the user is unbound.
func (r *Repository) PositionForUser(ctx context.Context, userID, orgID types.ID) (*Position, error) {
	query := `
		SELECT p.id, p.level_id, p.parent_id, p.name, p.created_at
		FROM hierarchy.user_positions up
		JOIN hierarchy.organization_positions p ON p.id = up.position_id
		WHERE up.user_id = $1 AND up.organization_id = $2`

	pos := &Position{}
	err := r.pool.QueryRow(ctx, query, userID, orgID).Scan(
		&pos.ID, &pos.LevelID, &pos.ParentID, &pos.Name, &pos.CreatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user position")
	}

	return pos, nil
}

// ManagerForUser walks the position tree upward from the user's position and
// returns the holder of the nearest rank-1 ancestor position. ok is false
// when the user is unbound or the chain has no bound rank-1 holder.
func (r *Repository) ManagerForUser(ctx context.Context, userID, orgID types.ID) (types.ID, bool, error) {
	query := `
		WITH RECURSIVE chain AS (
			SELECT p.id, p.parent_id, l.rank
			FROM hierarchy.user_positions up
			JOIN hierarchy.organization_positions p ON p.id = up.position_id
			JOIN hierarchy.organization_levels l ON l.id = p.level_id
			WHERE up.user_id = $1 AND up.organization_id = $2
			UNION ALL
			SELECT p.id, p.parent_id, l.rank
			FROM hierarchy.organization_positions p
			JOIN hierarchy.organization_levels l ON l.id = p.level_id
			JOIN chain c ON p.id = c.parent_id
		)
		SELECT up.user_id
		FROM chain
		JOIN hierarchy.user_positions up ON up.position_id = chain.id
		WHERE chain.rank = 1
		LIMIT 1`

	var managerID types.ID
	err := r.pool.QueryRow(ctx, query, userID, orgID).Scan(&managerID)

	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "failed to find manager")
	}

	return managerID, true, nil
}

// --- Permission Set Operations ---

// Permission returns the (level, domain) permission row; nil when absent.
// Absence means access none, which the resolution engine applies.
func (r *Repository) Permission(ctx context.Context, levelID types.ID, domain access.Domain) (*LevelPermission, error) {
	query := `
		SELECT id, level_id, domain, access_level,
			manages_own_patients, has_financial_access, nfse_emission_mode
		FROM hierarchy.level_permissions
		WHERE level_id = $1 AND domain = $2`

	perm := &LevelPermission{}
	err := r.pool.QueryRow(ctx, query, levelID, string(domain)).Scan(
		&perm.ID, &perm.LevelID, &perm.Domain, &perm.AccessLevel,
		&perm.ManagesOwnPatients, &perm.HasFinancialAccess, &perm.EmissionMode,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get level permission")
	}

	return perm, nil
}

// PermissionsForLevel lists a level's full permission set
func (r *Repository) PermissionsForLevel(ctx context.Context, levelID types.ID) ([]LevelPermission, error) {
	query := `
		SELECT id, level_id, domain, access_level,
			manages_own_patients, has_financial_access, nfse_emission_mode
		FROM hierarchy.level_permissions
		WHERE level_id = $1
		ORDER BY domain`

	rows, err := r.pool.Query(ctx, query, levelID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list level permissions")
	}
	defer rows.Close()

	var perms []LevelPermission
	for rows.Next() {
		var p LevelPermission
		if err := rows.Scan(&p.ID, &p.LevelID, &p.Domain, &p.AccessLevel,
			&p.ManagesOwnPatients, &p.HasFinancialAccess, &p.EmissionMode); err != nil {
			return nil, errors.Wrap(err, "failed to scan level permission")
		}
		perms = append(perms, p)
	}

	return perms, rows.Err()
}

// UpsertPermission writes one (level, domain) permission row
func (r *Repository) UpsertPermission(ctx context.Context, perm *LevelPermission) error {
	query := `
		INSERT INTO hierarchy.level_permissions (
			id, level_id, domain, access_level,
			manages_own_patients, has_financial_access, nfse_emission_mode
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (level_id, domain) DO UPDATE SET
			access_level = EXCLUDED.access_level,
			manages_own_patients = EXCLUDED.manages_own_patients,
			has_financial_access = EXCLUDED.has_financial_access,
			nfse_emission_mode = EXCLUDED.nfse_emission_mode`

	_, err := r.pool.Exec(ctx, query,
		perm.ID, perm.LevelID, string(perm.Domain), perm.AccessLevel,
		perm.ManagesOwnPatients, perm.HasFinancialAccess, perm.EmissionMode)
	if err != nil {
		return errors.Wrap(err, "failed to upsert level permission")
	}

	return nil
}

// --- Fiscal Identity Operations ---

// RegisterFiscalIdentity records a member's fiscal identity in the organization
func (r *Repository) RegisterFiscalIdentity(ctx context.Context, orgID, userID types.ID, cnpj types.CNPJ) error {
	query := `
		INSERT INTO hierarchy.fiscal_registrations (organization_id, user_id, cnpj)
		VALUES ($1, $2, $3)
		ON CONFLICT (organization_id, user_id) DO UPDATE SET
			cnpj = EXCLUDED.cnpj, registered_at = NOW()`

	if _, err := r.pool.Exec(ctx, query, orgID, userID, cnpj.String()); err != nil {
		return errors.Wrap(err, "failed to register fiscal identity")
	}

	return nil
}

// HasFiscalIdentity reports whether the member has a registered fiscal identity
func (r *Repository) HasFiscalIdentity(ctx context.Context, orgID, userID types.ID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM hierarchy.fiscal_registrations
			WHERE organization_id = $1 AND user_id = $2
		)`, orgID, userID).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check fiscal identity")
	}
	return exists, nil
}

// --- Migration Support ---

// Pool exposes the underlying pool for multi-write transactions owned by the
// migration coordinator.
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// CreateLevelTx, CreatePositionTx, BindUserTx and UpsertPermissionTx are the
// transactional variants the migration coordinator composes into one commit.

func (r *Repository) CreateLevelTx(ctx context.Context, tx pgx.Tx, level *Level) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO hierarchy.organization_levels (id, organization_id, rank, name)
		 VALUES ($1, $2, $3, $4)`,
		level.ID, level.OrganizationID, level.Rank, level.Name)
	if err != nil {
		return errors.Wrap(err, "failed to create level")
	}
	return nil
}

func (r *Repository) CreatePositionTx(ctx context.Context, tx pgx.Tx, pos *Position) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO hierarchy.organization_positions (id, level_id, parent_id, name)
		 VALUES ($1, $2, $3, $4)`,
		pos.ID, pos.LevelID, pos.ParentID, pos.Name)
	if err != nil {
		return errors.Wrap(err, "failed to create position")
	}
	return nil
}

func (r *Repository) BindUserTx(ctx context.Context, tx pgx.Tx, binding *UserPosition) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO hierarchy.user_positions (id, user_id, organization_id, position_id)
		 VALUES ($1, $2, $3, $4)`,
		binding.ID, binding.UserID, binding.OrganizationID, binding.PositionID)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("user already holds a position in this organization")
		}
		return errors.Wrap(err, "failed to bind user")
	}
	return nil
}

func (r *Repository) UpsertPermissionTx(ctx context.Context, tx pgx.Tx, perm *LevelPermission) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO hierarchy.level_permissions (
			id, level_id, domain, access_level,
			manages_own_patients, has_financial_access, nfse_emission_mode
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (level_id, domain) DO UPDATE SET
			access_level = EXCLUDED.access_level,
			manages_own_patients = EXCLUDED.manages_own_patients,
			has_financial_access = EXCLUDED.has_financial_access,
			nfse_emission_mode = EXCLUDED.nfse_emission_mode`,
		perm.ID, perm.LevelID, string(perm.Domain), perm.AccessLevel,
		perm.ManagesOwnPatients, perm.HasFinancialAccess, perm.EmissionMode)
	if err != nil {
		return errors.Wrap(err, "failed to upsert level permission")
	}
	return nil
}

// MigrationPlan is the set of rows a user migration commits atomically.
// NewLevel is nil when the target level already exists.
type MigrationPlan struct {
	NewLevel    *Level
	Position    *Position
	Binding     *UserPosition
	Permissions []LevelPermission
}

// AdoptMigrated commits a migration plan in one transaction. Either the
// user ends up fully placed in the hierarchy or nothing is written.
func (r *Repository) AdoptMigrated(ctx context.Context, plan *MigrationPlan) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin migration")
	}
	defer tx.Rollback(ctx)

	if plan.NewLevel != nil {
		if err := r.CreateLevelTx(ctx, tx, plan.NewLevel); err != nil {
			return err
		}
	}
	if err := r.CreatePositionTx(ctx, tx, plan.Position); err != nil {
		return err
	}
	if err := r.BindUserTx(ctx, tx, plan.Binding); err != nil {
		return err
	}
	for i := range plan.Permissions {
		if err := r.UpsertPermissionTx(ctx, tx, &plan.Permissions[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit migration")
	}
	return nil
}
