package sharing

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/praxia-health/platform/internal/access"
	"github.com/praxia-health/platform/internal/shared/types"
)

// Repository provides PostgreSQL access to sharing grants
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SameLevel reports whether two users hold positions at the same level
// within the organization. Users without a position never share a level.
func (r *Repository) SameLevel(ctx context.Context, orgID, userA, userB types.ID) (bool, error) {
	query := `
		SELECT pa.level_id = pb.level_id
		FROM hierarchy.user_positions ua
		JOIN hierarchy.organization_positions pa ON pa.id = ua.position_id
		JOIN hierarchy.user_positions ub ON ub.organization_id = ua.organization_id
		JOIN hierarchy.organization_positions pb ON pb.id = ub.position_id
		WHERE ua.organization_id = $1 AND ua.user_id = $2 AND ub.user_id = $3`

	var same bool
	err := r.pool.QueryRow(ctx, query, orgID, userA, userB).Scan(&same)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("same level check: %w", err)
	}
	return same, nil
}

// UpsertPeerSharing creates or replaces the grant from owner to receiver
func (r *Repository) UpsertPeerSharing(ctx context.Context, s *PeerSharing) error {
	query := `
		INSERT INTO sharing.peer_sharing (id, organization_id, owner_id, receiver_id, domains, is_bidirectional, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (organization_id, owner_id, receiver_id)
		DO UPDATE SET domains = EXCLUDED.domains, is_bidirectional = EXCLUDED.is_bidirectional, updated_at = NOW()`

	_, err := r.pool.Exec(ctx, query,
		s.ID, s.OrganizationID, s.OwnerID, s.ReceiverID, domainStrings(s.Domains), s.IsBidirectional)
	if err != nil {
		return fmt.Errorf("upsert peer sharing: %w", err)
	}
	return nil
}

// DeletePeerSharing removes an outgoing grant. Deleting a grant that does
// not exist is not an error.
func (r *Repository) DeletePeerSharing(ctx context.Context, orgID, ownerID, receiverID types.ID) error {
	query := `DELETE FROM sharing.peer_sharing WHERE organization_id = $1 AND owner_id = $2 AND receiver_id = $3`
	_, err := r.pool.Exec(ctx, query, orgID, ownerID, receiverID)
	if err != nil {
		return fmt.Errorf("delete peer sharing: %w", err)
	}
	return nil
}

// OutgoingGrants lists grants the user has issued within the organization
func (r *Repository) OutgoingGrants(ctx context.Context, orgID, ownerID types.ID) ([]*PeerSharing, error) {
	query := `
		SELECT id, organization_id, owner_id, receiver_id, domains, is_bidirectional, created_at, updated_at
		FROM sharing.peer_sharing
		WHERE organization_id = $1 AND owner_id = $2
		ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, orgID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list outgoing grants: %w", err)
	}
	defer rows.Close()

	return scanGrants(rows)
}

// SetLevelSharing replaces the level-wide shared-domain list
func (r *Repository) SetLevelSharing(ctx context.Context, levelID types.ID, domains []access.Domain) error {
	query := `
		INSERT INTO sharing.level_sharing (level_id, domains, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (level_id)
		DO UPDATE SET domains = EXCLUDED.domains, updated_at = NOW()`

	_, err := r.pool.Exec(ctx, query, levelID, domainStrings(domains))
	if err != nil {
		return fmt.Errorf("set level sharing: %w", err)
	}
	return nil
}

// GetLevelSharing returns the level's shared domains, or nil when unset
func (r *Repository) GetLevelSharing(ctx context.Context, levelID types.ID) (*LevelSharing, error) {
	query := `SELECT level_id, domains, updated_at FROM sharing.level_sharing WHERE level_id = $1`

	var ls LevelSharing
	var raw []string
	err := r.pool.QueryRow(ctx, query, levelID).Scan(&ls.LevelID, &raw, &ls.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get level sharing: %w", err)
	}
	ls.Domains = toDomains(raw)
	return &ls, nil
}

// SharedDomains collects every domain shared to the user in the
// organization: incoming peer grants, the reverse direction of the user's
// own bidirectional grants, and the level-wide list for the user's level.
func (r *Repository) SharedDomains(ctx context.Context, userID, orgID types.ID) (map[access.Domain]bool, error) {
	shared := make(map[access.Domain]bool)

	peerQuery := `
		SELECT domains
		FROM sharing.peer_sharing
		WHERE organization_id = $1
		  AND (receiver_id = $2 OR (owner_id = $2 AND is_bidirectional))`

	rows, err := r.pool.Query(ctx, peerQuery, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("peer shared domains: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan peer grant: %w", err)
		}
		for _, d := range toDomains(raw) {
			shared[d] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate peer grants: %w", err)
	}

	levelQuery := `
		SELECT ls.domains
		FROM sharing.level_sharing ls
		JOIN hierarchy.organization_positions op ON op.level_id = ls.level_id
		JOIN hierarchy.user_positions up ON up.position_id = op.id
		WHERE up.organization_id = $1 AND up.user_id = $2`

	var raw []string
	err = r.pool.QueryRow(ctx, levelQuery, orgID, userID).Scan(&raw)
	if err != nil && err != pgx.ErrNoRows {
		return nil, fmt.Errorf("level shared domains: %w", err)
	}
	for _, d := range toDomains(raw) {
		shared[d] = true
	}

	return shared, nil
}

func scanGrants(rows pgx.Rows) ([]*PeerSharing, error) {
	var grants []*PeerSharing
	for rows.Next() {
		var g PeerSharing
		var raw []string
		err := rows.Scan(&g.ID, &g.OrganizationID, &g.OwnerID, &g.ReceiverID, &raw, &g.IsBidirectional, &g.CreatedAt, &g.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		g.Domains = toDomains(raw)
		grants = append(grants, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}
	return grants, nil
}

func domainStrings(domains []access.Domain) []string {
	out := make([]string, len(domains))
	for i, d := range domains {
		out[i] = string(d)
	}
	return out
}

func toDomains(raw []string) []access.Domain {
	out := make([]access.Domain, 0, len(raw))
	for _, s := range raw {
		if d, err := access.ParseDomain(s); err == nil {
			out = append(out, d)
		}
	}
	return out
}
