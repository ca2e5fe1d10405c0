// Package sharing implements the data-sharing overlay: peer-to-peer grants
// between same-level users and level-wide grants set by the organization
// owner. The overlay only ever adds access; it can never remove it.
package sharing

import (
	"time"

	"github.com/praxia-health/platform/internal/access"
	"github.com/praxia-health/platform/internal/shared/types"
)

// PeerSharing is a grant from one user to another at the same level. A
// bidirectional grant shares in both directions; domains are shared at full
// visibility or not at all.
type PeerSharing struct {
	ID              types.ID        `json:"id"`
	OrganizationID  types.ID        `json:"organization_id"`
	OwnerID         types.ID        `json:"owner_id"`
	ReceiverID      types.ID        `json:"receiver_id"`
	Domains         []access.Domain `json:"domains"`
	IsBidirectional bool            `json:"is_bidirectional"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LevelSharing lists the domains shared among all members of a level.
// Mutable only by the organization owner.
type LevelSharing struct {
	LevelID   types.ID        `json:"level_id"`
	Domains   []access.Domain `json:"domains"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// UpsertPeerSharingRequest creates or updates an outgoing grant
type UpsertPeerSharingRequest struct {
	ReceiverID      string   `json:"receiver_id"`
	Domains         []string `json:"domains"`
	IsBidirectional bool     `json:"is_bidirectional"`
}

// SetLevelSharingRequest replaces a level's shared-domain list
type SetLevelSharingRequest struct {
	Domains []string `json:"domains"`
}

func parseDomains(raw []string) ([]access.Domain, map[string]string) {
	domains := make([]access.Domain, 0, len(raw))
	details := map[string]string{}
	for _, s := range raw {
		d, err := access.ParseDomain(s)
		if err != nil {
			details[s] = err.Error()
			continue
		}
		domains = append(domains, d)
	}
	if len(details) > 0 {
		return nil, details
	}
	return domains, nil
}
