package auth

// Role represents a coarse user role in the platform. Roles are issued by
// the external authentication layer; this core only consumes them.
type Role string

const (
	// RoleAdmin has unconditional full access to every domain.
	RoleAdmin Role = "admin"
	// RoleAccountant serves one or more therapists' financial domains and is
	// hard-denied everywhere clinical.
	RoleAccountant Role = "accountant"
	// RoleFullTherapist owns an organization or holds a rank-1 position.
	RoleFullTherapist Role = "full_therapist"
	// RoleSubordinate works under a manager, in either the legacy or the
	// hierarchy model.
	RoleSubordinate Role = "subordinate"
)

// RoleFlags is the coarse role view the resolution engine consumes. It is
// derived from claims once per request; resolution itself never reads
// ambient state.
type RoleFlags struct {
	IsAdmin         bool `json:"is_admin"`
	IsAccountant    bool `json:"is_accountant"`
	IsFullTherapist bool `json:"is_full_therapist"`
	IsSubordinate   bool `json:"is_subordinate"`
}

// FlagsForRoles derives RoleFlags from a role list.
func FlagsForRoles(roles []Role) RoleFlags {
	var f RoleFlags
	for _, r := range roles {
		switch r {
		case RoleAdmin:
			f.IsAdmin = true
		case RoleAccountant:
			f.IsAccountant = true
		case RoleFullTherapist:
			f.IsFullTherapist = true
		case RoleSubordinate:
			f.IsSubordinate = true
		}
	}
	return f
}

// HasAnyRole checks if the user has any of the specified roles.
func HasAnyRole(userRoles []Role, requiredRoles ...Role) bool {
	for _, ur := range userRoles {
		for _, rr := range requiredRoles {
			if ur == rr {
				return true
			}
		}
	}
	return false
}
