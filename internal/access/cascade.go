package access

import (
	"database/sql/driver"
	"fmt"
)

// EmissionMode selects which company an invoice is emitted under.
type EmissionMode string

const (
	// EmitOwnCompany emits invoices under the subordinate's own fiscal identity.
	EmitOwnCompany EmissionMode = "own_company"
	// EmitManagerCompany emits invoices under the manager's fiscal identity.
	// Only meaningful with financial access and a manager holding a
	// registered fiscal identity.
	EmitManagerCompany EmissionMode = "manager_company"
)

// ParseEmissionMode validates a stored emission mode.
func ParseEmissionMode(s string) (EmissionMode, error) {
	switch EmissionMode(s) {
	case EmitOwnCompany, EmitManagerCompany:
		return EmissionMode(s), nil
	}
	return "", fmt.Errorf("unknown emission mode %q", s)
}

// Value implements driver.Valuer for database serialization
func (m EmissionMode) Value() (driver.Value, error) {
	return string(m), nil
}

// Scan implements sql.Scanner for database deserialization
func (m *EmissionMode) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*m = EmitOwnCompany
		return nil
	case string:
		parsed, err := ParseEmissionMode(v)
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	case []byte:
		parsed, err := ParseEmissionMode(string(v))
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	default:
		return fmt.Errorf("cannot scan %T into EmissionMode", value)
	}
}

// Autonomy carries the coarse flags that gate a subordinate's domain access.
// Both the hierarchy model (LevelPermissionSet) and the legacy model
// (SubordinateAutonomySettings) feed their flags through the same cascade so
// the two paths cannot diverge.
type Autonomy struct {
	ManagesOwnPatients bool
	HasFinancialAccess bool
	EmissionMode       EmissionMode
}

// Cascade computes a subordinate's access to a domain from the autonomy
// flags alone. This is the legacy-path resolution and the migration
// snapshot: when a subordinate does not manage their own patients, the
// clinical side routes through the manager; without financial access,
// sessions roll up into the manager's financial closing. Schedule stays at
// read for every subordinate regardless of flags, as the product has always
// behaved.
func Cascade(flags Autonomy, domain Domain) Level {
	switch domain {
	case DomainGeneral:
		return LevelFull
	case DomainMedia, DomainTeam:
		// Organization management only, never cascaded to subordinates.
		return LevelNone
	case DomainSchedule:
		return LevelRead
	case DomainClinical, DomainPatients:
		if flags.ManagesOwnPatients {
			return LevelFull
		}
		return LevelNone
	case DomainAdministrative:
		if flags.ManagesOwnPatients {
			return LevelRead
		}
		return LevelNone
	case DomainFinancial, DomainNFSe, DomainReports, DomainStatistics, DomainCharts:
		if flags.ManagesOwnPatients && flags.HasFinancialAccess {
			return LevelFull
		}
		return LevelNone
	}
	return LevelNone
}

// CascadeCap computes the ceiling the autonomy gates impose on a
// hierarchy-path grant. The stored LevelPermissionSet access level is
// degraded to at most this cap; domains the gates do not touch pass through
// unchanged.
func CascadeCap(flags Autonomy, domain Domain) Level {
	switch domain {
	case DomainMedia, DomainTeam:
		return LevelNone
	case DomainClinical, DomainPatients, DomainAdministrative:
		if flags.ManagesOwnPatients {
			return LevelFull
		}
		return LevelNone
	case DomainFinancial, DomainNFSe, DomainReports, DomainStatistics, DomainCharts:
		if flags.ManagesOwnPatients && flags.HasFinancialAccess {
			return LevelFull
		}
		return LevelNone
	}
	return LevelFull
}
