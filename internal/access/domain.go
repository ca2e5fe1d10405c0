package access

import "fmt"

// Domain is a functional area subject to independent access control.
type Domain string

const (
	DomainFinancial      Domain = "financial"
	DomainAdministrative Domain = "administrative"
	DomainClinical       Domain = "clinical"
	DomainMedia          Domain = "media"
	DomainGeneral        Domain = "general"
	DomainCharts         Domain = "charts"
	DomainTeam           Domain = "team"
	DomainSchedule       Domain = "schedule"
	DomainPatients       Domain = "patients"
	DomainStatistics     Domain = "statistics"
	DomainReports        Domain = "reports"
	DomainNFSe           Domain = "nfse"
)

// Domains lists every domain in the closed set.
var Domains = []Domain{
	DomainFinancial,
	DomainAdministrative,
	DomainClinical,
	DomainMedia,
	DomainGeneral,
	DomainCharts,
	DomainTeam,
	DomainSchedule,
	DomainPatients,
	DomainStatistics,
	DomainReports,
	DomainNFSe,
}

var validDomains = func() map[Domain]bool {
	m := make(map[Domain]bool, len(Domains))
	for _, d := range Domains {
		m[d] = true
	}
	return m
}()

// ParseDomain validates a domain name against the closed set.
func ParseDomain(s string) (Domain, error) {
	d := Domain(s)
	if !validDomains[d] {
		return "", fmt.Errorf("unknown domain %q", s)
	}
	return d, nil
}

// String returns the domain name.
func (d Domain) String() string {
	return string(d)
}

// IsManagementOnly reports whether the domain is reserved for organization
// management and never granted to subordinate positions.
func (d Domain) IsManagementOnly() bool {
	return d == DomainMedia || d == DomainTeam
}

// RequiresAuthorization reports whether access to the domain must be
// resolved at all. The general domain is open to any authenticated user.
func (d Domain) RequiresAuthorization() bool {
	return d != DomainGeneral
}
