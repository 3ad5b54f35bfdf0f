package models

type Role string

const (
	RoleCitizen     Role = "CITIZEN"
	RoleFireStation Role = "FIRE_STATION"
	RolePolice      Role = "POLICE"
	RoleRedCrescent Role = "RED_CRESCENT"
	RoleAdmin       Role = "ADMIN"
)

type Capability int

const (
	CapUpdateStatus Capability = iota + 1
	CapViewAllReports
	CapViewNearby
	CapManageTags
)

var capabilities = map[Role][]Capability{
	RoleFireStation: {CapUpdateStatus, CapViewAllReports, CapViewNearby},
	RolePolice:      {CapUpdateStatus, CapViewAllReports, CapViewNearby},
	RoleRedCrescent: {CapUpdateStatus, CapViewAllReports, CapViewNearby},
	RoleAdmin:       {CapUpdateStatus, CapViewAllReports, CapViewNearby, CapManageTags},
}

func (r Role) Valid() bool {
	if r == RoleCitizen {
		return true
	}
	_, ok := capabilities[r]
	return ok
}

// Can reports whether r holds capability c.
func (r Role) Can(c Capability) bool {
	for _, have := range capabilities[r] {
		if have == c {
			return true
		}
	}
	return false
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	SubjectID string
	Role      Role
}
