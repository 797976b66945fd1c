package domain

type Role string

const (
	RoleClient Role = "client"
	RoleVendor Role = "vendor"
	RoleAdmin  Role = "admin"
	// RoleSystem is never resolved from a request; the payment adapter acts with it.
	RoleSystem Role = "system"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleClient, RoleVendor, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// Actor is the capability every core operation receives explicitly.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// SystemActor is used for provider-driven transitions.
var SystemActor = Actor{ID: "system", Role: RoleSystem}
