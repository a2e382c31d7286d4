package types

import "strings"

// Role is one of the closed set of marketplace roles
type Role string

const (
	RoleCustomer Role = "customer"
	RoleOwner    Role = "owner"
	RoleCourier  Role = "courier"
	RoleAdmin    Role = "admin"
)

// ParseRole maps an authority name to a Role. The "ROLE_" prefix some identity
// providers emit is tolerated.
func ParseRole(v string) (Role, error) {
	r := strings.ToLower(strings.TrimSpace(v))
	r = strings.TrimPrefix(r, "role_")
	switch Role(r) {
	case RoleCustomer, RoleOwner, RoleCourier, RoleAdmin:
		return Role(r), nil
	case "restaurant_owner":
		return RoleOwner, nil
	case "administrator":
		return RoleAdmin, nil
	}
	return "", Errorf("types.ParseRole", ErrValidation, "unknown role %q", v)
}

// Actor is the resolved identity every operation receives
type Actor struct {
	ID    int64
	Roles []Role
}

// NewActor builds an actor from raw role names
func NewActor(id int64, roles ...string) (Actor, error) {
	a := Actor{ID: id}
	for _, raw := range roles {
		r, err := ParseRole(raw)
		if err != nil {
			return Actor{}, err
		}
		a.Roles = append(a.Roles, r)
	}
	return a, nil
}

// Has reports whether the actor holds role
func (a Actor) Has(role Role) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin is shorthand for Has(RoleAdmin)
func (a Actor) IsAdmin() bool {
	return a.Has(RoleAdmin)
}
