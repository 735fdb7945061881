package auth

import "sort"

// Permission names one gated portal operation.
type Permission string

const (
	PermApplicationCreate  Permission = "application.create"
	PermApplicationViewOwn Permission = "application.view.own"
	PermApplicationViewAll Permission = "application.view.all"
	PermApplicationDecide  Permission = "application.decide"
	PermSchemeCreate       Permission = "scheme.create"
	PermSchemeView         Permission = "scheme.view"
	PermSchemeStats        Permission = "scheme.stats"
	PermEventsSubscribe    Permission = "events.subscribe"
)

// PermissionInfo documents a permission for the /v1/me response.
type PermissionInfo struct {
	Key         Permission `json:"key"`
	Description string     `json:"description"`
}

var BuiltinPermissions = []PermissionInfo{
	{Key: PermApplicationCreate, Description: "Apply for a welfare scheme"},
	{Key: PermApplicationViewOwn, Description: "View the status of own applications"},
	{Key: PermApplicationViewAll, Description: "View every submitted application"},
	{Key: PermApplicationDecide, Description: "Approve or reject pending applications"},
	{Key: PermSchemeCreate, Description: "Add welfare schemes to the registry"},
	{Key: PermSchemeView, Description: "List welfare schemes"},
	{Key: PermSchemeStats, Description: "View application counts per scheme"},
	{Key: PermEventsSubscribe, Description: "Receive workflow events"},
}

// The three sets are disjoint on every mutating permission; there is no super-role.
var capabilitySets = map[Role][]Permission{
	RoleCitizen: {
		PermApplicationCreate,
		PermApplicationViewOwn,
		PermSchemeView,
		PermEventsSubscribe,
	},
	RoleOfficer: {
		PermApplicationViewAll,
		PermApplicationDecide,
		PermSchemeView,
		PermEventsSubscribe,
	},
	RoleAdministrator: {
		PermSchemeCreate,
		PermSchemeView,
		PermSchemeStats,
		PermEventsSubscribe,
	},
}

// Capabilities is the resolved permission set of one role.
type Capabilities struct {
	Role  Role
	perms map[Permission]struct{}
}

// CapabilitiesFor returns the capability set of role. Unknown roles get an empty set.
func CapabilitiesFor(role Role) Capabilities {
	list := capabilitySets[role]
	set := make(map[Permission]struct{}, len(list))
	for _, p := range list {
		set[p] = struct{}{}
	}
	return Capabilities{Role: role, perms: set}
}

// Has reports whether the set grants p.
func (c Capabilities) Has(p Permission) bool {
	_, ok := c.perms[p]
	return ok
}

// Empty is true for unrecognized roles.
func (c Capabilities) Empty() bool { return len(c.perms) == 0 }

// List returns the granted permissions sorted by key.
func (c Capabilities) List() []Permission {
	out := make([]Permission, 0, len(c.perms))
	for p := range c.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
