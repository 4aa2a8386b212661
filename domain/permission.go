package domain

// PermissionLevel is the coarse authorization tier a user holds. It is
// derived once from identity-provider group membership when the session is
// created and never re-derived for the life of the credential; a group change
// upstream takes effect on next login.
type PermissionLevel string

const (
	PermissionAdmin      PermissionLevel = "admin"
	PermissionTechnician PermissionLevel = "technician"
	PermissionBilling    PermissionLevel = "billing"
	PermissionClient     PermissionLevel = "client"
)

var levelRank = map[PermissionLevel]int{
	PermissionClient:     0,
	PermissionBilling:    1,
	PermissionTechnician: 2,
	PermissionAdmin:      3,
}

// PermissionFromGroups maps group membership to a permission level. The
// highest matching tier wins; "client" is the default when no privileged
// group matches.
func PermissionFromGroups(groups []string) PermissionLevel {
	level := PermissionClient
	for _, g := range groups {
		var candidate PermissionLevel
		switch g {
		case "admins":
			candidate = PermissionAdmin
		case "technicians":
			candidate = PermissionTechnician
		case "billing":
			candidate = PermissionBilling
		default:
			continue
		}
		if levelRank[candidate] > levelRank[level] {
			level = candidate
		}
	}
	return level
}

// AtLeast reports whether l grants at least the privileges of other.
// Unknown levels rank below client.
func (l PermissionLevel) AtLeast(other PermissionLevel) bool {
	return levelRank[l] >= levelRank[other]
}

// Valid reports whether l is one of the four known tiers.
func (l PermissionLevel) Valid() bool {
	_, ok := levelRank[l]
	return ok
}
