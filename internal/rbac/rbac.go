package rbac

type Role string
type Action string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

const (
	ActionView   Action = "view"
	ActionEdit   Action = "edit"
	ActionManage Action = "manage"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleMember:
		return action == ActionView || action == ActionEdit
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleAdmin, RoleMember:
		return Role(role)
	default:
		return ""
	}
}
