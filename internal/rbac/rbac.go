package rbac

type Role string
type Action string

const (
	RoleVolunteer Role = "volunteer"
	RoleOrganizer Role = "organizer"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead      Action = "read"
	ActionLogImpact Action = "log_impact"
	ActionInvite    Action = "invite"
	ActionLink      Action = "link"
	ActionAdmin     Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleOrganizer:
		return action == ActionRead || action == ActionLogImpact || action == ActionInvite || action == ActionLink
	case RoleVolunteer:
		return action == ActionRead || action == ActionLogImpact || action == ActionInvite
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleVolunteer, RoleOrganizer, RoleAdmin:
		return Role(role)
	default:
		return RoleVolunteer
	}
}
