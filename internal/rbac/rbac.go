// Package rbac maps roles to the annotation actions they may perform.
package rbac

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
)

const (
	ActionRead    Action = "read"
	ActionVote    Action = "vote"
	ActionComment Action = "comment"
	ActionQuote   Action = "quote"
	ActionPost    Action = "post"
	ActionExport  Action = "export"
)

var grants = map[Role]map[Action]bool{
	RoleViewer: {ActionRead: true},
	RoleMember: {
		ActionRead:    true,
		ActionVote:    true,
		ActionComment: true,
		ActionQuote:   true,
		ActionPost:    true,
	},
}

func Can(role Role, action Action) bool {
	if role == RoleModerator {
		return true
	}
	return grants[role][action]
}

// ForAnnotation maps an annotation type (up, down, comment, quote) to the
// action that guards it.
func ForAnnotation(kind string) Action {
	switch kind {
	case "up", "down":
		return ActionVote
	case "comment":
		return ActionComment
	case "quote":
		return ActionQuote
	default:
		return ""
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleMember, RoleModerator:
		return Role(role)
	default:
		return RoleViewer
	}
}
