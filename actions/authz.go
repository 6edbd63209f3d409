package actions

import (
	"context"

	"prism-kanban/domain"
)

// Action names a capability checked per project.
type Action string

const (
	ActionViewBoard      Action = "view board"
	ActionMoveTask       Action = "move tasks"
	ActionReorderColumns Action = "reorder columns"
)

// Roles a project member may hold.
const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
)

// Authorizer decides whether actor may perform action on project. A denial
// is reported as *domain.UnauthorizedError.
type Authorizer interface {
	Authorize(ctx context.Context, actorID, projectID string, action Action) error
}

// RoleLookup returns the actor's role in the project, or "" when the actor
// is not a member.
type RoleLookup interface {
	MemberRole(ctx context.Context, projectID, userID string) (string, error)
}

// Membership authorizes from project membership: viewers may read the
// board, editors may also mutate it.
type Membership struct {
	Roles RoleLookup
}

func (m Membership) Authorize(ctx context.Context, actorID, projectID string, action Action) error {
	if actorID == "" {
		return &domain.UnauthenticatedError{Reason: "missing user"}
	}
	role, err := m.Roles.MemberRole(ctx, projectID, actorID)
	if err != nil {
		return err
	}
	if allowed(role, action) {
		return nil
	}
	return &domain.UnauthorizedError{Actor: actorID, Action: string(action)}
}

func allowed(role string, action Action) bool {
	switch role {
	case RoleEditor:
		return true
	case RoleViewer:
		return action == ActionViewBoard
	default:
		return false
	}
}

// AllowAll grants every request. Used by local tooling and tests.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, string, string, Action) error { return nil }
