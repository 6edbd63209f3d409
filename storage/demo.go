package storage

import (
	"fmt"

	"prism-kanban/actions"
	"prism-kanban/domain"
)

// DemoProjectID identifies the board created by DemoBoard.
const DemoProjectID = "demo"

// DemoBoard returns a small three-column board used for local runs.
func DemoBoard() domain.Board {
	b := domain.Board{ProjectID: DemoProjectID}
	columns := []struct {
		id, name string
		tasks    []string
	}{
		{"todo", "To do", []string{"Write onboarding guide", "Triage bug reports", "Plan sprint"}},
		{"doing", "In progress", []string{"Board drag and drop", "Stream reconnects"}},
		{"done", "Done", []string{"Project scaffolding"}},
	}
	for i, c := range columns {
		b.Columns = append(b.Columns, domain.Column{ID: c.id, ProjectID: b.ProjectID, Name: c.name, Position: i})
		for pos, title := range c.tasks {
			b.Tasks = append(b.Tasks, domain.Task{
				ID:        fmt.Sprintf("%s-%d", c.id, pos+1),
				ProjectID: b.ProjectID,
				ColumnID:  c.id,
				Position:  pos,
				Title:     title,
				Done:      c.id == "done",
			})
		}
	}
	return b
}

// DemoMembers grants edit access to the given users.
func DemoMembers(users ...string) map[string]string {
	members := make(map[string]string, len(users))
	for _, u := range users {
		members[u] = actions.RoleEditor
	}
	return members
}
