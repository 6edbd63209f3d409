package storage

import (
	"context"
	"sort"
	"sync"

	"prism-kanban/actions"
	"prism-kanban/domain"
)

// Memory is a process-local board store for development and tests. One
// mutex serializes every transaction.
type Memory struct {
	mu      sync.Mutex
	boards  map[string]*domain.Board
	members map[string]map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		boards:  map[string]*domain.Board{},
		members: map[string]map[string]string{},
	}
}

// Seed stores a copy of board and its members, replacing any previous
// state for the project.
func (m *Memory) Seed(board domain.Board, members map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := board.Clone()
	for i := range b.Tasks {
		b.Tasks[i].ProjectID = b.ProjectID
	}
	recount(&b)
	m.boards[b.ProjectID] = &b
	roles := make(map[string]string, len(members))
	for user, role := range members {
		roles[user] = role
	}
	m.members[b.ProjectID] = roles
}

func (m *Memory) FindTaskProject(ctx context.Context, taskID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, b := range m.boards {
		if _, ok := b.Task(taskID); ok {
			return id, nil
		}
	}
	return "", &domain.NotFoundError{Entity: "task", ID: taskID}
}

func (m *Memory) WithinProjectTx(ctx context.Context, projectID string, fn func(tx actions.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[projectID]
	if !ok {
		return &domain.NotFoundError{Entity: "project", ID: projectID}
	}
	if err := ctx.Err(); err != nil {
		return &domain.DatabaseOperationError{Op: "begin", Err: err}
	}
	work := b.Clone()
	if err := fn(&memTx{board: &work}); err != nil {
		return err
	}
	recount(&work)
	m.boards[projectID] = &work
	return nil
}

func (m *Memory) Board(ctx context.Context, projectID string) (domain.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[projectID]
	if !ok {
		return domain.Board{}, &domain.NotFoundError{Entity: "project", ID: projectID}
	}
	return b.Clone(), nil
}

func (m *Memory) MemberRole(ctx context.Context, projectID, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.boards[projectID]; !ok {
		return "", &domain.NotFoundError{Entity: "project", ID: projectID}
	}
	return m.members[projectID][userID], nil
}

func recount(b *domain.Board) {
	counts := make(map[string]int, len(b.Columns))
	for _, t := range b.Tasks {
		counts[t.ColumnID]++
	}
	for i := range b.Columns {
		b.Columns[i].TaskCount = counts[b.Columns[i].ID]
	}
	sort.SliceStable(b.Columns, func(i, j int) bool { return b.Columns[i].Position < b.Columns[j].Position })
}

type memTx struct {
	board *domain.Board
}

func (t *memTx) Task(taskID string) (domain.Task, error) {
	task, ok := t.board.Task(taskID)
	if !ok {
		return domain.Task{}, &domain.NotFoundError{Entity: "task", ID: taskID}
	}
	return task, nil
}

func (t *memTx) ColumnIDs() ([]string, error) { return t.board.ColumnIDs(), nil }

func (t *memTx) TaskIDs(columnID string) ([]string, error) { return t.board.TaskIDs(columnID), nil }

func (t *memTx) PlaceTasks(columnID string, ordered []string) error {
	index := make(map[string]int, len(t.board.Tasks))
	for i, task := range t.board.Tasks {
		index[task.ID] = i
	}
	for pos, id := range ordered {
		i, ok := index[id]
		if !ok {
			return &domain.NotFoundError{Entity: "task", ID: id}
		}
		t.board.Tasks[i].ColumnID = columnID
		t.board.Tasks[i].Position = pos
	}
	return nil
}

func (t *memTx) PlaceColumns(ordered []string) error {
	index := make(map[string]int, len(t.board.Columns))
	for i, c := range t.board.Columns {
		index[c.ID] = i
	}
	for pos, id := range ordered {
		i, ok := index[id]
		if !ok {
			return &domain.NotFoundError{Entity: "column", ID: id}
		}
		t.board.Columns[i].Position = pos
	}
	return nil
}

func (t *memTx) BumpRevision() (int64, error) {
	t.board.Revision++
	return t.board.Revision, nil
}
