package actions

import (
	"context"
	"errors"
	"sort"

	"prism-kanban/domain"
)

type fakeStore struct {
	boards map[string]*domain.Board
	failOn string
	txs    int
}

func newFakeStore(boards ...domain.Board) *fakeStore {
	f := &fakeStore{boards: map[string]*domain.Board{}}
	for i := range boards {
		b := boards[i]
		f.boards[b.ProjectID] = &b
	}
	return f
}

func (f *fakeStore) FindTaskProject(ctx context.Context, taskID string) (string, error) {
	for id, b := range f.boards {
		if _, ok := b.Task(taskID); ok {
			return id, nil
		}
	}
	return "", &domain.NotFoundError{Entity: "task", ID: taskID}
}

func (f *fakeStore) WithinProjectTx(ctx context.Context, projectID string, fn func(tx Tx) error) error {
	b, ok := f.boards[projectID]
	if !ok {
		return &domain.NotFoundError{Entity: "project", ID: projectID}
	}
	f.txs++
	work := b.Clone()
	if err := fn(&fakeTx{f: f, board: &work}); err != nil {
		return err
	}
	f.boards[projectID] = &work
	return nil
}

type fakeTx struct {
	f     *fakeStore
	board *domain.Board
}

func (t *fakeTx) fail(op string) error {
	if t.f.failOn == op {
		return &domain.DatabaseOperationError{Op: op, Err: errors.New("connection reset")}
	}
	return nil
}

func (t *fakeTx) Task(taskID string) (domain.Task, error) {
	if err := t.fail("load task"); err != nil {
		return domain.Task{}, err
	}
	task, ok := t.board.Task(taskID)
	if !ok {
		return domain.Task{}, &domain.NotFoundError{Entity: "task", ID: taskID}
	}
	return task, nil
}

func (t *fakeTx) ColumnIDs() ([]string, error) {
	if err := t.fail("list columns"); err != nil {
		return nil, err
	}
	return t.board.ColumnIDs(), nil
}

func (t *fakeTx) TaskIDs(columnID string) ([]string, error) {
	if err := t.fail("list tasks"); err != nil {
		return nil, err
	}
	return t.board.TaskIDs(columnID), nil
}

func (t *fakeTx) PlaceTasks(columnID string, ordered []string) error {
	if err := t.fail("place tasks"); err != nil {
		return err
	}
	for pos, id := range ordered {
		for i := range t.board.Tasks {
			if t.board.Tasks[i].ID == id {
				t.board.Tasks[i].ColumnID = columnID
				t.board.Tasks[i].Position = pos
			}
		}
	}
	return nil
}

func (t *fakeTx) PlaceColumns(ordered []string) error {
	if err := t.fail("place columns"); err != nil {
		return err
	}
	for pos, id := range ordered {
		for i := range t.board.Columns {
			if t.board.Columns[i].ID == id {
				t.board.Columns[i].Position = pos
			}
		}
	}
	sort.SliceStable(t.board.Columns, func(i, j int) bool { return t.board.Columns[i].Position < t.board.Columns[j].Position })
	return nil
}

func (t *fakeTx) BumpRevision() (int64, error) {
	if err := t.fail("bump revision"); err != nil {
		return 0, err
	}
	t.board.Revision++
	return t.board.Revision, nil
}

type recordingPublisher struct {
	events []domain.Event
}

func (p *recordingPublisher) Publish(ev domain.Event) { p.events = append(p.events, ev) }

type fakeRoles map[string]string

func (r fakeRoles) MemberRole(ctx context.Context, projectID, userID string) (string, error) {
	return r[projectID+"/"+userID], nil
}

// board builds a project board from column ids in order and the task ids
// of each column in order.
func board(projectID string, columns []string, tasks map[string][]string) domain.Board {
	b := domain.Board{ProjectID: projectID}
	for i, col := range columns {
		b.Columns = append(b.Columns, domain.Column{ID: col, ProjectID: projectID, Name: col, Position: i})
		for pos, id := range tasks[col] {
			b.Tasks = append(b.Tasks, domain.Task{ID: id, ProjectID: projectID, ColumnID: col, Position: pos, Title: id})
		}
	}
	return b
}
