package client

import (
	"context"
	"errors"
	"slices"
	"testing"

	"prism-kanban/domain"
	"prism-kanban/storage"
)

// fakeMutator commits against its own copy of the board, like a server
// with no other writers.
type fakeMutator struct {
	board    domain.Board
	moves    []MoveTaskInput
	reorders []ReorderColumnsInput
	reject   error
	fail     error
	// beforeReply runs after the server commits and before the reply
	// arrives, standing in for the stream delivering the echo first.
	beforeReply func(domain.Event)
}

func newFakeMutator() *fakeMutator {
	return &fakeMutator{board: storage.DemoBoard()}
}

func (f *fakeMutator) MoveTask(_ context.Context, projectID string, in MoveTaskInput) (domain.ActionResult[domain.TaskMovedEvent], error) {
	f.moves = append(f.moves, in)
	if f.fail != nil {
		return domain.ActionResult[domain.TaskMovedEvent]{}, f.fail
	}
	if f.reject != nil {
		return domain.Fail[domain.TaskMovedEvent](f.reject), nil
	}
	task, _ := f.board.Task(in.TaskID)
	f.board.MoveTask(in.TaskID, in.ColumnID, in.Position)
	f.board.Revision++
	ev := domain.TaskMovedEvent{
		Type:             domain.EventTaskMoved,
		TaskID:           in.TaskID,
		FromColumnID:     task.ColumnID,
		ToColumnID:       in.ColumnID,
		NewPosition:      in.Position,
		ProjectID:        projectID,
		UserID:           "alice",
		Revision:         f.board.Revision,
		ClientMutationID: in.ClientMutationID,
	}
	if f.beforeReply != nil {
		f.beforeReply(&ev)
	}
	return domain.Ok(ev), nil
}

func (f *fakeMutator) ReorderColumns(_ context.Context, projectID string, in ReorderColumnsInput) (domain.ActionResult[domain.ColumnsReorderedEvent], error) {
	f.reorders = append(f.reorders, in)
	if f.fail != nil {
		return domain.ActionResult[domain.ColumnsReorderedEvent]{}, f.fail
	}
	if f.reject != nil {
		return domain.Fail[domain.ColumnsReorderedEvent](f.reject), nil
	}
	f.board.ReorderColumns(in.ColumnIDs)
	f.board.Revision++
	return domain.Ok(domain.ColumnsReorderedEvent{
		Type:             domain.EventColumnsReordered,
		ProjectID:        projectID,
		OrderedColumnIDs: slices.Clone(in.ColumnIDs),
		UserID:           "alice",
		Revision:         f.board.Revision,
		ClientMutationID: in.ClientMutationID,
	}), nil
}

type controllerEnv struct {
	store   *Store
	mutator *fakeMutator
	ctrl    *Controller
	errs    []error
}

func newControllerEnv(t *testing.T) *controllerEnv {
	t.Helper()
	env := &controllerEnv{mutator: newFakeMutator()}
	env.store = newTestStore(t, StoreOptions{OnError: func(_ string, err error) {
		env.errs = append(env.errs, err)
	}})
	env.ctrl = NewController(storage.DemoProjectID, env.store, env.mutator, nil)
	return env
}

func TestDropMovesTaskAndConfirms(t *testing.T) {
	env := newControllerEnv(t)
	if err := env.ctrl.BeginTaskDrag("todo-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if env.ctrl.State() != Dragging {
		t.Fatalf("state = %v", env.ctrl.State())
	}
	if err := env.ctrl.Drop(context.Background(), "doing", 1); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if env.ctrl.State() != Idle {
		t.Fatalf("state after drop = %v", env.ctrl.State())
	}
	expectTasks(t, env.store, "doing", "doing-1", "todo-1", "doing-2")
	if len(env.store.Pending()) != 0 || env.store.Revision() != 1 {
		t.Fatalf("pending=%d rev=%d", len(env.store.Pending()), env.store.Revision())
	}
	if len(env.mutator.moves) != 1 {
		t.Fatalf("moves sent = %d", len(env.mutator.moves))
	}
	sent := env.mutator.moves[0]
	if sent.ClientMutationID == "" || sent.Position != 1 || sent.ColumnID != "doing" {
		t.Fatalf("sent %+v", sent)
	}
}

func TestDropAfterEchoArrivedFirst(t *testing.T) {
	env := newControllerEnv(t)
	env.mutator.beforeReply = env.store.ApplyRemoteEvent
	if err := env.ctrl.BeginTaskDrag("doing-2"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := env.ctrl.Drop(context.Background(), "todo", 0); err != nil {
		t.Fatalf("drop: %v", err)
	}
	expectTasks(t, env.store, "todo", "doing-2", "todo-1", "todo-2", "todo-3")
	if env.store.Revision() != 1 || len(env.store.Pending()) != 0 {
		t.Fatalf("rev=%d pending=%d", env.store.Revision(), len(env.store.Pending()))
	}
}

func TestDropClampsInsertIndex(t *testing.T) {
	env := newControllerEnv(t)
	if err := env.ctrl.BeginTaskDrag("todo-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := env.ctrl.Drop(context.Background(), "done", 42); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if got := env.mutator.moves[0].Position; got != 1 {
		t.Fatalf("position = %d, want 1", got)
	}
	expectTasks(t, env.store, "done", "done-1", "todo-1")
}

func TestDropOnOriginIsNoop(t *testing.T) {
	env := newControllerEnv(t)
	if err := env.ctrl.BeginTaskDrag("todo-3"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := env.ctrl.Drop(context.Background(), "todo", 10); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if len(env.mutator.moves) != 0 || len(env.store.Pending()) != 0 {
		t.Fatalf("no-op drop sent %d moves", len(env.mutator.moves))
	}
	if env.ctrl.State() != Idle {
		t.Fatalf("state = %v", env.ctrl.State())
	}
}

func TestRejectedDropRollsBack(t *testing.T) {
	env := newControllerEnv(t)
	env.mutator.reject = &domain.UnauthorizedError{Actor: "alice", Action: "move tasks"}
	if err := env.ctrl.BeginTaskDrag("todo-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := env.ctrl.Drop(context.Background(), "done", 0); err != nil {
		t.Fatalf("drop: %v", err)
	}
	expectTasks(t, env.store, "todo", "todo-1", "todo-2", "todo-3")
	expectTasks(t, env.store, "done", "done-1")
	if len(env.errs) != 1 {
		t.Fatalf("errors surfaced = %d", len(env.errs))
	}
	var res *domain.ResultError
	if !errors.As(env.errs[0], &res) || res.Code != domain.CodeUnauthorized {
		t.Fatalf("error = %#v", env.errs[0])
	}
}

func TestTransportFailureRollsBack(t *testing.T) {
	env := newControllerEnv(t)
	env.mutator.fail = errors.New("connection refused")
	if err := env.ctrl.BeginColumnDrag("done"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := env.ctrl.DropColumn(context.Background(), 0); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if got := env.store.View().ColumnIDs(); !slices.Equal(got, []string{"todo", "doing", "done"}) {
		t.Fatalf("columns = %v", got)
	}
	if len(env.errs) != 1 || !errors.Is(env.errs[0], env.mutator.fail) {
		t.Fatalf("errors = %v", env.errs)
	}
}

func TestDropColumnReorders(t *testing.T) {
	env := newControllerEnv(t)
	if err := env.ctrl.BeginColumnDrag("todo"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := env.ctrl.DropColumn(context.Background(), 5); err != nil {
		t.Fatalf("drop: %v", err)
	}
	want := []string{"doing", "done", "todo"}
	if got := env.mutator.reorders[0].ColumnIDs; !slices.Equal(got, want) {
		t.Fatalf("sent %v, want %v", got, want)
	}
	if got := env.store.View().ColumnIDs(); !slices.Equal(got, want) {
		t.Fatalf("columns = %v", got)
	}
	if env.store.Revision() != 1 || len(env.store.Pending()) != 0 {
		t.Fatalf("rev=%d pending=%d", env.store.Revision(), len(env.store.Pending()))
	}
}

func TestDragStateMachine(t *testing.T) {
	env := newControllerEnv(t)
	ctx := context.Background()
	if err := env.ctrl.Drop(ctx, "todo", 0); !errors.Is(err, ErrNoDrag) {
		t.Fatalf("drop without drag err = %v", err)
	}
	if err := env.ctrl.BeginTaskDrag("ghost"); err == nil {
		t.Fatal("unknown task drag started")
	}
	if err := env.ctrl.BeginTaskDrag("todo-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := env.ctrl.BeginColumnDrag("todo"); !errors.Is(err, ErrDragInProgress) {
		t.Fatalf("second drag err = %v", err)
	}
	if err := env.ctrl.DropColumn(ctx, 0); !errors.Is(err, ErrWrongDragKind) {
		t.Fatalf("column drop of a task err = %v", err)
	}
	env.ctrl.Cancel()
	if env.ctrl.State() != Idle {
		t.Fatalf("state after cancel = %v", env.ctrl.State())
	}
	if err := env.ctrl.Drop(ctx, "done", 0); !errors.Is(err, ErrNoDrag) {
		t.Fatalf("drop after cancel err = %v", err)
	}
	if len(env.mutator.moves)+len(env.mutator.reorders) != 0 || len(env.store.Pending()) != 0 {
		t.Fatal("cancelled drag changed the board")
	}
}
