package client

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	log "github.com/sirupsen/logrus"

	"prism-kanban/domain"
)

// Mutator sends board mutations to the server. *HTTPClient implements it.
type Mutator interface {
	MoveTask(ctx context.Context, projectID string, req MoveTaskInput) (domain.ActionResult[domain.TaskMovedEvent], error)
	ReorderColumns(ctx context.Context, projectID string, req ReorderColumnsInput) (domain.ActionResult[domain.ColumnsReorderedEvent], error)
}

// MoveTaskInput is the body of a task move request.
type MoveTaskInput struct {
	TaskID           string
	ColumnID         string
	Position         int
	ClientMutationID string
}

// ReorderColumnsInput is the body of a column reorder request.
type ReorderColumnsInput struct {
	ColumnIDs        []string
	ClientMutationID string
}

// DragState is the phase of a drag gesture. Drops and cancels return the
// controller to Idle.
type DragState int

const (
	Idle DragState = iota
	Dragging
)

func (s DragState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dragging:
		return "dragging"
	default:
		return fmt.Sprintf("DragState(%d)", int(s))
	}
}

var (
	ErrDragInProgress = errors.New("a drag is already in progress")
	ErrNoDrag         = errors.New("no drag in progress")
	ErrWrongDragKind  = errors.New("drop does not match the dragged item")
)

type dragKind int

const (
	dragTask dragKind = iota + 1
	dragColumn
)

type drag struct {
	kind           dragKind
	itemID         string
	originColumn   string
	originPosition int
}

// Controller turns drag gestures into optimistic store changes and server
// mutations. One gesture runs at a time.
type Controller struct {
	mu        sync.Mutex
	state     DragState
	current   *drag
	projectID string
	store     *Store
	mutator   Mutator
	logger    *log.Logger
}

func NewController(projectID string, store *Store, mutator Mutator, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Controller{projectID: projectID, store: store, mutator: mutator, logger: logger}
}

// State reports the current phase.
func (c *Controller) State() DragState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// BeginTaskDrag starts dragging a task from its current place in the view.
func (c *Controller) BeginTaskDrag(taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Dragging {
		return ErrDragInProgress
	}
	task, ok := c.store.View().Task(taskID)
	if !ok {
		return &domain.NotFoundError{Entity: "task", ID: taskID}
	}
	c.current = &drag{kind: dragTask, itemID: taskID, originColumn: task.ColumnID, originPosition: task.Position}
	c.state = Dragging
	return nil
}

// BeginColumnDrag starts dragging a column.
func (c *Controller) BeginColumnDrag(columnID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Dragging {
		return ErrDragInProgress
	}
	pos := slices.Index(c.store.View().ColumnIDs(), columnID)
	if pos < 0 {
		return &domain.NotFoundError{Entity: "column", ID: columnID}
	}
	c.current = &drag{kind: dragColumn, itemID: columnID, originPosition: pos}
	c.state = Dragging
	return nil
}

// Cancel abandons the gesture without changing the board.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Dragging {
		return
	}
	c.current = nil
	c.state = Idle
}

// finish ends the gesture of the given kind and returns it.
func (c *Controller) finish(kind dragKind) (*drag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Dragging || c.current == nil {
		return nil, ErrNoDrag
	}
	if c.current.kind != kind {
		return nil, ErrWrongDragKind
	}
	d := c.current
	c.current = nil
	c.state = Idle
	return d, nil
}

// Drop places the dragged task at insertIndex among the target column's
// tasks, not counting the dragged task. Dropping on the origin is a no-op.
// The returned error covers local problems only; server rejections are
// rolled back through the store and reported via its OnError callback.
func (c *Controller) Drop(ctx context.Context, targetColumnID string, insertIndex int) error {
	d, err := c.finish(dragTask)
	if err != nil {
		return err
	}
	view := c.store.View()
	if !view.HasColumn(targetColumnID) {
		return &domain.NotFoundError{Entity: "column", ID: targetColumnID}
	}
	others, _ := domain.RemoveID(view.TaskIDs(targetColumnID), d.itemID)
	pos := domain.ClampIndex(insertIndex, len(others))
	if targetColumnID == d.originColumn && pos == d.originPosition {
		return nil
	}

	marker, err := c.store.ApplyOptimisticMove(d.itemID, targetColumnID, pos)
	if err != nil {
		return err
	}
	res, err := c.mutator.MoveTask(ctx, c.projectID, MoveTaskInput{
		TaskID:           d.itemID,
		ColumnID:         targetColumnID,
		Position:         pos,
		ClientMutationID: marker,
	})
	if err == nil {
		err = res.Err()
	}
	var ev domain.Event
	if err == nil && res.Data != nil {
		ev = res.Data
	}
	c.settle(marker, ev, err)
	return nil
}

// DropColumn places the dragged column at insertIndex among the other
// columns.
func (c *Controller) DropColumn(ctx context.Context, insertIndex int) error {
	d, err := c.finish(dragColumn)
	if err != nil {
		return err
	}
	others, _ := domain.RemoveID(c.store.View().ColumnIDs(), d.itemID)
	pos := domain.ClampIndex(insertIndex, len(others))
	if pos == d.originPosition {
		return nil
	}
	ordered := domain.InsertID(others, d.itemID, pos)

	marker, err := c.store.ApplyOptimisticReorder(ordered)
	if err != nil {
		return err
	}
	res, err := c.mutator.ReorderColumns(ctx, c.projectID, ReorderColumnsInput{
		ColumnIDs:        ordered,
		ClientMutationID: marker,
	})
	if err == nil {
		err = res.Err()
	}
	var ev domain.Event
	if err == nil && res.Data != nil {
		ev = res.Data
	}
	c.settle(marker, ev, err)
	return nil
}

// settle confirms or rolls back one optimistic change. A confirmed event
// goes through the store like any remote event so the later stream echo
// is recognized as stale.
func (c *Controller) settle(marker string, ev domain.Event, failure error) {
	if failure != nil {
		c.logger.WithFields(log.Fields{
			"project": c.projectID,
			"marker":  marker,
			"error":   failure,
		}).Warn("board mutation rejected, rolling back")
		c.store.ReconcileFailure(marker, failure)
		return
	}
	if ev != nil {
		c.store.ApplyRemoteEvent(ev)
	}
}
