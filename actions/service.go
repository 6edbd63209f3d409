package actions

import (
	"context"
	"fmt"
	"slices"

	log "github.com/sirupsen/logrus"

	"prism-kanban/domain"
)

// MoveTaskRequest asks to place a task at TargetPosition of TargetColumnID.
// When ProjectID is set the task must belong to that project.
type MoveTaskRequest struct {
	ProjectID        string
	TaskID           string
	TargetColumnID   string
	TargetPosition   int
	ActorID          string
	ClientMutationID string
}

// ReorderColumnsRequest asks to order a project's columns as listed.
type ReorderColumnsRequest struct {
	ProjectID        string
	OrderedColumnIDs []string
	ActorID          string
	ClientMutationID string
}

// Service runs board mutations: authorize, persist in one transaction,
// then publish the committed event.
type Service struct {
	store Store
	authz Authorizer
	pub   Publisher
	log   *log.Logger
}

func NewService(store Store, authz Authorizer, pub Publisher, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{store: store, authz: authz, pub: pub, log: logger}
}

// MoveTask relocates a task and renumbers the affected columns. Exactly one
// TaskMovedEvent is published when the transaction commits.
func (s *Service) MoveTask(ctx context.Context, req MoveTaskRequest) (res domain.ActionResult[domain.TaskMovedEvent]) {
	entry := s.log.WithFields(log.Fields{
		"action": "move_task",
		"task":   req.TaskID,
		"column": req.TargetColumnID,
		"actor":  req.ActorID,
	})
	defer func() {
		if r := recover(); r != nil {
			entry.WithField("panic", r).Error("move task panicked")
			res = domain.Fail[domain.TaskMovedEvent](fmt.Errorf("move task: %v", r))
		}
	}()

	ev, err := s.moveTask(ctx, req)
	if err != nil {
		entry.WithError(err).WithField("outcome", domain.Classify(err)).Warn("move task rejected")
		return domain.Fail[domain.TaskMovedEvent](err)
	}
	s.publish(ev)
	entry.WithFields(log.Fields{
		"project":  ev.ProjectID,
		"revision": ev.Revision,
		"outcome":  "ok",
	}).Info("task moved")
	return domain.Ok(*ev)
}

func (s *Service) moveTask(ctx context.Context, req MoveTaskRequest) (*domain.TaskMovedEvent, error) {
	if req.ActorID == "" {
		return nil, &domain.UnauthenticatedError{Reason: "missing user"}
	}
	var problems []string
	if req.TaskID == "" {
		problems = append(problems, "taskId is required")
	}
	if req.TargetColumnID == "" {
		problems = append(problems, "columnId is required")
	}
	if req.TargetPosition < 0 {
		problems = append(problems, fmt.Sprintf("position %d must not be negative", req.TargetPosition))
	}
	if len(problems) > 0 {
		return nil, domain.NewValidationError(problems...)
	}

	projectID, err := s.store.FindTaskProject(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if req.ProjectID != "" && req.ProjectID != projectID {
		return nil, &domain.NotFoundError{Entity: "task", ID: req.TaskID}
	}
	if err := s.authz.Authorize(ctx, req.ActorID, projectID, ActionMoveTask); err != nil {
		return nil, err
	}

	var ev *domain.TaskMovedEvent
	err = s.store.WithinProjectTx(ctx, projectID, func(tx Tx) error {
		task, err := tx.Task(req.TaskID)
		if err != nil {
			return err
		}
		if task.ProjectID != projectID {
			return &domain.NotFoundError{Entity: "task", ID: req.TaskID}
		}
		columns, err := tx.ColumnIDs()
		if err != nil {
			return err
		}
		if !slices.Contains(columns, req.TargetColumnID) {
			return &domain.NotFoundError{Entity: "column", ID: req.TargetColumnID}
		}

		source, err := tx.TaskIDs(task.ColumnID)
		if err != nil {
			return err
		}
		source, _ = domain.RemoveID(source, task.ID)
		dest := source
		if req.TargetColumnID != task.ColumnID {
			if dest, err = tx.TaskIDs(req.TargetColumnID); err != nil {
				return err
			}
		}
		if req.TargetPosition > len(dest) {
			return domain.NewValidationError(fmt.Sprintf("position %d is outside 0..%d of column %s",
				req.TargetPosition, len(dest), req.TargetColumnID))
		}
		dest = domain.InsertID(dest, task.ID, req.TargetPosition)

		if req.TargetColumnID != task.ColumnID {
			if err := tx.PlaceTasks(task.ColumnID, source); err != nil {
				return err
			}
		}
		if err := tx.PlaceTasks(req.TargetColumnID, dest); err != nil {
			return err
		}
		rev, err := tx.BumpRevision()
		if err != nil {
			return err
		}
		ev = &domain.TaskMovedEvent{
			Type:             domain.EventTaskMoved,
			TaskID:           task.ID,
			FromColumnID:     task.ColumnID,
			ToColumnID:       req.TargetColumnID,
			NewPosition:      req.TargetPosition,
			ProjectID:        projectID,
			UserID:           req.ActorID,
			Revision:         rev,
			ClientMutationID: req.ClientMutationID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// ReorderColumns assigns column positions following the requested order,
// which must list every project column exactly once.
func (s *Service) ReorderColumns(ctx context.Context, req ReorderColumnsRequest) (res domain.ActionResult[domain.ColumnsReorderedEvent]) {
	entry := s.log.WithFields(log.Fields{
		"action":  "reorder_columns",
		"project": req.ProjectID,
		"actor":   req.ActorID,
	})
	defer func() {
		if r := recover(); r != nil {
			entry.WithField("panic", r).Error("reorder columns panicked")
			res = domain.Fail[domain.ColumnsReorderedEvent](fmt.Errorf("reorder columns: %v", r))
		}
	}()

	ev, err := s.reorderColumns(ctx, req)
	if err != nil {
		entry.WithError(err).WithField("outcome", domain.Classify(err)).Warn("reorder columns rejected")
		return domain.Fail[domain.ColumnsReorderedEvent](err)
	}
	s.publish(ev)
	entry.WithFields(log.Fields{"revision": ev.Revision, "outcome": "ok"}).Info("columns reordered")
	return domain.Ok(*ev)
}

func (s *Service) reorderColumns(ctx context.Context, req ReorderColumnsRequest) (*domain.ColumnsReorderedEvent, error) {
	if req.ActorID == "" {
		return nil, &domain.UnauthenticatedError{Reason: "missing user"}
	}
	if req.ProjectID == "" {
		return nil, domain.NewValidationError("projectId is required")
	}
	if err := s.authz.Authorize(ctx, req.ActorID, req.ProjectID, ActionReorderColumns); err != nil {
		return nil, err
	}

	ordered := append([]string(nil), req.OrderedColumnIDs...)
	var ev *domain.ColumnsReorderedEvent
	err := s.store.WithinProjectTx(ctx, req.ProjectID, func(tx Tx) error {
		current, err := tx.ColumnIDs()
		if err != nil {
			return err
		}
		if problems := domain.ColumnSetProblems(current, ordered); len(problems) > 0 {
			return domain.NewValidationError(problems...)
		}
		if err := tx.PlaceColumns(ordered); err != nil {
			return err
		}
		rev, err := tx.BumpRevision()
		if err != nil {
			return err
		}
		ev = &domain.ColumnsReorderedEvent{
			Type:             domain.EventColumnsReordered,
			ProjectID:        req.ProjectID,
			OrderedColumnIDs: ordered,
			UserID:           req.ActorID,
			Revision:         rev,
			ClientMutationID: req.ClientMutationID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// publish hands a committed event to the bus. The mutation has already
// committed, so a publisher panic is only logged.
func (s *Service) publish(ev domain.Event) {
	if s.pub == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.WithFields(log.Fields{"event": ev.EventType(), "project": ev.Topic(), "panic": r}).Error("publish failed")
		}
	}()
	s.pub.Publish(ev)
}
