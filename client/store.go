package client

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"prism-kanban/domain"
)

// MoveIntent is a task move requested locally.
type MoveIntent struct {
	TaskID     string
	ToColumnID string
	ToPosition int
}

// PendingMutation is an optimistic change not yet confirmed by the server.
// Exactly one of Move and Reorder is set.
type PendingMutation struct {
	Marker    string
	CreatedAt time.Time
	Move      *MoveIntent
	Reorder   []string
}

func (p PendingMutation) clone() PendingMutation {
	if p.Move != nil {
		m := *p.Move
		p.Move = &m
	}
	p.Reorder = slices.Clone(p.Reorder)
	return p
}

// StoreOptions configures a Store. All fields are optional.
type StoreOptions struct {
	// OnChange receives a copy of the visible board after every change.
	OnChange func(domain.Board)
	// OnError receives failures of optimistic changes that were rolled back.
	OnError func(marker string, err error)
	Now     func() time.Time
	Logger  *log.Logger
}

// Store holds the last confirmed server board plus a log of pending local
// changes. The visible board is the confirmed board with the pending log
// replayed in order, so rolling back one change never disturbs the others.
type Store struct {
	mu          sync.Mutex
	actorID     string
	base        domain.Board
	loaded      bool
	pending     []PendingMutation
	view        domain.Board
	needsResync bool

	onChange func(domain.Board)
	onError  func(string, error)
	now      func() time.Time
	logger   *log.Logger
}

// NewStore creates a store for actorID. initial may be the zero Board when
// the first snapshot is delivered later through ReplaceFromServer.
func NewStore(actorID string, initial domain.Board, opts StoreOptions) *Store {
	s := &Store{
		actorID:  actorID,
		onChange: opts.OnChange,
		onError:  opts.OnError,
		now:      opts.Now,
		logger:   opts.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = log.StandardLogger()
	}
	if initial.ProjectID != "" {
		s.base = initial.Clone()
		s.loaded = true
	}
	s.rebuild()
	return s
}

// View returns a copy of the visible board.
func (s *Store) View() domain.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.Clone()
}

// Revision is the revision of the last confirmed board.
func (s *Store) Revision() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base.Revision
}

// Pending returns the unconfirmed local changes in application order.
func (s *Store) Pending() []PendingMutation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingMutation, len(s.pending))
	for i, p := range s.pending {
		out[i] = p.clone()
	}
	return out
}

// NeedsResync reports whether events were missed and the board should be
// fetched again.
func (s *Store) NeedsResync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needsResync || !s.loaded
}

// ApplyOptimisticMove shows a task move immediately and returns the marker
// identifying it. The position is clamped to the destination column.
func (s *Store) ApplyOptimisticMove(taskID, toColumnID string, toPosition int) (string, error) {
	s.mu.Lock()
	task, ok := s.view.Task(taskID)
	if !ok {
		s.mu.Unlock()
		return "", &domain.NotFoundError{Entity: "task", ID: taskID}
	}
	if !s.view.HasColumn(toColumnID) {
		s.mu.Unlock()
		return "", &domain.NotFoundError{Entity: "column", ID: toColumnID}
	}
	dest, _ := domain.RemoveID(s.view.TaskIDs(toColumnID), task.ID)
	move := &MoveIntent{TaskID: taskID, ToColumnID: toColumnID, ToPosition: domain.ClampIndex(toPosition, len(dest))}
	p := PendingMutation{Marker: uuid.NewString(), CreatedAt: s.now(), Move: move}
	s.pending = append(s.pending, p)
	s.rebuild()
	view := s.view.Clone()
	s.mu.Unlock()

	s.notify(view)
	return p.Marker, nil
}

// ApplyOptimisticReorder shows a column reorder immediately. ordered must
// list every visible column exactly once.
func (s *Store) ApplyOptimisticReorder(ordered []string) (string, error) {
	s.mu.Lock()
	if problems := domain.ColumnSetProblems(s.view.ColumnIDs(), ordered); len(problems) > 0 {
		s.mu.Unlock()
		return "", domain.NewValidationError(problems...)
	}
	p := PendingMutation{Marker: uuid.NewString(), CreatedAt: s.now(), Reorder: slices.Clone(ordered)}
	s.pending = append(s.pending, p)
	s.rebuild()
	view := s.view.Clone()
	s.mu.Unlock()

	s.notify(view)
	return p.Marker, nil
}

// ApplyRemoteEvent merges a server event. Events at or below the confirmed
// revision are stale and only settle a matching pending change. An event
// the local actor caused replaces its pending change instead of being
// applied on top of it.
func (s *Store) ApplyRemoteEvent(ev domain.Event) {
	if ev == nil {
		return
	}
	s.mu.Lock()
	if !s.loaded || ev.Topic() != s.base.ProjectID {
		s.mu.Unlock()
		return
	}
	rev := ev.BoardRevision()
	if rev <= s.base.Revision {
		changed := s.settle(ev)
		if changed {
			s.rebuild()
		}
		view := s.view.Clone()
		s.mu.Unlock()
		if changed {
			s.notify(view)
		}
		return
	}

	if rev > s.base.Revision+1 {
		s.needsResync = true
		s.logger.WithFields(log.Fields{
			"project":  s.base.ProjectID,
			"revision": rev,
			"base":     s.base.Revision,
		}).Debug("board event gap, resync needed")
	}
	switch e := ev.(type) {
	case *domain.TaskMovedEvent:
		if !s.base.MoveTask(e.TaskID, e.ToColumnID, e.NewPosition) {
			s.needsResync = true
		}
	case *domain.ColumnsReorderedEvent:
		if !s.base.ReorderColumns(e.OrderedColumnIDs) {
			s.needsResync = true
		}
	default:
		s.logger.WithField("event", fmt.Sprintf("%T", ev)).Warn("unknown board event")
		s.mu.Unlock()
		return
	}
	s.base.Revision = rev
	s.settle(ev)
	s.rebuild()
	view := s.view.Clone()
	s.mu.Unlock()

	s.notify(view)
}

// ReconcileFailure drops the pending change identified by marker, leaving
// every other local change in place, and reports err through OnError.
func (s *Store) ReconcileFailure(marker string, err error) {
	s.mu.Lock()
	i := s.pendingIndex(marker)
	if i >= 0 {
		s.pending = slices.Delete(s.pending, i, i+1)
		s.rebuild()
	}
	view := s.view.Clone()
	s.mu.Unlock()

	if i >= 0 {
		s.notify(view)
	}
	if s.onError != nil && err != nil {
		s.onError(marker, err)
	}
}

// ReplaceFromServer installs a polled board as the confirmed state. Boards
// older than the confirmed revision are ignored. Pending changes are kept
// and replayed on top: each one leaves the log only when its own echo,
// response or failure arrives, so a snapshot taken while a mutation is in
// flight never moves the card back. Replaying a change the snapshot
// already contains leaves the board as it is.
func (s *Store) ReplaceFromServer(board domain.Board) bool {
	s.mu.Lock()
	if s.loaded && (board.ProjectID != s.base.ProjectID || board.Revision < s.base.Revision) {
		s.mu.Unlock()
		return false
	}
	s.base = board.Clone()
	s.loaded = true
	s.needsResync = false
	s.rebuild()
	view := s.view.Clone()
	s.mu.Unlock()

	s.notify(view)
	return true
}

// settle removes the pending change ev confirms. It prefers the echoed
// mutation id and falls back to matching content for the local actor.
func (s *Store) settle(ev domain.Event) bool {
	if id := ev.MutationID(); id != "" {
		if i := s.pendingIndex(id); i >= 0 {
			s.pending = slices.Delete(s.pending, i, i+1)
			return true
		}
		return false
	}
	if ev.Actor() != s.actorID {
		return false
	}
	for i, p := range s.pending {
		if matches(p, ev) {
			s.pending = slices.Delete(s.pending, i, i+1)
			return true
		}
	}
	return false
}

func matches(p PendingMutation, ev domain.Event) bool {
	switch e := ev.(type) {
	case *domain.TaskMovedEvent:
		return p.Move != nil &&
			p.Move.TaskID == e.TaskID &&
			p.Move.ToColumnID == e.ToColumnID &&
			p.Move.ToPosition == e.NewPosition
	case *domain.ColumnsReorderedEvent:
		return p.Reorder != nil && slices.Equal(p.Reorder, e.OrderedColumnIDs)
	default:
		return false
	}
}

func (s *Store) pendingIndex(marker string) int {
	for i, p := range s.pending {
		if p.Marker == marker {
			return i
		}
	}
	return -1
}

// rebuild recomputes the view. Pending changes that no longer apply, such
// as a move of a task the server removed, are skipped.
func (s *Store) rebuild() {
	view := s.base.Clone()
	for _, p := range s.pending {
		switch {
		case p.Move != nil:
			view.MoveTask(p.Move.TaskID, p.Move.ToColumnID, p.Move.ToPosition)
		case p.Reorder != nil:
			view.ReorderColumns(p.Reorder)
		}
	}
	s.view = view
}

func (s *Store) notify(view domain.Board) {
	if s.onChange != nil {
		s.onChange(view)
	}
}
