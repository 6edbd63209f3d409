package domain

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// EventType discriminates board events on the wire.
type EventType string

const (
	EventTaskMoved        EventType = "task-moved"
	EventColumnsReordered EventType = "reorder-kanban-columns"
)

// Event is a board change published on the bus. The concrete types are
// *TaskMovedEvent and *ColumnsReorderedEvent; consumers type-switch on them.
type Event interface {
	EventType() EventType
	// Topic is the project the event belongs to.
	Topic() string
	Actor() string
	BoardRevision() int64
	MutationID() string
	isEvent()
}

// TaskMovedEvent reports a committed task move.
type TaskMovedEvent struct {
	Type             EventType `json:"type"`
	TaskID           string    `json:"taskId"`
	FromColumnID     string    `json:"fromColumnId"`
	ToColumnID       string    `json:"toColumnId"`
	NewPosition      int       `json:"newPosition"`
	ProjectID        string    `json:"projectId"`
	UserID           string    `json:"userId"`
	Revision         int64     `json:"revision"`
	ClientMutationID string    `json:"clientMutationId,omitempty"`
}

// ColumnsReorderedEvent reports a committed column reorder.
type ColumnsReorderedEvent struct {
	Type             EventType `json:"type"`
	ProjectID        string    `json:"projectId"`
	OrderedColumnIDs []string  `json:"orderedColumnIds"`
	UserID           string    `json:"userId"`
	Revision         int64     `json:"revision"`
	ClientMutationID string    `json:"clientMutationId,omitempty"`
}

func (e *TaskMovedEvent) EventType() EventType { return EventTaskMoved }
func (e *TaskMovedEvent) Topic() string { return e.ProjectID }
func (e *TaskMovedEvent) Actor() string { return e.UserID }
func (e *TaskMovedEvent) BoardRevision() int64 { return e.Revision }
func (e *TaskMovedEvent) MutationID() string { return e.ClientMutationID }
func (*TaskMovedEvent) isEvent() {}

func (e *ColumnsReorderedEvent) EventType() EventType { return EventColumnsReordered }
func (e *ColumnsReorderedEvent) Topic() string { return e.ProjectID }
func (e *ColumnsReorderedEvent) Actor() string { return e.UserID }
func (e *ColumnsReorderedEvent) BoardRevision() int64 { return e.Revision }
func (e *ColumnsReorderedEvent) MutationID() string { return e.ClientMutationID }
func (*ColumnsReorderedEvent) isEvent() {}

// EncodeEvent serializes an event with its type tag set.
func EncodeEvent(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case *TaskMovedEvent:
		cp := *e
		cp.Type = EventTaskMoved
		return sonic.Marshal(&cp)
	case *ColumnsReorderedEvent:
		cp := *e
		cp.Type = EventColumnsReordered
		return sonic.Marshal(&cp)
	default:
		return nil, fmt.Errorf("unknown event %T", ev)
	}
}

// DecodeEvent parses a wire event into its concrete type.
func DecodeEvent(data []byte) (Event, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := sonic.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	switch head.Type {
	case EventTaskMoved:
		var ev TaskMovedEvent
		if err := sonic.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", head.Type, err)
		}
		return &ev, nil
	case EventColumnsReordered:
		var ev ColumnsReorderedEvent
		if err := sonic.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", head.Type, err)
		}
		return &ev, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", head.Type)
	}
}
