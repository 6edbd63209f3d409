package actions

import (
	"context"

	"prism-kanban/domain"
)

// Store is the transactional storage the mutation actions run against.
type Store interface {
	// FindTaskProject returns the project owning the task or a
	// *domain.NotFoundError.
	FindTaskProject(ctx context.Context, taskID string) (string, error)
	// WithinProjectTx runs fn in one transaction holding the project's
	// lock. Returning an error from fn rolls every write back. An unknown
	// project yields a *domain.NotFoundError.
	WithinProjectTx(ctx context.Context, projectID string, fn func(tx Tx) error) error
}

// Tx is the view of one project inside a transaction.
type Tx interface {
	Task(taskID string) (domain.Task, error)
	// ColumnIDs returns the project's columns ordered by position.
	ColumnIDs() ([]string, error)
	// TaskIDs returns the column's tasks ordered by position.
	TaskIDs(columnID string) ([]string, error)
	// PlaceTasks moves every listed task into columnID at its index.
	PlaceTasks(columnID string, ordered []string) error
	// PlaceColumns sets each column's position to its index.
	PlaceColumns(ordered []string) error
	// BumpRevision increments and returns the project revision.
	BumpRevision() (int64, error)
}

// Publisher receives committed events. *bus.Bus satisfies it.
type Publisher interface {
	Publish(ev domain.Event)
}
