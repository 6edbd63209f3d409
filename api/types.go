package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-kanban/actions"
	"prism-kanban/bus"
	"prism-kanban/domain"
)

// BoardReader serves consistent board snapshots.
type BoardReader interface {
	Board(ctx context.Context, projectID string) (domain.Board, error)
}

// Mutations runs board changes. *actions.Service implements it.
type Mutations interface {
	MoveTask(ctx context.Context, req actions.MoveTaskRequest) domain.ActionResult[domain.TaskMovedEvent]
	ReorderColumns(ctx context.Context, req actions.ReorderColumnsRequest) domain.ActionResult[domain.ColumnsReorderedEvent]
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Subscriber is the part of the event bus the stream endpoint needs.
type Subscriber interface {
	Subscribe(topic string, handler bus.Handler) (unsubscribe func())
	ListenerCount() int
}

// Deduper prevents processing of duplicate mutations.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when the mutation fails.
	Remove(ctx context.Context, userID, key string) error
}

// Deps are the collaborators the HTTP handlers are built from. Deduper is
// optional.
type Deps struct {
	Boards     BoardReader
	Mutations  Mutations
	Auth       Authenticator
	Authorizer actions.Authorizer
	Bus        Subscriber
	Deduper    Deduper
	Logger     *log.Logger

	// StreamBuffer bounds the events queued per stream connection.
	StreamBuffer int
	// StreamKeepalive is the comment interval on idle streams; zero
	// disables keepalives.
	StreamKeepalive time.Duration
}

type errorResponse struct {
	Error string `json:"error"`
}

type moveTaskBody struct {
	ColumnID         string `json:"columnId"`
	Position         *int   `json:"position"`
	ClientMutationID string `json:"clientMutationId,omitempty"`
}

type reorderColumnsBody struct {
	ColumnIDs        []string `json:"columnIds"`
	ClientMutationID string   `json:"clientMutationId,omitempty"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Listeners int    `json:"listeners"`
}
