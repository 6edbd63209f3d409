// Package client keeps a local copy of a project board in sync with the
// kanban API. Store merges optimistic local moves with pushed events,
// Controller turns drag gestures into mutations, and Syncer drives the
// stream and polling fallback.
package client
