// Package domain holds the kanban board model shared by the server and the
// client: columns and tasks with dense positions, the board events that
// travel over the bus and the stream, the error taxonomy, and the
// ActionResult envelope returned by mutations.
package domain
