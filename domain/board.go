package domain

import (
	"fmt"
	"sort"
	"time"
)

// Column is a kanban column owned by a project.
type Column struct {
	ID          string `json:"id"`
	ProjectID   string `json:"projectId"`
	Name        string `json:"name"`
	Position    int    `json:"position"`
	Description string `json:"description,omitempty"`
	TaskCount   int    `json:"taskCount"`
}

// Task is a single card on a board.
type Task struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"projectId"`
	ColumnID  string     `json:"columnId"`
	Position  int        `json:"position"`
	Title     string     `json:"title"`
	Done      bool       `json:"done,omitempty"`
	Assignees []string   `json:"assignees,omitempty"`
	StartsAt  *time.Time `json:"startsAt,omitempty"`
	DueAt     *time.Time `json:"dueAt,omitempty"`
}

// Board is a consistent snapshot of a project's columns and tasks.
type Board struct {
	ProjectID string   `json:"projectId"`
	Revision  int64    `json:"revision"`
	Columns   []Column `json:"columns"`
	Tasks     []Task   `json:"tasks"`
}

// Clone returns a deep copy of the board.
func (b Board) Clone() Board {
	out := Board{ProjectID: b.ProjectID, Revision: b.Revision}
	out.Columns = append([]Column(nil), b.Columns...)
	out.Tasks = make([]Task, len(b.Tasks))
	for i, t := range b.Tasks {
		t.Assignees = append([]string(nil), t.Assignees...)
		out.Tasks[i] = t
	}
	return out
}

// ColumnIDs returns column ids ordered by position.
func (b Board) ColumnIDs() []string {
	cols := append([]Column(nil), b.Columns...)
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Position < cols[j].Position })
	ids := make([]string, len(cols))
	for i, c := range cols {
		ids[i] = c.ID
	}
	return ids
}

// HasColumn reports whether the board contains the column.
func (b Board) HasColumn(id string) bool {
	for _, c := range b.Columns {
		if c.ID == id {
			return true
		}
	}
	return false
}

// Task looks up a task by id.
func (b Board) Task(id string) (Task, bool) {
	for _, t := range b.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// TaskIDs returns the ids of the column's tasks ordered by position.
func (b Board) TaskIDs(columnID string) []string {
	tasks := make([]Task, 0)
	for _, t := range b.Tasks {
		if t.ColumnID == columnID {
			tasks = append(tasks, t)
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Position < tasks[j].Position })
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

// MoveTask relocates a task to position within toColumnID, renumbering the
// source and destination columns. The position is clamped to the
// destination bounds. It returns false when the task or column is unknown.
func (b *Board) MoveTask(taskID, toColumnID string, position int) bool {
	task, ok := b.Task(taskID)
	if !ok || !b.HasColumn(toColumnID) {
		return false
	}
	src, _ := RemoveID(b.TaskIDs(task.ColumnID), taskID)
	dst := src
	if toColumnID != task.ColumnID {
		dst = b.TaskIDs(toColumnID)
	}
	dst = InsertID(dst, taskID, position)

	placement := make(map[string]int, len(src)+len(dst))
	column := make(map[string]string, len(src)+len(dst))
	for i, id := range src {
		placement[id] = i
		column[id] = task.ColumnID
	}
	for i, id := range dst {
		placement[id] = i
		column[id] = toColumnID
	}
	for i := range b.Tasks {
		id := b.Tasks[i].ID
		if pos, ok := placement[id]; ok {
			b.Tasks[i].Position = pos
			b.Tasks[i].ColumnID = column[id]
		}
	}
	b.recount()
	return true
}

// ReorderColumns assigns positions following ordered. It returns false,
// leaving the board untouched, unless ordered is exactly the board's
// column set.
func (b *Board) ReorderColumns(ordered []string) bool {
	if len(ColumnSetProblems(b.ColumnIDs(), ordered)) > 0 {
		return false
	}
	pos := make(map[string]int, len(ordered))
	for i, id := range ordered {
		pos[id] = i
	}
	for i := range b.Columns {
		b.Columns[i].Position = pos[b.Columns[i].ID]
	}
	sort.SliceStable(b.Columns, func(i, j int) bool { return b.Columns[i].Position < b.Columns[j].Position })
	return true
}

func (b *Board) recount() {
	counts := make(map[string]int, len(b.Columns))
	for _, t := range b.Tasks {
		counts[t.ColumnID]++
	}
	for i := range b.Columns {
		b.Columns[i].TaskCount = counts[b.Columns[i].ID]
	}
}

// Validate checks the dense position invariant for columns and tasks.
func (b Board) Validate() error {
	cols := make([]int, 0, len(b.Columns))
	for _, c := range b.Columns {
		cols = append(cols, c.Position)
	}
	if err := checkDense(cols); err != nil {
		return fmt.Errorf("columns of %s: %w", b.ProjectID, err)
	}
	byColumn := make(map[string][]int, len(b.Columns))
	for _, t := range b.Tasks {
		if !b.HasColumn(t.ColumnID) {
			return fmt.Errorf("task %s references unknown column %s", t.ID, t.ColumnID)
		}
		byColumn[t.ColumnID] = append(byColumn[t.ColumnID], t.Position)
	}
	for id, positions := range byColumn {
		if err := checkDense(positions); err != nil {
			return fmt.Errorf("tasks of column %s: %w", id, err)
		}
	}
	return nil
}

func checkDense(positions []int) error {
	sorted := append([]int(nil), positions...)
	sort.Ints(sorted)
	for i, p := range sorted {
		if p != i {
			return fmt.Errorf("positions %v are not 0..%d", positions, len(positions)-1)
		}
	}
	return nil
}
