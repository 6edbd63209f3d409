package storage

import (
	"time"

	"prism-kanban/domain"
)

type projectModel struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Name      string    `gorm:"column:name"`
	Revision  int64     `gorm:"column:revision"`
	CreatedAt time.Time `gorm:"column:created_at;default:now()"`
}

func (projectModel) TableName() string { return "projects" }

type memberModel struct {
	ProjectID string `gorm:"column:project_id;primaryKey"`
	UserID    string `gorm:"column:user_id;primaryKey"`
	Role      string `gorm:"column:role"`
}

func (memberModel) TableName() string { return "project_members" }

type columnModel struct {
	ID          string `gorm:"column:id;primaryKey"`
	ProjectID   string `gorm:"column:project_id"`
	Name        string `gorm:"column:name"`
	Description string `gorm:"column:description"`
	Position    int    `gorm:"column:position"`
}

func (columnModel) TableName() string { return "kanban_columns" }

type taskModel struct {
	ID        string     `gorm:"column:id;primaryKey"`
	ProjectID string     `gorm:"column:project_id"`
	ColumnID  string     `gorm:"column:column_id"`
	Position  int        `gorm:"column:position"`
	Title     string     `gorm:"column:title"`
	Done      bool       `gorm:"column:done"`
	Assignees []string   `gorm:"column:assignees;serializer:json"`
	StartsAt  *time.Time `gorm:"column:starts_at"`
	DueAt     *time.Time `gorm:"column:due_at"`
	UpdatedAt time.Time  `gorm:"column:updated_at"`
}

func (taskModel) TableName() string { return "tasks" }

func columnFromModel(m columnModel) domain.Column {
	return domain.Column{
		ID:          m.ID,
		ProjectID:   m.ProjectID,
		Name:        m.Name,
		Position:    m.Position,
		Description: m.Description,
	}
}

func taskFromModel(m taskModel) domain.Task {
	return domain.Task{
		ID:        m.ID,
		ProjectID: m.ProjectID,
		ColumnID:  m.ColumnID,
		Position:  m.Position,
		Title:     m.Title,
		Done:      m.Done,
		Assignees: append([]string(nil), m.Assignees...),
		StartsAt:  m.StartsAt,
		DueAt:     m.DueAt,
	}
}

func taskToModel(t domain.Task, now time.Time) taskModel {
	assignees := t.Assignees
	if assignees == nil {
		assignees = []string{}
	}
	return taskModel{
		ID:        t.ID,
		ProjectID: t.ProjectID,
		ColumnID:  t.ColumnID,
		Position:  t.Position,
		Title:     t.Title,
		Done:      t.Done,
		Assignees: assignees,
		StartsAt:  t.StartsAt,
		DueAt:     t.DueAt,
		UpdatedAt: now,
	}
}
