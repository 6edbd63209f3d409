package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"prism-kanban/actions"
	"prism-kanban/domain"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Connect opens a pooled gorm connection and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string, maxConns int) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(maxConns)
		sqlDB.SetMaxIdleConns(max(1, maxConns/2))
	}
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)
	sqlDB.SetConnMaxLifetime(time.Hour)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// RunMigrations applies the embedded schema files in name order. Every file
// is idempotent.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		raw, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if err := db.WithContext(ctx).Exec(string(raw)).Error; err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		log.WithField("migration", name).Debug("migration applied")
	}
	return nil
}

// Postgres is the relational board store. Mutations lock the project row so
// sibling renumbering is serialized per project.
type Postgres struct {
	db *gorm.DB
}

func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db}
}

func dbError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &domain.DatabaseOperationError{Op: op, Err: err}
}

func (p *Postgres) FindTaskProject(ctx context.Context, taskID string) (string, error) {
	var task taskModel
	err := p.db.WithContext(ctx).Select("project_id").Where("id = ?", taskID).Take(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", &domain.NotFoundError{Entity: "task", ID: taskID}
	}
	if err != nil {
		return "", dbError("find task project", err)
	}
	return task.ProjectID, nil
}

func (p *Postgres) WithinProjectTx(ctx context.Context, projectID string, fn func(tx actions.Tx) error) error {
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project projectModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", projectID).
			Take(&project).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &domain.NotFoundError{Entity: "project", ID: projectID}
			}
			return dbError("lock project", err)
		}
		return fn(&pgTx{
			tx:       tx,
			project:  project,
			placed:   map[string]placement{},
			columnAt: map[string]int{},
		})
	})
	if err != nil && domain.Classify(err) == domain.CodeInternal {
		return dbError("commit", err)
	}
	return err
}

// Board reads the project's columns and tasks in one repeatable-read
// snapshot.
func (p *Postgres) Board(ctx context.Context, projectID string) (domain.Board, error) {
	var board domain.Board
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project projectModel
		if err := tx.Where("id = ?", projectID).Take(&project).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &domain.NotFoundError{Entity: "project", ID: projectID}
			}
			return dbError("load project", err)
		}
		var columns []columnModel
		if err := tx.Where("project_id = ?", projectID).Order("position").Find(&columns).Error; err != nil {
			return dbError("list columns", err)
		}
		var tasks []taskModel
		if err := tx.Where("project_id = ?", projectID).Order("column_id, position").Find(&tasks).Error; err != nil {
			return dbError("list tasks", err)
		}
		board = assembleBoard(project, columns, tasks)
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return domain.Board{}, err
	}
	return board, nil
}

func assembleBoard(project projectModel, columns []columnModel, tasks []taskModel) domain.Board {
	board := domain.Board{
		ProjectID: project.ID,
		Revision:  project.Revision,
		Columns:   make([]domain.Column, 0, len(columns)),
		Tasks:     make([]domain.Task, 0, len(tasks)),
	}
	counts := make(map[string]int, len(columns))
	for _, t := range tasks {
		board.Tasks = append(board.Tasks, taskFromModel(t))
		counts[t.ColumnID]++
	}
	for _, c := range columns {
		col := columnFromModel(c)
		col.TaskCount = counts[c.ID]
		board.Columns = append(board.Columns, col)
	}
	return board
}

// MemberRole returns the user's role in the project, "" for non-members.
func (p *Postgres) MemberRole(ctx context.Context, projectID, userID string) (string, error) {
	var project projectModel
	err := p.db.WithContext(ctx).Select("id").Where("id = ?", projectID).Take(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", &domain.NotFoundError{Entity: "project", ID: projectID}
	}
	if err != nil {
		return "", dbError("load project", err)
	}
	var member memberModel
	err = p.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", dbError("load membership", err)
	}
	return member.Role, nil
}

// Seed inserts the board and its members unless the project already
// exists.
func (p *Postgres) Seed(ctx context.Context, board domain.Board, name string, members map[string]string) error {
	now := time.Now().UTC()
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&projectModel{ID: board.ProjectID, Name: name, Revision: board.Revision, CreatedAt: now})
		if res.Error != nil {
			return dbError("seed project", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		for _, c := range board.Columns {
			m := columnModel{ID: c.ID, ProjectID: board.ProjectID, Name: c.Name, Description: c.Description, Position: c.Position}
			if err := tx.Create(&m).Error; err != nil {
				return dbError("seed column", err)
			}
		}
		for _, t := range board.Tasks {
			t.ProjectID = board.ProjectID
			m := taskToModel(t, now)
			if err := tx.Create(&m).Error; err != nil {
				return dbError("seed task", err)
			}
		}
		for user, role := range members {
			m := memberModel{ProjectID: board.ProjectID, UserID: user, Role: role}
			if err := tx.Create(&m).Error; err != nil {
				return dbError("seed member", err)
			}
		}
		return nil
	})
}

type placement struct {
	column   string
	position int
}

// pgTx implements actions.Tx on a locked project. It remembers placements
// it has read so unchanged rows are not rewritten.
type pgTx struct {
	tx       *gorm.DB
	project  projectModel
	placed   map[string]placement
	columnAt map[string]int
}

func (t *pgTx) Task(taskID string) (domain.Task, error) {
	var m taskModel
	err := t.tx.Where("id = ? AND project_id = ?", taskID, t.project.ID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Task{}, &domain.NotFoundError{Entity: "task", ID: taskID}
	}
	if err != nil {
		return domain.Task{}, dbError("load task", err)
	}
	t.placed[m.ID] = placement{column: m.ColumnID, position: m.Position}
	return taskFromModel(m), nil
}

func (t *pgTx) ColumnIDs() ([]string, error) {
	var columns []columnModel
	if err := t.tx.Select("id", "position").
		Where("project_id = ?", t.project.ID).
		Order("position").
		Find(&columns).Error; err != nil {
		return nil, dbError("list columns", err)
	}
	ids := make([]string, len(columns))
	for i, c := range columns {
		ids[i] = c.ID
		t.columnAt[c.ID] = c.Position
	}
	return ids, nil
}

func (t *pgTx) TaskIDs(columnID string) ([]string, error) {
	var tasks []taskModel
	if err := t.tx.Select("id", "column_id", "position").
		Where("project_id = ? AND column_id = ?", t.project.ID, columnID).
		Order("position").
		Find(&tasks).Error; err != nil {
		return nil, dbError("list tasks", err)
	}
	ids := make([]string, len(tasks))
	for i, m := range tasks {
		ids[i] = m.ID
		t.placed[m.ID] = placement{column: m.ColumnID, position: m.Position}
	}
	return ids, nil
}

func (t *pgTx) PlaceTasks(columnID string, ordered []string) error {
	now := time.Now().UTC()
	for pos, id := range ordered {
		want := placement{column: columnID, position: pos}
		if have, ok := t.placed[id]; ok && have == want {
			continue
		}
		res := t.tx.Model(&taskModel{}).
			Where("id = ? AND project_id = ?", id, t.project.ID).
			Updates(map[string]any{
				"column_id":  columnID,
				"position":   pos,
				"updated_at": now,
			})
		if res.Error != nil {
			return dbError("place tasks", res.Error)
		}
		if res.RowsAffected == 0 {
			return &domain.NotFoundError{Entity: "task", ID: id}
		}
		t.placed[id] = want
	}
	return nil
}

func (t *pgTx) PlaceColumns(ordered []string) error {
	for pos, id := range ordered {
		if have, ok := t.columnAt[id]; ok && have == pos {
			continue
		}
		res := t.tx.Model(&columnModel{}).
			Where("id = ? AND project_id = ?", id, t.project.ID).
			Update("position", pos)
		if res.Error != nil {
			return dbError("place columns", res.Error)
		}
		if res.RowsAffected == 0 {
			return &domain.NotFoundError{Entity: "column", ID: id}
		}
		t.columnAt[id] = pos
	}
	return nil
}

func (t *pgTx) BumpRevision() (int64, error) {
	next := t.project.Revision + 1
	if err := t.tx.Model(&projectModel{}).
		Where("id = ?", t.project.ID).
		Update("revision", next).Error; err != nil {
		return 0, dbError("bump revision", err)
	}
	t.project.Revision = next
	return next, nil
}
