package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"secretary/internal/models"
)

const taskColumns = `id, title, description, assignee, department, due_date, priority, status, created_at, updated_at`

// SaveTask inserts a new task. ID, timestamps, priority and status are
// defaulted when empty; a task without an assignee starts unassigned.
func (s *Store) SaveTask(ctx context.Context, task *models.Task) error {
	now := s.now()
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = task.CreatedAt
	}
	if task.Priority == "" {
		task.Priority = models.PriorityMedium
	}
	if task.Status == "" {
		if task.Assignee == "" {
			task.Status = models.TaskUnassigned
		} else {
			task.Status = models.TaskPending
		}
	}
	if !task.Status.Valid() {
		return wrap("save task", fmt.Errorf("invalid status %q", task.Status))
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, task.Description, task.Assignee, task.Department,
		nullTime(task.DueDate), string(task.Priority), string(task.Status),
		formatTime(task.CreatedAt), formatTime(task.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return wrap("save task", err)
}

// GetTask loads a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap("get task", err)
	}
	return task, nil
}

// ListTasks returns the tasks matching every set field of filter, oldest
// first.
func (s *Store) ListTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Keyword != "" {
		p := likePattern(filter.Keyword)
		where = append(where, `(title LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\')`)
		args = append(args, p, p)
	}
	if filter.Assignee != "" {
		where = append(where, "assignee = ?")
		args = append(args, filter.Assignee)
	}
	if filter.Department != "" {
		where = append(where, "department = ?")
		args = append(args, filter.Department)
	}
	if !filter.CreatedAfter.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(filter.CreatedAfter))
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list tasks", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, wrap("list tasks", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, wrap("list tasks", rows.Err())
}

// UpdateTaskStatus changes a task's status and appends a log entry recording
// who made the change.
func (s *Store) UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus, userID string) error {
	if !status.Valid() {
		return wrap("update task status", fmt.Errorf("invalid status %q", status))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("update task status", err)
	}
	defer tx.Rollback()

	now := formatTime(s.now())
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, string(status), now, taskID)
	if err != nil {
		return wrap("update task status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO task_logs (task_id, user_id, action, timestamp) VALUES (?, ?, ?, ?)`,
		taskID, userID, "status:"+string(status), now,
	); err != nil {
		return wrap("update task status", err)
	}

	return wrap("update task status", tx.Commit())
}

// AddTaskLog appends a log entry for a task.
func (s *Store) AddTaskLog(ctx context.Context, entry *models.TaskLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO task_logs (task_id, user_id, action, timestamp) VALUES (?, ?, ?, ?)`,
		entry.TaskID, entry.UserID, entry.Action, formatTime(entry.Timestamp),
	)
	if err != nil {
		return wrap("add task log", err)
	}
	entry.ID, _ = res.LastInsertId()
	return nil
}

// ListTaskLogs returns a task's log in insertion order.
func (s *Store) ListTaskLogs(ctx context.Context, taskID string) ([]models.TaskLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, user_id, action, timestamp FROM task_logs
		WHERE task_id = ? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, wrap("list task logs", err)
	}
	defer rows.Close()

	var logs []models.TaskLog
	for rows.Next() {
		var (
			l  models.TaskLog
			ts string
		)
		if err := rows.Scan(&l.ID, &l.TaskID, &l.UserID, &l.Action, &ts); err != nil {
			return nil, wrap("list task logs", err)
		}
		l.Timestamp = parseTime(ts)
		logs = append(logs, l)
	}
	return logs, wrap("list task logs", rows.Err())
}

// SaveTaskFlow appends steps to a task's hand-off flow. Step numbers are
// assigned here, continuing densely after any existing steps.
func (s *Store) SaveTaskFlow(ctx context.Context, taskID string, steps []models.TaskFlowStep) error {
	if len(steps) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("save task flow", err)
	}
	defer tx.Rollback()

	var last int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(step_number), 0) FROM task_flows WHERE task_id = ?`, taskID,
	).Scan(&last); err != nil {
		return wrap("save task flow", err)
	}

	now := s.now()
	for i := range steps {
		step := &steps[i]
		step.TaskID = taskID
		step.StepNumber = last + i + 1
		if step.Status == "" {
			step.Status = "pending"
		}
		if step.CreatedAt.IsZero() {
			step.CreatedAt = now
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_flows (task_id, step_number, department, handler_id, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			step.TaskID, step.StepNumber, step.Department, step.HandlerID, step.Status, formatTime(step.CreatedAt),
		); err != nil {
			return wrap("save task flow", err)
		}
	}

	return wrap("save task flow", tx.Commit())
}

// GetTaskFlow returns a task's flow ordered by step number.
func (s *Store) GetTaskFlow(ctx context.Context, taskID string) ([]models.TaskFlowStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, step_number, department, handler_id, status, created_at
		FROM task_flows WHERE task_id = ? ORDER BY step_number ASC`, taskID)
	if err != nil {
		return nil, wrap("get task flow", err)
	}
	defer rows.Close()

	var steps []models.TaskFlowStep
	for rows.Next() {
		var (
			step models.TaskFlowStep
			ts   string
		)
		if err := rows.Scan(&step.TaskID, &step.StepNumber, &step.Department, &step.HandlerID, &step.Status, &ts); err != nil {
			return nil, wrap("get task flow", err)
		}
		step.CreatedAt = parseTime(ts)
		steps = append(steps, step)
	}
	return steps, wrap("get task flow", rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		t                    models.Task
		due                  sql.NullString
		priority, status     string
		createdAt, updatedAt string
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Assignee, &t.Department,
		&due, &priority, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.DueDate = timePtr(due)
	t.Priority = models.Priority(priority)
	t.Status = models.TaskStatus(status)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}
