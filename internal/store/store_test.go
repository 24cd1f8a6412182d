package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secretary/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file should be created")
	assert.NoError(t, s.Ping(context.Background()))
}

func TestErrorMatching(t *testing.T) {
	err := wrap("list tasks", errors.New("disk I/O error"))

	assert.True(t, errors.Is(err, ErrStore))
	assert.False(t, errors.Is(err, ErrNotFound))

	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "list tasks", se.Op)
	assert.Contains(t, err.Error(), "disk I/O error")

	assert.Nil(t, wrap("noop", nil))
}

func TestStoreClosedDatabaseReturnsStoreError(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "closed.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.ListTasks(context.Background(), models.TaskFilter{})
	assert.ErrorIs(t, err, ErrStore)
}

func TestSaveAndListMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i, content := range []string{"first", "second", "third"} {
		msg := &models.Message{
			UserID:    "U1",
			Content:   content,
			Response:  "ok",
			Status:    models.MessageProcessed,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Context:   map[string]string{"channel": "line"},
		}
		require.NoError(t, s.SaveMessage(ctx, msg))
		assert.NotEmpty(t, msg.ID)
	}
	require.NoError(t, s.SaveMessage(ctx, &models.Message{UserID: "U2", Content: "other", Status: models.MessageError}))

	msgs, err := s.ListMessages(ctx, MessageFilter{UserID: "U1"})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "third", msgs[0].Content, "newest first")
	assert.Equal(t, "line", msgs[0].Context["channel"])
	assert.Equal(t, "text", msgs[0].Type)

	msgs, err = s.ListMessages(ctx, MessageFilter{Status: models.MessageError})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "U2", msgs[0].UserID)

	msgs, err = s.ListMessages(ctx, MessageFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestPruneMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, ts := range []time.Time{cutoff.Add(-48 * time.Hour), cutoff.Add(-time.Second), cutoff, cutoff.Add(time.Hour)} {
		require.NoError(t, s.SaveMessage(ctx, &models.Message{UserID: "U1", Content: "hi", Timestamp: ts}))
	}

	n, err := s.PruneMessages(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	msgs, err := s.ListMessages(ctx, MessageFilter{})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.False(t, msgs[1].Timestamp.Before(cutoff))
}

func TestSaveTaskDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	unassigned := &models.Task{Title: "誰來做 logo"}
	require.NoError(t, s.SaveTask(ctx, unassigned))
	assert.NotEmpty(t, unassigned.ID)
	assert.Equal(t, models.TaskUnassigned, unassigned.Status)
	assert.Equal(t, models.PriorityMedium, unassigned.Priority)

	assigned := &models.Task{Title: "報表", Assignee: "U1"}
	require.NoError(t, s.SaveTask(ctx, assigned))
	assert.Equal(t, models.TaskPending, assigned.Status)

	got, err := s.GetTask(ctx, assigned.ID)
	require.NoError(t, err)
	assert.Equal(t, "報表", got.Title)
	assert.Nil(t, got.DueDate)
	assert.WithinDuration(t, assigned.CreatedAt, got.CreatedAt, time.Microsecond)

	_, err = s.GetTask(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.SaveTask(ctx, &models.Task{Title: "bad", Status: "未指派"})
	assert.ErrorIs(t, err, ErrStore)
}

func TestListTasksFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	due := now.Add(48 * time.Hour)
	tasks := []*models.Task{
		{Title: "月報表", Assignee: "U1", Department: "財務", CreatedAt: now.Add(-10 * 24 * time.Hour)},
		{Title: "行銷簡報", Description: "給客戶的報表摘要", Assignee: "U2", Department: "行銷", CreatedAt: now.Add(-2 * 24 * time.Hour), DueDate: &due},
		{Title: "Logo redesign", Department: "行銷", CreatedAt: now.Add(-time.Hour)},
		{Title: "100% coverage", Assignee: "U1", Status: models.TaskCompleted, CreatedAt: now.Add(-3 * time.Hour)},
	}
	for _, task := range tasks {
		require.NoError(t, s.SaveTask(ctx, task))
	}

	tests := []struct {
		name   string
		filter models.TaskFilter
		want   []string
	}{
		{"no filters", models.TaskFilter{}, []string{"月報表", "行銷簡報", "100% coverage", "Logo redesign"}},
		{"status", models.TaskFilter{Status: models.TaskUnassigned}, []string{"Logo redesign"}},
		{"keyword matches title or description", models.TaskFilter{Keyword: "報表"}, []string{"月報表", "行銷簡報"}},
		{"keyword is case-insensitive", models.TaskFilter{Keyword: "LOGO"}, []string{"Logo redesign"}},
		{"keyword wildcard is literal", models.TaskFilter{Keyword: "%"}, []string{"100% coverage"}},
		{"assignee", models.TaskFilter{Assignee: "U1"}, []string{"月報表", "100% coverage"}},
		{"department", models.TaskFilter{Department: "行銷"}, []string{"行銷簡報", "Logo redesign"}},
		{"created after", models.TaskFilter{CreatedAfter: now.Add(-7 * 24 * time.Hour)}, []string{"行銷簡報", "100% coverage", "Logo redesign"}},
		{"filters are combined", models.TaskFilter{Department: "行銷", Keyword: "報表"}, []string{"行銷簡報"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListTasks(ctx, tt.filter)
			require.NoError(t, err)
			var titles []string
			for _, task := range got {
				titles = append(titles, task.Title)
			}
			assert.Equal(t, tt.want, titles)
		})
	}

	got, err := s.ListTasks(ctx, models.TaskFilter{Keyword: "行銷簡報"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].DueDate)
	assert.True(t, due.Equal(*got[0].DueDate))
}

func TestUpdateTaskStatusAppendsLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &models.Task{Title: "寄出合約", Assignee: "U1"}
	require.NoError(t, s.SaveTask(ctx, task))

	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, models.TaskCompleted, "U1"))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, got.Status)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))

	require.NoError(t, s.AddTaskLog(ctx, &models.TaskLog{TaskID: task.ID, UserID: "U2", Action: "comment"}))

	logs, err := s.ListTaskLogs(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "status:completed", logs[0].Action)
	assert.Equal(t, "comment", logs[1].Action)

	err = s.UpdateTaskStatus(ctx, "missing", models.TaskCompleted, "U1")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.UpdateTaskStatus(ctx, task.ID, "done", "U1")
	assert.ErrorIs(t, err, ErrStore)
}

func TestTaskFlowStepNumbersAreDense(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &models.Task{Title: "採購流程"}
	require.NoError(t, s.SaveTask(ctx, task))

	require.NoError(t, s.SaveTaskFlow(ctx, task.ID, []models.TaskFlowStep{
		{Department: "業務", HandlerID: "U1"},
		{Department: "財務", HandlerID: "U2"},
	}))
	require.NoError(t, s.SaveTaskFlow(ctx, task.ID, []models.TaskFlowStep{
		{Department: "法務", HandlerID: "U3"},
	}))

	steps, err := s.GetTaskFlow(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	for i, step := range steps {
		assert.Equal(t, i+1, step.StepNumber)
		assert.Equal(t, "pending", step.Status)
	}
	assert.Equal(t, "法務", steps[2].Department)

	steps, err = s.GetTaskFlow(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetUser(ctx, "U1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.CreateUser(ctx, &models.User{LineID: "U1", Name: "王小明", Department: "行銷", Title: "經理"}))
	require.NoError(t, s.CreateUser(ctx, &models.User{LineID: "telegram:42", Name: "Ann", Department: "IT"}))

	u, err := s.GetUser(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "王小明", u.Name)
	assert.Equal(t, "行銷", u.Department)
	assert.False(t, u.JoinDate.IsZero())

	err = s.CreateUser(ctx, &models.User{LineID: "U1", Name: "dup"})
	assert.ErrorIs(t, err, ErrConflict)

	users, err := s.ListUsers(ctx, UserFilter{IDPrefix: "telegram:"})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Ann", users[0].Name)

	users, err = s.ListUsers(ctx, UserFilter{})
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestSettingsDefaultsAndUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st, err := s.GetSettings(ctx, "U1")
	require.NoError(t, err)
	assert.True(t, st.NotificationEnabled)
	assert.Equal(t, "zh-TW", st.Language)

	var count int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM settings").Scan(&count))
	assert.Zero(t, count, "defaults must not be persisted by a read")

	require.NoError(t, s.SaveSettings(ctx, &models.Settings{UserID: "U1", NotificationEnabled: false, Language: "en"}))
	require.NoError(t, s.SaveSettings(ctx, &models.Settings{UserID: "U1", NotificationEnabled: false, Language: "en"}))

	st, err = s.GetSettings(ctx, "U1")
	require.NoError(t, err)
	assert.False(t, st.NotificationEnabled)
	assert.Equal(t, "en", st.Language)

	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM settings").Scan(&count))
	assert.Equal(t, 1, count)
}
