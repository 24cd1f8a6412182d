package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secretary/internal/models"
)

var testPrompts = Prompts{
	Persona:       "persona",
	Relevance:     "relevance",
	LanguageHint:  "reply in %s",
	SummarySystem: "summary-system",
	SummaryUser:   "tasks:\n%s",
	ExtractSystem: "extract-system",
	ExtractUser:   "message: %s",
}

func newTestCompletions(p Provider) *Completions {
	return NewCompletions(p, testPrompts, Options{
		Model:           "gpt-test",
		SummaryModel:    "gpt-summary",
		DefaultLanguage: "zh-TW",
		Location:        time.UTC,
	})
}

func TestIsAffirmative(t *testing.T) {
	tests := []struct {
		answer string
		want   bool
	}{
		{"yes", true},
		{"Yes", true},
		{" YES\n", true},
		{"yes.", false},
		{"no", false},
		{"", false},
		{"maybe", false},
		{"yes, it is", false},
	}
	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAffirmative(tt.answer))
		})
	}
}

func TestClassifyRelevanceRequest(t *testing.T) {
	mock := NewMockProvider("mock")
	mock.AddResponse("yes")
	c := newTestCompletions(mock)

	ok, err := c.ClassifyRelevance(context.Background(), "進度如何")
	require.NoError(t, err)
	assert.True(t, ok)

	req := mock.LastCall().Request
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.3, *req.Temperature, 1e-6)
	assert.Equal(t, 10, req.MaxTokens)
	assert.Equal(t, "gpt-test", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "relevance", req.Messages[0].Content)
	assert.Equal(t, "進度如何", req.Messages[1].Content)
}

func TestClassifyRelevanceError(t *testing.T) {
	mock := NewMockProvider("mock")
	mock.AddErrorResponse(errors.New("boom"))
	c := newTestCompletions(mock)

	_, err := c.ClassifyRelevance(context.Background(), "hi")
	assert.Error(t, err)
}

func TestCallsAreBoundedByTimeout(t *testing.T) {
	var deadlineSeen bool
	slow := providerFunc(func(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
		_, deadlineSeen = ctx.Deadline()
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c := NewCompletions(slow, testPrompts, Options{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := c.Complete(context.Background(), "hello", "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, deadlineSeen)
	assert.Less(t, time.Since(start), 2*time.Second)
}

type providerFunc func(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)

func (f providerFunc) Name() string { return "func" }
func (f providerFunc) GenerateResponse(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	return f(ctx, req)
}

func TestCompleteBuildsConversation(t *testing.T) {
	mock := NewMockProvider("mock")
	mock.AddResponse("好的")
	c := newTestCompletions(mock)

	out, err := c.Complete(context.Background(), "然後呢", "en", &Turn{User: "新增任務", Assistant: "已新增"})
	require.NoError(t, err)
	assert.Equal(t, "好的", out)

	req := mock.LastCall().Request
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.7, *req.Temperature, 1e-6)

	var roles, contents []string
	for _, m := range req.Messages {
		roles = append(roles, m.Role)
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"system", "system", "user", "assistant", "user"}, roles)
	assert.Equal(t, []string{"persona", "reply in en", "新增任務", "已新增", "然後呢"}, contents)
}

func TestCompleteDefaultLanguageHasNoHint(t *testing.T) {
	mock := NewMockProvider("mock")
	mock.AddResponse("ok")
	c := newTestCompletions(mock)

	_, err := c.Complete(context.Background(), "hi", "zh-TW", nil)
	require.NoError(t, err)
	assert.Len(t, mock.LastCall().Request.Messages, 2)
}

func TestCompleteEmpty(t *testing.T) {
	mock := NewMockProvider("mock")
	mock.AddResponse("   ")
	c := newTestCompletions(mock)

	_, err := c.Complete(context.Background(), "hi", "", nil)
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestSummarize(t *testing.T) {
	mock := NewMockProvider("mock")
	mock.AddResponse("兩個任務進行中")
	c := newTestCompletions(mock)

	due := time.Date(2026, 5, 1, 17, 0, 0, 0, time.UTC)
	out, err := c.Summarize(context.Background(), []models.Task{
		{Title: "月報表", Status: models.TaskPending, Priority: models.PriorityHigh, DueDate: &due},
		{Title: "行銷簡報", Status: models.TaskPending, Priority: models.PriorityMedium},
	})
	require.NoError(t, err)
	assert.Equal(t, "兩個任務進行中", out)

	req := mock.LastCall().Request
	assert.Equal(t, "gpt-summary", req.Model)
	assert.Equal(t, "summary-system", req.Messages[0].Content)
	user := req.Messages[1].Content
	assert.True(t, strings.HasPrefix(user, "tasks:\n["))
	assert.Contains(t, user, `"title": "月報表"`)
	assert.Contains(t, user, `"due_date": "2026-05-01 17:00"`)
}

func TestSummarizeError(t *testing.T) {
	mock := NewMockProvider("mock")
	mock.AddErrorResponse(errors.New("rate limited"))
	c := newTestCompletions(mock)

	_, err := c.Summarize(context.Background(), []models.Task{{Title: "x"}})
	assert.Error(t, err)
}

func TestExtractTaskForcesToolCall(t *testing.T) {
	mock := NewMockProvider("mock")
	mock.AddToolCallResponse("extract_task", `{"is_task": true, "description": "明天前交報表", "assignee": "小明", "due_date": "2026-05-02", "priority": "高"}`)
	c := newTestCompletions(mock)

	ex, err := c.ExtractTask(context.Background(), "小明明天前交報表")
	require.NoError(t, err)
	assert.True(t, ex.IsTask)
	assert.Equal(t, "明天前交報表", ex.Title)
	assert.Equal(t, "小明", ex.Assignee)
	assert.Equal(t, models.PriorityHigh, ex.Priority)
	require.NotNil(t, ex.DueDate)
	assert.Equal(t, time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC), *ex.DueDate)

	req := mock.LastCall().Request
	assert.Equal(t, "extract_task", req.ToolChoice)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "message: 小明明天前交報表", req.Messages[1].Content)
}

func TestExtractTaskWithoutToolCall(t *testing.T) {
	mock := NewMockProvider("mock")
	mock.AddResponse("not a tool call")
	c := newTestCompletions(mock)

	_, err := c.ExtractTask(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestParseExtraction(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		wantErr bool
		check   func(t *testing.T, ex *models.TaskExtraction)
	}{
		{
			name: "not a task",
			args: `{"is_task": false}`,
			check: func(t *testing.T, ex *models.TaskExtraction) {
				assert.False(t, ex.IsTask)
			},
		},
		{
			name: "defaults priority to medium and keeps title",
			args: `{"is_task": true, "title": "寄合約"}`,
			check: func(t *testing.T, ex *models.TaskExtraction) {
				assert.Equal(t, "寄合約", ex.Title)
				assert.Equal(t, models.PriorityMedium, ex.Priority)
				assert.Nil(t, ex.DueDate)
			},
		},
		{
			name: "unrecognised due date is dropped",
			args: `{"is_task": true, "title": "t", "due_date": "下週三"}`,
			check: func(t *testing.T, ex *models.TaskExtraction) {
				assert.Nil(t, ex.DueDate)
			},
		},
		{
			name: "rfc3339 due date",
			args: `{"is_task": true, "title": "t", "due_date": "2026-05-02T15:00:00+08:00"}`,
			check: func(t *testing.T, ex *models.TaskExtraction) {
				require.NotNil(t, ex.DueDate)
				assert.Equal(t, time.Date(2026, 5, 2, 7, 0, 0, 0, time.UTC), ex.DueDate.UTC())
			},
		},
		{name: "missing is_task", args: `{"title": "t"}`, wantErr: true},
		{name: "unknown field", args: `{"is_task": true, "title": "t", "__import__": "os"}`, wantErr: true},
		{name: "python literal", args: `{'is_task': True}`, wantErr: true},
		{name: "bad priority", args: `{"is_task": true, "title": "t", "priority": "緊急"}`, wantErr: true},
		{name: "trailing data", args: `{"is_task": false} {"is_task": true}`, wantErr: true},
		{name: "wrong type", args: `{"is_task": "yes"}`, wantErr: true},
		{name: "task without text", args: `{"is_task": true}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, err := ParseExtraction(tt.args, time.UTC)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidExtraction)
				return
			}
			require.NoError(t, err)
			tt.check(t, ex)
		})
	}
}
