package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"secretary/internal/models"
)

// Prompts holds the fixed instructions sent with each gateway call.
// SummaryUser and ExtractUser are format strings taking one %s argument.
type Prompts struct {
	Persona       string
	Relevance     string
	LanguageHint  string // format string, %s is the language tag
	SummarySystem string
	SummaryUser   string
	ExtractSystem string
	ExtractUser   string
}

// Options tune the gateway.
type Options struct {
	Model        string
	SummaryModel string
	Timeout      time.Duration
	// DefaultLanguage is the language the persona prompt is written in; no
	// language hint is added for it.
	DefaultLanguage string
	// Location resolves date-only due dates returned by task extraction.
	Location *time.Location
}

// DefaultTimeout bounds each provider call when Options.Timeout is unset.
const DefaultTimeout = 20 * time.Second

// Turn is the previous exchange with a user, passed as conversation context.
type Turn struct {
	User      string
	Assistant string
}

// Completions is the completion gateway used by the dispatcher and the
// scheduled jobs. It is stateless and safe for concurrent use.
type Completions struct {
	provider Provider
	prompts  Prompts
	opts     Options
}

// NewCompletions creates a gateway on top of provider.
func NewCompletions(provider Provider, prompts Prompts, opts Options) *Completions {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.SummaryModel == "" {
		opts.SummaryModel = opts.Model
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Completions{provider: provider, prompts: prompts, opts: opts}
}

func (c *Completions) generate(ctx context.Context, op string, req *GenerateRequest) (*GenerateResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	resp, err := c.provider.GenerateResponse(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return resp, nil
}

// ClassifyRelevance asks whether message is about project management.
// Only an answer of "yes" (ignoring case and surrounding whitespace) counts
// as relevant. Errors are returned to the caller, which decides how to
// degrade.
func (c *Completions) ClassifyRelevance(ctx context.Context, message string) (bool, error) {
	resp, err := c.generate(ctx, "relevance check", &GenerateRequest{
		Model: c.opts.Model,
		Messages: []ChatMessage{
			{Role: "system", Content: c.prompts.Relevance},
			{Role: "user", Content: message},
		},
		Temperature: temperature(0.3),
		MaxTokens:   10,
	})
	if err != nil {
		return false, err
	}
	return IsAffirmative(resp.Content), nil
}

// IsAffirmative reports whether a classifier answer means "yes".
func IsAffirmative(answer string) bool {
	return strings.ToLower(strings.TrimSpace(answer)) == "yes"
}

// Complete generates the assistant's reply to message. prior, when non-nil,
// is the user's previous exchange.
func (c *Completions) Complete(ctx context.Context, message, language string, prior *Turn) (string, error) {
	messages := []ChatMessage{{Role: "system", Content: c.prompts.Persona}}
	if language != "" && language != c.opts.DefaultLanguage && c.prompts.LanguageHint != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: fmt.Sprintf(c.prompts.LanguageHint, language)})
	}
	if prior != nil && prior.User != "" {
		messages = append(messages,
			ChatMessage{Role: "user", Content: prior.User},
			ChatMessage{Role: "assistant", Content: prior.Assistant},
		)
	}
	messages = append(messages, ChatMessage{Role: "user", Content: message})

	resp, err := c.generate(ctx, "completion", &GenerateRequest{
		Model:       c.opts.Model,
		Messages:    messages,
		Temperature: temperature(0.7),
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return resp.Content, nil
}

// summaryTask is the shape tasks are presented to the model in.
type summaryTask struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Assignee    string `json:"assignee,omitempty"`
	Department  string `json:"department,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
}

// Summarize writes a short report over tasks.
func (c *Completions) Summarize(ctx context.Context, tasks []models.Task) (string, error) {
	list := make([]summaryTask, 0, len(tasks))
	for _, t := range tasks {
		st := summaryTask{
			Title:       t.Title,
			Description: t.Description,
			Assignee:    t.Assignee,
			Department:  t.Department,
			Priority:    string(t.Priority),
			Status:      string(t.Status),
		}
		if t.DueDate != nil {
			st.DueDate = t.DueDate.In(c.opts.Location).Format("2006-01-02 15:04")
		}
		list = append(list, st)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return "", fmt.Errorf("summary: failed to marshal tasks: %w", err)
	}

	resp, err := c.generate(ctx, "summary", &GenerateRequest{
		Model: c.opts.SummaryModel,
		Messages: []ChatMessage{
			{Role: "system", Content: c.prompts.SummarySystem},
			{Role: "user", Content: fmt.Sprintf(c.prompts.SummaryUser, string(data))},
		},
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return resp.Content, nil
}

// ExtractTaskTool is the function the model is forced to call when
// extracting a task from a chat message.
var ExtractTaskTool = Tool{
	Name:        "extract_task",
	Description: "提取任務相關資訊",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"is_task":     map[string]any{"type": "boolean"},
			"title":       map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
			"assignee":    map[string]any{"type": "string"},
			"due_date":    map[string]any{"type": "string", "description": "ISO 8601 date or date-time"},
			"priority":    map[string]any{"type": "string", "enum": []string{"高", "中", "低"}},
		},
		"required": []string{"is_task"},
	},
}

// ErrInvalidExtraction is returned when the model's function arguments do
// not match the extract_task schema.
var ErrInvalidExtraction = errors.New("invalid task extraction")

// ExtractTask asks the model whether message describes a task and returns
// the validated result.
func (c *Completions) ExtractTask(ctx context.Context, message string) (*models.TaskExtraction, error) {
	resp, err := c.generate(ctx, "task extraction", &GenerateRequest{
		Model: c.opts.SummaryModel,
		Messages: []ChatMessage{
			{Role: "system", Content: c.prompts.ExtractSystem},
			{Role: "user", Content: fmt.Sprintf(c.prompts.ExtractUser, message)},
		},
		Tools:      []Tool{ExtractTaskTool},
		ToolChoice: ExtractTaskTool.Name,
	})
	if err != nil {
		return nil, err
	}

	for _, tc := range resp.ToolCalls {
		if tc.Name == ExtractTaskTool.Name {
			return ParseExtraction(tc.Arguments, c.opts.Location)
		}
	}
	return nil, fmt.Errorf("task extraction: %w", ErrEmptyCompletion)
}

type extractionArgs struct {
	IsTask      *bool  `json:"is_task"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Assignee    string `json:"assignee"`
	DueDate     string `json:"due_date"`
	Priority    string `json:"priority"`
}

var dueDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
}

// ParseExtraction strictly decodes extract_task arguments. Unknown fields,
// trailing data, a missing is_task and priorities outside the enum are
// rejected. A due date in no recognised layout is dropped.
func ParseExtraction(arguments string, loc *time.Location) (*models.TaskExtraction, error) {
	if loc == nil {
		loc = time.Local
	}

	dec := json.NewDecoder(strings.NewReader(arguments))
	dec.DisallowUnknownFields()

	var args extractionArgs
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExtraction, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after object", ErrInvalidExtraction)
	}
	if args.IsTask == nil {
		return nil, fmt.Errorf("%w: missing is_task", ErrInvalidExtraction)
	}

	out := &models.TaskExtraction{IsTask: *args.IsTask}
	if !out.IsTask {
		return out, nil
	}

	priority, err := models.ParsePriority(args.Priority)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExtraction, err)
	}
	out.Priority = priority
	out.Description = strings.TrimSpace(args.Description)
	out.Assignee = strings.TrimSpace(args.Assignee)
	out.Title = strings.TrimSpace(args.Title)
	if out.Title == "" {
		out.Title = firstLine(out.Description, 60)
	}
	if out.Title == "" {
		return nil, fmt.Errorf("%w: task has neither title nor description", ErrInvalidExtraction)
	}

	if s := strings.TrimSpace(args.DueDate); s != "" {
		for _, layout := range dueDateLayouts {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				out.DueDate = &t
				break
			}
		}
	}

	return out, nil
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	r := []rune(s)
	if len(r) > max {
		return string(r[:max])
	}
	return s
}

