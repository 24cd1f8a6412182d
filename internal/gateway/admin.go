package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"secretary/internal/middleware"
	"secretary/internal/models"
	"secretary/internal/store"
)

const (
	defaultMessageLimit = 100
	maxMessageLimit     = 1000
	maxRequestBody      = 1 << 20
)

// apiError is the body of every non-2xx admin API response.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Error: code, Message: message})
}

// writeStoreError maps store failures to status codes. Backend details are
// logged and never returned.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Resource not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "Resource already exists")
	default:
		log.Printf("[Admin] %s %s failed: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

// nonNil keeps empty collections encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// GET /api/messages?user_id=&status=&limit=
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.MessageFilter{
		UserID: q.Get("user_id"),
		Status: models.MessageStatus(q.Get("status")),
		Limit:  defaultMessageLimit,
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_query", "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, maxMessageLimit)
	}

	messages, err := g.store.ListMessages(r.Context(), filter)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(messages))
}

// parseTaskFilter reads status, keyword, assignee, department and
// created_after (RFC 3339) from the query string.
func parseTaskFilter(r *http.Request) (models.TaskFilter, error) {
	q := r.URL.Query()
	filter := models.TaskFilter{
		Status:     models.TaskStatus(q.Get("status")),
		Keyword:    q.Get("keyword"),
		Assignee:   q.Get("assignee"),
		Department: q.Get("department"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return filter, fmt.Errorf("unknown status %q", filter.Status)
	}
	if raw := q.Get("created_after"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("created_after must be RFC 3339: %w", err)
		}
		filter.CreatedAfter = t
	}
	return filter, nil
}

// GET /api/tasks
func (g *Gateway) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTaskFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	tasks, err := g.store.ListTasks(r.Context(), filter)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(tasks))
}

type createTaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Assignee    string     `json:"assignee"`
	Department  string     `json:"department"`
	DueDate     *time.Time `json:"due_date"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	Flow        []struct {
		Department string `json:"department"`
		HandlerID  string `json:"handler_id"`
	} `json:"flow"`
}

type taskResponse struct {
	Task *models.Task          `json:"task"`
	Flow []models.TaskFlowStep `json:"flow"`
}

// POST /api/tasks creates a task together with its hand-off flow.
func (g *Gateway) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeError(w, http.StatusBadRequest, "invalid_task", "title is required")
		return
	}
	priority, err := models.ParsePriority(req.Priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_task", err.Error())
		return
	}
	status := models.TaskStatus(req.Status)
	if status == "" {
		status = models.TaskUnassigned
		if req.Assignee != "" {
			status = models.TaskPending
		}
	}
	if !status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_task", fmt.Sprintf("unknown status %q", req.Status))
		return
	}

	steps := make([]models.TaskFlowStep, 0, len(req.Flow))
	for i, s := range req.Flow {
		if strings.TrimSpace(s.Department) == "" {
			writeError(w, http.StatusBadRequest, "invalid_task", fmt.Sprintf("flow step %d needs a department", i+1))
			return
		}
		steps = append(steps, models.TaskFlowStep{Department: s.Department, HandlerID: s.HandlerID})
	}

	task := &models.Task{
		Title:       title,
		Description: req.Description,
		Assignee:    req.Assignee,
		Department:  req.Department,
		DueDate:     req.DueDate,
		Priority:    priority,
		Status:      status,
	}
	if err := g.store.SaveTask(r.Context(), task); err != nil {
		writeStoreError(w, r, err)
		return
	}
	if err := g.store.SaveTaskFlow(r.Context(), task.ID, steps); err != nil {
		writeStoreError(w, r, err)
		return
	}

	log.Printf("[Admin] Created task %s with %d flow steps", task.ID, len(steps))
	writeJSON(w, http.StatusCreated, taskResponse{Task: task, Flow: steps})
}

// GET /api/tasks/{id}
func (g *Gateway) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := g.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type statusRequest struct {
	Status string `json:"status"`
	UserID string `json:"user_id"`
}

// PATCH /api/tasks/{id}/status changes the status and appends a task log
// entry. The entry is attributed to user_id, or to the admin client.
func (g *Gateway) handleUpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status := models.TaskStatus(req.Status)
	if !status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_status", fmt.Sprintf("unknown status %q", req.Status))
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = middleware.AdminClient
		if info := middleware.GetAuthInfo(r.Context()); info != nil {
			userID = info.ClientName
		}
	}

	id := chi.URLParam(r, "id")
	if err := g.store.UpdateTaskStatus(r.Context(), id, status, userID); err != nil {
		writeStoreError(w, r, err)
		return
	}
	task, err := g.store.GetTask(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// GET /api/tasks/{id}/flow
func (g *Gateway) handleTaskFlow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := g.store.GetTask(r.Context(), id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	steps, err := g.store.GetTaskFlow(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(steps))
}

// GET /api/tasks/{id}/logs
func (g *Gateway) handleTaskLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := g.store.GetTask(r.Context(), id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	logs, err := g.store.ListTaskLogs(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(logs))
}

// GET /api/users?department=&prefix=
func (g *Gateway) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	users, err := g.store.ListUsers(r.Context(), store.UserFilter{
		Department: q.Get("department"),
		IDPrefix:   q.Get("prefix"),
	})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(users))
}

// GET /api/settings/{userId}
func (g *Gateway) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := g.store.GetSettings(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

type settingsRequest struct {
	NotificationEnabled *bool   `json:"notification_enabled"`
	Language            *string `json:"language"`
}

// PUT /api/settings/{userId} updates the given fields on top of the current
// settings, which are the defaults for users that never saved any.
func (g *Gateway) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	settings, err := g.store.GetSettings(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if req.NotificationEnabled != nil {
		settings.NotificationEnabled = *req.NotificationEnabled
	}
	if req.Language != nil {
		lang := strings.TrimSpace(*req.Language)
		if lang == "" {
			writeError(w, http.StatusBadRequest, "invalid_settings", "language must not be empty")
			return
		}
		settings.Language = lang
	}

	if err := g.store.SaveSettings(r.Context(), settings); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}
