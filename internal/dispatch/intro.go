package dispatch

import (
	"context"
	"errors"
	"log"
	"strings"

	"secretary/internal/channels"
	"secretary/internal/models"
	"secretary/internal/prompts"
	"secretary/internal/store"
)

// introMinLines is the command line plus the three form fields.
const introMinLines = 4

// introFields maps accepted form labels to User fields.
var introFields = map[string]string{
	"姓名":         "name",
	"name":       "name",
	"部門":         "department",
	"department": "department",
	"職稱":         "title",
	"title":      "title",
}

// parseIntroduction reads the registration form. ok is false when the text
// has too few lines to be a form at all; a form with missing fields returns
// ok with those fields left empty.
func parseIntroduction(text string) (u models.User, ok bool) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) < introMinLines {
		return u, false
	}

	for _, line := range lines[1:] {
		key, value, found := strings.Cut(line, "：")
		if !found {
			key, value, found = strings.Cut(line, ":")
		}
		if !found {
			continue
		}
		switch introFields[strings.ToLower(strings.TrimSpace(key))] {
		case "name":
			u.Name = strings.TrimSpace(value)
		case "department":
			u.Department = strings.TrimSpace(value)
		case "title":
			u.Title = strings.TrimSpace(value)
		}
	}
	return u, true
}

func (d *Dispatcher) introduce(ctx context.Context, userID, text string, existing *models.User, lang string) Result {
	if existing != nil {
		return success(StageCommand, d.texts.Text(lang, prompts.IntroRegistered, existing.Name))
	}

	u, ok := parseIntroduction(text)
	if !ok {
		return success(StageCommand, d.texts.Text(lang, prompts.IntroFormat))
	}
	if u.Name == "" || u.Department == "" || u.Title == "" {
		return failure(StageCommand, d.texts.Text(lang, prompts.IntroFailure))
	}

	u.LineID = userID
	u.JoinDate = d.opts.Now()
	err := d.store.CreateUser(ctx, &u)
	switch {
	case errors.Is(err, store.ErrConflict):
		return success(StageCommand, d.texts.Text(lang, prompts.IntroRegistered, u.Name))
	case err != nil:
		log.Printf("[Dispatcher] Registering %s failed: %v", userID, err)
		return failure(StageCommand, d.texts.Text(lang, prompts.IntroFailure))
	}

	log.Printf("[Dispatcher] Registered %s (%s, %s)", userID, u.Department, u.Title)
	return success(StageCommand, d.texts.Text(lang, prompts.IntroSuccess, u.Name))
}

// extractTask saves the task described by a relevant message, if any.
// Errors are only logged; the user has already been answered.
func (d *Dispatcher) extractTask(ctx context.Context, in channels.Inbound) {
	ext, err := d.gateway.ExtractTask(ctx, in.Text)
	if err != nil {
		log.Printf("[Dispatcher] Task extraction failed: %v", err)
		d.opts.Metrics.RecordExtraction(false, err)
		return
	}
	if ext == nil || !ext.IsTask {
		d.opts.Metrics.RecordExtraction(false, nil)
		return
	}

	task := &models.Task{
		Title:       ext.Title,
		Description: ext.Description,
		DueDate:     ext.DueDate,
		Priority:    ext.Priority,
		Status:      models.TaskUnassigned,
	}
	if task.Description == "" {
		task.Description = in.Text
	}
	if task.Priority == "" {
		task.Priority = models.PriorityMedium
	}
	if ext.Assignee != "" {
		if u := d.resolveAssignee(ctx, ext.Assignee); u != nil {
			task.Assignee = u.LineID
			task.Department = u.Department
			task.Status = models.TaskPending
		}
	}

	if err := d.store.SaveTask(ctx, task); err != nil {
		log.Printf("[Dispatcher] Saving extracted task failed: %v", err)
		d.opts.Metrics.RecordExtraction(false, err)
		return
	}
	log.Printf("[Dispatcher] Saved task %s extracted from %s", task.ID, in.UserID)
	d.opts.Metrics.RecordExtraction(true, nil)
}

// resolveAssignee finds a registered user by display name or id.
func (d *Dispatcher) resolveAssignee(ctx context.Context, name string) *models.User {
	users, err := d.store.ListUsers(ctx, store.UserFilter{})
	if err != nil {
		log.Printf("[Dispatcher] User list for assignee lookup failed: %v", err)
		return nil
	}
	for i := range users {
		if strings.EqualFold(users[i].Name, name) || users[i].LineID == name {
			return &users[i]
		}
	}
	return nil
}
