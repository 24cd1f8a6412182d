// Package jobs implements the recurring background work: due date
// reminders, the daily summary and the weekly report.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"secretary/internal/channels"
	"secretary/internal/config"
	"secretary/internal/dispatch"
	"secretary/internal/models"
	"secretary/internal/prompts"
	"secretary/internal/scheduler"
)

// Store is the persistence the jobs read from.
type Store interface {
	ListTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error)
	GetSettings(ctx context.Context, userID string) (*models.Settings, error)
}

// Summarizer produces the task digests.
type Summarizer interface {
	Summarize(ctx context.Context, tasks []models.Task) (string, error)
}

// DueWindow is how far ahead a due date triggers a reminder.
const DueWindow = 24 * time.Hour

// Runner holds the dependencies shared by all jobs.
type Runner struct {
	store      Store
	summarizer Summarizer
	sink       channels.Sink
	texts      *prompts.Catalog
	now        func() time.Time
}

// NewRunner creates a job runner. now defaults to time.Now.
func NewRunner(st Store, summarizer Summarizer, sink channels.Sink, texts *prompts.Catalog, now func() time.Time) *Runner {
	if now == nil {
		now = time.Now
	}
	return &Runner{store: st, summarizer: summarizer, sink: sink, texts: texts, now: now}
}

// Actions maps job names to their actions.
func (r *Runner) Actions() map[string]scheduler.Action {
	return map[string]scheduler.Action{
		config.JobDueReminders: r.DueReminders,
		config.JobDailySummary: r.DailySummary,
		config.JobWeeklyReport: r.WeeklyReport,
	}
}

// Register adds every enabled configured job to s.
func (r *Runner) Register(s *scheduler.Scheduler, cfg config.SchedulerConfig) error {
	actions := r.Actions()
	for _, jc := range cfg.Jobs {
		if !jc.Enabled {
			log.Printf("[Jobs] %s disabled", jc.Name)
			continue
		}
		action, ok := actions[jc.Name]
		if !ok {
			return fmt.Errorf("unknown job %q", jc.Name)
		}
		if err := s.RegisterJob(jc.Name, jc.Schedule, action); err != nil {
			return err
		}
	}
	return nil
}

// DueReminders pushes a reminder for every pending task due within
// DueWindow, overdue tasks included. Assignees who turned notifications
// off are skipped. Only a failed task query fails the run; a lost push is
// not retried so nobody gets the same reminder twice.
func (r *Runner) DueReminders(ctx context.Context) error {
	tasks, err := r.store.ListTasks(ctx, models.TaskFilter{Status: models.TaskPending})
	if err != nil {
		return fmt.Errorf("list pending tasks: %w", err)
	}

	now := r.now()
	sent := 0
	for _, task := range tasks {
		if task.DueDate == nil || task.Assignee == "" {
			continue
		}
		if task.DueDate.Sub(now) >= DueWindow {
			continue
		}

		lang, ok := r.recipient(ctx, task.Assignee)
		if !ok {
			continue
		}
		if err := r.sink.Push(ctx, task.Assignee, r.texts.Text(lang, prompts.DueReminder, task.Title)); err != nil {
			log.Printf("[Jobs] Reminder for task %s to %s failed: %v", task.ID, task.Assignee, err)
			continue
		}
		sent++
	}

	log.Printf("[Jobs] Sent %d due reminders (%d pending tasks)", sent, len(tasks))
	return nil
}

// DailySummary pushes a digest of the last day's tasks to each distinct
// assignee among them.
func (r *Runner) DailySummary(ctx context.Context) error {
	tasks, err := r.store.ListTasks(ctx, models.TaskFilter{CreatedAfter: r.now().Add(-24 * time.Hour)})
	if err != nil {
		return fmt.Errorf("list recent tasks: %w", err)
	}
	if len(tasks) == 0 {
		log.Printf("[Jobs] No tasks in the last day, skipping daily summary")
		return nil
	}

	summary, err := r.summarizer.Summarize(ctx, tasks)
	if err != nil {
		return fmt.Errorf("summarize daily tasks: %w", err)
	}

	seen := make(map[string]bool)
	for _, task := range tasks {
		if task.Assignee == "" || seen[task.Assignee] {
			continue
		}
		seen[task.Assignee] = true

		lang, ok := r.recipient(ctx, task.Assignee)
		if !ok {
			continue
		}
		if err := r.sink.Push(ctx, task.Assignee, r.texts.Text(lang, prompts.DailySummary, summary)); err != nil {
			log.Printf("[Jobs] Daily summary to %s failed: %v", task.Assignee, err)
		}
	}

	log.Printf("[Jobs] Daily summary covered %d tasks for %d assignees", len(tasks), len(seen))
	return nil
}

// WeeklyReport broadcasts the progress figures of the last seven days,
// followed by a model written summary when there are tasks to summarize.
// A failed summary still sends the figures. Only a broadcast that reached
// nobody fails the run.
func (r *Runner) WeeklyReport(ctx context.Context) error {
	tasks, err := r.store.ListTasks(ctx, models.TaskFilter{CreatedAfter: r.now().AddDate(0, 0, -7)})
	if err != nil {
		return fmt.Errorf("list weekly tasks: %w", err)
	}

	lang := r.texts.DefaultLanguage()
	report := dispatch.RenderReport(r.texts, lang, tasks)
	if len(tasks) > 0 {
		summary, err := r.summarizer.Summarize(ctx, tasks)
		if err != nil {
			log.Printf("[Jobs] Weekly summary failed, sending figures only: %v", err)
		} else {
			report += "\n\n" + r.texts.Text(lang, prompts.WeeklySummary, summary)
		}
	}

	if err := r.sink.Broadcast(ctx, report); err != nil {
		// a retry would repeat the report to everyone it already reached
		if errors.Is(err, channels.ErrPartialDelivery) {
			log.Printf("[Jobs] Weekly report partially delivered: %v", err)
			return nil
		}
		return fmt.Errorf("broadcast weekly report: %w", err)
	}
	log.Printf("[Jobs] Weekly report broadcast (%d tasks)", len(tasks))
	return nil
}

// recipient returns the language to address userID in, and false when the
// user has notifications off. Settings errors fall back to sending in the
// default language.
func (r *Runner) recipient(ctx context.Context, userID string) (string, bool) {
	st, err := r.store.GetSettings(ctx, userID)
	if err != nil {
		log.Printf("[Jobs] Settings lookup for %s failed, using defaults: %v", userID, err)
		return r.texts.DefaultLanguage(), true
	}
	if !st.NotificationEnabled {
		return "", false
	}
	if st.Language == "" {
		return r.texts.DefaultLanguage(), true
	}
	return st.Language, true
}
