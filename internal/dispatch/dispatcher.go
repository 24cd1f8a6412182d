// Package dispatch routes inbound chat messages to slash commands, phrase
// triggered reports or the relevance gated assistant, and delivers exactly
// one reply per message.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"secretary/internal/ai"
	"secretary/internal/channels"
	"secretary/internal/contextcache"
	"secretary/internal/models"
	"secretary/internal/monitoring"
	"secretary/internal/prompts"
	"secretary/internal/store"
)

// Store is the persistence the dispatcher needs.
type Store interface {
	GetUser(ctx context.Context, lineID string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	ListUsers(ctx context.Context, filter store.UserFilter) ([]models.User, error)
	GetSettings(ctx context.Context, userID string) (*models.Settings, error)
	ListTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error)
	SaveTask(ctx context.Context, task *models.Task) error
	SaveMessage(ctx context.Context, msg *models.Message) error
}

// Gateway is the completion gateway the dispatcher needs.
type Gateway interface {
	ClassifyRelevance(ctx context.Context, message string) (bool, error)
	Complete(ctx context.Context, message, language string, prior *ai.Turn) (string, error)
	Summarize(ctx context.Context, tasks []models.Task) (string, error)
	ExtractTask(ctx context.Context, message string) (*models.TaskExtraction, error)
}

// Options tune the dispatcher.
type Options struct {
	// ExtractTasks saves tasks found in relevant free text.
	ExtractTasks bool
	// ExtractTimeout bounds one background extraction; defaults to 30s.
	ExtractTimeout time.Duration
	// LogMessageContent includes message text in logs.
	LogMessageContent bool
	Metrics           *monitoring.Metrics
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Dispatcher handles inbound messages. It implements channels.MessageHandler.
type Dispatcher struct {
	store   Store
	gateway Gateway
	cache   contextcache.Cache
	texts   *prompts.Catalog
	sink    channels.Sink
	opts    Options

	extractions sync.WaitGroup
}

// New creates a dispatcher. The context cache is owned by the dispatcher
// from here on; nothing else should write to it.
func New(st Store, gw Gateway, cache contextcache.Cache, texts *prompts.Catalog, sink channels.Sink, opts Options) *Dispatcher {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ExtractTimeout <= 0 {
		opts.ExtractTimeout = 30 * time.Second
	}
	return &Dispatcher{
		store:   st,
		gateway: gw,
		cache:   cache,
		texts:   texts,
		sink:    sink,
		opts:    opts,
	}
}

// Process handles one inbound message: it resolves the result, records it
// in the context cache and the message log, replies once through the sink
// and finally starts task extraction in the background when enabled.
func (d *Dispatcher) Process(ctx context.Context, in channels.Inbound) error {
	var prior *contextcache.Entry
	if e, ok := d.cache.Get(in.UserID); ok {
		prior = &e
	}

	start := d.opts.Now()
	res := d.Handle(ctx, in.UserID, in.Text, prior)
	d.opts.Metrics.RecordDispatch(res.Kind.String(), string(res.Stage))

	if d.opts.LogMessageContent {
		log.Printf("[Dispatcher] %s %q -> %s/%s", in.UserID, in.Text, res.Stage, res.Kind)
	} else {
		log.Printf("[Dispatcher] %s (%d chars) -> %s/%s in %v", in.UserID, len(in.Text), res.Stage, res.Kind, d.opts.Now().Sub(start))
	}

	if res.Logged() {
		d.cache.Set(in.UserID, contextcache.Entry{
			LastMessage:  in.Text,
			LastResponse: res.Content,
			Timestamp:    d.opts.Now(),
		})
		d.logMessage(ctx, in, res, prior)
	}

	if err := d.sink.Reply(ctx, in.Channel, in.ReplyToken, res.Content); err != nil {
		d.opts.Metrics.IncrementReplyFailures()
		return fmt.Errorf("reply to %s: %w", in.UserID, err)
	}

	if res.extract && d.opts.ExtractTasks {
		// the webhook request may finish before extraction does
		bg := context.WithoutCancel(ctx)
		d.extractions.Add(1)
		go func() {
			defer d.extractions.Done()
			ctx, cancel := context.WithTimeout(bg, d.opts.ExtractTimeout)
			defer cancel()
			d.extractTask(ctx, in)
		}()
	}
	return nil
}

// Wait blocks until background task extractions have finished.
func (d *Dispatcher) Wait() {
	d.extractions.Wait()
}

// Handle resolves the result for one message. prior is the user's previous
// exchange, if any. Every failure is turned into an error result.
func (d *Dispatcher) Handle(ctx context.Context, userID, text string, prior *contextcache.Entry) Result {
	text = strings.TrimSpace(text)
	cmd := ParseCommand(text)

	user, err := d.store.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[Dispatcher] User lookup for %s failed, treating as unregistered: %v", userID, err)
		}
		user = nil
	}

	if user == nil && cmd != CommandIntroduce {
		return Result{
			Kind:    KindSuccess,
			Content: d.texts.Text(d.texts.DefaultLanguage(), prompts.Onboarding),
			Stage:   StageOnboarding,
		}
	}

	lang := d.texts.DefaultLanguage()
	if user != nil {
		lang = d.language(ctx, userID)
	}

	if cmd != CommandNone {
		return d.runCommand(ctx, cmd, userID, text, user, lang)
	}
	if t := MatchTrigger(text); t != TriggerNone {
		return d.runTrigger(ctx, t, userID, user, lang)
	}
	return d.assist(ctx, text, lang, prior)
}

func (d *Dispatcher) language(ctx context.Context, userID string) string {
	st, err := d.store.GetSettings(ctx, userID)
	if err != nil {
		log.Printf("[Dispatcher] Settings lookup for %s failed, using default language: %v", userID, err)
		return d.texts.DefaultLanguage()
	}
	if st.Language == "" {
		return d.texts.DefaultLanguage()
	}
	return st.Language
}

func (d *Dispatcher) runCommand(ctx context.Context, cmd Command, userID, text string, user *models.User, lang string) Result {
	var (
		content string
		err     error
	)
	switch cmd {
	case CommandHelp:
		content = d.texts.Text(lang, prompts.Help)
	case CommandTasks:
		content, err = d.listTasks(ctx, lang)
	case CommandReport:
		content, err = d.weeklyReport(ctx, lang)
	case CommandSettings:
		content, err = d.showSettings(ctx, userID, lang)
	case CommandStatus:
		content, err = d.projectStatus(ctx, lang)
	case CommandIntroduce:
		return d.introduce(ctx, userID, text, user, lang)
	}

	if err != nil {
		log.Printf("[Dispatcher] Command %s failed for %s: %v", cmd, userID, err)
		return failure(StageCommand, d.texts.Text(lang, prompts.CommandError, cmd.String()))
	}
	return success(StageCommand, content)
}

func (d *Dispatcher) listTasks(ctx context.Context, lang string) (string, error) {
	tasks, err := d.store.ListTasks(ctx, models.TaskFilter{})
	if err != nil {
		return "", err
	}
	if len(tasks) == 0 {
		return d.texts.Text(lang, prompts.TasksEmpty), nil
	}

	var b strings.Builder
	b.WriteString(d.texts.Text(lang, prompts.TasksHeader))
	b.WriteString("\n")
	for i, t := range tasks {
		b.WriteString("\n")
		b.WriteString(d.texts.Text(lang, prompts.TaskLine, i+1, t.Title, d.texts.Text(lang, prompts.StatusLabel(string(t.Status)))))
	}
	return b.String(), nil
}

func (d *Dispatcher) projectStatus(ctx context.Context, lang string) (string, error) {
	tasks, err := d.store.ListTasks(ctx, models.TaskFilter{})
	if err != nil {
		return "", err
	}
	stats := models.CountTasks(tasks)
	return d.texts.Text(lang, prompts.Status, stats.Total, stats.Completed, stats.Pending, stats.CompletionRate()), nil
}

func (d *Dispatcher) weeklyReport(ctx context.Context, lang string) (string, error) {
	tasks, err := d.store.ListTasks(ctx, models.TaskFilter{CreatedAfter: d.opts.Now().AddDate(0, 0, -7)})
	if err != nil {
		return "", err
	}
	return RenderReport(d.texts, lang, tasks), nil
}

// RenderReport formats the weekly progress figures. Everything not
// completed counts as in progress.
func RenderReport(texts *prompts.Catalog, lang string, tasks []models.Task) string {
	stats := models.CountTasks(tasks)
	return texts.Text(lang, prompts.Report, stats.Total, stats.Completed, stats.Total-stats.Completed, stats.CompletionRate())
}

func (d *Dispatcher) showSettings(ctx context.Context, userID, lang string) (string, error) {
	st, err := d.store.GetSettings(ctx, userID)
	if err != nil {
		return "", err
	}
	notify := d.texts.Text(lang, prompts.NotificationsOff)
	if st.NotificationEnabled {
		notify = d.texts.Text(lang, prompts.NotificationsOn)
	}
	return d.texts.Text(lang, prompts.Settings, notify, st.Language), nil
}

func (d *Dispatcher) runTrigger(ctx context.Context, t Trigger, userID string, user *models.User, lang string) Result {
	header := d.texts.Text(lang, t.String()+"_header")
	empty := d.texts.Text(lang, t.String()+"_empty")

	var filter models.TaskFilter
	switch t {
	case TriggerUnassigned:
		filter.Status = models.TaskUnassigned
	case TriggerReportStatus:
		filter.Keyword = reportKeyword
	case TriggerMarketingDeck:
		filter.Keyword = marketingKeyword
	case TriggerWeekly:
		filter.CreatedAfter = d.opts.Now().AddDate(0, 0, -7)
	case TriggerMyTasks:
		filter.Assignee = userID
	case TriggerDepartment:
		header = d.texts.Text(lang, t.String()+"_header", user.Department)
		empty = d.texts.Text(lang, t.String()+"_empty", user.Department)
		// An empty department would match every task
		if user.Department == "" {
			return success(StagePhrase, empty)
		}
		filter.Department = user.Department
	}

	tasks, err := d.store.ListTasks(ctx, filter)
	if err != nil {
		log.Printf("[Dispatcher] Task query for %s trigger failed: %v", t, err)
		return failure(StagePhrase, d.texts.Text(lang, prompts.GenericError))
	}
	if len(tasks) == 0 {
		return success(StagePhrase, empty)
	}

	summary, err := d.gateway.Summarize(ctx, tasks)
	if err != nil {
		log.Printf("[Dispatcher] Summary for %s trigger failed: %v", t, err)
		return failure(StagePhrase, d.texts.Text(lang, prompts.SummaryFailed))
	}
	return success(StagePhrase, header+"\n\n"+summary)
}

func (d *Dispatcher) assist(ctx context.Context, text, lang string, prior *contextcache.Entry) Result {
	relevant, err := d.gateway.ClassifyRelevance(ctx, text)
	if err != nil {
		// Fail open so a provider outage never silently drops a question
		log.Printf("[Dispatcher] Relevance check failed, treating message as relevant: %v", err)
		d.opts.Metrics.IncrementRelevanceFailOpen()
		relevant = true
	}
	if !relevant {
		return Result{Kind: KindIrrelevant, Content: d.texts.Text(lang, prompts.Refusal), Stage: StageAssistant}
	}

	var turn *ai.Turn
	if prior != nil {
		turn = &ai.Turn{User: prior.LastMessage, Assistant: prior.LastResponse}
	}

	reply, err := d.gateway.Complete(ctx, text, lang, turn)
	if errors.Is(err, ai.ErrEmptyCompletion) {
		return failure(StageAssistant, d.texts.Text(lang, prompts.NotUnderstood))
	}
	if err != nil {
		log.Printf("[Dispatcher] Completion failed: %v", err)
		return failure(StageAssistant, d.texts.Text(lang, prompts.GenericError))
	}

	res := success(StageAssistant, reply)
	res.extract = true
	return res
}

func (d *Dispatcher) logMessage(ctx context.Context, in channels.Inbound, res Result, prior *contextcache.Entry) {
	status := models.MessageProcessed
	if res.Kind == KindError {
		status = models.MessageError
	}

	msg := &models.Message{
		UserID:    in.UserID,
		GroupID:   in.GroupID,
		Type:      "text",
		Content:   in.Text,
		Response:  res.Content,
		Timestamp: d.opts.Now(),
		Status:    status,
	}
	if prior != nil {
		msg.Context = map[string]string{
			"last_message":  prior.LastMessage,
			"last_response": prior.LastResponse,
			"timestamp":     prior.Timestamp.Format(time.RFC3339),
		}
	}

	if err := d.store.SaveMessage(ctx, msg); err != nil {
		log.Printf("[Dispatcher] Failed to log message from %s: %v", in.UserID, err)
	}
}
