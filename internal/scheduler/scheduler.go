package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"secretary/internal/monitoring"
)

// Action is the work a job performs on each run.
type Action func(ctx context.Context) error

var (
	// ErrJobNotFound is returned for unknown job names.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobRunning is returned by RunNow while the job is already running.
	ErrJobRunning = errors.New("job is already running")
)

// Job is a registered recurring job.
type Job struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	Running   bool       `json:"running"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	RunCount  int        `json:"run_count"`
	LastError string     `json:"last_error,omitempty"`

	action  Action
	entryID cron.EntryID
}

// Options tune retries and time handling.
type Options struct {
	// Location is the timezone schedules are evaluated in.
	Location *time.Location
	// RetryDelay is the pause before retrying a failed run.
	RetryDelay time.Duration
	// MaxRetries bounds the retries of one failed run. The job then waits
	// for its next scheduled time.
	MaxRetries int
	Metrics    *monitoring.Metrics
}

// Scheduler runs named jobs on cron schedules. A job never overlaps with
// itself and a failing job does not affect the others.
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]*Job
	opts    Options
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// Parser accepts five field cron expressions and descriptors like @hourly.
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New creates a scheduler.
func New(opts Options) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithParser(Parser),
			cron.WithChain(cron.Recover(cron.PrintfLogger(log.Default()))),
		),
		jobs:   make(map[string]*Job),
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
	}
}

// RegisterJob adds a job. Names must be unique.
func (s *Scheduler) RegisterJob(name, spec string, action Action) error {
	if name == "" || action == nil {
		return fmt.Errorf("job needs a name and an action")
	}
	if _, err := Parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression for %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	job := &Job{Name: name, Schedule: spec, action: action}
	entryID, err := s.cron.AddFunc(spec, func() { s.executeJob(job) })
	if err != nil {
		return fmt.Errorf("failed to schedule job: %v", err)
	}
	job.entryID = entryID
	s.jobs[name] = job

	if s.started {
		s.updateNextRun(job)
	}
	log.Printf("[Scheduler] Registered job: %s (%s)", name, spec)
	return nil
}

// Start begins firing jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()

	s.mu.Lock()
	s.started = true
	for _, job := range s.jobs {
		s.updateNextRun(job)
	}
	count := len(s.jobs)
	s.mu.Unlock()

	log.Printf("[Scheduler] Started with %d jobs", count)
}

// Stop cancels running jobs and waits for scheduled runs to return.
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Printf("[Scheduler] Stopped")
}

// RunNow runs a job immediately and waits for it, retries included.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	job, exists := s.jobs[name]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.run(ctx, job)
}

// ListJobs returns a snapshot of all jobs ordered by name.
func (s *Scheduler) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		cp := *job
		cp.action = nil
		jobs = append(jobs, cp)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

// Status returns scheduler status
func (s *Scheduler) Status() map[string]interface{} {
	jobs := s.ListJobs()
	running := 0
	failing := 0
	for _, j := range jobs {
		if j.Running {
			running++
		}
		if j.LastError != "" {
			failing++
		}
	}

	return map[string]interface{}{
		"total_jobs":   len(jobs),
		"running_jobs": running,
		"failing_jobs": failing,
		"location":     s.opts.Location.String(),
		"jobs":         jobs,
	}
}

// executeJob is the cron callback.
func (s *Scheduler) executeJob(job *Job) {
	if err := s.run(s.ctx, job); errors.Is(err, ErrJobRunning) {
		log.Printf("[Scheduler] Skipping %s, previous run still in progress", job.Name)
	}
}

// run executes one run of job with retries. The running flag is held for
// the whole run so no other trigger can start the job meanwhile.
func (s *Scheduler) run(ctx context.Context, job *Job) error {
	s.mu.Lock()
	if job.Running {
		s.mu.Unlock()
		return ErrJobRunning
	}
	job.Running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		job.Running = false
		s.updateNextRun(job)
		s.mu.Unlock()
	}()

	var err error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Printf("[Scheduler] Retrying %s in %v (%d/%d)", job.Name, s.opts.RetryDelay, attempt, s.opts.MaxRetries)
			if !sleep(ctx, s.opts.RetryDelay) {
				return ctx.Err()
			}
		}

		err = s.attempt(ctx, job)
		if err == nil || ctx.Err() != nil {
			break
		}
	}
	return err
}

func (s *Scheduler) attempt(ctx context.Context, job *Job) (err error) {
	log.Printf("[Scheduler] Executing job: %s", job.Name)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}

		s.mu.Lock()
		job.LastRun = &start
		job.RunCount++
		if err != nil {
			job.LastError = err.Error()
		} else {
			job.LastError = ""
		}
		s.mu.Unlock()

		s.opts.Metrics.RecordJob(job.Name, err)
		if err != nil {
			log.Printf("[Scheduler] Job %s failed: %v", job.Name, err)
		} else {
			log.Printf("[Scheduler] Job %s completed in %v", job.Name, time.Since(start))
		}
	}()

	return job.action(ctx)
}

// updateNextRun must be called with s.mu held.
func (s *Scheduler) updateNextRun(job *Job) {
	if job.entryID == 0 {
		return
	}
	entry := s.cron.Entry(job.entryID)
	if !entry.Next.IsZero() {
		next := entry.Next
		job.NextRun = &next
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
