package scheduler

import "context"

// SchedulerInterface defines the interface for job scheduling.
// This allows for mock implementations in tests.
type SchedulerInterface interface {
	// RegisterJob adds a named job on a cron schedule
	RegisterJob(name, spec string, action Action) error

	// Start starts firing jobs
	Start()

	// Stop stops the scheduler
	Stop()

	// ListJobs returns all jobs
	ListJobs() []Job

	// RunNow executes a job immediately
	RunNow(ctx context.Context, name string) error

	// Status returns scheduler status
	Status() map[string]interface{}
}

// Verify that Scheduler implements SchedulerInterface
var _ SchedulerInterface = (*Scheduler)(nil)
