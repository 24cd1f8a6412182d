package monitoring

import (
	"runtime"
	"sync"
	"time"
)

// Metrics tracks bot health and activity counters. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Dispatch metrics, keyed by result kind and by the stage that produced it
	MessagesByKind  map[string]int64
	MessagesByStage map[string]int64

	// Gateway degradations
	RelevanceFailOpen int64
	ExtractedTasks    int64
	ExtractionErrors  int64

	// Delivery
	ReplyFailures int64

	// Scheduled jobs
	JobRuns     map[string]int64
	JobFailures map[string]int64

	events    *EventLog
	mutex     sync.RWMutex
	startTime time.Time
	status    string
	version   string
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesByKind:  make(map[string]int64),
		MessagesByStage: make(map[string]int64),
		JobRuns:         make(map[string]int64),
		JobFailures:     make(map[string]int64),
		events:          NewEventLog(DefaultMaxEvents),
		startTime:       time.Now(),
		status:          "healthy",
	}
}

// RecordDispatch counts one dispatched message.
func (m *Metrics) RecordDispatch(kind, stage string) {
	if m == nil {
		return
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.MessagesByKind[kind]++
	m.MessagesByStage[stage]++
}

// IncrementRelevanceFailOpen counts relevance checks that failed and were
// treated as relevant.
func (m *Metrics) IncrementRelevanceFailOpen() {
	if m == nil {
		return
	}
	m.mutex.Lock()
	m.RelevanceFailOpen++
	m.mutex.Unlock()

	m.events.Record(NewEvent(SeverityWarning, "gateway", "relevance check failed, message treated as relevant"))
}

// RecordExtraction counts a task extraction attempt.
func (m *Metrics) RecordExtraction(saved bool, err error) {
	if m == nil {
		return
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err != nil {
		m.ExtractionErrors++
		m.events.Record(NewEvent(SeverityWarning, "extraction", err.Error()))
	} else if saved {
		m.ExtractedTasks++
	}
}

// IncrementReplyFailures counts replies the sink could not deliver.
func (m *Metrics) IncrementReplyFailures() {
	if m == nil {
		return
	}
	m.mutex.Lock()
	m.ReplyFailures++
	m.mutex.Unlock()

	m.events.Record(NewEvent(SeverityWarning, "delivery", "reply could not be delivered"))
}

// RecordJob counts one run of a scheduled job.
func (m *Metrics) RecordJob(name string, err error) {
	if m == nil {
		return
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.JobRuns[name]++
	if err != nil {
		m.JobFailures[name]++
		e := NewEvent(SeverityError, "scheduler", err.Error())
		e.Context = map[string]string{"job": name}
		m.events.Record(e)
	}
}

// SetStatus updates the overall status
func (m *Metrics) SetStatus(status string) {
	m.mutex.Lock()
	old := m.status
	m.status = status
	m.mutex.Unlock()

	if old != status {
		severity := SeverityInfo
		if status != "healthy" {
			severity = SeverityError
		}
		m.events.Record(NewEvent(severity, "health", "status changed from "+old+" to "+status))
	}
}

// Events returns recorded events matching filter, newest first.
func (m *Metrics) Events(filter EventFilter) []Event {
	if m == nil {
		return []Event{}
	}
	return m.events.Query(filter)
}

// SetVersion sets the reported version
func (m *Metrics) SetVersion(version string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.version = version
}

// MetricsSnapshot is a data-only copy of Metrics, safe to pass by value.
type MetricsSnapshot struct {
	MessagesByKind    map[string]int64 `json:"messages_by_kind"`
	MessagesByStage   map[string]int64 `json:"messages_by_stage"`
	RelevanceFailOpen int64            `json:"relevance_fail_open"`
	ExtractedTasks    int64            `json:"extracted_tasks"`
	ExtractionErrors  int64            `json:"extraction_errors"`
	ReplyFailures     int64            `json:"reply_failures"`
	JobRuns           map[string]int64 `json:"job_runs"`
	JobFailures       map[string]int64 `json:"job_failures"`
	UptimeSeconds     int64            `json:"uptime_seconds"`
	MemoryUsageBytes  int64            `json:"memory_usage_bytes"`
	MemoryUsageMB     float64          `json:"memory_usage_mb"`
	GoroutineCount    int              `json:"goroutine_count"`
	Timestamp         time.Time        `json:"timestamp"`
	Status            string           `json:"status"`
	Version           string           `json:"version,omitempty"`
}

// Snapshot returns a thread-safe copy of the current metrics with fresh
// system figures.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		MessagesByKind:    copyCounts(m.MessagesByKind),
		MessagesByStage:   copyCounts(m.MessagesByStage),
		RelevanceFailOpen: m.RelevanceFailOpen,
		ExtractedTasks:    m.ExtractedTasks,
		ExtractionErrors:  m.ExtractionErrors,
		ReplyFailures:     m.ReplyFailures,
		JobRuns:           copyCounts(m.JobRuns),
		JobFailures:       copyCounts(m.JobFailures),
		UptimeSeconds:     int64(time.Since(m.startTime).Seconds()),
		MemoryUsageBytes:  int64(memStats.Alloc),
		MemoryUsageMB:     float64(memStats.Alloc) / 1024 / 1024,
		GoroutineCount:    runtime.NumGoroutine(),
		Timestamp:         time.Now(),
		Status:            m.status,
		Version:           m.version,
	}
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// IsHealthy returns true if the bot appears to be healthy
func (m *Metrics) IsHealthy() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.status == "healthy"
}

// GetUptime returns the uptime as a duration
func (m *Metrics) GetUptime() time.Duration {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return time.Since(m.startTime)
}
