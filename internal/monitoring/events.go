package monitoring

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// EventSeverity represents the severity of an event
type EventSeverity string

const (
	SeverityInfo    EventSeverity = "info"
	SeverityWarning EventSeverity = "warning"
	SeverityError   EventSeverity = "error"
)

// Event is a notable occurrence worth showing to an operator: a failed job
// run, a degraded gateway call, an undelivered reply.
type Event struct {
	ID        string            `json:"id"`
	Severity  EventSeverity     `json:"severity"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
}

// EventFilter represents criteria for filtering events
type EventFilter struct {
	Severity   EventSeverity
	Source     string
	Since      time.Time
	MaxResults int
}

// NewEvent creates an event stamped with the current time.
func NewEvent(severity EventSeverity, source, message string) Event {
	return Event{
		ID:        generateEventID(),
		Severity:  severity,
		Timestamp: time.Now(),
		Source:    source,
		Message:   message,
	}
}

// String returns a human-readable string representation
func (e Event) String() string {
	return fmt.Sprintf("[%s] %s (%s) - %s",
		e.Timestamp.Format(time.RFC3339), e.Source, e.Severity, e.Message)
}

// MatchesFilter returns true if the event matches the given filter
func (e Event) MatchesFilter(filter EventFilter) bool {
	if filter.Severity != "" && e.Severity != filter.Severity {
		return false
	}
	if filter.Source != "" && e.Source != filter.Source {
		return false
	}
	if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
		return false
	}
	return true
}

// EventLog keeps the most recent events in memory. It is safe for
// concurrent use.
type EventLog struct {
	mu        sync.RWMutex
	events    []Event
	maxEvents int
}

// DefaultMaxEvents bounds an EventLog created with a non-positive size.
const DefaultMaxEvents = 200

// NewEventLog creates a log holding at most maxEvents events.
func NewEventLog(maxEvents int) *EventLog {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &EventLog{
		events:    make([]Event, 0, maxEvents),
		maxEvents: maxEvents,
	}
}

// Record appends an event, dropping the oldest once the log is full.
func (l *EventLog) Record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.events) == l.maxEvents {
		copy(l.events, l.events[1:])
		l.events = l.events[:len(l.events)-1]
	}
	l.events = append(l.events, e)
}

// Query returns matching events, newest first.
func (l *EventLog) Query(filter EventFilter) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	results := []Event{}
	for i := len(l.events) - 1; i >= 0; i-- {
		if !l.events[i].MatchesFilter(filter) {
			continue
		}
		results = append(results, l.events[i])
		if filter.MaxResults > 0 && len(results) == filter.MaxResults {
			break
		}
	}
	return results
}

// Count counts events matching the filter
func (l *EventLog) Count(filter EventFilter) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	count := 0
	for _, e := range l.events {
		if e.MatchesFilter(filter) {
			count++
		}
	}
	return count
}

// eventIDCounter ensures unique event IDs even when called in rapid succession
var eventIDCounter atomic.Int64

// generateEventID generates a unique event ID
func generateEventID() string {
	seq := eventIDCounter.Add(1)
	return fmt.Sprintf("evt_%d_%d", time.Now().UnixNano(), seq)
}
