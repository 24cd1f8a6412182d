package channels

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

var (
	// ErrNoAdapter is returned when no registered adapter can deliver a message.
	ErrNoAdapter = errors.New("no adapter for recipient")

	// ErrPartialDelivery marks a broadcast that reached some recipients but
	// not all. Sending it again would repeat the message to those it reached.
	ErrPartialDelivery = errors.New("broadcast partially delivered")
)

type deliveryStats struct {
	sent   int64
	failed int64
}

// Manager routes outgoing messages to the registered adapters and
// implements Sink.
type Manager struct {
	adapters []Adapter
	byName   map[string]Adapter
	stats    map[string]*deliveryStats
	mutex    sync.RWMutex
}

// NewManager creates a new channel manager
func NewManager() *Manager {
	return &Manager{
		byName: make(map[string]Adapter),
		stats:  make(map[string]*deliveryStats),
	}
}

// Register adds an adapter. Push consults adapters in registration order,
// so catch-all adapters should be registered last.
func (m *Manager) Register(a Adapter) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.byName[a.Name()]; exists {
		log.Printf("[ChannelManager] Replacing adapter: %s", a.Name())
		for i, existing := range m.adapters {
			if existing.Name() == a.Name() {
				m.adapters = append(m.adapters[:i], m.adapters[i+1:]...)
				break
			}
		}
	}
	m.adapters = append(m.adapters, a)
	m.byName[a.Name()] = a
	m.stats[a.Name()] = &deliveryStats{}
	log.Printf("[ChannelManager] Registered adapter: %s", a.Name())
}

// Start starts every adapter that has a background loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mutex.RLock()
	adapters := append([]Adapter(nil), m.adapters...)
	m.mutex.RUnlock()

	for _, a := range adapters {
		if s, ok := a.(Starter); ok {
			if err := s.Start(ctx); err != nil {
				return fmt.Errorf("failed to start adapter %s: %w", a.Name(), err)
			}
		}
	}
	log.Printf("[ChannelManager] Started with %d adapters", len(adapters))
	return nil
}

// GetAdapter returns a specific adapter by name
func (m *Manager) GetAdapter(name string) (Adapter, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	a, ok := m.byName[name]
	return a, ok
}

// Reply answers an inbound message on the adapter it arrived on.
func (m *Manager) Reply(ctx context.Context, channel, replyToken, text string) error {
	a, ok := m.GetAdapter(channel)
	if !ok {
		return fmt.Errorf("%w: channel %q", ErrNoAdapter, channel)
	}
	return m.record(a.Name(), a.Reply(ctx, replyToken, text))
}

// Push sends text to userID through the first adapter that owns the id.
func (m *Manager) Push(ctx context.Context, userID, text string) error {
	m.mutex.RLock()
	var target Adapter
	for _, a := range m.adapters {
		if a.Owns(userID) {
			target = a
			break
		}
	}
	m.mutex.RUnlock()

	if target == nil {
		return fmt.Errorf("%w: user %q", ErrNoAdapter, userID)
	}
	return m.record(target.Name(), target.Push(ctx, userID, text))
}

// Broadcast sends text on every adapter. Failures of one adapter do not
// stop delivery on the others. When at least one adapter delivered, the
// returned error matches ErrPartialDelivery.
func (m *Manager) Broadcast(ctx context.Context, text string) error {
	m.mutex.RLock()
	adapters := append([]Adapter(nil), m.adapters...)
	m.mutex.RUnlock()

	var errs []error
	delivered := false
	for _, a := range adapters {
		err := m.record(a.Name(), a.Broadcast(ctx, text))
		if err == nil || errors.Is(err, ErrPartialDelivery) {
			delivered = true
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.Name(), err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	joined := errors.Join(errs...)
	if delivered && !errors.Is(joined, ErrPartialDelivery) {
		return fmt.Errorf("%w: %w", ErrPartialDelivery, joined)
	}
	return joined
}

func (m *Manager) record(name string, err error) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if s, ok := m.stats[name]; ok {
		if err != nil {
			s.failed++
		} else {
			s.sent++
		}
	}
	if err != nil {
		log.Printf("[ChannelManager] Delivery via %s failed: %v", name, err)
	}
	return err
}

// GetStatus returns the status of all adapters with delivery counters.
func (m *Manager) GetStatus() map[string]ChannelStatus {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make(map[string]ChannelStatus)
	for _, a := range m.adapters {
		status := a.Status()
		if status.Details == nil {
			status.Details = make(map[string]any)
		}
		if s := m.stats[a.Name()]; s != nil {
			status.Details["sent"] = s.sent
			status.Details["failed"] = s.failed
		}
		result[a.Name()] = status
	}
	return result
}
