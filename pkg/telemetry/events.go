package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event in the sentinel system.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// ActionID is the associated action ID, if applicable.
	ActionID string `json:"action_id,omitempty"`

	// TaskID is the associated queued task ID, if applicable.
	TaskID string `json:"task_id,omitempty"`

	// Circuit is the associated circuit name, if applicable.
	Circuit string `json:"circuit,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeActionCreated      = "action.created"
	EventTypeActionTransitioned = "action.transitioned"
	EventTypeActionExpired      = "action.expired"
	EventTypeActionExecuted     = "action.executed"
	EventTypeActionQuarantined  = "action.quarantined"
	EventTypeCircuitStateChange = "circuit.state_changed"
	EventTypeTaskDeadLettered   = "queue.dead_letter"
	EventTypeCycleCompleted     = "cycle.completed"
	EventTypePolicyFlag         = "policy.flag"
	EventTypeError              = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	if cfg.FlushInterval > 0 {
		ep.wg.Add(1)
		go ep.periodicFlush()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishActionCreated publishes an action created event.
func (ep *EventPublisher) PublishActionCreated(actionID, actionType string) error {
	return ep.Publish(Event{
		Type:     EventTypeActionCreated,
		Source:   "vault",
		ActionID: actionID,
		Message:  fmt.Sprintf("Action %s created (%s)", actionID, actionType),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"action_type": actionType,
		},
	})
}

// PublishActionTransitioned publishes a container transition event.
func (ep *EventPublisher) PublishActionTransitioned(actionID, from, to string) error {
	return ep.Publish(Event{
		Type:     EventTypeActionTransitioned,
		Source:   "lifecycle",
		ActionID: actionID,
		Message:  fmt.Sprintf("Action %s moved from %s to %s", actionID, from, to),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	})
}

// PublishActionExpired publishes an action expiry event.
func (ep *EventPublisher) PublishActionExpired(actionID string, deadline time.Time) error {
	return ep.Publish(Event{
		Type:     EventTypeActionExpired,
		Source:   "lifecycle",
		ActionID: actionID,
		Message:  fmt.Sprintf("Action %s expired (deadline %s)", actionID, deadline.Format(time.RFC3339)),
		Level:    EventLevelWarning,
		Data: map[string]interface{}{
			"deadline": deadline.Format(time.RFC3339),
		},
	})
}

// PublishActionExecuted publishes a successful execution event.
func (ep *EventPublisher) PublishActionExecuted(actionID, actionType string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:     EventTypeActionExecuted,
		Source:   "executor",
		ActionID: actionID,
		Message:  fmt.Sprintf("Action %s executed (%s)", actionID, actionType),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"action_type": actionType,
			"duration":    duration.Seconds(),
		},
	})
}

// PublishActionQuarantined publishes a quarantine event.
func (ep *EventPublisher) PublishActionQuarantined(actionID, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypeActionQuarantined,
		Source:   "lifecycle",
		ActionID: actionID,
		Message:  fmt.Sprintf("Action %s quarantined: %s", actionID, reason),
		Level:    EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishCircuitStateChange publishes a breaker state transition event.
func (ep *EventPublisher) PublishCircuitStateChange(circuit, oldState, newState string) error {
	level := EventLevelInfo
	if newState == "open" {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:    EventTypeCircuitStateChange,
		Source:  "resilience",
		Circuit: circuit,
		Message: fmt.Sprintf("Circuit %s changed from %s to %s", circuit, oldState, newState),
		Level:   level,
		Data: map[string]interface{}{
			"old_state": oldState,
			"new_state": newState,
		},
	})
}

// PublishTaskDeadLettered publishes a dead-letter event.
func (ep *EventPublisher) PublishTaskDeadLettered(taskID, reason string, retries int) error {
	return ep.Publish(Event{
		Type:    EventTypeTaskDeadLettered,
		Source:  "queue",
		TaskID:  taskID,
		Message: fmt.Sprintf("Task %s dead-lettered after %d retries: %s", taskID, retries, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason":  reason,
			"retries": retries,
		},
	})
}

// PublishCycleCompleted publishes a scan cycle summary event.
func (ep *EventPublisher) PublishCycleCompleted(cycle uint64, expired, executed, pending int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeCycleCompleted,
		Source:  "lifecycle",
		Message: fmt.Sprintf("Cycle %d: %d expired, %d executed, %d pending", cycle, expired, executed, pending),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"cycle":    cycle,
			"expired":  expired,
			"executed": executed,
			"pending":  pending,
			"duration": duration.Seconds(),
		},
	})
}

// PublishPolicyFlag publishes a policy review flag event.
func (ep *EventPublisher) PublishPolicyFlag(actionID, policy, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypePolicyFlag,
		Source:   "policy",
		ActionID: actionID,
		Message:  fmt.Sprintf("Action %s flagged by %s: %s", actionID, policy, reason),
		Level:    EventLevelWarning,
		Data: map[string]interface{}{
			"policy": policy,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// periodicFlush flushes events periodically.
func (ep *EventPublisher) periodicFlush() {
	defer ep.wg.Done()

	ticker := time.NewTicker(ep.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Drain is handled by the processEvents goroutine.
		case <-ep.ctx.Done():
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByActionID creates a filter that only allows events for a specific action.
func FilterByActionID(actionID string) EventFilter {
	return func(event Event) bool {
		return event.ActionID == actionID
	}
}

// FilterByCircuit creates a filter that only allows events for a specific circuit.
func FilterByCircuit(circuit string) EventFilter {
	return func(event Event) bool {
		return event.Circuit == circuit
	}
}
