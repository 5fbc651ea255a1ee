package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTelemetryUpdate   EventType = "TELEMETRY_UPDATE"
	EventLicenseVerified   EventType = "LICENSE_VERIFIED"
	EventLicenseRejected   EventType = "LICENSE_REJECTED"
	EventLicenseExpired    EventType = "LICENSE_EXPIRED"
	EventCommandQueued     EventType = "COMMAND_QUEUED"
	EventCommandCompleted  EventType = "COMMAND_COMPLETED"
	EventCommandExpired    EventType = "COMMAND_EXPIRED"
	EventAgentAction       EventType = "AGENT_ACTION"
	EventAgentConnected    EventType = "AGENT_CONNECTED"
	EventAgentDisconnected EventType = "AGENT_DISCONNECTED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	LicenseID string                 `json:"license_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus fans events out to subscribers. The operator websocket hub
// subscribes to everything; handlers never block on slow consumers.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishTelemetryUpdate publishes a fresh agent snapshot
func (eb *EventBus) PublishTelemetryUpdate(licenseID string, equity, profit float64, openCount int) {
	eb.Publish(Event{
		Type:      EventTelemetryUpdate,
		LicenseID: licenseID,
		Data: map[string]interface{}{
			"equity":     equity,
			"profit":     profit,
			"open_count": openCount,
		},
	})
}

// PublishCommandQueued publishes a newly enqueued remote command
func (eb *EventBus) PublishCommandQueued(licenseID, commandID, commandType string) {
	eb.Publish(Event{
		Type:      EventCommandQueued,
		LicenseID: licenseID,
		Data: map[string]interface{}{
			"command_id":   commandID,
			"command_type": commandType,
		},
	})
}

// PublishCommandCompleted publishes an agent-reported command result
func (eb *EventBus) PublishCommandCompleted(licenseID, commandID, status, message string) {
	eb.Publish(Event{
		Type:      EventCommandCompleted,
		LicenseID: licenseID,
		Data: map[string]interface{}{
			"command_id": commandID,
			"status":     status,
			"message":    message,
		},
	})
}

// PublishAgentAction publishes a diagnostic action reported by an agent
func (eb *EventBus) PublishAgentAction(licenseID, logType, message string) {
	eb.Publish(Event{
		Type:      EventAgentAction,
		LicenseID: licenseID,
		Data: map[string]interface{}{
			"log_type": logType,
			"message":  message,
		},
	})
}

// PublishLicenseVerified publishes a successful agent verification
func (eb *EventBus) PublishLicenseVerified(licenseID, accountID string) {
	eb.Publish(Event{
		Type:      EventLicenseVerified,
		LicenseID: licenseID,
		Data: map[string]interface{}{
			"account_id": accountID,
		},
	})
}
