// internal/handler/event_bus.go
package handler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"spark-service/internal/model"
)

// StatusEvent is published on every state transition
type StatusEvent struct {
	Status    model.StatusDescription `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
}

// EventBus decouples state listeners from websocket delivery.
// Publish never blocks the state machine.
type EventBus struct {
	subscribers []chan StatusEvent
	events      chan StatusEvent
	mutex       sync.RWMutex
	logger      *zap.Logger
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		events: make(chan StatusEvent, 100),
		logger: logger.With(zap.String("component", "event-bus")),
	}
}

// Start distributes events until ctx is done
func (eb *EventBus) Start(ctx context.Context) {
	for {
		select {
		case event := <-eb.events:
			eb.distributeEvent(event)
		case <-ctx.Done():
			return
		}
	}
}

// PublishStatus matches state.Listener
func (eb *EventBus) PublishStatus(desc model.StatusDescription) {
	eb.Publish(StatusEvent{Status: desc, Timestamp: time.Now()})
}

// Publish queues an event, dropping it when the bus is full
func (eb *EventBus) Publish(event StatusEvent) {
	select {
	case eb.events <- event:
	default:
		eb.logger.Warn("Event bus full, dropping event",
			zap.String("connection_status", string(event.Status.ConnectionStatus)),
		)
	}
}

// Subscribe returns a channel receiving all subsequent events
func (eb *EventBus) Subscribe() <-chan StatusEvent {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan StatusEvent, 10)
	eb.subscribers = append(eb.subscribers, subscriber)
	return subscriber
}

func (eb *EventBus) distributeEvent(event StatusEvent) {
	eb.mutex.RLock()
	subscribers := eb.subscribers
	eb.mutex.RUnlock()

	for _, subscriber := range subscribers {
		select {
		case subscriber <- event:
		default:
			eb.logger.Debug("Subscriber is slow, skipping event")
		}
	}
}
