package events

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventTaskCreated   EventType = "task.created"
	EventTaskLaunched  EventType = "task.launched"
	EventTaskRunning   EventType = "task.running"
	EventTaskFinished  EventType = "task.finished"
	EventTaskBroken    EventType = "task.broken"
	EventTaskCancel    EventType = "task.cancel_requested"
	EventJobStarted    EventType = "job.started"
	EventJobFinished   EventType = "job.finished"
	EventLockAttached  EventType = "concern.lock_attached"
	EventLockReleased  EventType = "concern.lock_released"
	EventOrphanLock    EventType = "concern.orphan_released"
	EventWorkerClaimed EventType = "worker.claimed"
)

// Event represents a job subsystem event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	TaskID    int64
	JobID     int64
	Status    string
	Message   string
	Metadata  map[string]string
}

// NewTaskEvent builds an event about a task
func NewTaskEvent(t EventType, taskID int64, status, message string) *Event {
	return &Event{Type: t, TaskID: taskID, Status: status, Message: message}
}

// NewJobEvent builds an event about a job of a task
func NewJobEvent(t EventType, taskID, jobID int64, status string) *Event {
	return &Event{Type: t, TaskID: taskID, JobID: jobID, Status: status}
}

// Publisher accepts events
type Publisher interface {
	Publish(event *Event)
}

// Emit publishes an event when p is non-nil
func Emit(p Publisher, event *Event) {
	if p != nil {
		p.Publish(event)
	}
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	doneCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop drains queued events to subscribers, stops the broker and closes
// every subscription
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
	})
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	defer close(b.doneCh)
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			b.drain()
			return
		}
	}
}

func (b *Broker) drain() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		default:
			b.mu.Lock()
			for sub := range b.subscribers {
				delete(b.subscribers, sub)
				close(sub)
			}
			b.mu.Unlock()
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Fields flattens an event into string fields for log records
func (e *Event) Fields() map[string]string {
	fields := make(map[string]string, len(e.Metadata)+3)
	for k, v := range e.Metadata {
		fields[k] = v
	}
	if e.TaskID != 0 {
		fields["task_id"] = strconv.FormatInt(e.TaskID, 10)
	}
	if e.JobID != 0 {
		fields["job_id"] = strconv.FormatInt(e.JobID, 10)
	}
	if e.Status != "" {
		fields["status"] = e.Status
	}
	return fields
}
