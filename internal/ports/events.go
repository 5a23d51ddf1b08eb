package ports

import (
	"time"

	"github.com/stackctl/stackctl/internal/domain/stackset"
)

// StepEvent is the event-stream payload described in spec §6: every
// step transition is totally ordered for that step and only partially
// ordered across steps.
type StepEvent struct {
	Timestamp    time.Time
	StepID       string
	FromStatus   stackset.StepStatus
	ToStatus     stackset.StepStatus
	Reason       string
	Detail       interface{} // change-set summary, tail event, diff, etc.
}

// DomainEvent is the minimal interface an event bus deals in.
type DomainEvent interface {
	EventType() string
	Payload() interface{}
}

// EventType implements DomainEvent for StepEvent.
func (StepEvent) EventType() string { return "step_event" }

// Payload implements DomainEvent for StepEvent.
func (e StepEvent) Payload() interface{} { return e }

// EventPublisher is the port the executor and hook runner emit events
// through; the Reporter external collaborator subscribes to it
// (spec §1, §6).
type EventPublisher interface {
	Publish(event DomainEvent)
	Subscribe(eventType string, handler func(DomainEvent)) (unsubscribe func())
}
