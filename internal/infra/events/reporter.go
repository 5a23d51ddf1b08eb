// Package events adapts the core's event bus to a Reporter: it wraps
// events.Bus with structured logging, mirroring the teacher's
// LoggingPublisher (infrastructure/events/logging_publisher.go).
package events

import (
	"context"
	"sort"

	"github.com/stackctl/stackctl/internal/domain/stackset"
	coreevents "github.com/stackctl/stackctl/internal/events"
	"github.com/stackctl/stackctl/internal/ports"
)

// LoggingReporter subscribes to every StepEvent published on the bus and
// renders it as a structured log line, standing in for the external
// Reporter collaborator (spec §1, §6) in this reference build.
type LoggingReporter struct {
	logger ports.Logger
	bus    *coreevents.Bus
	cancel func()
}

// NewLoggingReporter wires logger to every step_event published on bus.
func NewLoggingReporter(ctx context.Context, bus *coreevents.Bus, logger ports.Logger) *LoggingReporter {
	r := &LoggingReporter{logger: logger, bus: bus}
	r.cancel = bus.Subscribe("step_event", func(event ports.DomainEvent) {
		r.render(ctx, event)
	})
	return r
}

// Close detaches the reporter from the bus.
func (r *LoggingReporter) Close() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *LoggingReporter) render(ctx context.Context, event ports.DomainEvent) {
	if r.logger == nil {
		return
	}
	step, ok := event.Payload().(ports.StepEvent)
	if !ok {
		r.logger.Info(ctx, "event", "event_type", event.EventType())
		return
	}

	fields := []interface{}{
		"step_id", step.StepID,
		"from", step.FromStatus,
		"to", step.ToStatus,
	}
	if step.Reason != "" {
		fields = append(fields, "reason", step.Reason)
	}
	if diffSummary, ok := step.Detail.(*ports.ChangeSetSummary); ok && diffSummary != nil {
		fields = append(fields,
			"additions", len(diffSummary.Additions),
			"modifications", len(diffSummary.Modifications),
			"replacements", len(diffSummary.Replacements),
		)
	}
	if detailMap, ok := step.Detail.(map[string]interface{}); ok {
		keys := make([]string, 0, len(detailMap))
		for k := range detailMap {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fields = append(fields, k, detailMap[k])
		}
	}

	switch step.ToStatus {
	case stackset.StepFailed:
		r.logger.Error(ctx, "step transition", fields...)
	case stackset.StepCanceled:
		r.logger.Warn(ctx, "step transition", fields...)
	default:
		r.logger.Info(ctx, "step transition", fields...)
	}
}
