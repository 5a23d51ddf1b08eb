package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackctl/stackctl/internal/domain/stackset"
	coreevents "github.com/stackctl/stackctl/internal/events"
	"github.com/stackctl/stackctl/internal/ports"
)

type logCall struct {
	level string
	msg   string
	kv    []interface{}
}

type fakeLogger struct {
	calls []logCall
}

func (f *fakeLogger) Debug(_ context.Context, msg string, kv ...interface{}) {
	f.calls = append(f.calls, logCall{"debug", msg, kv})
}
func (f *fakeLogger) Info(_ context.Context, msg string, kv ...interface{}) {
	f.calls = append(f.calls, logCall{"info", msg, kv})
}
func (f *fakeLogger) Warn(_ context.Context, msg string, kv ...interface{}) {
	f.calls = append(f.calls, logCall{"warn", msg, kv})
}
func (f *fakeLogger) Error(_ context.Context, msg string, kv ...interface{}) {
	f.calls = append(f.calls, logCall{"error", msg, kv})
}

func (f *fakeLogger) last() logCall {
	return f.calls[len(f.calls)-1]
}

func TestReporterLogsInfoOnOrdinaryTransition(t *testing.T) {
	bus := coreevents.New()
	logger := &fakeLogger{}
	r := NewLoggingReporter(context.Background(), bus, logger)
	defer r.Close()

	bus.Publish(ports.StepEvent{StepID: "vpc", FromStatus: stackset.StepPending, ToStatus: stackset.StepInProgress})

	require.Len(t, logger.calls, 1)
	assert.Equal(t, "info", logger.last().level)
}

func TestReporterLogsErrorOnFailedTransition(t *testing.T) {
	bus := coreevents.New()
	logger := &fakeLogger{}
	r := NewLoggingReporter(context.Background(), bus, logger)
	defer r.Close()

	bus.Publish(ports.StepEvent{StepID: "vpc", ToStatus: stackset.StepFailed, Reason: "rollback"})

	require.Len(t, logger.calls, 1)
	assert.Equal(t, "error", logger.last().level)
	assert.Contains(t, logger.last().kv, "reason")
}

func TestReporterLogsWarnOnCanceledTransition(t *testing.T) {
	bus := coreevents.New()
	logger := &fakeLogger{}
	r := NewLoggingReporter(context.Background(), bus, logger)
	defer r.Close()

	bus.Publish(ports.StepEvent{StepID: "vpc", ToStatus: stackset.StepCanceled})

	require.Len(t, logger.calls, 1)
	assert.Equal(t, "warn", logger.last().level)
}

func TestReporterIncludesChangeSetSummaryCounts(t *testing.T) {
	bus := coreevents.New()
	logger := &fakeLogger{}
	r := NewLoggingReporter(context.Background(), bus, logger)
	defer r.Close()

	summary := &ports.ChangeSetSummary{Additions: []string{"a"}, Modifications: []string{"b", "c"}}
	bus.Publish(ports.StepEvent{StepID: "vpc", ToStatus: stackset.StepInProgress, Detail: summary})

	require.Len(t, logger.calls, 1)
	assert.Contains(t, logger.last().kv, "additions")
	assert.Contains(t, logger.last().kv, "modifications")
}

func TestReporterSortsDetailMapKeys(t *testing.T) {
	bus := coreevents.New()
	logger := &fakeLogger{}
	r := NewLoggingReporter(context.Background(), bus, logger)
	defer r.Close()

	bus.Publish(ports.StepEvent{
		StepID:   "vpc",
		ToStatus: stackset.StepInProgress,
		Detail:   map[string]interface{}{"zeta": 1, "alpha": 2},
	})

	require.Len(t, logger.calls, 1)
	kv := logger.last().kv
	alphaIdx, zetaIdx := -1, -1
	for i, v := range kv {
		if v == "alpha" {
			alphaIdx = i
		}
		if v == "zeta" {
			zetaIdx = i
		}
	}
	require.NotEqual(t, -1, alphaIdx)
	require.NotEqual(t, -1, zetaIdx)
	assert.Less(t, alphaIdx, zetaIdx)
}

func TestReporterIgnoresNonStepEventPayloadWithoutPanicking(t *testing.T) {
	bus := coreevents.New()
	logger := &fakeLogger{}
	r := NewLoggingReporter(context.Background(), bus, logger)
	defer r.Close()

	bus.Publish(otherEvent{})

	require.Len(t, logger.calls, 1)
	assert.Equal(t, "info", logger.last().level)
}

func TestReporterCloseStopsFurtherDelivery(t *testing.T) {
	bus := coreevents.New()
	logger := &fakeLogger{}
	r := NewLoggingReporter(context.Background(), bus, logger)
	r.Close()

	bus.Publish(ports.StepEvent{StepID: "vpc", ToStatus: stackset.StepInProgress})
	assert.Empty(t, logger.calls)
}

type otherEvent struct{}

func (otherEvent) EventType() string   { return "step_event" }
func (otherEvent) Payload() interface{} { return "not-a-step-event" }
