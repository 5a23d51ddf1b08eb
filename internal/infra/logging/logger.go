// Package logging adapts github.com/rs/zerolog to the ports.Logger
// capability, mirroring the teacher's logging adapter pattern but backed
// by the dependency actually declared in go.mod.
package logging

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/stackctl/stackctl/internal/ports"
)

// ZerologLogger implements ports.Logger on top of zerolog.Logger.
type ZerologLogger struct {
	log zerolog.Logger
}

// New returns a ZerologLogger writing to w at the given verbosity: 0 =
// info, 1 = debug, 2+ = trace (mirrors the CLI's `-v/-vv` flags, spec §6).
// When w is a terminal, output is rendered human-readable via zerolog's
// ConsoleWriter (with color); otherwise it stays structured JSON, the
// right shape for piping into a log aggregator. Detecting "is this a
// terminal" is golang.org/x/term.IsTerminal, mirroring the teacher's
// term.IsTerminal gate in cmd/streamy/list.go — there it decides whether
// to colorize table output, here it decides whether to colorize log
// output; neither ties the core's change-set approval flow to a TTY
// (spec §9 "Change-set approval flow" keeps that a plain message exchange
// via ports.ApprovalSource).
func New(w io.Writer, verbosity int) *ZerologLogger {
	if w == nil {
		w = os.Stderr
	}
	level := zerolog.InfoLevel
	switch {
	case verbosity >= 2:
		level = zerolog.TraceLevel
	case verbosity == 1:
		level = zerolog.DebugLevel
	}
	out := w
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		out = zerolog.ConsoleWriter{Out: f, TimeFormat: "15:04:05"}
	}
	l := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return &ZerologLogger{log: l}
}

func (z *ZerologLogger) withFields(ctx context.Context, event *zerolog.Event, kv []interface{}) *zerolog.Event {
	if cid, ok := ports.CorrelationID(ctx); ok {
		event = event.Str("correlation_id", cid)
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		if key == "" {
			continue
		}
		event = event.Interface(key, kv[i+1])
	}
	return event
}

func (z *ZerologLogger) Debug(ctx context.Context, msg string, kv ...interface{}) {
	z.withFields(ctx, z.log.Debug(), kv).Msg(msg)
}

func (z *ZerologLogger) Info(ctx context.Context, msg string, kv ...interface{}) {
	z.withFields(ctx, z.log.Info(), kv).Msg(msg)
}

func (z *ZerologLogger) Warn(ctx context.Context, msg string, kv ...interface{}) {
	z.withFields(ctx, z.log.Warn(), kv).Msg(msg)
}

func (z *ZerologLogger) Error(ctx context.Context, msg string, kv ...interface{}) {
	z.withFields(ctx, z.log.Error(), kv).Msg(msg)
}

var _ ports.Logger = (*ZerologLogger)(nil)
