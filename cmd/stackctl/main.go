package main

import (
	"context"
	"fmt"
	"os"

	domevents "github.com/stackctl/stackctl/internal/events"
	"github.com/stackctl/stackctl/internal/hooks"
	infraaws "github.com/stackctl/stackctl/internal/infra/aws"
	"github.com/stackctl/stackctl/internal/infra/config"
	"github.com/stackctl/stackctl/internal/infra/hookexec"
	infraevents "github.com/stackctl/stackctl/internal/infra/events"
	"github.com/stackctl/stackctl/internal/infra/logging"
	"github.com/stackctl/stackctl/internal/infra/provider"
)

// main wires the long-lived services once at startup and hands off to
// cobra, mirroring the teacher's cmd/streamy/main.go bootstrap.
func main() {
	logger := logging.New(os.Stderr, 0)
	bus := domevents.New()

	app := &AppContext{
		Logger:     logger,
		Events:     bus,
		ConfigLoad: config.New(logger),
		Configs:    infraaws.NewConfigCache(),
		Provider:   provider.New(logger),
		HookRunnerFor: func(configDir string) *hooks.Runner {
			runner := hookexec.New(configDir)
			return hooks.NewRunner(runner.Run, bus, logger)
		},
	}

	reporter := infraevents.NewLoggingReporter(context.Background(), bus, logger)
	defer reporter.Close()

	if err := newRootCmd(app).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
