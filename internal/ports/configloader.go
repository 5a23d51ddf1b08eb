package ports

import (
	"context"

	"github.com/stackctl/stackctl/internal/domain/stackset"
)

// ConfigLoader is the external collaborator that lexes a YAML/JSON config
// file plus an environment file into a validated stackset.Config
// (spec §1, §6).
type ConfigLoader interface {
	Load(ctx context.Context, configPath, envPath string, overrides map[string]string) (*stackset.Config, error)
	Validate(ctx context.Context, configPath string) error
}
