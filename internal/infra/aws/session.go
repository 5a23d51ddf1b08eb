// Package aws centralizes AWS SDK v2 session/credential setup shared by
// every AWS-backed adapter (provider, artifact store, graph store, lookup
// handlers), grounded on opentofu-opentofu's direct aws-sdk-go-v2/config
// and aws-sdk-go-v2/credentials dependencies.
package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

// LoadConfig resolves an aws.Config for the given region and named
// profile, honoring AWS_DEFAULT_REGION / AWS_PROFILE when both are empty
// (spec §6 "Environment variables").
func LoadConfig(ctx context.Context, region, profile string) (awssdk.Config, error) {
	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return awssdk.Config{}, fmt.Errorf("load aws config (region=%q profile=%q): %w", region, profile, err)
	}
	return cfg, nil
}

// ConfigCache memoizes LoadConfig per region+profile pair, since every
// stack in a plan may reconcile in a different region/profile and
// re-deriving credentials per call is wasteful.
type ConfigCache struct {
	entries map[string]awssdk.Config
}

// NewConfigCache returns an empty cache.
func NewConfigCache() *ConfigCache {
	return &ConfigCache{entries: make(map[string]awssdk.Config)}
}

// Get returns a cached aws.Config, loading and caching one if absent.
func (c *ConfigCache) Get(ctx context.Context, region, profile string) (awssdk.Config, error) {
	key := region + "|" + profile
	if cfg, ok := c.entries[key]; ok {
		return cfg, nil
	}
	cfg, err := LoadConfig(ctx, region, profile)
	if err != nil {
		return awssdk.Config{}, err
	}
	c.entries[key] = cfg
	return cfg, nil
}
