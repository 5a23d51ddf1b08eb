package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
namespace: team-a
stacks:
  - name: vpc
    blueprint: vpc.yaml
`

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadParsesMinimalConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "stackctl.yaml", minimalConfig)

	l := New(nil)
	cfg, err := l.Load(context.Background(), path, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "team-a", cfg.Namespace)
	require.Len(t, cfg.Stacks, 1)
	assert.Equal(t, "vpc", cfg.Stacks[0].Name)
	assert.True(t, cfg.Stacks[0].Enabled)
}

func TestLoadMissingFileReturnsNotFound(t *testing.T) {
	l := New(nil)
	_, err := l.Load(context.Background(), "/does/not/exist.yaml", "", nil)
	require.Error(t, err)
}

func TestLoadRejectsStackWithBothBlueprintAndTemplatePath(t *testing.T) {
	dir := t.TempDir()
	content := `
namespace: team-a
stacks:
  - name: vpc
    blueprint: vpc.yaml
    template_path: vpc.tpl.yaml
`
	path := writeTempFile(t, dir, "stackctl.yaml", content)
	l := New(nil)
	_, err := l.Load(context.Background(), path, "", nil)
	require.Error(t, err)
}

func TestLoadRejectsUnknownStackLevelKey(t *testing.T) {
	dir := t.TempDir()
	content := `
namespace: team-a
stacks:
  - name: vpc
    blueprint: vpc.yaml
    bogus_field: true
`
	path := writeTempFile(t, dir, "stackctl.yaml", content)
	l := New(nil)
	_, err := l.Load(context.Background(), path, "", nil)
	require.Error(t, err)
}

func TestLoadSubstitutesWholeLineEnvValue(t *testing.T) {
	dir := t.TempDir()
	content := `
namespace: ${env_namespace}
stacks:
  - name: vpc
    blueprint: vpc.yaml
`
	path := writeTempFile(t, dir, "stackctl.yaml", content)
	envPath := writeTempFile(t, dir, ".env.yaml", "env_namespace: prod\n")

	l := New(nil)
	cfg, err := l.Load(context.Background(), path, envPath, nil)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Namespace)
}

func TestLoadSubstitutesInlineEnvValueWithinString(t *testing.T) {
	dir := t.TempDir()
	content := `
namespace: team-${suffix}
stacks:
  - name: vpc
    blueprint: vpc.yaml
`
	path := writeTempFile(t, dir, "stackctl.yaml", content)
	envPath := writeTempFile(t, dir, ".env.yaml", "suffix: b\n")

	l := New(nil)
	cfg, err := l.Load(context.Background(), path, envPath, nil)
	require.NoError(t, err)
	assert.Equal(t, "team-b", cfg.Namespace)
}

func TestLoadOverridesLayerOnTopOfEnvFile(t *testing.T) {
	dir := t.TempDir()
	content := `
namespace: ${env_namespace}
stacks:
  - name: vpc
    blueprint: vpc.yaml
`
	path := writeTempFile(t, dir, "stackctl.yaml", content)
	envPath := writeTempFile(t, dir, ".env.yaml", "env_namespace: from-file\n")

	l := New(nil)
	cfg, err := l.Load(context.Background(), path, envPath, map[string]string{"env_namespace": "from-override"})
	require.NoError(t, err)
	assert.Equal(t, "from-override", cfg.Namespace)
}

func TestLoadLeavesUnmatchedTokenUntouched(t *testing.T) {
	dir := t.TempDir()
	content := `
namespace: team-a
stacks:
  - name: vpc
    blueprint: vpc.yaml
    variables:
      subnet_id: ${output vpc::subnet_id}
`
	path := writeTempFile(t, dir, "stackctl.yaml", content)

	l := New(nil)
	cfg, err := l.Load(context.Background(), path, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "${output vpc::subnet_id}", cfg.Stacks[0].Variables["subnet_id"])
}

func TestValidateRunsLoadWithoutAnEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "stackctl.yaml", minimalConfig)

	l := New(nil)
	assert.NoError(t, l.Validate(context.Background(), path))
}

func TestConfigDirReturnsContainingDirectory(t *testing.T) {
	assert.Equal(t, "/etc/stackctl", ConfigDir("/etc/stackctl/stackctl.yaml"))
}
