package blueprint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackctl/stackctl/internal/domain/stackset"
	"github.com/stackctl/stackctl/internal/ports"
)

func writeTemplate(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return name
}

func TestNewFileBlueprintInfersSchemaFromPlaceholders(t *testing.T) {
	dir := t.TempDir()
	rel := writeTemplate(t, dir, "vpc.yaml", "Cidr: {{ cidr_block }}\nName: {{ name }}\nAgain: {{ cidr_block }}\n")

	bp, err := NewFileBlueprint(dir, rel)
	require.NoError(t, err)

	schema := bp.VariableSchema()
	require.Len(t, schema.Variables, 2)
	assert.Equal(t, "cidr_block", schema.Variables[0].Name)
	assert.Equal(t, "name", schema.Variables[1].Name)
	assert.Equal(t, stackset.VariableKindCloudParameter, schema.Variables[0].Kind)
}

func TestNewFileBlueprintMissingFileReturnsMissingTemplateError(t *testing.T) {
	dir := t.TempDir()
	_, err := NewFileBlueprint(dir, "nope.yaml")
	require.Error(t, err)
	assert.Equal(t, stackset.ErrCodeMissingTemplate, stackset.AsDomainError(err).Code)
}

func TestNewFileBlueprintResolvesAbsolutePathDirectly(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "abs.yaml", "Value: {{ v }}\n")
	abs := filepath.Join(dir, "abs.yaml")

	bp, err := NewFileBlueprint("/somewhere/else", abs)
	require.NoError(t, err)
	assert.Equal(t, abs, bp.path)
}

func TestRenderSubstitutesCloudParameterValues(t *testing.T) {
	dir := t.TempDir()
	rel := writeTemplate(t, dir, "vpc.yaml", "Cidr: {{ cidr_block }}\n")
	bp, err := NewFileBlueprint(dir, rel)
	require.NoError(t, err)

	bound := stackset.BoundVariables{CloudParameter: map[string]string{"cidr_block": "10.0.0.0/16"}}
	body, kind, err := bp.Render(context.Background(), ports.RenderContext{}, bound)
	require.NoError(t, err)
	assert.Equal(t, "Cidr: 10.0.0.0/16\n", string(body))
	assert.Equal(t, "yaml", kind)
}

func TestRenderFallsBackToNativeValueWhenNotACloudParameter(t *testing.T) {
	dir := t.TempDir()
	rel := writeTemplate(t, dir, "vpc.yaml", "Count: {{ count }}\n")
	bp, err := NewFileBlueprint(dir, rel)
	require.NoError(t, err)

	bound := stackset.BoundVariables{Native: map[string]interface{}{"count": 3}}
	body, _, err := bp.Render(context.Background(), ports.RenderContext{}, bound)
	require.NoError(t, err)
	assert.Equal(t, "Count: 3\n", string(body))
}

func TestRenderLeavesUnboundPlaceholderUntouched(t *testing.T) {
	dir := t.TempDir()
	rel := writeTemplate(t, dir, "vpc.yaml", "Cidr: {{ cidr_block }}\n")
	bp, err := NewFileBlueprint(dir, rel)
	require.NoError(t, err)

	body, _, err := bp.Render(context.Background(), ports.RenderContext{}, stackset.BoundVariables{})
	require.NoError(t, err)
	assert.Equal(t, "Cidr: {{ cidr_block }}\n", string(body))
}

func TestFQNJoinsNamespaceAndStackWithHyphen(t *testing.T) {
	bp := &FileBlueprint{name: "vpc.yaml"}
	fqn := bp.FQN(context.Background(), ports.RenderContext{Namespace: "team-a", Stack: "vpc"})
	assert.Equal(t, "team-a-vpc", fqn)
}

func TestFQNWithEmptyNamespaceIsBareStackName(t *testing.T) {
	bp := &FileBlueprint{name: "vpc.yaml"}
	fqn := bp.FQN(context.Background(), ports.RenderContext{Stack: "vpc"})
	assert.Equal(t, "vpc", fqn)
}

func TestKindFromExtensionDetectsJSON(t *testing.T) {
	dir := t.TempDir()
	rel := writeTemplate(t, dir, "vpc.json", `{"Cidr": "{{ cidr_block }}"}`)
	bp, err := NewFileBlueprint(dir, rel)
	require.NoError(t, err)
	assert.Equal(t, "json", bp.kind)
}

func TestRegistryResolveNamedTakesPrecedenceOverFilePath(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir)

	named := &FileBlueprint{name: "custom"}
	r.RegisterNamed("custom", named)

	bp, err := r.Resolve("custom")
	require.NoError(t, err)
	assert.Same(t, ports.Blueprint(named), bp)
}

func TestRegistryResolveFallsBackToRelativeTemplatePath(t *testing.T) {
	dir := t.TempDir()
	rel := writeTemplate(t, dir, "vpc.yaml", "Cidr: {{ cidr_block }}\n")
	r := NewRegistry(dir)

	bp, err := r.Resolve(rel)
	require.NoError(t, err)
	assert.Equal(t, rel, bp.Name())
}

func TestRegistryResolveUnknownRelativePathErrors(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir)

	_, err := r.Resolve("missing.yaml")
	require.Error(t, err)
	assert.Equal(t, stackset.ErrCodeMissingTemplate, stackset.AsDomainError(err).Code)
}
