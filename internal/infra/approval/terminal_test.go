package approval

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackctl/stackctl/internal/ports"
)

func summary() ports.ChangeSetSummary {
	return ports.ChangeSetSummary{
		Additions:     []string{"SubnetA"},
		Modifications: []string{"RouteTable"},
		Replacements:  []string{"Nacl"},
	}
}

func TestApproveAcceptsYAnswer(t *testing.T) {
	var out bytes.Buffer
	term := New(strings.NewReader("y\n"), &out)
	approved, err := term.Approve(context.Background(), summary())
	require.NoError(t, err)
	assert.True(t, approved)
}

func TestApproveAcceptsYesAnswerCaseInsensitively(t *testing.T) {
	var out bytes.Buffer
	term := New(strings.NewReader("YES\n"), &out)
	approved, err := term.Approve(context.Background(), summary())
	require.NoError(t, err)
	assert.True(t, approved)
}

func TestApproveDefaultsToFalseOnBlankOrOtherInput(t *testing.T) {
	var out bytes.Buffer
	term := New(strings.NewReader("\n"), &out)
	approved, err := term.Approve(context.Background(), summary())
	require.NoError(t, err)
	assert.False(t, approved)
}

func TestApproveRendersChangeSetCounts(t *testing.T) {
	var out bytes.Buffer
	term := New(strings.NewReader("n\n"), &out)
	_, err := term.Approve(context.Background(), summary())
	require.NoError(t, err)

	rendered := out.String()
	assert.Contains(t, rendered, "1 addition(s)")
	assert.Contains(t, rendered, "1 modification(s)")
	assert.Contains(t, rendered, "1 replacement(s)")
}

func TestApproveOnEmptyReaderReturnsFalseWithoutError(t *testing.T) {
	var out bytes.Buffer
	term := New(strings.NewReader(""), &out)
	approved, err := term.Approve(context.Background(), summary())
	require.NoError(t, err)
	assert.False(t, approved)
}
