package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLiteralOnly(t *testing.T) {
	tokens := Parse("plain text")
	require.Len(t, tokens, 1)
	assert.False(t, tokens[0].IsExpr)
	assert.Equal(t, "plain text", tokens[0].Literal)
}

func TestParseSingleExpression(t *testing.T) {
	tokens := Parse("${output vpc::id}")
	require.Len(t, tokens, 1)
	assert.True(t, tokens[0].IsExpr)
	assert.Equal(t, "output", tokens[0].Type)
	assert.Equal(t, "vpc::id", tokens[0].Arg)
}

func TestParseDefaultsToOutputWhenNoWhitespace(t *testing.T) {
	tokens := Parse("${vpc::id}")
	require.Len(t, tokens, 1)
	assert.Equal(t, "output", tokens[0].Type)
	assert.Equal(t, "vpc::id", tokens[0].Arg)
}

func TestParseMixedLiteralAndExpression(t *testing.T) {
	tokens := Parse("prefix-${envvar HOME}-suffix")
	require.Len(t, tokens, 3)
	assert.Equal(t, "prefix-", tokens[0].Literal)
	assert.True(t, tokens[1].IsExpr)
	assert.Equal(t, "envvar", tokens[1].Type)
	assert.Equal(t, "HOME", tokens[1].Arg)
	assert.Equal(t, "-suffix", tokens[2].Literal)
}

func TestParseNestedExpressionIsBraceBalanced(t *testing.T) {
	tokens := Parse("${default name::${envvar FALLBACK}}")
	require.Len(t, tokens, 1)
	assert.Equal(t, "default", tokens[0].Type)
	assert.Equal(t, "name::${envvar FALLBACK}", tokens[0].Arg)
}

func TestParseUnterminatedExpressionIsTreatedAsLiteral(t *testing.T) {
	tokens := Parse("${output vpc::id")
	require.Len(t, tokens, 1)
	assert.False(t, tokens[0].IsExpr)
	assert.Equal(t, "${output vpc::id", tokens[0].Literal)
}

func TestIsSingleExpressionRequiresNoSurroundingLiteral(t *testing.T) {
	single := Parse("${output vpc::id}")
	multi := Parse("a${output vpc::id}")

	_, ok := IsSingleExpression(single)
	assert.True(t, ok)

	_, ok = IsSingleExpression(multi)
	assert.False(t, ok)
}
