package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"what", "the", "policy"}, tokenize("What's the policy #?"))
	assert.Equal(t, []string{"coi", "2024", "limit"}, tokenize("COI-2024 LIMIT"))
	assert.Equal(t, []string{"fi", "number"}, tokenize("ﬁ number"))
	assert.Empty(t, tokenize("? # a"))
}

func TestScores_KnownValues(t *testing.T) {
	t.Parallel()

	scores, err := Scores("What is the insured policy number?", []string{"What is the policy number?"})
	require.NoError(t, err)
	assert.InDelta(t, 0.8466, scores[0], 1e-3)

	scores, err = Scores("What is the policy effective date?", []string{"What is the policy number?"})
	require.NoError(t, err)
	assert.InDelta(t, 0.5803, scores[0], 1e-3)
}

func TestFindNearDuplicate_TruePositive(t *testing.T) {
	t.Parallel()

	ix := NewIndex(0.85)
	m, ok, err := ix.FindNearDuplicate(
		"What is the general liability coverage effective date?",
		[]string{"Who is the insured?", "What is the effective date of the general liability coverage?"},
	)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, m.Index)
	assert.InDelta(t, 0.883, m.Score, 1e-3)
}

func TestFindNearDuplicate_TrueNegative(t *testing.T) {
	t.Parallel()

	// Lexically close but asks for a different date.
	ix := NewIndex(0.85)
	m, ok, err := ix.FindNearDuplicate(
		"What is the general liability coverage expiration date?",
		[]string{"What is the effective date of the general liability coverage?"},
	)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.InDelta(t, 0.715, m.Score, 1e-3)
}

func TestFindNearDuplicate_ThresholdIsTunable(t *testing.T) {
	t.Parallel()

	priors := []string{"What is the policy number?"}
	candidate := "What is the insured policy number?"

	_, ok, err := NewIndex(0.85).FindNearDuplicate(candidate, priors)
	require.NoError(t, err)
	assert.False(t, ok)

	m, ok, err := NewIndex(0.75).FindNearDuplicate(candidate, priors)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, m.Index)
}

func TestFindNearDuplicate_CaseAndPunctuationInsensitive(t *testing.T) {
	t.Parallel()

	m, ok, err := NewIndex(0.85).FindNearDuplicate("what IS the policy NUMBER", []string{"What is the policy number?"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 1.0, m.Score, 1e-9)
}

func TestFindNearDuplicate_FirstWinsTies(t *testing.T) {
	t.Parallel()

	m, ok, err := NewIndex(0).FindNearDuplicate("What is the policy number?", []string{
		"Who is the insured?",
		"What is the policy number?",
		"what is the policy number",
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, m.Index)
}

func TestFindNearDuplicate_NoPriors(t *testing.T) {
	t.Parallel()

	_, ok, err := NewIndex(0.85).FindNearDuplicate("anything", nil)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestFindNearDuplicate_Degenerate(t *testing.T) {
	t.Parallel()

	_, ok, err := NewIndex(0.85).FindNearDuplicate("?!", []string{"What is the policy number?"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDegenerate)
	assert.False(t, ok)
}

func TestFindNearDuplicate_UnrelatedPriors(t *testing.T) {
	t.Parallel()

	m, ok, err := NewIndex(0.85).FindNearDuplicate("When does coverage end?", []string{"What is the policy number?", "Who is the insured?"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0.0, m.Score)
}

func TestNewIndex_DefaultThreshold(t *testing.T) {
	t.Parallel()
	assert.Equal(t, DefaultThreshold, NewIndex(0).Threshold())
	assert.Equal(t, 0.75, NewIndex(0.75).Threshold())
}
