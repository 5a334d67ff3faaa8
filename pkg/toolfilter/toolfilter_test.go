package toolfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldIncludeEmptyPatternsIncludesEverything(t *testing.T) {
	t.Parallel()
	f, err := New(nil)
	require.NoError(t, err)
	assert.True(t, f.ShouldInclude("anything"))
}

func TestShouldIncludeScenario(t *testing.T) {
	t.Parallel()
	// --ignore-tool delete* --ignore-tool *account
	f, err := New([]string{"delete*", "*account"})
	require.NoError(t, err)

	cases := map[string]bool{
		"createTask":  true,
		"deleteTask":  false,
		"getAccount":  false,
		"listTasks":   true,
		"DELETEtask":  false, // case-insensitive
		"myaccountXX": true,  // not anchored at the end, so no match
	}
	for name, want := range cases {
		assert.Equal(t, want, f.ShouldInclude(name), "name=%s", name)
	}
}

func TestShouldIncludeExactNamePattern(t *testing.T) {
	t.Parallel()
	f, err := New([]string{"exactName"})
	require.NoError(t, err)
	assert.False(t, f.ShouldInclude("exactName"))
	assert.True(t, f.ShouldInclude("exactNameX"))
	assert.True(t, f.ShouldInclude("notexactName"))
}

func TestShouldIncludeNilFilterIncludesEverything(t *testing.T) {
	t.Parallel()
	var f *Filter
	assert.True(t, f.ShouldInclude("anything"))
}

func TestBlockedMessageMatchesSpecWording(t *testing.T) {
	t.Parallel()
	assert.Equal(t, `Tool "deleteTask" is not available`, BlockedMessage("deleteTask"))
}

func TestNewAcceptsEmptySegmentPattern(t *testing.T) {
	t.Parallel()
	// '*' patterns can never fail compilation since all literals are
	// escaped; this documents that empty-segment patterns are valid too.
	_, err := New([]string{"***"})
	require.NoError(t, err)
}
