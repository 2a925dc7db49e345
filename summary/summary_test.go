package summary

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/storyloom/loom"
)

func storyTurn(i int) *loom.Turn {
	t := loom.NewModelTurn(fmt.Sprintf("scene %d unfolds", i))
	t.Summary = fmt.Sprintf("summary %d", i)
	return t
}

func archiveOf(modelTurns int) []*loom.Turn {
	var turns []*loom.Turn
	for i := 0; i < modelTurns; i++ {
		turns = append(turns, loom.NewUserTurn(fmt.Sprintf("input %d", i)))
		turns = append(turns, storyTurn(i))
	}
	return turns
}

func TestCompressSealsByModelTurnCount(t *testing.T) {
	c := NewCompressor("")
	blocks, leftover, _ := c.Compress(archiveOf(23))

	require.Len(t, blocks, 2)
	require.Equal(t, SealTurnCount, blocks[0].TurnCount)
	require.Equal(t, SealTurnCount, blocks[1].TurnCount)

	// 23 mod 10 leftover summaries.
	require.Equal(t, 3, strings.Count(leftover, "summary"))
	require.Contains(t, leftover, "summary 22")
}

func TestCompressIsIncrementalAndStable(t *testing.T) {
	c := NewCompressor("")
	archive := archiveOf(12)

	first, _, _ := c.Compress(archive)
	require.Len(t, first, 1)
	sealed := first[0].Text

	// Growing the tail never rewrites a sealed block.
	archive = append(archive, loom.NewUserTurn("more"), storyTurn(12))
	second, leftover, _ := c.Compress(archive)
	require.Len(t, second, 1)
	require.Equal(t, sealed, second[0].Text)
	require.Contains(t, leftover, "summary 12")

	// Repeating the same archive is a no-op.
	third, again, _ := c.Compress(archive)
	require.Equal(t, second, third)
	require.Equal(t, leftover, again)
}

func TestCompressHeaderSealsIntoFirstBlock(t *testing.T) {
	c := NewCompressor("Act II: The Long Road")

	_, _, placed := c.Compress(archiveOf(4))
	require.False(t, placed)

	blocks, _, placed := c.Compress(archiveOf(25))
	require.True(t, placed)
	require.True(t, strings.HasPrefix(blocks[0].Text, "Act II: The Long Road\n\n"))
	require.NotContains(t, blocks[1].Text, "Act II")
}

func TestCompressSkipsUserTurns(t *testing.T) {
	c := NewCompressor("")
	turns := []*loom.Turn{
		loom.NewUserTurn("a"),
		loom.NewUserTurn("b"),
		storyTurn(0),
	}
	blocks, leftover, _ := c.Compress(turns)
	require.Empty(t, blocks)
	require.Equal(t, "summary 0", leftover)
}

func TestDeltaLineStoryUsesSummary(t *testing.T) {
	turn := storyTurn(7)
	turn.Logs = loom.DerivedLogs{
		Inventory: []string{"+ rope", "- torch"},
		Quest:     []string{"found the ledger"},
	}
	line := DeltaLine(turn)
	require.Contains(t, line, "summary 7")
	require.NotContains(t, line, "scene 7")
	require.Contains(t, line, "[Inventory] + rope | - torch")
	require.Contains(t, line, "[Quest] found the ledger")
	require.NotContains(t, line, "[Character]")
}

func TestDeltaLineMetaUsesRawText(t *testing.T) {
	turn := loom.NewModelTurn("ooc: sure, switching tone")
	turn.Intent = loom.IntentMeta
	turn.Summary = "should not appear"
	require.Equal(t, "ooc: sure, switching tone", DeltaLine(turn))
}

func TestTimeHeader(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"nothing here", ""},
		{"dawn breaks [2201.4.12] over the bay", "## 2201.4.12"},
		{"[T 08:30] the bell rings", "## 08:30"},
		{"[2201.4.12] [T 08:30] morning", "## 2201.4.12 08:30"},
		{"[T 08:30] errands [T 14:00] then rest [T 19:45]", "## 08:30~19:45"},
		{"[ 1999-12-31 ] countdown [T 23:59]", "## 1999-12-31 23:59"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, TimeHeader(tt.text), "text: %s", tt.text)
	}
}
