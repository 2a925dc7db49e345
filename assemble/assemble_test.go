package assemble

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/storyloom/loom"
	"github.com/storyloom/loom/llm"
	"github.com/storyloom/loom/summary"
)

func countOccurrences(messages []*llm.Message, s string) int {
	var n int
	for _, m := range messages {
		n += strings.Count(m.Text(), s)
	}
	return n
}

func TestBuildContextOrdering(t *testing.T) {
	messages := BuildContext(Input{
		Recent: []*loom.Turn{
			loom.NewUserTurn("hello"),
			loom.NewModelTurn("well met"),
		},
		Blocks:   []summary.Block{{Text: "block one"}, {Text: "block two"}},
		Leftover: "leftover summary",
	})

	require.Len(t, messages, 4)
	require.Equal(t, llm.User, messages[0].Role)
	require.Equal(t, "block one", messages[0].Text())
	require.Equal(t, "block two", messages[1].Text())
	// Leftover merges into the first recent message.
	require.True(t, strings.HasPrefix(messages[2].Text(), "leftover summary"))
	require.Contains(t, messages[2].Text(), "hello")
	require.Equal(t, llm.Model, messages[3].Role)
}

func TestHeaderPlacedExactlyOnce(t *testing.T) {
	const header = "Act III begins"

	// Already sealed into a block: never re-injected.
	messages := BuildContext(Input{
		Recent:       []*loom.Turn{loom.NewUserTurn("hi")},
		Blocks:       []summary.Block{{Text: header + "\n\nsealed"}},
		ActHeader:    header,
		HeaderPlaced: true,
	})
	require.Equal(t, 1, countOccurrences(messages, header))

	// Anchor turn inside the recent window.
	anchor := loom.NewModelTurn("the act opens")
	anchor.ID = loom.LocalStartTurnID
	messages = BuildContext(Input{
		Recent:    []*loom.Turn{anchor, loom.NewUserTurn("onward")},
		ActHeader: header,
	})
	require.Equal(t, 1, countOccurrences(messages, header))
	require.Contains(t, messages[0].Text(), header)

	// No block, no anchor: prefixed to the first recent message.
	messages = BuildContext(Input{
		Recent:    []*loom.Turn{loom.NewUserTurn("start")},
		ActHeader: header,
	})
	require.Equal(t, 1, countOccurrences(messages, header))
	require.True(t, strings.HasPrefix(messages[0].Text(), header))

	// Empty context still carries the header.
	messages = BuildContext(Input{ActHeader: header})
	require.Len(t, messages, 1)
	require.Equal(t, header, messages[0].Text())
}

func TestBuildContextKnowledgeInline(t *testing.T) {
	in := Input{
		Recent:    []*loom.Turn{loom.NewUserTurn("hi")},
		Knowledge: "the kingdom charter",
	}

	messages := BuildContext(in)
	require.Contains(t, messages[0].Text(), KnowledgeMarker)
	require.Contains(t, messages[0].Text(), "the kingdom charter")

	// An active cache carries the knowledge server-side.
	in.CacheActive = true
	messages = BuildContext(in)
	require.Equal(t, 0, countOccurrences(messages, "the kingdom charter"))

	// File mode references the upload instead of inlining.
	in.CacheActive = false
	in.KnowledgeFileURI = "files/abc123"
	messages = BuildContext(in)
	require.Equal(t, 0, countOccurrences(messages, "the kingdom charter"))
	require.Equal(t, "files/abc123", messages[0].Parts[0].FileURI)
}

func TestTurnToMessageDropsUnsignedThoughts(t *testing.T) {
	turn := loom.NewModelTurn("")
	turn.Parts = []llm.Part{
		{Thought: true, Text: "私は考える"},
		{Thought: true, ThoughtSignature: []byte("sig")},
		{Text: "the story text"},
	}

	messages := BuildContext(Input{Recent: []*loom.Turn{turn}})
	require.Len(t, messages, 1)
	require.Len(t, messages[0].Parts, 2)
	require.Equal(t, []byte("sig"), messages[0].Parts[0].ThoughtSignature)
	require.Equal(t, "the story text", messages[0].Parts[1].Text)
}

func TestTurnToMessageReappendsStateDelta(t *testing.T) {
	turn := loom.NewModelTurn("the door creaks open")
	turn.Summary = "entered the vault"
	turn.Logs = loom.DerivedLogs{Inventory: []string{"+ key"}}

	messages := BuildContext(Input{Recent: []*loom.Turn{turn}})
	text := messages[0].Text()
	require.Contains(t, text, "the door creaks open")
	require.Contains(t, text, SystemMarker)
	require.Contains(t, text, "entered the vault")
	require.Contains(t, text, "[Inventory] + key")
}

func TestStripInjected(t *testing.T) {
	text := KnowledgeMarker + "\ndoc line one\ndoc line two\n\nactual input\nsecond line"
	require.Equal(t, "actual input\nsecond line", StripInjected(text))

	// Untouched text passes through.
	require.Equal(t, "plain", StripInjected("plain"))

	// Re-assembling a persisted turn does not double-inject.
	turn := loom.NewUserTurn(text)
	messages := BuildContext(Input{
		Recent:    []*loom.Turn{turn},
		Knowledge: "doc line one",
	})
	require.Equal(t, 1, countOccurrences(messages, "doc line one"))
}
