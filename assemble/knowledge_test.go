package assemble

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeKnowledgeDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lore"), 0o755))

	files := map[string]string{
		"outline.md":      "# Outline\n\nplot beats\n\n## Last Scene\n\nstale tail",
		"characters.md":   "# Cast\n\nMira, the cartographer",
		"lore/cities.txt": "Veyra sits on the delta",
		"notes.json":      "ignored by the glob",
	}
	for name, text := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(text), 0o644))
	}
	return dir
}

func TestLoadKnowledge(t *testing.T) {
	kb, err := LoadKnowledge(writeKnowledgeDir(t), "")
	require.NoError(t, err)
	require.Len(t, kb.Files, 3)

	// Path-sorted, so the combined text is deterministic.
	require.Equal(t, "characters.md", kb.Files[0].Path)
	require.Equal(t, "lore/cities.txt", kb.Files[1].Path)
	require.Equal(t, "outline.md", kb.Files[2].Path)

	combined := kb.CombinedText()
	require.Contains(t, combined, "# characters.md")
	require.Contains(t, combined, "Veyra sits on the delta")
	require.NotContains(t, combined, "ignored by the glob")
}

func TestLoadKnowledgeStripsLastScene(t *testing.T) {
	kb, err := LoadKnowledge(writeKnowledgeDir(t), "outline.md")
	require.NoError(t, err)
	require.Len(t, kb.Files, 1)
	require.Contains(t, kb.Files[0].Text, "plot beats")
	require.NotContains(t, kb.Files[0].Text, "stale tail")
	require.NotContains(t, kb.Files[0].Text, lastSceneMarker)
}

func TestLoadKnowledgeMissingDir(t *testing.T) {
	kb, err := LoadKnowledge(filepath.Join(t.TempDir(), "nope"), "")
	require.NoError(t, err)
	require.True(t, kb.Empty())
	require.Empty(t, kb.CombinedText())
	require.Nil(t, kb.Messages())
}

func TestKnowledgeMessages(t *testing.T) {
	kb, err := LoadKnowledge(writeKnowledgeDir(t), "")
	require.NoError(t, err)

	messages := kb.Messages()
	require.Len(t, messages, 1)
	require.Contains(t, messages[0].Text(), KnowledgeMarker)
	require.Contains(t, messages[0].Text(), kb.CombinedText())
}
