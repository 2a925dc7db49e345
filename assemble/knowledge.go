package assemble

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/storyloom/loom/llm"
)

// OutlineName is the designated outline document. Its trailing "last scene"
// section duplicates the live conversation tail, so it is stripped before
// the document enters the knowledge base.
const OutlineName = "outline.md"

const lastSceneMarker = "## Last Scene"

// DefaultKnowledgeGlob selects knowledge documents beneath the base dir.
const DefaultKnowledgeGlob = "**/*.{md,txt}"

// KnowledgeFile is one reference document.
type KnowledgeFile struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

// KnowledgeBase is the static reference material attached to every context,
// either through a server-side prompt cache or inlined into the first
// message. Files are held in deterministic path order so the combined text
// is stable regardless of filesystem enumeration order.
type KnowledgeBase struct {
	Files []KnowledgeFile `json:"files"`
}

// LoadKnowledge reads reference documents matching glob under dir. A missing
// directory yields an empty knowledge base, not an error.
func LoadKnowledge(dir, glob string) (*KnowledgeBase, error) {
	if glob == "" {
		glob = DefaultKnowledgeGlob
	}
	kb := &KnowledgeBase{}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return kb, nil
	}
	matches, err := doublestar.Glob(os.DirFS(dir), glob)
	if err != nil {
		return nil, fmt.Errorf("knowledge glob %q: %w", glob, err)
	}
	sort.Strings(matches)
	for _, rel := range matches {
		data, err := os.ReadFile(filepath.Join(dir, rel))
		if err != nil {
			return nil, fmt.Errorf("read knowledge file %s: %w", rel, err)
		}
		text := string(data)
		if filepath.Base(rel) == OutlineName {
			text = stripLastScene(text)
		}
		kb.Files = append(kb.Files, KnowledgeFile{Path: rel, Text: text})
	}
	return kb, nil
}

// stripLastScene removes the trailing last-scene section from the outline.
func stripLastScene(text string) string {
	if i := strings.LastIndex(text, lastSceneMarker); i >= 0 {
		return strings.TrimRight(text[:i], "\n")
	}
	return text
}

// Empty reports whether no documents were loaded.
func (kb *KnowledgeBase) Empty() bool {
	return len(kb.Files) == 0
}

// CombinedText returns all documents joined with path headers, in sorted
// path order. This is the text that gets hashed and cached.
func (kb *KnowledgeBase) CombinedText() string {
	var sb strings.Builder
	for i, f := range kb.Files {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "# %s\n\n%s", f.Path, f.Text)
	}
	return sb.String()
}

// Messages renders the knowledge base as user messages for cache creation.
func (kb *KnowledgeBase) Messages() []*llm.Message {
	if kb.Empty() {
		return nil
	}
	return []*llm.Message{llm.NewUserTextMessage(KnowledgeMarker + "\n" + kb.CombinedText())}
}
