// Package soul loads and regenerates the human-readable profile document
// described in spec.md §3 ("Soul Document") and §4.7.8. Grounded on the
// consolidation engine's category-bucketing of consolidated memories; each
// regenerated section is rewritten via a regex-based upsert so the rest of
// the hand-authored document survives untouched.
package soul

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/haasonsaas/mama/pkg/types"
)

const (
	sectionIdentity    = "## Identity"
	sectionPersonality = "## Personality"
	sectionKnowledge   = "## Knowledge"
	sectionActiveGoals = "## Active Goals"
	sectionPreferences = "## Preferences"
	sectionBoundaries  = "## Boundaries"
)

var canonicalSections = []string{
	sectionIdentity, sectionPersonality, sectionKnowledge,
	sectionActiveGoals, sectionPreferences, sectionBoundaries,
}

// Document is the parsed soul document: an ordered map from section heading
// to its body text.
type Document struct {
	Sections map[string]string
	Order    []string
}

// Load reads and parses a soul document from path. A missing file yields an
// empty document with the canonical section scaffolding.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return scaffold(), nil
		}
		return nil, fmt.Errorf("soul: read %s: %w", path, err)
	}
	return parse(string(data)), nil
}

func scaffold() *Document {
	doc := &Document{Sections: make(map[string]string), Order: append([]string(nil), canonicalSections...)}
	for _, s := range canonicalSections {
		doc.Sections[s] = ""
	}
	return doc
}

var headingRe = regexp.MustCompile(`(?m)^## .+$`)

func parse(content string) *Document {
	doc := &Document{Sections: make(map[string]string)}
	matches := headingRe.FindAllStringIndex(content, -1)
	if len(matches) == 0 {
		return scaffold()
	}
	for i, m := range matches {
		heading := strings.TrimSpace(content[m[0]:m[1]])
		end := len(content)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		body := strings.TrimSpace(content[m[1]:end])
		doc.Sections[heading] = body
		doc.Order = append(doc.Order, heading)
	}
	return doc
}

// Render serializes the document back to Markdown in its original section
// order.
func (d *Document) Render() string {
	var sb strings.Builder
	for i, heading := range d.Order {
		sb.WriteString(heading)
		sb.WriteString("\n")
		if body := d.Sections[heading]; body != "" {
			sb.WriteString(body)
			sb.WriteString("\n")
		}
		if i < len(d.Order)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// upsertSection replaces a section's body, appending the heading if it was
// not already present.
func (d *Document) upsertSection(heading, body string) {
	if _, ok := d.Sections[heading]; !ok {
		d.Order = append(d.Order, heading)
	}
	d.Sections[heading] = body
}

// RegenerateFromMemories rewrites the Knowledge/Active Goals/Preferences
// sections from active consolidated memories, per spec.md §4.7.8, and
// overwrites path atomically.
func RegenerateFromMemories(path string, memories []*types.ConsolidatedMemory) error {
	doc, err := Load(path)
	if err != nil {
		return err
	}

	active := dedupeByContent(filterActive(memories))

	knowledge := filterCategories(active, types.CategoryFact, types.CategoryPattern, types.CategoryRelationship, types.CategorySkill, types.CategoryProject)
	goals := filterCategories(active, types.CategoryGoal)
	preferences := filterCategories(active, types.CategoryPreference, types.CategoryRoutine, types.CategoryEmotional)

	doc.upsertSection(sectionKnowledge, bulletList(topN(knowledge, 12)))
	doc.upsertSection(sectionActiveGoals, bulletList(topN(goals, 8)))
	doc.upsertSection(sectionPreferences, bulletList(topN(preferences, 8)))

	return writeAtomic(path, doc.Render())
}

func filterActive(memories []*types.ConsolidatedMemory) []*types.ConsolidatedMemory {
	out := make([]*types.ConsolidatedMemory, 0, len(memories))
	for _, m := range memories {
		if m.Active {
			out = append(out, m)
		}
	}
	return out
}

func dedupeByContent(memories []*types.ConsolidatedMemory) []*types.ConsolidatedMemory {
	seen := make(map[string]bool, len(memories))
	out := make([]*types.ConsolidatedMemory, 0, len(memories))
	for _, m := range memories {
		if seen[m.Content] {
			continue
		}
		seen[m.Content] = true
		out = append(out, m)
	}
	return out
}

func filterCategories(memories []*types.ConsolidatedMemory, categories ...types.MemoryCategory) []*types.ConsolidatedMemory {
	want := make(map[types.MemoryCategory]bool, len(categories))
	for _, c := range categories {
		want[c] = true
	}
	out := make([]*types.ConsolidatedMemory, 0, len(memories))
	for _, m := range memories {
		if want[m.Category] {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

func topN(memories []*types.ConsolidatedMemory, n int) []*types.ConsolidatedMemory {
	if len(memories) > n {
		return memories[:n]
	}
	return memories
}

func bulletList(memories []*types.ConsolidatedMemory) string {
	if len(memories) == 0 {
		return ""
	}
	lines := make([]string, len(memories))
	for i, m := range memories {
		lines[i] = "- " + m.Content
	}
	return strings.Join(lines, "\n")
}

func writeAtomic(path, content string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("soul: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("soul: rename into place: %w", err)
	}
	return nil
}
