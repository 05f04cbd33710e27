package agents

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cladehq/clade/internal/bootstrap"
)

// activityTailLimit caps how much of today's log enters the prompt.
const activityTailLimit = 2000

// BuildSystemPrompt composes the system prompt for one invocation:
// the soul, the long-term memory when it has been written to, and the
// tail of today's activity log. Sections are joined by a blank line.
func (r *Registry) BuildSystemPrompt(id string) (string, error) {
	soul, err := r.ReadSoul(id)
	if err != nil {
		return "", err
	}

	var sections []string
	if s := strings.TrimSpace(soul); s != "" {
		sections = append(sections, s)
	}

	if mem := r.memorySection(id); mem != "" {
		sections = append(sections, mem)
	}
	if log := r.todaySection(id, time.Now()); log != "" {
		sections = append(sections, log)
	}
	return strings.Join(sections, "\n\n"), nil
}

// memorySection returns the long-term memory block, or "" when the file
// is absent or still the untouched seed template.
func (r *Registry) memorySection(id string) string {
	content, err := readDoc(r.home.MemoryPath(id))
	if err != nil || content == "" {
		return ""
	}
	trimmed := strings.TrimSpace(content)
	if tpl, err := bootstrap.ReadTemplate(bootstrap.MemoryFile); err == nil && trimmed == strings.TrimSpace(tpl) {
		return ""
	}
	return "# Long-term memory\n\n" + trimmed
}

// todaySection returns the tail of today's activity log, prefixed with an
// ellipsis when truncated.
func (r *Registry) todaySection(id string, now time.Time) string {
	day := now.Format("2006-01-02")
	path := filepath.Join(r.home.MemoryDir(id), day+".md")
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	content := string(b)
	if len(content) > activityTailLimit {
		content = "..." + content[len(content)-activityTailLimit:]
	}
	return fmt.Sprintf("# Today's activity (%s)\n\n%s", day, strings.TrimSpace(content))
}
