package rover

import (
	"strings"
)

// TaskResult is the structured form of an operator's task text.
type TaskResult struct {
	Target    string   `json:"target"`
	Obstacles []string `json:"obstacles"`
}

// Prompt renders the detector prompt the vehicle expects, e.g.
// "[a cup, a chair, a laptop]".
func (r TaskResult) Prompt() string {
	labels := append([]string{r.Target}, r.Obstacles...)
	return "[" + strings.Join(labels, ", ") + "]"
}

// NormalizeLabel lowercases a label and strips a leading article, so
// "A Cup" and "cup" compare equal.
func NormalizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	for _, article := range []string{"a ", "an ", "the "} {
		if rest, ok := strings.CutPrefix(label, article); ok {
			return strings.TrimSpace(rest)
		}
	}
	return label
}
