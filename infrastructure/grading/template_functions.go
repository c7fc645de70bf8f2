package grading

import (
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ahrav/go-peergrade/internal/domain"
)

// GetTemplateFuncMap returns the function map used to render rubric
// comparison tables.
//
// Usage:
//
//	tmpl, err := template.New("table").Funcs(GetTemplateFuncMap()).Parse(text)
func GetTemplateFuncMap() template.FuncMap {
	return template.FuncMap{
		// pad formats v and right-pads it with spaces to width runes. Longer
		// strings are truncated with "...".
		// Template usage: {{pad .CriterionID 20}}
		"pad": func(v any, width int) string {
			s := fmt.Sprint(v)
			if width <= 0 {
				return ""
			}
			n := utf8.RuneCountInString(s)
			if n > width {
				r := []rune(s)
				if width > 3 {
					return string(r[:width-3]) + "..."
				}
				return string(r[:width])
			}
			return s + strings.Repeat(" ", width-n)
		},

		// score formats an optional score, rendering ungraded as "-".
		// Template usage: {{score .TraineeScore}}
		"score": func(s domain.Score) string {
			v, ok := s.Value()
			if !ok {
				return "-"
			}
			return fmt.Sprintf("%g", v)
		},

		// pct formats an optional percentage with one decimal.
		// Template usage: {{pct .Difference}}
		"pct": func(s domain.Score) string {
			v, ok := s.Value()
			if !ok {
				return "-"
			}
			return fmt.Sprintf("%.1f%%", v)
		},

		// title formats v in title case.
		// Template usage: {{title .Status}}
		"title": func(v any) string {
			return cases.Title(language.English).String(fmt.Sprint(v))
		},

		// levels joins level ids, rendering unfilled entries as "-".
		// Template usage: {{levels .History ", "}}
		"levels": func(ids []domain.LevelID, sep string) string {
			parts := make([]string, len(ids))
			for i, id := range ids {
				if id == "" {
					parts[i] = "-"
					continue
				}
				parts[i] = string(id)
			}
			return strings.Join(parts, sep)
		},
	}
}
