package dict

import (
	"strings"
	"unicode/utf8"

	"github.com/skypro1111/asr-session-client/internal/transcription"
)

// Apply rewrites text with the active entries of d, the way the service
// corrects transcripts. Text is scanned once; the scan window never holds
// more than the longest active source string, and the first entry (in
// dictionary order) whose source ends the window wins.
func Apply(d transcription.Dict, text string) string {
	rules := activeRules(d)
	longest := 0
	for _, r := range rules {
		for _, src := range r.sources {
			if n := utf8.RuneCountInString(src); n > longest {
				longest = n
			}
		}
	}

	var out strings.Builder
	window := make([]rune, 0, longest+1)

	for _, ch := range text {
		window = append(window, ch)

		if r, src, ok := match(rules, window); ok {
			keep := len(window) - utf8.RuneCountInString(src)
			out.WriteString(string(window[:keep]))
			out.WriteString(r.to)
			window = window[:0]
			continue
		}

		// Nothing matched: flush what can no longer be part of a match
		flush := len(window) - longest + 1
		if flush > len(window) {
			flush = len(window)
		}
		if flush > 0 {
			out.WriteString(string(window[:flush]))
			window = append(window[:0], window[flush:]...)
		}
	}

	out.WriteString(string(window))
	return out.String()
}

type rule struct {
	sources []string
	to      string
}

func activeRules(d transcription.Dict) []rule {
	rules := make([]rule, 0, len(d.Entries))
	for _, entry := range d.Entries {
		if !entry.Active {
			continue
		}
		r := rule{to: entry.To}
		for _, src := range entry.SourceStrings {
			if src.Active && src.String != "" {
				r.sources = append(r.sources, src.String)
			}
		}
		if len(r.sources) > 0 {
			rules = append(rules, r)
		}
	}
	return rules
}

func match(rules []rule, window []rune) (rule, string, bool) {
	s := string(window)
	for _, r := range rules {
		for _, src := range r.sources {
			if strings.HasSuffix(s, src) {
				return r, src, true
			}
		}
	}
	return rule{}, "", false
}
