// Package guardrails screens untrusted text before it reaches a data query or
// an agent prompt.
//
//   - search terms: bounded length, rejected on query-injection characters
//     and keywords
//   - prompts: heuristic prompt-injection detection (reported, not blocked)
package guardrails

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxSearchTerm bounds free-text search parameters, in runes.
const DefaultMaxSearchTerm = 100

// ErrRejected is returned when a search term fails screening.
var ErrRejected = errors.New("search term rejected")

// ── Search-term screening ───────────────────────────────────

var forbiddenSequences = []string{";", "'", "\"", "`", "--", "/*", "*/", "\\", "\x00"}

var queryInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`),
	regexp.MustCompile(`(?i)\b(drop|truncate|alter)\s+(table|database|schema)\b`),
	regexp.MustCompile(`(?i)\binsert\s+into\b`),
	regexp.MustCompile(`(?i)\bdelete\s+from\b`),
	regexp.MustCompile(`(?i)\bupdate\s+\w+\s+set\b`),
	regexp.MustCompile(`(?i)\b(exec|execute|xp_cmdshell)\b`),
	regexp.MustCompile(`(?i)\b(sleep|pg_sleep|benchmark|waitfor)\s*\(`),
	regexp.MustCompile(`(?i)\bor\s+\d+\s*=\s*\d+\b`),
	regexp.MustCompile(`(?i)\$where\b|\$ne\b|\$gt\b`),
}

// ScreenSearchTerm trims term and checks it is safe to use as a search
// filter. maxLen <= 0 uses DefaultMaxSearchTerm. The returned string is the
// trimmed term.
func ScreenSearchTerm(term string, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxSearchTerm
	}
	term = strings.TrimSpace(term)
	if n := utf8.RuneCountInString(term); n > maxLen {
		return "", fmt.Errorf("%w: %d characters exceeds limit of %d", ErrRejected, n, maxLen)
	}
	for _, seq := range forbiddenSequences {
		if strings.Contains(term, seq) {
			return "", fmt.Errorf("%w: contains forbidden character sequence", ErrRejected)
		}
	}
	for _, re := range queryInjectionPatterns {
		if re.MatchString(term) {
			return "", fmt.Errorf("%w: matches query-injection pattern", ErrRejected)
		}
	}
	return term, nil
}

// ── Prompt injection detection ──────────────────────────────

var promptInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?|directions?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|my)\s+`),
	regexp.MustCompile(`(?i)system\s*:\s*you\s+are`),
	regexp.MustCompile(`(?i)\bjailbreak\b`),
	regexp.MustCompile(`(?i)ignore\s+(todas\s+)?(as\s+)?instru[cç][õo]es\s+anteriores`),
	regexp.MustCompile(`(?i)esque[cç]a\s+(todas\s+)?(as\s+)?(suas\s+)?(instru[cç][õo]es|regras)`),
	regexp.MustCompile(`(?i)voc[eê]\s+agora\s+[eé]\s+(um|uma)\s+`),
	regexp.MustCompile(`(?i)(revele|mostre)\s+(o\s+)?(seu\s+)?prompt\s+(de\s+)?sistema`),
	regexp.MustCompile(`(?i)(user_id|usu[aá]rio)\s*[:=]\s*["']?[\w-]{8,}`),
}

// DetectPromptInjection reports whether text matches a known injection
// heuristic and which pattern matched.
func DetectPromptInjection(text string) (bool, string) {
	for _, re := range promptInjectionPatterns {
		if re.MatchString(text) {
			return true, re.String()
		}
	}
	return false, ""
}
