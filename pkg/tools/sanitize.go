package tools

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const redacted = "[REDACTED]"

var (
	ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(\x07|\x1b\\)|\x1b[@-Z\\-_]`)

	// Well-known credential shapes redacted even when the literal value was not registered.
	tokenPatterns = []*regexp.Regexp{
		regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{20,}`),
		regexp.MustCompile(`github_pat_[A-Za-z0-9_]{20,}`),
		regexp.MustCompile(`sk-(?:ant-)?[A-Za-z0-9_\-]{16,}`),
		regexp.MustCompile(`(https?://)[^/\s:@]+:[^/\s@]+@`),
	}
)

// StripANSI removes terminal escape sequences.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// Redactor masks secret values in command output before it reaches the model or the logs.
type Redactor struct {
	secrets []string
}

// NewRedactor returns a redactor for the given literal values. Values shorter than 4 bytes are ignored.
func NewRedactor(secrets ...string) *Redactor {
	r := &Redactor{}
	for _, s := range secrets {
		if len(s) >= 4 {
			r.secrets = append(r.secrets, s)
		}
	}
	return r
}

// Redact replaces registered secrets and known token shapes.
func (r *Redactor) Redact(s string) string {
	if r != nil {
		for _, secret := range r.secrets {
			s = strings.ReplaceAll(s, secret, redacted)
		}
	}
	for i, p := range tokenPatterns {
		if i == len(tokenPatterns)-1 {
			s = p.ReplaceAllString(s, "${1}"+redacted+"@")
			continue
		}
		s = p.ReplaceAllString(s, redacted)
	}
	return s
}

// TruncateMiddle keeps the head and tail of s within budget bytes, marking the elided span.
func TruncateMiddle(s string, budget int) string {
	if budget <= 0 || len(s) <= budget {
		return s
	}

	marker := fmt.Sprintf("\n... [%d bytes truncated] ...\n", len(s)-budget)
	keep := budget - len(marker)
	if keep < 2 {
		return s[:runeBoundary(s, budget)]
	}

	headLen := runeBoundary(s, keep/2)
	tailStart := len(s) - (keep - headLen)
	for tailStart < len(s) && !utf8.RuneStart(s[tailStart]) {
		tailStart++
	}
	return s[:headLen] + marker + s[tailStart:]
}

// runeBoundary returns the largest index <= n that does not split a UTF-8 sequence.
func runeBoundary(s string, n int) int {
	if n >= len(s) {
		return len(s)
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}

// SanitizeOutput applies ANSI stripping, redaction and head/tail truncation in that order.
func SanitizeOutput(s string, r *Redactor, budget int) string {
	return TruncateMiddle(r.Redact(StripANSI(s)), budget)
}
