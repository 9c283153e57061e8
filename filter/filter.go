// Package filter selects raw messages by regular expressions over their
// header block and body.
package filter

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// LabelsHeader is the header Google Takeout writes with a message's labels.
const LabelsHeader = "X-Gmail-Labels"

// Options captures the filtering configuration. A message passes when it
// matches at least one include pattern (if any are set) and no exclude
// pattern.
type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// Filter holds compiled regex patterns for filtering messages.
type Filter struct {
	includeHeader  []*regexp.Regexp
	includeBody    []*regexp.Regexp
	excludeHeader  []*regexp.Regexp
	excludeBody    []*regexp.Regexp
	needHeaderText bool
	needBodyText   bool
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeHeader, err := compilePatterns(opts.IncludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile include-header pattern: %w", err)
	}
	includeBody, err := compilePatterns(opts.IncludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile include-body pattern: %w", err)
	}
	excludeHeader, err := compilePatterns(opts.ExcludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-header pattern: %w", err)
	}
	excludeBody, err := compilePatterns(opts.ExcludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-body pattern: %w", err)
	}

	return &Filter{
		includeHeader:  includeHeader,
		includeBody:    includeBody,
		excludeHeader:  excludeHeader,
		excludeBody:    excludeBody,
		needHeaderText: len(includeHeader) > 0 || len(excludeHeader) > 0,
		needBodyText:   len(includeBody) > 0 || len(excludeBody) > 0,
	}, nil
}

// ForLabel adds an include pattern matching messages that carry label.
func (o Options) ForLabel(label string) Options {
	o.IncludeHeader = append(append([]string(nil), o.IncludeHeader...), LabelPattern(label))
	return o
}

// LabelPattern matches label as one comma separated entry of the labels
// header. Header names are case-insensitive, label names are not.
func LabelPattern(label string) string {
	return `(?m)^(?i:` + regexp.QuoteMeta(LabelsHeader) + `):(?:[^\n]*,)?[ \t]*` +
		regexp.QuoteMeta(strings.TrimSpace(label)) + `[ \t]*(?:,|$)`
}

// Allows returns true if the message passes the filter criteria. Folded
// header lines are joined before header patterns run.
func (f *Filter) Allows(header, body []byte) bool {
	var headerText, bodyText string
	if f.needHeaderText {
		headerText = string(Unfold(header))
	}
	if f.needBodyText {
		bodyText = string(body)
	}

	if len(f.includeHeader) > 0 || len(f.includeBody) > 0 {
		if !matchAny(f.includeHeader, headerText) && !matchAny(f.includeBody, bodyText) {
			return false
		}
	}

	return !matchAny(f.excludeHeader, headerText) && !matchAny(f.excludeBody, bodyText)
}

// SplitRawMessage splits a raw email message into header and body parts.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}

// Unfold normalizes line endings to LF and joins continuation lines.
func Unfold(header []byte) []byte {
	out := bytes.ReplaceAll(header, []byte("\r\n"), []byte("\n"))
	out = bytes.ReplaceAll(out, []byte("\n "), []byte(" "))
	return bytes.ReplaceAll(out, []byte("\n\t"), []byte(" "))
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
