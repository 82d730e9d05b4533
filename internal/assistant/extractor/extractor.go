// Package extractor decides whether a model reply is plain text or a
// brace-delimited command object.
package extractor

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Kind classifies a model reply.
type Kind int

const (
	KindText Kind = iota
	KindCommand
	KindParseError
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindCommand:
		return "command"
	case KindParseError:
		return "parse_error"
	}
	return "unknown"
}

// Result is the outcome of Extract. Text holds the reply for KindText,
// Object the decoded map for KindCommand; Raw and Error describe a
// KindParseError.
type Result struct {
	Kind   Kind
	Text   string
	Object map[string]interface{}
	Raw    string
	Error  string
}

var (
	fenceLine    = regexp.MustCompile("(?m)^[ \t]*```(?:json|JSON)?[ \t]*$")
	openingFence = regexp.MustCompile("^```(?:json|JSON)?")
)

// StripFences removes markdown code fences, keeping their contents. Only
// fences on their own line or at either end of s are removed, so backticks
// inside JSON string values survive.
func StripFences(s string) string {
	s = strings.TrimSpace(fenceLine.ReplaceAllString(s, ""))
	s = openingFence.ReplaceAllString(s, "")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Extract classifies raw. Text without any {...} span is returned unchanged.
// The greedy first-{ to last-} span is decoded first; if that fails, the
// first balanced object that decodes is used.
func Extract(raw string) Result {
	cleaned := StripFences(raw)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end < start {
		return Result{Kind: KindText, Text: raw}
	}
	candidate := cleaned[start : end+1]

	obj, err := decodeObject(candidate)
	if err == nil {
		return Result{Kind: KindCommand, Object: obj, Raw: candidate}
	}

	for _, span := range balancedSpans(cleaned[start:]) {
		if obj, spanErr := decodeObject(span); spanErr == nil {
			return Result{Kind: KindCommand, Object: obj, Raw: span}
		}
	}

	return Result{Kind: KindParseError, Raw: candidate, Error: err.Error()}
}

func decodeObject(s string) (map[string]interface{}, error) {
	var obj map[string]interface{}
	dec := json.NewDecoder(strings.NewReader(s))
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, &trailingDataError{}
	}
	if obj == nil {
		return nil, &notObjectError{}
	}
	return obj, nil
}

type trailingDataError struct{}

func (*trailingDataError) Error() string { return "invalid character after top-level value" }

type notObjectError struct{}

func (*notObjectError) Error() string { return "top-level value is not an object" }

// balancedSpans returns every top-level brace-balanced span in s, in order.
// Braces inside JSON strings are ignored.
func balancedSpans(s string) []string {
	var (
		spans    []string
		depth    int
		start    = -1
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				spans = append(spans, s[start:i+1])
				start = -1
			}
		}
	}
	return spans
}
