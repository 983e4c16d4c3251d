package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/chenapple/thesaurus-management/pkg/log"
)

// ErrNoJSONObject is returned when a model answer contains no JSON object at all
var ErrNoJSONObject = errors.New("no JSON object found in model output")

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// StructuredOutputError reports model output that could not be decoded even after repair
type StructuredOutputError struct {
	Snippet string
	Err     error
}

func (e *StructuredOutputError) Error() string {
	return fmt.Sprintf("invalid structured output: %v (near %q)", e.Err, e.Snippet)
}

func (e *StructuredOutputError) Unwrap() error {
	return e.Err
}

// ParseStructured decodes the JSON object embedded in a model answer into out.
//
// Markdown fences and surrounding prose are stripped first. When the object does not decode as-is,
// unbalanced brackets are closed and trailing commas removed before a second attempt.
func ParseStructured(text string, out any) error {
	candidate, err := extractObject(text)
	if err != nil {
		return &StructuredOutputError{Snippet: snippet(text), Err: err}
	}

	firstErr := json.Unmarshal([]byte(candidate), out)
	if firstErr == nil {
		return nil
	}

	repaired := removeTrailingCommas(balanceBrackets(candidate))
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return &StructuredOutputError{Snippet: snippet(candidate), Err: firstErr}
	}
	log.Debug("Repaired structured output (%d -> %d bytes)", len(candidate), len(repaired))
	return nil
}

// ParseReport decodes an integrator answer.
// Individual items that fail to decode are dropped instead of failing the whole report.
func ParseReport(text string) (*Report, error) {
	var raw struct {
		NegativeWords        []json.RawMessage `json:"negative_words"`
		BidAdjustments       []json.RawMessage `json:"bid_adjustments"`
		KeywordOpportunities []json.RawMessage `json:"keyword_opportunities"`
		Summary              json.RawMessage   `json:"summary"`
	}
	if err := ParseStructured(text, &raw); err != nil {
		return nil, err
	}

	report := &Report{
		NegativeWords:        decodeItems[NegativeWord](raw.NegativeWords, "negative_words"),
		BidAdjustments:       decodeItems[BidAdjustment](raw.BidAdjustments, "bid_adjustments"),
		KeywordOpportunities: decodeItems[KeywordOpportunity](raw.KeywordOpportunities, "keyword_opportunities"),
	}
	if len(raw.Summary) > 0 && string(raw.Summary) != "null" {
		var s Summary
		if err := json.Unmarshal(raw.Summary, &s); err != nil {
			log.Warn("Dropping undecodable summary: %v", err)
		} else {
			report.Summary = &s
		}
	}
	return report, nil
}

func decodeItems[T any](raws []json.RawMessage, field string) []T {
	if raws == nil {
		return nil
	}
	out := make([]T, 0, len(raws))
	for i, r := range raws {
		var item T
		if err := json.Unmarshal(r, &item); err != nil {
			log.Warn("Dropping %s[%d]: %v", field, i, err)
			continue
		}
		out = append(out, item)
	}
	return out
}

func extractObject(text string) (string, error) {
	s := strings.TrimSpace(text)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	} else if strings.HasPrefix(s, "```") {
		// Opening fence of an answer cut off before the closing one
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", ErrNoJSONObject
	}
	end := strings.LastIndexByte(s, '}')
	if end < start {
		return s[start:], nil
	}
	return s[start : end+1], nil
}

// balanceBrackets closes containers left open and drops stray closers, ignoring string contents.
// A closer that skips over an open container first closes the inner one.
func balanceBrackets(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)

	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
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
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			idx := lastIndexByte(stack, c)
			if idx < 0 {
				continue
			}
			for len(stack)-1 > idx {
				b.WriteByte(stack[len(stack)-1])
				stack = stack[:len(stack)-1]
			}
			stack = stack[:len(stack)-1]
		}
		b.WriteByte(c)
	}

	if inString {
		if escaped {
			b.WriteByte('\\')
		}
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

// removeTrailingCommas drops commas directly followed by a closer, ignoring string contents
func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString, escaped := false, false
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
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j == len(s) || s[j] == '}' || s[j] == ']' {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func lastIndexByte(stack []byte, c byte) int {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == c {
			return i
		}
	}
	return -1
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= 120 {
		return s
	}
	return string(r[:120]) + "..."
}
