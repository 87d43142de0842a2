package llm

import (
	"encoding/json"
	"strings"
)

// ExtractJSON pulls a draft object out of a model response. A fenced code
// block is tried first; otherwise every '{' in the text starts a candidate,
// and the first brace-balanced span that parses as JSON wins. Scanning past
// non-parsing candidates means prose braces ("use {caption} here") before
// the real object do not break extraction. Returns "" when the response
// carries no parseable object.
func ExtractJSON(response string) string {
	if block, ok := fencedBlock(response); ok {
		if obj := firstValidObject(block); obj != "" {
			return obj
		}
	}
	return firstValidObject(response)
}

// fencedBlock returns the body of the first ``` fence, with any language
// tag line removed.
func fencedBlock(s string) (string, bool) {
	open := strings.Index(s, "```")
	if open == -1 {
		return "", false
	}
	body := s[open+3:]
	end := strings.Index(body, "```")
	if end == -1 {
		return "", false
	}
	body = body[:end]
	if nl := strings.IndexByte(body, '\n'); nl != -1 && !strings.Contains(body[:nl], "{") {
		body = body[nl+1:]
	}
	return strings.TrimSpace(body), true
}

// firstValidObject scans s left to right for balanced objects, skipping
// candidates that balance but do not parse.
func firstValidObject(s string) string {
	for at := strings.IndexByte(s, '{'); at != -1; {
		if span := balancedSpan(s[at:]); span > 0 {
			candidate := s[at : at+span]
			if json.Valid([]byte(candidate)) {
				return candidate
			}
		}
		next := strings.IndexByte(s[at+1:], '{')
		if next == -1 {
			return ""
		}
		at += 1 + next
	}
	return ""
}

// balancedSpan returns the length of the balanced object at the start of s,
// or 0 when the braces never close. Braces inside string literals do not
// count; escapes keep \" from toggling string state.
func balancedSpan(s string) int {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return 0
}
