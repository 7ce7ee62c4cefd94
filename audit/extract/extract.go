// Package extract recovers structured data from noisy or truncated language
// model output. It is a best-effort adapter at a system boundary: it never
// returns an error for malformed input, only a nil result, and callers fall
// back to line-based extraction rather than discarding a response.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Shape hints whether the caller expects a JSON object or array.
type Shape int

const (
	ShapeObject Shape = iota
	ShapeArray
)

var fencedBlockRe = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")

// Structured extracts and repairs a JSON value of the hinted shape from raw
// model output. The second return is false when no parseable structure could
// be recovered.
func Structured(raw string, shape Shape) (any, bool) {
	candidate := stripFence(raw)
	candidate = isolate(candidate, shape)
	if candidate == "" {
		return nil, false
	}
	candidate = repairText(candidate)

	if v, ok := parseShape(candidate, shape); ok {
		return v, true
	}

	// One lenient pass: quote bare values, fix single quotes, and so on.
	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return nil, false
	}
	return parseShape(repaired, shape)
}

// Object is Structured with an object shape hint.
func Object(raw string) (map[string]any, bool) {
	v, ok := Structured(raw, ShapeObject)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

// Array is Structured with an array shape hint.
func Array(raw string) ([]any, bool) {
	v, ok := Structured(raw, ShapeArray)
	if !ok {
		return nil, false
	}
	a, ok := v.([]any)
	return a, ok
}

func parseShape(s string, shape Shape) (any, bool) {
	switch shape {
	case ShapeArray:
		var a []any
		if err := json.Unmarshal([]byte(s), &a); err != nil {
			return nil, false
		}
		return a, true
	default:
		var m map[string]any
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, false
		}
		return m, true
	}
}

// stripFence removes an enclosing markdown code fence, preferring the
// largest complete block. A single opening fence with no terminator (a
// truncated response) yields everything after the fence line.
func stripFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "```") {
		return raw
	}

	matches := fencedBlockRe.FindAllStringSubmatch(raw, -1)
	if len(matches) > 0 {
		best := ""
		for _, m := range matches {
			if len(m[1]) > len(best) {
				best = m[1]
			}
		}
		return strings.TrimSpace(best)
	}

	// Unterminated fence: drop the fence line, keep the rest.
	idx := strings.Index(raw, "```")
	rest := raw[idx+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	} else {
		// Fence marker with a language tag but no newline; strip the tag.
		rest = strings.TrimLeft(rest, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	}
	return strings.TrimSpace(rest)
}

// isolate slices out the outermost balanced {...} or [...] region matching
// the shape hint using a depth scan, so nested brackets are handled and
// trailing prose after the JSON is discarded. A region that never closes
// (truncated output) extends to end of input for repairText to balance.
func isolate(s string, shape Shape) string {
	open, closer := byte('{'), byte('}')
	if shape == ShapeArray {
		open, closer = '[', ']'
	}

	start := strings.IndexByte(s, open)
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s[start:]
}

// repairText applies the cheap textual repairs that cover the common model
// failure modes: a string left open at a line break, trailing commas before
// a closing bracket, and brackets lost to mid-stream truncation. All passes
// are string-aware; nothing inside a properly quoted string is touched.
func repairText(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 8)

	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			case ch == '\n':
				// Close a string left unterminated at end-of-line when
				// the following content is structural rather than prose.
				if next := nextNonSpace(s, i); next == '{' || next == '}' || next == '[' || next == ']' || next == ',' || next == '"' || next == 0 {
					sb.WriteByte('"')
					inString = false
				}
			}
			sb.WriteByte(ch)
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, ch)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case ',':
			// Drop a trailing comma directly before a closing bracket.
			if next := nextNonSpace(s, i); next == '}' || next == ']' {
				continue
			}
		}
		sb.WriteByte(ch)
	}

	if inString {
		sb.WriteByte('"')
	}

	// Balance whatever truncation left open, innermost first.
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			sb.WriteByte('}')
		} else {
			sb.WriteByte(']')
		}
	}
	return sb.String()
}

// nextNonSpace returns the first non-whitespace byte after index i, or 0.
func nextNonSpace(s string, i int) byte {
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return s[j]
	}
	return 0
}

var bulletRe = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)

// ListItems is the line-based last resort used when Structured returns nil:
// it pulls individual list entries (quoted or unquoted) out of free text so
// a response is never discarded entirely.
func ListItems(raw string) []string {
	var items []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = bulletRe.ReplaceAllString(line, "")
		line = strings.TrimRight(line, ",")
		line = strings.Trim(line, `"`)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// Skip structural noise and fence markers.
		if strings.Trim(line, "{}[]`") == "" {
			continue
		}
		items = append(items, line)
	}
	return items
}
