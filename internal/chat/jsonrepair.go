package chat

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/pretty"
)

// RecoverJSON attempts to turn raw model output that is not quite valid
// JSON into something that parses, per spec.md §4.4 step 3: strip any
// leading/trailing non-JSON prose, close unterminated string literals, and
// auto-append missing `]`/`}` closers based on depth counting.
//
// repairs lists, in order, which repair steps actually changed the text
// (for the validation-event sink's "repair list", spec.md §4.4 step 5). If
// raw is already valid JSON, RecoverJSON returns it unchanged with an
// empty repairs list, per spec.md §8's round-trip law.
func RecoverJSON(raw string) (recovered string, repairs []string) {
	if json.Valid([]byte(raw)) {
		return raw, nil
	}

	text := raw
	if stripped, ok := stripProse(text); ok {
		text = stripped
		repairs = append(repairs, "stripped leading/trailing prose")
	}

	if closed, changed := closeUnterminatedString(text); changed {
		text = closed
		repairs = append(repairs, "closed unterminated string literal")
	}

	if closed, changed := closeUnbalancedBrackets(text); changed {
		text = closed
		repairs = append(repairs, "auto-closed unbalanced brackets")
	}

	if json.Valid([]byte(text)) {
		if compact := string(pretty.Ugly([]byte(text))); compact != text {
			text = compact
			repairs = append(repairs, "canonicalized whitespace")
		}
	}

	return text, repairs
}

// stripProse locates the first '{' or '[' and the last matching closer,
// discarding anything outside that span.
func stripProse(s string) (string, bool) {
	start := -1
	var opener, closer byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			start = i
			opener = s[i]
			if opener == '{' {
				closer = '}'
			} else {
				closer = ']'
			}
			break
		}
	}
	if start < 0 {
		return s, false
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		// No closer found yet; leave trailing-closer repair to the
		// bracket-balancing pass below, but still drop leading prose.
		if start == 0 {
			return s, false
		}
		return s[start:], true
	}
	if start == 0 && end == len(s)-1 {
		return s, false
	}
	return s[start : end+1], true
}

// closeUnterminatedString scans for an odd number of unescaped quotes and,
// if the text ends mid-string, appends a closing quote.
func closeUnterminatedString(s string) (string, bool) {
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		}
	}
	if inString {
		return s + `"`, true
	}
	return s, false
}

// closeUnbalancedBrackets walks the (string-aware) bracket depth and
// appends the missing closers in LIFO order.
func closeUnbalancedBrackets(s string) (string, bool) {
	var stack []byte
	inString := false
	escaped := false
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
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) == 0 {
		return s, false
	}
	var b strings.Builder
	b.WriteString(s)
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String(), true
}
