package dreaming

import (
	"encoding/json"
	"strings"

	commonerrors "github.com/S-Corkum/remstore/pkg/common/errors"
)

// ExtractJSON pulls a JSON document out of an LLM response. Models wrap
// their output unpredictably; three forms are accepted, in order:
//
//  1. the whole response is valid JSON
//  2. a markdown fence (```json or bare ```) contains valid JSON
//  3. the first brace-matched {...} or [...] fragment is valid JSON
func ExtractJSON(raw string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(raw)
	if json.Valid([]byte(trimmed)) && trimmed != "" {
		return json.RawMessage(trimmed), nil
	}

	if fenced, ok := extractFenced(trimmed); ok && json.Valid([]byte(fenced)) {
		return json.RawMessage(fenced), nil
	}

	if fragment, ok := extractBraced(trimmed); ok && json.Valid([]byte(fragment)) {
		return json.RawMessage(fragment), nil
	}

	return nil, commonerrors.Newf("dreaming", "ExtractJSON", commonerrors.KindValidation,
		"no JSON document found in response")
}

// DecodeResponse extracts and unmarshals in one step
func DecodeResponse(raw string, dest interface{}) error {
	doc, err := ExtractJSON(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(doc, dest); err != nil {
		return commonerrors.New("dreaming", "DecodeResponse", commonerrors.KindValidation, err)
	}
	return nil
}

func extractFenced(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return "", false
	}
	rest := s[start+3:]
	// Skip the language tag on the opening fence, if any
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		head := strings.TrimSpace(rest[:nl])
		if head == "json" || head == "" {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

func extractBraced(s string) (string, bool) {
	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		start := strings.IndexByte(s, pair[0])
		if start < 0 {
			continue
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
			case pair[0]:
				depth++
			case pair[1]:
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}
