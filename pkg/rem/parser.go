package rem

import (
	"regexp"
	"strconv"
	"strings"

	commonerrors "github.com/S-Corkum/remstore/pkg/common/errors"
)

var (
	identRe      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)
	selectFromRe = regexp.MustCompile(`(?i)\bFROM\s+([A-Za-z_][A-Za-z0-9_.]*)`)
)

// Parse translates a REM query string into a plan. Parsing is total: every
// input yields either a plan or a Validation error carrying the character
// offset of the offending token.
func Parse(input string) (*Plan, error) {
	i := skipSpaces(input, 0)
	if i >= len(input) {
		return nil, parseErr(0, "empty query")
	}

	verb, next := readWord(input, i)
	switch strings.ToUpper(verb) {
	case "LOOKUP", "GET":
		return parseLookup(input, next)
	case "SEARCH":
		return parseSearch(input, next)
	case "SELECT":
		return parseSelect(input, i)
	case "TRAVERSE":
		return parseTraverse(input, next)
	default:
		return nil, parseErr(i, "unknown verb %q", verb)
	}
}

func parseErr(offset int, format string, args ...interface{}) error {
	args = append([]interface{}{offset}, args...)
	return commonerrors.Newf("rem", "Parse", commonerrors.KindValidation,
		"parse error at offset %d: "+format, args...).
		WithContext("offset", offset)
}

// parseLookup handles `LOOKUP keys [IN table]`. Keys are comma separated,
// bare or quoted with either quote style, each with an optional `table:`
// prefix. Empty keys are filtered.
func parseLookup(input string, start int) (*Plan, error) {
	rest := input[start:]
	keysPart, table, tableOff, err := splitInClause(rest, start)
	if err != nil {
		return nil, err
	}
	if table != "" && !identRe.MatchString(table) {
		return nil, parseErr(tableOff, "invalid table name %q", table)
	}

	plan := &Plan{Kind: PlanLookup, Table: table}
	for _, seg := range splitTopLevel(keysPart, ',') {
		key, err := parseKey(seg.text, start+seg.offset)
		if err != nil {
			return nil, err
		}
		if key.Value == "" {
			continue
		}
		plan.Keys = append(plan.Keys, key)
	}
	return plan, nil
}

// parseSearch handles `SEARCH "<text>" IN <table>`
func parseSearch(input string, start int) (*Plan, error) {
	i := skipSpaces(input, start)
	if i >= len(input) || (input[i] != '"' && input[i] != '\'') {
		return nil, parseErr(i, "expected quoted search text")
	}
	text, after, err := readQuoted(input, i)
	if err != nil {
		return nil, err
	}

	i = skipSpaces(input, after)
	word, next := readWord(input, i)
	if !strings.EqualFold(word, "IN") {
		return nil, parseErr(i, "expected IN after search text")
	}
	i = skipSpaces(input, next)
	table, next := readWord(input, i)
	if table == "" || !identRe.MatchString(table) {
		return nil, parseErr(i, "expected table name after IN")
	}
	if tail := skipSpaces(input, next); tail < len(input) {
		return nil, parseErr(tail, "unexpected trailing input %q", input[tail:])
	}
	return &Plan{Kind: PlanSearch, Text: text, Table: table}, nil
}

// parseSelect keeps the statement whole; the planner and repository
// validate table access and inject the tenant predicate
func parseSelect(input string, start int) (*Plan, error) {
	stmt := strings.TrimSpace(input)
	m := selectFromRe.FindStringSubmatch(stmt)
	if m == nil {
		return nil, parseErr(len(input), "SELECT statement has no FROM table")
	}
	return &Plan{Kind: PlanSelect, SQL: stmt, Table: m[1]}, nil
}

// parseTraverse handles `TRAVERSE <seed> [DEPTH n]`
func parseTraverse(input string, start int) (*Plan, error) {
	i := skipSpaces(input, start)
	if i >= len(input) {
		return nil, parseErr(i, "expected seed id")
	}

	var seedRaw string
	var next int
	if input[i] == '"' || input[i] == '\'' {
		var err error
		seedRaw, next, err = readQuoted(input, i)
		if err != nil {
			return nil, err
		}
	} else {
		seedRaw, next = readToken(input, i)
	}
	key, err := parseKey(seedRaw, i)
	if err != nil {
		return nil, err
	}
	if key.Value == "" {
		return nil, parseErr(i, "expected seed id")
	}
	plan := &Plan{Kind: PlanTraverse, Seed: key.Value, Table: key.Table}

	i = skipSpaces(input, next)
	if i < len(input) {
		word, after := readWord(input, i)
		if !strings.EqualFold(word, "DEPTH") {
			return nil, parseErr(i, "unexpected trailing input %q", input[i:])
		}
		j := skipSpaces(input, after)
		numTok, after := readToken(input, j)
		depth, err := strconv.Atoi(numTok)
		if err != nil || depth < 1 {
			return nil, parseErr(j, "DEPTH expects a positive integer, got %q", numTok)
		}
		plan.Depth = depth
		if tail := skipSpaces(input, after); tail < len(input) {
			return nil, parseErr(tail, "unexpected trailing input %q", input[tail:])
		}
	}
	return plan, nil
}

// parseKey parses one key segment: optional table prefix, then a bare or
// quoted value
func parseKey(seg string, offset int) (Key, error) {
	lead := 0
	for lead < len(seg) && (seg[lead] == ' ' || seg[lead] == '\t') {
		lead++
	}
	s := strings.TrimSpace(seg)
	if s == "" {
		return Key{}, nil
	}
	offset += lead

	var key Key
	if colon := strings.IndexByte(s, ':'); colon > 0 && s[0] != '"' && s[0] != '\'' {
		prefix := s[:colon]
		if identRe.MatchString(prefix) {
			key.Table = prefix
			s = s[colon+1:]
			offset += colon + 1
		}
	}

	if s != "" && (s[0] == '"' || s[0] == '\'') {
		val, after, err := readQuoted(s, 0)
		if err != nil {
			return Key{}, parseErr(offset, "unterminated quote")
		}
		if after != len(s) {
			return Key{}, parseErr(offset+after, "unexpected input after quoted key")
		}
		key.Value = val
		return key, nil
	}
	key.Value = s
	return key, nil
}

// splitInClause separates the trailing `IN table` clause from the keys
// section. The last unquoted standalone IN wins.
func splitInClause(rest string, base int) (keysPart, table string, tableOff int, err error) {
	var quote byte
	inIdx := -1
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '"' || c == '\'' {
			quote = c
			continue
		}
		if (c == 'I' || c == 'i') && i > 0 && isSpace(rest[i-1]) &&
			i+1 < len(rest) && (rest[i+1] == 'N' || rest[i+1] == 'n') &&
			(i+2 >= len(rest) || isSpace(rest[i+2])) {
			inIdx = i
		}
	}
	if quote != 0 {
		return "", "", 0, parseErr(base, "unterminated quote")
	}
	if inIdx < 0 {
		return rest, "", 0, nil
	}

	after := strings.TrimSpace(rest[inIdx+2:])
	return rest[:inIdx], after, base + inIdx + 2, nil
}

type segment struct {
	text   string
	offset int
}

// splitTopLevel splits on the separator outside quotes
func splitTopLevel(s string, sep byte) []segment {
	var out []segment
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '"' || c == '\'':
			quote = c
		case c == sep:
			out = append(out, segment{text: s[start:i], offset: start})
			start = i + 1
		}
	}
	out = append(out, segment{text: s[start:], offset: start})
	return out
}

// readQuoted reads a quoted literal starting at i. Double quotes honor
// backslash escapes; single quotes are literal.
func readQuoted(s string, i int) (string, int, error) {
	quote := s[i]
	if quote == '\'' {
		end := strings.IndexByte(s[i+1:], '\'')
		if end < 0 {
			return "", 0, parseErr(i, "unterminated quote")
		}
		return s[i+1 : i+1+end], i + end + 2, nil
	}

	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '"':
			val, err := strconv.Unquote(s[i : j+1])
			if err != nil {
				return "", 0, parseErr(i, "invalid quoted literal")
			}
			return val, j + 1, nil
		}
	}
	return "", 0, parseErr(i, "unterminated quote")
}

func skipSpaces(s string, i int) int {
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// readWord reads a run of letters
func readWord(s string, i int) (string, int) {
	j := i
	for j < len(s) && (s[j] >= 'A' && s[j] <= 'Z' || s[j] >= 'a' && s[j] <= 'z') {
		j++
	}
	return s[i:j], j
}

// readToken reads a run of non-space characters
func readToken(s string, i int) (string, int) {
	j := i
	for j < len(s) && !isSpace(s[j]) {
		j++
	}
	return s[i:j], j
}
