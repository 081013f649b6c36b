package storage

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	whereRe   = regexp.MustCompile(`(?i)\bWHERE\b`)
	tailRe    = regexp.MustCompile(`(?i)\b(GROUP\s+BY|ORDER\s+BY|LIMIT|OFFSET)\b`)
	fromRe    = regexp.MustCompile(`(?i)\bFROM\s+([a-zA-Z_][a-zA-Z0-9_.]*)`)
	joinRe    = regexp.MustCompile(`(?i)\bJOIN\b`)
	badStmtRe = regexp.MustCompile(`(?i)^\s*(INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|TRUNCATE|GRANT)\b`)
)

// InjectTenantPredicate rewrites a SELECT statement so that the tenant
// predicate always applies: `AND tenant_id = ?` is appended to the WHERE
// clause (or a WHERE clause is added). The tenant value binds as the last
// parameter of the WHERE clause. Joins and non-SELECT statements are
// rejected — the REM surface is not a general SQL endpoint.
func InjectTenantPredicate(query string) (string, error) {
	trimmed := strings.TrimSpace(query)
	if badStmtRe.MatchString(trimmed) {
		return "", fmt.Errorf("only SELECT statements are allowed")
	}
	if !strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
		return "", fmt.Errorf("only SELECT statements are allowed")
	}
	if joinRe.MatchString(trimmed) {
		return "", fmt.Errorf("joins are not allowed")
	}

	loc := whereRe.FindStringIndex(trimmed)
	if loc == nil {
		// No WHERE clause; insert one before any trailing clause
		if tail := tailRe.FindStringIndex(trimmed); tail != nil {
			return trimmed[:tail[0]] + "WHERE tenant_id = ? " + trimmed[tail[0]:], nil
		}
		return trimmed + " WHERE tenant_id = ?", nil
	}

	// Find the end of the WHERE condition
	rest := trimmed[loc[1]:]
	end := len(rest)
	if tail := tailRe.FindStringIndex(rest); tail != nil {
		end = tail[0]
	}
	cond := strings.TrimSpace(rest[:end])
	if cond == "" {
		return "", fmt.Errorf("empty WHERE clause")
	}
	return trimmed[:loc[1]] + " (" + cond + ") AND tenant_id = ? " + rest[end:], nil
}

// TableOf extracts the FROM table of a SELECT statement
func TableOf(query string) (string, bool) {
	m := fromRe.FindStringSubmatch(query)
	if m == nil {
		return "", false
	}
	return m[1], true
}
