// Package sqlcheck validates SQL submitted for LLM summarization before it is
// enqueued. Queries must be a single read-only SELECT, and the number of rows
// they can return is capped: an explicit LIMIT above the cap is rejected, a
// missing LIMIT is injected at the cap.
//
// This is a token scanner, not a SQL parser. It understands just enough of
// the lexical structure shared by the supported warehouse dialects (quoted
// strings and identifiers, line and block comments, statement separators) to
// make the three checks reliable without pulling in a full grammar.
package sqlcheck

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

var (
	// ErrEmpty is returned when the input contains no statement.
	ErrEmpty = errors.New("query is empty")
	// ErrMultipleStatements is returned when the input contains more than one
	// statement.
	ErrMultipleStatements = errors.New("query must contain a single statement")
	// ErrNotSelect is returned when the statement is not a SELECT.
	ErrNotSelect = errors.New("only SELECT queries are allowed")
	// ErrLimitTooLarge is returned when an explicit LIMIT exceeds the cap.
	ErrLimitTooLarge = errors.New("query limit exceeds the maximum")
)

// Check validates sql and returns the statement to dispatch. The returned
// string equals the input (trimmed) when an acceptable LIMIT is already
// present, and has "LIMIT maxRows" appended otherwise.
func Check(sql string, maxRows int) (string, error) {
	if maxRows <= 0 {
		return "", errors.New("max rows must be positive")
	}
	stmts := split(sql)
	if len(stmts) == 0 {
		return "", ErrEmpty
	}
	if len(stmts) > 1 {
		return "", ErrMultipleStatements
	}
	stmt := stmts[0]
	toks := tokenize(stmt)
	if len(toks) == 0 {
		return "", ErrEmpty
	}
	if !strings.EqualFold(toks[0], "SELECT") && !isSelectCTE(toks) {
		return "", ErrNotSelect
	}
	limit, found := findLimit(toks)
	if found {
		if limit > maxRows {
			return "", fmt.Errorf("%w: limit %d > %d", ErrLimitTooLarge, limit, maxRows)
		}
		return stmt, nil
	}
	// A statement ending in a line comment would swallow anything appended on
	// the same line, so the clause goes on a line of its own.
	sep := " "
	if endsInLineComment(stmt) {
		sep = "\n"
	}
	return fmt.Sprintf("%s%sLIMIT %d", stmt, sep, maxRows), nil
}

// endsInLineComment reports whether the final bytes of s sit inside a "--"
// comment that runs to the end of the input.
func endsInLineComment(s string) bool {
	i := 0
	for i < len(s) {
		switch {
		case s[i] == '\'' || s[i] == '"' || s[i] == '`':
			i = skipQuoted(s, i)
		case strings.HasPrefix(s[i:], "--"):
			i = skipLineComment(s, i)
			if i == len(s) {
				return true
			}
		case strings.HasPrefix(s[i:], "/*"):
			i = skipBlockComment(s, i)
		default:
			i++
		}
	}
	return false
}

// isSelectCTE reports whether the token stream is a WITH ... SELECT query.
// Common table expressions are still read-only selects, so they pass the
// SELECT check as long as a top-level SELECT keyword follows the WITH clause.
func isSelectCTE(toks []string) bool {
	if !strings.EqualFold(toks[0], "WITH") {
		return false
	}
	for _, tok := range toks[1:] {
		if strings.EqualFold(tok, "SELECT") {
			return true
		}
	}
	return false
}

// findLimit returns the integer following the first top-level LIMIT keyword.
func findLimit(toks []string) (int, bool) {
	for i, tok := range toks {
		if !strings.EqualFold(tok, "LIMIT") {
			continue
		}
		for _, next := range toks[i+1:] {
			if n, err := strconv.Atoi(next); err == nil {
				return n, true
			}
		}
		// LIMIT with no numeric argument (e.g. a bind placeholder); treat as
		// present so nothing is appended after it.
		return 0, true
	}
	return 0, false
}

// split divides sql into statements on top-level semicolons, skipping quoted
// regions and comments. Trailing empty statements are dropped.
func split(sql string) []string {
	var (
		stmts []string
		start int
	)
	i := 0
	for i < len(sql) {
		switch {
		case sql[i] == ';':
			stmts = appendStmt(stmts, sql[start:i])
			i++
			start = i
		case sql[i] == '\'' || sql[i] == '"' || sql[i] == '`':
			i = skipQuoted(sql, i)
		case strings.HasPrefix(sql[i:], "--"):
			i = skipLineComment(sql, i)
		case strings.HasPrefix(sql[i:], "/*"):
			i = skipBlockComment(sql, i)
		default:
			i++
		}
	}
	return appendStmt(stmts, sql[start:])
}

func appendStmt(stmts []string, s string) []string {
	if t := strings.TrimSpace(stripComments(s)); t != "" {
		stmts = append(stmts, strings.TrimSpace(s))
	}
	return stmts
}

// stripComments blanks out comments so a trailing comment does not count as a
// statement of its own.
func stripComments(s string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		switch {
		case s[i] == '\'' || s[i] == '"' || s[i] == '`':
			end := skipQuoted(s, i)
			b.WriteString(s[i:end])
			i = end
		case strings.HasPrefix(s[i:], "--"):
			i = skipLineComment(s, i)
		case strings.HasPrefix(s[i:], "/*"):
			i = skipBlockComment(s, i)
		default:
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String()
}

// tokenize yields bare words and numbers outside quotes and comments. Quoted
// regions become a single opaque token so keywords inside string literals are
// never misread.
func tokenize(s string) []string {
	var toks []string
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			end := skipQuoted(s, i)
			toks = append(toks, s[i:end])
			i = end
		case strings.HasPrefix(s[i:], "--"):
			i = skipLineComment(s, i)
		case strings.HasPrefix(s[i:], "/*"):
			i = skipBlockComment(s, i)
		case isWordByte(c):
			j := i
			for j < len(s) && isWordByte(s[j]) {
				j++
			}
			toks = append(toks, s[i:j])
			i = j
		default:
			i++
		}
	}
	return toks
}

func isWordByte(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c))
}

// skipQuoted returns the index just past the quoted region opening at i.
// Doubled quotes escape themselves; backslash escapes apply inside single
// quotes.
func skipQuoted(s string, i int) int {
	q := s[i]
	i++
	for i < len(s) {
		switch {
		case s[i] == '\\' && q == '\'' && i+1 < len(s):
			i += 2
		case s[i] == q:
			if i+1 < len(s) && s[i+1] == q {
				i += 2
				continue
			}
			return i + 1
		default:
			i++
		}
	}
	return i
}

func skipLineComment(s string, i int) int {
	for i < len(s) && s[i] != '\n' {
		i++
	}
	return i
}

func skipBlockComment(s string, i int) int {
	end := strings.Index(s[i+2:], "*/")
	if end < 0 {
		return len(s)
	}
	return i + 2 + end + 2
}
