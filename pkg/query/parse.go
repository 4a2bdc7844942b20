package query

import (
	"strings"

	"github.com/meshrow/tabular/pkg/types"
)

// kwJoin is the reserved token key that introduces a join clause.
const kwJoin = "join"

// Parse loads constraints and joins from a free-text query of
// space-separated key:value tokens. A key is either a column label or
// the reserved word join; join values have the shape
// "TableName(optional nested query) localCol/remoteCol ...".
//
// Malformed join spans (unbalanced parentheses, unknown join table,
// bad match pairs) degrade to a plain EQUALS constraint on the token's
// key. Parse returns false only when a key cannot be resolved as a
// column label of the queried table; the query under construction must
// be discarded in that case.
func (q *Query) Parse(text string) bool {
	tokens, ok := tokenize(text)
	if !ok {
		return false
	}
	for _, tok := range tokens {
		if strings.EqualFold(tok.key, kwJoin) {
			if !q.addParsedJoin(tok.key, tok.value) {
				return false
			}
			continue
		}
		if !q.addParsedConstraint(tok.key, tok.value) {
			return false
		}
	}
	return true
}

// token is one key:value span of the free-text mini-language.
type token struct {
	key   string
	value string
}

// tokenize splits the text into key:value tokens. A token's value runs
// to the last space before the next key's colon; a join token whose
// value opens a parenthesized subquery consumes through the balancing
// close parenthesis first.
func tokenize(text string) ([]token, bool) {
	first := strings.IndexByte(text, ':')
	if first < 0 || first == len(text)-1 {
		return nil, false
	}
	var tokens []token
	start := 0
	for start < len(text) {
		rel := strings.IndexByte(text[start:], ':')
		if rel < 0 {
			break
		}
		colon := start + rel
		key := text[start:colon]
		valueStart := colon + 1
		searchFrom := valueStart

		if strings.EqualFold(key, kwJoin) {
			if end, ok := skipSubquery(text, valueStart); ok {
				searchFrom = end
			}
		}

		end := tokenEnd(text, valueStart, searchFrom)
		if end < 0 {
			tokens = append(tokens, token{key, text[valueStart:]})
			break
		}
		tokens = append(tokens, token{key, text[valueStart:end]})
		start = end + 1
	}
	return tokens, true
}

// skipSubquery returns the index just past the balanced parenthesized
// span opening before the next colon, when one exists. An unbalanced
// span reports false and the token ends early, degrading later.
func skipSubquery(text string, from int) (int, bool) {
	open := strings.IndexByte(text[from:], '(')
	if open < 0 {
		return 0, false
	}
	openIdx := from + open
	if nextColon := strings.IndexByte(text[from:], ':'); nextColon >= 0 &&
		from+nextColon < openIdx {
		// no parentheses within this token's value
		return 0, false
	}
	depth := 0
	for i := openIdx; i < len(text); i++ {
		switch text[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

// tokenEnd returns the index at which the token's value ends: the last
// space before the next colon beyond searchFrom. Returns -1 when the
// value extends to the end of the text.
func tokenEnd(text string, valueStart, searchFrom int) int {
	nextColon := indexFrom(text, ':', searchFrom)
	for {
		if nextColon < 0 || nextColon == len(text)-1 {
			return -1
		}
		nextStart := strings.LastIndexByte(text[:nextColon], ' ')
		if nextStart > valueStart && nextStart >= searchFrom {
			return nextStart
		}
		nextColon = indexFrom(text, ':', nextColon+1)
	}
}

func indexFrom(text string, b byte, from int) int {
	if from >= len(text) {
		return -1
	}
	i := strings.IndexByte(text[from:], b)
	if i < 0 {
		return -1
	}
	return from + i
}

// addParsedConstraint resolves the key as a column label and adds an
// EQUALS constraint. An unresolvable label fails the parse.
func (q *Query) addParsedConstraint(key, value string) bool {
	col := q.table.ColumnByLabel(key)
	if col == nil {
		return false
	}
	q.AddConstraint(col.Key, Equals, value)
	return true
}

// addParsedJoin interprets a join token's value. Any malformed span
// degrades to a plain EQUALS constraint on the token's key.
func (q *Query) addParsedJoin(key, value string) bool {
	var tableName, queryString, matchString string
	if open := strings.IndexByte(value, '('); open >= 0 {
		closing := strings.LastIndexByte(value, ')')
		if closing < open {
			return q.addParsedConstraint(key, value)
		}
		tableName = strings.TrimSpace(value[:open])
		queryString = value[open+1 : closing]
		matchString = value[closing+1:]
	} else {
		space := strings.IndexByte(value, ' ')
		if space < 0 {
			return q.addParsedConstraint(key, value)
		}
		tableName = value[:space]
		matchString = value[space+1:]
	}

	joinTable := q.tableByDisplayName(tableName)
	if joinTable == nil {
		return q.addParsedConstraint(key, value)
	}

	var sub *Query
	if queryString != "" {
		candidate := New(q.catalog, joinTable)
		if candidate.Parse(queryString) {
			sub = candidate
		}
	}

	fields := strings.Fields(matchString)
	if len(fields) == 0 {
		return q.addParsedConstraint(key, value)
	}
	matchKeys := make([]string, 0, len(fields))
	matchArgs := make([]string, 0, len(fields))
	for _, field := range fields {
		local, joined, ok := strings.Cut(field, "/")
		if !ok {
			return q.addParsedConstraint(key, value)
		}
		localCol := q.table.ColumnByLabel(local)
		joinedCol := joinTable.ColumnByLabel(joined)
		if localCol == nil || joinedCol == nil {
			return q.addParsedConstraint(key, value)
		}
		matchKeys = append(matchKeys, localCol.Key)
		matchArgs = append(matchArgs, joinedCol.Key)
	}

	q.AddJoin(joinTable, sub, matchKeys, matchArgs)
	return true
}

// tableByDisplayName resolves a table display name against the catalog,
// case-insensitively.
func (q *Query) tableByDisplayName(name string) *types.TableDefinition {
	for _, td := range q.catalog {
		if strings.EqualFold(td.DisplayName, name) {
			return td
		}
	}
	return nil
}
