// Package colorrules evaluates row coloring rules. A rule compares one
// column's value against a threshold and, when it matches, supplies
// foreground and background colors for rendering. Rule groups are
// persisted as a JSON list in a table's property store.
package colorrules

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/meshrow/tabular/pkg/types"
)

// Comparator is a rule's comparison operator, stored by its symbol.
type Comparator string

const (
	LessThan           Comparator = "<"
	LessThanOrEqual    Comparator = "<="
	Equal              Comparator = "="
	GreaterThanOrEqual Comparator = ">="
	GreaterThan        Comparator = ">"
)

// Valid reports whether the comparator is one of the known symbols.
func (c Comparator) Valid() bool {
	switch c {
	case LessThan, LessThanOrEqual, Equal, GreaterThanOrEqual, GreaterThan:
		return true
	}
	return false
}

// Color is a foreground/background pair, each a hex color string.
type Color struct {
	Foreground string `json:"foreground"`
	Background string `json:"background"`
}

// Rule colors rows whose column value satisfies the comparison.
type Rule struct {
	ID         string     `json:"id"`
	ColumnKey  string     `json:"column"`
	Comparator Comparator `json:"comparator"`
	Value      string     `json:"value"`
	Color      Color      `json:"color"`

	// numeric threshold, parsed once for number columns
	numParsed bool
	numValue  float64
	numOK     bool
}

// Matches reports whether the row's value for the rule's column
// satisfies the rule. Number columns compare numerically; text and
// date columns compare as strings, which for RFC 3339 dates is
// chronological. A value that fails to parse never matches.
func (r *Rule) Matches(row *types.Row, column *types.Column) bool {
	if column == nil || column.Key != r.ColumnKey {
		return false
	}
	value := row.Value(r.ColumnKey)
	if value == "" {
		return false
	}

	var relation int
	if column.Type == types.ColumnTypeNumber {
		if !r.numParsed {
			r.numValue, r.numOK = parseNumber(r.Value)
			r.numParsed = true
		}
		parsed, ok := parseNumber(value)
		if !ok || !r.numOK {
			return false
		}
		switch {
		case parsed < r.numValue:
			relation = -1
		case parsed > r.numValue:
			relation = 1
		}
	} else {
		relation = strings.Compare(value, r.Value)
	}

	switch r.Comparator {
	case LessThan:
		return relation < 0
	case LessThanOrEqual:
		return relation <= 0
	case Equal:
		return relation == 0
	case GreaterThanOrEqual:
		return relation >= 0
	case GreaterThan:
		return relation > 0
	}
	return false
}

func parseNumber(s string) (float64, bool) {
	parsed, err := strconv.ParseFloat(s, 64)
	return parsed, err == nil
}

// PropertyStore is the slice of the key/value store a group needs.
// *sqlite.KVStore satisfies it.
type PropertyStore interface {
	GetList(partition, aspect, key string, dest any) (bool, error)
	SetList(partition, aspect, key string, value any) error
}

const ruleListKey = "ruleList"

// Group is an ordered list of rules scoped to one aspect of a table's
// color-rule partition: a column key for per-column rules, or a
// broader aspect for whole-row rules.
type Group struct {
	store  PropertyStore
	aspect string
	rules  []Rule
	log    *slog.Logger
}

// LoadGroup reads the rule list for an aspect. A missing list yields
// an empty group. Rules that fail validation are logged and dropped;
// a list that fails to decode entirely is treated as empty.
func LoadGroup(store PropertyStore, aspect string, logger *slog.Logger) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Group{store: store, aspect: aspect, log: logger}

	var stored []Rule
	found, err := store.GetList(types.PartitionColorRule, aspect, ruleListKey, &stored)
	if err != nil {
		logger.Warn("color rule list unreadable", "aspect", aspect, "error", err)
		return g
	}
	if !found {
		return g
	}
	for _, rule := range stored {
		if rule.ColumnKey == "" || !rule.Comparator.Valid() {
			logger.Warn("dropping malformed color rule",
				"aspect", aspect, "rule_id", rule.ID, "comparator", string(rule.Comparator))
			continue
		}
		g.rules = append(g.rules, rule)
	}
	return g
}

// Rules returns the group's rules in evaluation order.
func (g *Group) Rules() []Rule { return g.rules }

// Add appends a rule, assigning an ID if it has none.
func (g *Group) Add(rule Rule) {
	if rule.ID == "" {
		rule.ID = "rule-" + strconv.Itoa(len(g.rules)+1)
	}
	g.rules = append(g.rules, rule)
}

// Replace swaps the rule at index i.
func (g *Group) Replace(i int, rule Rule) {
	if i < 0 || i >= len(g.rules) {
		return
	}
	rule.ID = g.rules[i].ID
	g.rules[i] = rule
}

// Remove deletes the rule at index i.
func (g *Group) Remove(i int) {
	if i < 0 || i >= len(g.rules) {
		return
	}
	g.rules = append(g.rules[:i], g.rules[i+1:]...)
}

// Save writes the rule list back to the property store.
func (g *Group) Save() error {
	return g.store.SetList(types.PartitionColorRule, g.aspect, ruleListKey, g.rules)
}

// ColorFor evaluates the group against a row; the first matching rule
// wins. The second return reports whether any rule matched.
func (g *Group) ColorFor(row *types.Row, definition *types.TableDefinition) (Color, bool) {
	for i := range g.rules {
		rule := &g.rules[i]
		column := definition.ColumnByKey(rule.ColumnKey)
		if column == nil {
			continue
		}
		if rule.Matches(row, column) {
			return rule.Color, true
		}
	}
	return Color{}, false
}
