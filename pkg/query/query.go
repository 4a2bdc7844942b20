// Package query builds relational queries over user tables and
// compiles them to parameterized SQL understood by the row store.
// Queries are constructed programmatically or parsed from the
// free-text key:value mini-language.
package query

import (
	"hash/fnv"
	"strings"

	"github.com/meshrow/tabular/pkg/types"
)

// Comparator identifies how a constraint compares a column to a value.
type Comparator int

const (
	Equals Comparator = iota
	NotEquals
	LessThan
	LessThanOrEqual
	GreaterThan
	GreaterThanOrEqual
	Like
)

// sqlOperators maps comparators to their SQL operator text.
var sqlOperators = map[Comparator]string{
	Equals:             "=",
	NotEquals:          "!=",
	LessThan:           "<",
	LessThanOrEqual:    "<=",
	GreaterThan:        ">",
	GreaterThanOrEqual: ">=",
	Like:               "LIKE",
}

// SortOrder identifies the direction of the ORDER BY clause.
type SortOrder int

const (
	Ascending SortOrder = iota
	Descending
)

// GroupType identifies the aggregate applied by a grouped query.
type GroupType int

const (
	Count GroupType = iota
	Sum
	Minimum
	Maximum
	Average
)

// comparison is one (comparator, value) alternative inside a constraint.
type comparison struct {
	comparator Comparator
	value      string
}

// Constraint restricts one column to one or more (comparator, value)
// alternatives combined with OR.
type Constraint struct {
	columnKey   string
	comparisons []comparison
}

// ColumnKey returns the storage key of the constrained column.
func (c *Constraint) ColumnKey() string { return c.columnKey }

// ComparisonCount returns the number of OR'd alternatives.
func (c *Constraint) ComparisonCount() int { return len(c.comparisons) }

// Comparison returns the comparator and value of the alternative at
// the given index.
func (c *Constraint) Comparison(i int) (Comparator, string) {
	return c.comparisons[i].comparator, c.comparisons[i].value
}

// Join composes another table into the query: rows of the joined table
// matching the sub-query are joined on equality of the declared
// (local column, other-table column) pairs.
type Join struct {
	table     *types.TableDefinition
	sub       *Query
	matchKeys []string // local column keys
	matchArgs []string // joined-table column keys
}

// Table returns the definition of the joined table.
func (j *Join) Table() *types.TableDefinition { return j.table }

// SubQuery returns the query scoped to the joined table. It is never
// nil; an unconstrained join carries an empty sub-query.
func (j *Join) SubQuery() *Query { return j.sub }

// MatchCount returns the number of match pairs.
func (j *Join) MatchCount() int { return len(j.matchKeys) }

// MatchPair returns the (local column, joined column) pair at the
// given index.
func (j *Join) MatchPair(i int) (local, joined string) {
	return j.matchKeys[i], j.matchArgs[i]
}

// Query is an ordered list of joins plus a list of constraints over
// one table, with an optional sort column and direction. The zero
// value is not usable; construct with New.
type Query struct {
	catalog     []*types.TableDefinition
	table       *types.TableDefinition
	constraints []*Constraint
	joins       []*Join
	orderBy     string
	sortOrder   SortOrder
}

// New creates an empty query over the given table. The catalog lists
// every table definition and is consulted when parsing join clauses.
// The sort column defaults to the table's configured sort column.
func New(catalog []*types.TableDefinition, table *types.TableDefinition) *Query {
	return &Query{
		catalog: catalog,
		table:   table,
		orderBy: table.SortColumn,
	}
}

// Table returns the definition of the queried table.
func (q *Query) Table() *types.TableDefinition { return q.table }

// ConstraintCount returns the number of constraints.
func (q *Query) ConstraintCount() int { return len(q.constraints) }

// Constraint returns the constraint at the given index.
func (q *Query) Constraint(i int) *Constraint { return q.constraints[i] }

// JoinCount returns the number of joins.
func (q *Query) JoinCount() int { return len(q.joins) }

// Join returns the join at the given index.
func (q *Query) Join(i int) *Join { return q.joins[i] }

// Clear removes all constraints and joins.
func (q *Query) Clear() {
	q.constraints = nil
	q.joins = nil
}

// AddConstraint adds a single-comparison constraint on a column.
func (q *Query) AddConstraint(columnKey string, cmp Comparator, value string) {
	q.constraints = append(q.constraints, &Constraint{
		columnKey:   columnKey,
		comparisons: []comparison{{cmp, value}},
	})
}

// AddOrConstraint adds a constraint whose two alternatives are
// combined with OR.
func (q *Query) AddOrConstraint(columnKey string, cmp1 Comparator, value1 string,
	cmp2 Comparator, value2 string) {
	q.constraints = append(q.constraints, &Constraint{
		columnKey:   columnKey,
		comparisons: []comparison{{cmp1, value1}, {cmp2, value2}},
	})
}

// RemoveConstraint removes the constraint at the given index.
func (q *Query) RemoveConstraint(i int) {
	q.constraints = append(q.constraints[:i], q.constraints[i+1:]...)
}

// AddJoin composes another table into the query. sub may be nil for an
// unconstrained join. matchKeys are local column keys and matchArgs the
// corresponding joined-table column keys.
func (q *Query) AddJoin(table *types.TableDefinition, sub *Query,
	matchKeys, matchArgs []string) {
	if sub == nil {
		sub = New(q.catalog, table)
	}
	q.joins = append(q.joins, &Join{
		table:     table,
		sub:       sub,
		matchKeys: matchKeys,
		matchArgs: matchArgs,
	})
}

// SetOrderBy sets the sort column and direction.
func (q *Query) SetOrderBy(columnKey string, order SortOrder) {
	q.orderBy = columnKey
	q.sortOrder = order
}

// Equal reports structural equality: same table, same constraint set
// regardless of ordering, same join set regardless of ordering, and
// the same sort column and direction.
func (q *Query) Equal(other *Query) bool {
	if other == nil {
		return false
	}
	if q.table.TableID != other.table.TableID ||
		q.orderBy != other.orderBy ||
		q.sortOrder != other.sortOrder ||
		len(q.constraints) != len(other.constraints) ||
		len(q.joins) != len(other.joins) {
		return false
	}
	if !matchUnordered(len(q.constraints), func(i, j int) bool {
		return q.constraints[i].equal(other.constraints[j])
	}) {
		return false
	}
	return matchUnordered(len(q.joins), func(i, j int) bool {
		return q.joins[i].equal(other.joins[j])
	})
}

// matchUnordered reports whether a perfect one-to-one matching exists
// between two equally sized collections under the given predicate.
func matchUnordered(n int, eq func(i, j int) bool) bool {
	used := make([]bool, n)
	for i := 0; i < n; i++ {
		found := false
		for j := 0; j < n; j++ {
			if !used[j] && eq(i, j) {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (c *Constraint) equal(other *Constraint) bool {
	if c.columnKey != other.columnKey ||
		len(c.comparisons) != len(other.comparisons) {
		return false
	}
	return matchUnordered(len(c.comparisons), func(i, j int) bool {
		return c.comparisons[i] == other.comparisons[j]
	})
}

func (j *Join) equal(other *Join) bool {
	if j.table.TableID != other.table.TableID ||
		len(j.matchKeys) != len(other.matchKeys) ||
		!j.sub.Equal(other.sub) {
		return false
	}
	return matchUnordered(len(j.matchKeys), func(a, b int) bool {
		return j.matchKeys[a] == other.matchKeys[b] &&
			j.matchArgs[a] == other.matchArgs[b]
	})
}

// Hash returns a hash consistent with Equal: component hashes are
// summed so that constraint and join ordering does not matter.
func (q *Query) Hash() uint64 {
	h := hashString(q.table.TableID)
	if q.orderBy != "" {
		h += hashString(q.orderBy) + uint64(q.sortOrder)
	}
	for _, c := range q.constraints {
		h += c.hash()
	}
	for _, j := range q.joins {
		h += j.hash()
	}
	return h
}

func (c *Constraint) hash() uint64 {
	h := hashString(c.columnKey)
	for _, cmp := range c.comparisons {
		h += uint64(cmp.comparator) + hashString(cmp.value)
	}
	return h
}

func (j *Join) hash() uint64 {
	h := hashString(j.table.TableID) + j.sub.Hash()
	for i := range j.matchKeys {
		h += hashString(j.matchKeys[i]) + hashString(j.matchArgs[i])
	}
	return h
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// ToUserQuery renders the query in the free-text mini-language.
// Parsing the result yields a query with the same constraint and join
// semantics, though not necessarily the original text.
func (q *Query) ToUserQuery() string {
	var sb strings.Builder
	for _, c := range q.constraints {
		sb.WriteString(c.toUserQuery(q.table))
		sb.WriteString(" ")
	}
	for _, j := range q.joins {
		sb.WriteString(j.toUserQuery(q.table))
		sb.WriteString(" ")
	}
	return strings.TrimSpace(sb.String())
}

func (c *Constraint) toUserQuery(table *types.TableDefinition) string {
	label := c.columnKey
	if col := table.ColumnByKey(c.columnKey); col != nil {
		label = col.DisplayName
	}
	var sb strings.Builder
	sb.WriteString(label)
	sb.WriteString(":")
	for i, cmp := range c.comparisons {
		if i > 0 {
			sb.WriteString("|")
		}
		sb.WriteString(cmp.value)
	}
	return sb.String()
}

func (j *Join) toUserQuery(table *types.TableDefinition) string {
	var sb strings.Builder
	sb.WriteString("join:")
	sb.WriteString(j.table.DisplayName)
	if sub := j.sub.ToUserQuery(); sub != "" {
		sb.WriteString("(")
		sb.WriteString(sub)
		sb.WriteString(")")
	}
	for i := range j.matchKeys {
		local := j.matchKeys[i]
		if col := table.ColumnByKey(local); col != nil {
			local = col.DisplayName
		}
		joined := j.matchArgs[i]
		if col := j.table.ColumnByKey(joined); col != nil {
			joined = col.DisplayName
		}
		sb.WriteString(" ")
		sb.WriteString(local)
		sb.WriteString("/")
		sb.WriteString(joined)
	}
	return sb.String()
}
