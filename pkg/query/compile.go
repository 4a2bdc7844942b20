package query

import (
	"strings"

	"github.com/meshrow/tabular/pkg/types"
)

// SQLData is compiled query text plus its positional arguments. All
// user-supplied values travel in the argument list; only identifiers
// and engine-generated state labels appear in the text.
type SQLData struct {
	sql  strings.Builder
	args []string
}

// SQL returns the compiled query text.
func (sd *SQLData) SQL() string { return sd.sql.String() }

// Args returns the positional arguments in driver-ready form.
func (sd *SQLData) Args() []any {
	out := make([]any, len(sd.args))
	for i, a := range sd.args {
		out[i] = a
	}
	return out
}

func (sd *SQLData) appendSQL(s string)        { sd.sql.WriteString(s) }
func (sd *SQLData) appendArg(a string)        { sd.args = append(sd.args, a) }
func (sd *SQLData) appendArgs(args []string)  { sd.args = append(sd.args, args...) }
func (sd *SQLData) append(other *SQLData) {
	sd.appendSQL(other.SQL())
	sd.appendArgs(other.args)
}

// notDeletingPredicate is the tombstone filter every ordinary compiled
// query carries as its first WHERE predicate.
func notDeletingPredicate(dbTableName string) string {
	return dbTableName + "." + types.SyncStateColumn +
		" != '" + string(types.SyncDeleting) + "'"
}

// ToSQL compiles the query into a SELECT over the given columns. The
// row ID column is always selected first. The WHERE clause starts with
// the tombstone filter, followed by every constraint ANDed in, and the
// sort column's ORDER BY closes the statement.
func (q *Query) ToSQL(columns []string) *SQLData {
	sd := q.toSQLColumns(columns)
	if q.orderBy != "" {
		if q.sortOrder == Ascending {
			sd.appendSQL(" ORDER BY " + q.orderBy + " ASC")
		} else {
			sd.appendSQL(" ORDER BY " + q.orderBy + " DESC")
		}
	}
	return sd
}

// toSQLColumns compiles the unordered SELECT for the given columns,
// with the row ID selected first.
func (q *Query) toSQLColumns(columns []string) *SQLData {
	dbTn := q.table.DBTableName
	var sb strings.Builder
	sb.WriteString(dbTn + "." + types.RowIDColumn + " AS " + types.RowIDColumn)
	for _, col := range columns {
		sb.WriteString(", " + dbTn + "." + col + " AS " + col)
	}
	return q.toSQLSelection(sb.String())
}

// toSQLSelection compiles SELECT <selection> FROM <table> with joins,
// the tombstone filter, and all constraints.
func (q *Query) toSQLSelection(selection string) *SQLData {
	dbTn := q.table.DBTableName
	sd := &SQLData{}
	sd.appendSQL("SELECT " + selection)
	sd.appendSQL(" FROM " + dbTn)
	for _, j := range q.joins {
		jsd := j.toSQL()
		sd.appendSQL(" ")
		sd.append(jsd)
	}
	sd.appendSQL(" WHERE " + notDeletingPredicate(dbTn))
	for _, c := range q.constraints {
		csd := c.toSQL(dbTn)
		sd.appendSQL(" AND ")
		sd.append(csd)
	}
	return sd
}

// toSQL compiles a constraint to a parenthesized OR-group of its
// alternatives, one positional argument per alternative.
func (c *Constraint) toSQL(dbTableName string) *SQLData {
	sd := &SQLData{}
	cName := dbTableName + "." + c.columnKey
	sd.appendSQL("(")
	for i, cmp := range c.comparisons {
		if i > 0 {
			sd.appendSQL(" OR ")
		}
		sd.appendSQL(cName + " " + sqlOperators[cmp.comparator] + " ?")
		sd.appendArg(cmp.value)
	}
	sd.appendSQL(")")
	return sd
}

// toSQL compiles a join as a joined sub-select matched by equality on
// the declared pairs.
func (j *Join) toSQL() *SQLData {
	sd := &SQLData{}
	sd.appendSQL("JOIN (")
	sd.append(j.sub.toSQLColumns(j.sub.table.ColumnKeys()))
	sd.appendSQL(") ON ")
	for i := range j.matchKeys {
		if i > 0 {
			sd.appendSQL(" AND ")
		}
		sd.appendSQL(j.matchKeys[i] + " = " + j.matchArgs[i])
	}
	return sd
}

// ToOverviewSQL compiles the latest-row-per-group projection: one row
// per distinct combination of prime-column values, choosing the row
// with the maximum sort-column value in the group, ties broken by the
// maximum row ID. With no sort column configured the maximum row ID
// alone selects the representative. With no prime columns the query
// degrades to ToSQL.
//
// Supposing t is the table, a the prime column, b the sort column and
// c constrained by the user, the compiled shape is:
//
//	SELECT d.id, d.a, d.b, d.c FROM t d JOIN (
//	  SELECT MAX(id) AS id FROM
//	    (SELECT a, MAX(b) AS b FROM t WHERE ... GROUP BY a) x
//	    JOIN (SELECT id, a, b FROM t WHERE ...) y
//	    ON x.b = y.b AND x.a = y.a
//	    GROUP BY x.a, x.b
//	) z ON d.id = z.id
func (q *Query) ToOverviewSQL(columns []string) *SQLData {
	primes := q.table.PrimeColumns
	if len(primes) == 0 {
		return q.ToSQL(columns)
	}
	dbTn := q.table.DBTableName
	primeList := strings.Join(primes, ", ")

	sd := &SQLData{}
	sd.appendSQL("SELECT d." + types.RowIDColumn)
	for _, col := range columns {
		sd.appendSQL(", d." + col)
	}
	sd.appendSQL(" FROM " + dbTn + " d")
	sd.appendSQL(" JOIN (")

	if q.table.SortColumn == "" {
		sd.append(q.toSQLSelection(
			"MAX(" + dbTn + "." + types.RowIDColumn + ") AS " + types.RowIDColumn))
		sd.appendSQL(" GROUP BY " + primeList)
	} else {
		sort := q.table.SortColumn
		sd.appendSQL("SELECT MAX(" + types.RowIDColumn + ") AS " +
			types.RowIDColumn + " FROM ")

		var xSelection strings.Builder
		for _, prime := range primes {
			xSelection.WriteString(dbTn + "." + prime + " AS " + prime + ", ")
		}
		xSelection.WriteString("MAX(" + sort + ") AS " + sort)
		x := q.toSQLSelection(xSelection.String())

		yCols := make([]string, 0, len(primes)+1)
		yCols = append(yCols, primes...)
		yCols = append(yCols, sort)
		y := q.toSQLColumns(yCols)

		sd.appendSQL("(" + x.SQL() + " GROUP BY " + primeList + ") x")
		sd.appendSQL(" JOIN ")
		sd.appendSQL("(" + y.SQL() + ") y")
		sd.appendArgs(x.args)
		sd.appendArgs(y.args)

		sd.appendSQL(" ON x." + sort + " = y." + sort)
		for _, prime := range primes {
			sd.appendSQL(" AND x." + prime + " = y." + prime)
		}
		sd.appendSQL(" GROUP BY ")
		for _, prime := range primes {
			sd.appendSQL("x." + prime + ", ")
		}
		sd.appendSQL("x." + sort)
	}

	sd.appendSQL(") z ON d." + types.RowIDColumn + " = z." + types.RowIDColumn)
	return sd
}

// aggregateSQL returns the aggregate expression for a group column.
// Average compiles to SUM/COUNT so the numeric semantics stay explicit
// and identical across storage engines.
func aggregateSQL(groupColumn string, gt GroupType) string {
	switch gt {
	case Average:
		return "(SUM(" + groupColumn + ") / COUNT(" + groupColumn + "))"
	case Count:
		return "COUNT(" + groupColumn + ")"
	case Maximum:
		return "MAX(" + groupColumn + ")"
	case Minimum:
		return "MIN(" + groupColumn + ")"
	case Sum:
		return "SUM(" + groupColumn + ")"
	default:
		return "COUNT(" + groupColumn + ")"
	}
}

// ToGroupSQL compiles a grouped aggregate over one column; each result
// row carries the group value and the aggregate aliased as g.
func (q *Query) ToGroupSQL(groupColumn string, gt GroupType) *SQLData {
	sd := q.toSQLSelection(groupColumn + ", " + aggregateSQL(groupColumn, gt) + " AS g")
	sd.appendSQL(" GROUP BY " + groupColumn)
	return sd
}

// ToFooterSQL compiles a single aggregate over one column for the rows
// the query matches, with the aggregate aliased as g.
func (q *Query) ToFooterSQL(column string, gt GroupType) *SQLData {
	return q.toSQLSelection(aggregateSQL(column, gt) + " AS g")
}

// ToConflictSQL compiles the conflict-pair query: for every row ID with
// both a local and a server version, the local row (state conflicting)
// is followed by the server copy (state deleting with transactioning
// set). The ordinary tombstone filter does not apply; user constraints
// do. Callers consume results two at a time.
func (q *Query) ToConflictSQL(columns []string) *SQLData {
	dbTn := q.table.DBTableName
	sd := &SQLData{}
	sd.appendSQL("SELECT " + dbTn + "." + types.RowIDColumn + " AS " + types.RowIDColumn)
	for _, col := range columns {
		sd.appendSQL(", " + dbTn + "." + col + " AS " + col)
	}
	sd.appendSQL(" FROM " + dbTn)
	sd.appendSQL(" WHERE (" + dbTn + "." + types.SyncStateColumn +
		" = '" + string(types.SyncConflicting) + "'")
	sd.appendSQL(" OR (" + dbTn + "." + types.SyncStateColumn +
		" = '" + string(types.SyncDeleting) + "'" +
		" AND " + dbTn + "." + types.TransactioningColumn + " = 1" +
		" AND " + dbTn + "." + types.RowIDColumn +
		" IN (SELECT " + types.RowIDColumn + " FROM " + dbTn +
		" WHERE " + types.SyncStateColumn +
		" = '" + string(types.SyncConflicting) + "')))")
	for _, c := range q.constraints {
		csd := c.toSQL(dbTn)
		sd.appendSQL(" AND ")
		sd.append(csd)
	}
	// conflicting sorts before deleting, so the local row leads each pair
	sd.appendSQL(" ORDER BY " + dbTn + "." + types.RowIDColumn + " ASC, " +
		dbTn + "." + types.SyncStateColumn + " ASC")
	return sd
}
