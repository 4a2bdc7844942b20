package query

import (
	"testing"

	"github.com/meshrow/tabular/pkg/types"
)

func TestParse_Constraints(t *testing.T) {
	q := New(catalog(), studentsTable())
	if !q.Parse("name:ted gpa:3.7") {
		t.Fatal("parse failed")
	}
	if q.ConstraintCount() != 2 || q.JoinCount() != 0 {
		t.Fatalf("got %d constraints, %d joins", q.ConstraintCount(), q.JoinCount())
	}
	if q.Constraint(0).ColumnKey() != "name" || q.Constraint(1).ColumnKey() != "gpa" {
		t.Errorf("constraint columns: %q, %q",
			q.Constraint(0).ColumnKey(), q.Constraint(1).ColumnKey())
	}
}

func TestParse_ValueWithSpaces(t *testing.T) {
	q := New(catalog(), studentsTable())
	if !q.Parse("name:ted the brave gpa:3.7") {
		t.Fatal("parse failed")
	}
	if q.ConstraintCount() != 2 {
		t.Fatalf("got %d constraints", q.ConstraintCount())
	}
	sd := q.ToSQL(studentColumns)
	args := sd.Args()
	if len(args) != 2 || args[0] != "ted the brave" {
		t.Errorf("args: %v", args)
	}
}

func TestParse_AbbreviationAndCase(t *testing.T) {
	q := New(catalog(), studentsTable())
	if !q.Parse("FAC:dorm-a") {
		t.Fatal("parse failed")
	}
	if q.ConstraintCount() != 1 || q.Constraint(0).ColumnKey() != "facility" {
		t.Errorf("constraint: %+v", q.Constraint(0))
	}
}

func TestParse_UnknownLabelFails(t *testing.T) {
	q := New(catalog(), studentsTable())
	if q.Parse("name:ted height:180") {
		t.Error("unknown label should fail the parse")
	}
}

func TestParse_NoColonFails(t *testing.T) {
	q := New(catalog(), studentsTable())
	if q.Parse("just words") {
		t.Error("text without a colon should fail")
	}
	if q.Parse("name:") {
		t.Error("trailing colon with no value should fail")
	}
}

func TestParse_Join(t *testing.T) {
	q := New(catalog(), studentsTable())
	if !q.Parse("join:Equipment(status:active) facility/facilityId") {
		t.Fatal("parse failed")
	}
	if q.JoinCount() != 1 || q.ConstraintCount() != 0 {
		t.Fatalf("got %d joins, %d constraints", q.JoinCount(), q.ConstraintCount())
	}
	j := q.Join(0)
	if j.Table().DisplayName != "Equipment" {
		t.Errorf("join table: %q", j.Table().DisplayName)
	}
	if j.MatchCount() != 1 {
		t.Fatalf("match pairs: %d", j.MatchCount())
	}
	local, joined := j.MatchPair(0)
	if local != "facility" || joined != "facility_id" {
		t.Errorf("match pair: %q/%q", local, joined)
	}
	if j.SubQuery().ConstraintCount() != 1 || j.SubQuery().Constraint(0).ColumnKey() != "status" {
		t.Errorf("sub-query constraints: %d", j.SubQuery().ConstraintCount())
	}
}

func TestParse_JoinWithoutSubquery(t *testing.T) {
	q := New(catalog(), studentsTable())
	if !q.Parse("join:Equipment facility/facilityId") {
		t.Fatal("parse failed")
	}
	if q.JoinCount() != 1 {
		t.Fatalf("got %d joins", q.JoinCount())
	}
	if q.Join(0).SubQuery().ConstraintCount() != 0 {
		t.Error("sub-query should be empty")
	}
}

func TestParse_ConstraintAfterJoin(t *testing.T) {
	q := New(catalog(), studentsTable())
	if !q.Parse("name:ted join:Equipment(status:active) facility/facilityId gpa:3.7") {
		t.Fatal("parse failed")
	}
	if q.ConstraintCount() != 2 || q.JoinCount() != 1 {
		t.Errorf("got %d constraints, %d joins", q.ConstraintCount(), q.JoinCount())
	}
}

// A malformed join span degrades to a plain equality constraint on the
// token's key, which then resolves (or not) as a column label.
func TestParse_MalformedJoinDegrades(t *testing.T) {
	withJoinColumn := &types.TableDefinition{
		TableID:     "memberships",
		DBTableName: "data_memberships",
		DisplayName: "Memberships",
		Columns: []types.Column{
			{Key: "join_code", DisplayName: "Join", Type: types.ColumnTypeText},
		},
	}
	cat := append(catalog(), withJoinColumn)

	q := New(cat, withJoinColumn)
	if !q.Parse("join:weekly") {
		t.Fatal("degraded join should parse as a constraint")
	}
	if q.JoinCount() != 0 || q.ConstraintCount() != 1 {
		t.Fatalf("got %d joins, %d constraints", q.JoinCount(), q.ConstraintCount())
	}
	if q.Constraint(0).ColumnKey() != "join_code" {
		t.Errorf("constraint column: %q", q.Constraint(0).ColumnKey())
	}

	// the same degrade against a table with no matching label fails
	q = New(cat, studentsTable())
	if q.Parse("join:weekly") {
		t.Error("degraded join with no matching label should fail")
	}
}

func TestParse_JoinUnknownTableDegrades(t *testing.T) {
	q := New(catalog(), studentsTable())
	if q.Parse("join:Ghosts(x:y) facility/facilityId") {
		t.Error("unknown join table should degrade and then fail on the label")
	}
}

func TestParse_JoinBadMatchPairDegrades(t *testing.T) {
	q := New(catalog(), studentsTable())
	if q.Parse("join:Equipment(status:active) facility-facilityId") {
		t.Error("match pair without a slash should degrade and fail")
	}
	q = New(catalog(), studentsTable())
	if q.Parse("join:Equipment(status:active) height/facilityId") {
		t.Error("unresolvable local column should degrade and fail")
	}
}

func TestParse_JoinUnbalancedParens(t *testing.T) {
	q := New(catalog(), studentsTable())
	if q.Parse("join:Equipment(status:active facility/facilityId") {
		t.Error("unbalanced subquery should degrade and fail")
	}
}

func TestParse_FailedSubqueryYieldsEmptySub(t *testing.T) {
	// the sub-query text does not resolve against Equipment, so the
	// join is kept with an unconstrained sub-query
	q := New(catalog(), studentsTable())
	if !q.Parse("join:Equipment(height:9) facility/facilityId") {
		t.Fatal("parse failed")
	}
	if q.JoinCount() != 1 {
		t.Fatalf("got %d joins", q.JoinCount())
	}
	if q.Join(0).SubQuery().ConstraintCount() != 0 {
		t.Error("failed sub-parse should leave the sub-query empty")
	}
}
