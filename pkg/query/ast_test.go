package query

import (
	"testing"

	"github.com/kasuganosora/rezync/pkg/ivm"
)

func TestASTTablesSingleScan(t *testing.T) {
	ast := Scan("todos")
	tables := ast.Tables()
	if len(tables) != 1 || tables[0] != "todos" {
		t.Fatalf("Tables() = %v, want [todos]", tables)
	}
}

func TestASTTablesThroughDecorators(t *testing.T) {
	ast := Limit(
		Filter(Scan("todos"), func(n ivm.Node) bool { return true }),
		0, 10,
	)
	tables := ast.Tables()
	if len(tables) != 1 || tables[0] != "todos" {
		t.Fatalf("Tables() = %v, want [todos]", tables)
	}
}

func TestASTTablesAcrossJoinBothSides(t *testing.T) {
	ast := Join(Scan("lists"), Scan("todos"), "items", "/id", "/listId")
	tables := ast.Tables()
	if len(tables) != 2 {
		t.Fatalf("Tables() = %v, want 2 distinct tables", tables)
	}
	seen := map[string]bool{}
	for _, tb := range tables {
		seen[tb] = true
	}
	if !seen["lists"] || !seen["todos"] {
		t.Fatalf("Tables() = %v, want both lists and todos", tables)
	}
}

func TestASTTablesDeduplicatesSharedScan(t *testing.T) {
	shared := Scan("todos")
	ast := Join(shared, Filter(shared, func(n ivm.Node) bool { return true }), "self", "/id", "/id")
	tables := ast.Tables()
	if len(tables) != 1 || tables[0] != "todos" {
		t.Fatalf("Tables() = %v, want deduplicated [todos]", tables)
	}
}
