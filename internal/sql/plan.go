package sql

import (
	"fmt"
	"strings"
)

type NodeType int

const (
	NodeScan NodeType = iota
	NodePointGet
	NodeProject
	NodeInsert
	NodeCreateTable
)

type PlanNode interface {
	Type() NodeType
	String() string
	Children() []PlanNode
}

// Column is one column of a table schema.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Schema describes a table. The first column is the primary key.
type Schema struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// PrimaryKey returns the name of the primary key column.
func (s *Schema) PrimaryKey() string {
	return s.Columns[0].Name
}

// ColumnIndex returns the position of the named column, or -1.
func (s *Schema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

type CreateTableNode struct {
	Schema Schema
}

func (n *CreateTableNode) Type() NodeType       { return NodeCreateTable }
func (n *CreateTableNode) String() string       { return fmt.Sprintf("CreateTable(%s)", n.Schema.Name) }
func (n *CreateTableNode) Children() []PlanNode { return nil }

type ScanNode struct {
	Table string
}

func (n *ScanNode) Type() NodeType       { return NodeScan }
func (n *ScanNode) String() string       { return fmt.Sprintf("Scan(%s)", n.Table) }
func (n *ScanNode) Children() []PlanNode { return nil }

// PointGetNode selects the rows of Table whose Column equals Key. When Column
// is the primary key this is a single lookup; otherwise the table is scanned.
type PointGetNode struct {
	Table  string
	Column string
	Key    string
}

func (n *PointGetNode) Type() NodeType { return NodePointGet }
func (n *PointGetNode) String() string {
	return fmt.Sprintf("PointGet(%s, %s=%s)", n.Table, n.Column, n.Key)
}
func (n *PointGetNode) Children() []PlanNode { return nil }

type InsertNode struct {
	Table   string
	Columns []string   // empty means schema order
	Rows    [][]string // literal values
}

func (n *InsertNode) Type() NodeType       { return NodeInsert }
func (n *InsertNode) String() string       { return fmt.Sprintf("Insert(%s, %d rows)", n.Table, len(n.Rows)) }
func (n *InsertNode) Children() []PlanNode { return nil }

type ProjectNode struct {
	Input   PlanNode
	Columns []string // "*" selects every column
}

func (n *ProjectNode) Type() NodeType       { return NodeProject }
func (n *ProjectNode) String() string       { return fmt.Sprintf("Project(%v)", n.Columns) }
func (n *ProjectNode) Children() []PlanNode { return []PlanNode{n.Input} }

// IsReadOnly reports whether executing plan never writes.
func IsReadOnly(plan PlanNode) bool {
	switch plan.Type() {
	case NodeInsert, NodeCreateTable:
		return false
	}
	for _, c := range plan.Children() {
		if !IsReadOnly(c) {
			return false
		}
	}
	return true
}

// Explain renders plan and its children, one node per line.
func Explain(plan PlanNode) string {
	var b strings.Builder
	var walk func(n PlanNode, depth int)
	walk = func(n PlanNode, depth int) {
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(n.String())
		b.WriteByte('\n')
		for _, c := range n.Children() {
			walk(c, depth+1)
		}
	}
	walk(plan, 0)
	return b.String()
}
