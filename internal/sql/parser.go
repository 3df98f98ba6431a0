package sql

import (
	"fmt"

	"github.com/blastrain/vitess-sqlparser/sqlparser"
)

// ParseToPlan parses a SQL string and returns a logical plan.
func ParseToPlan(sql string) (PlanNode, error) {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, err
	}

	switch s := stmt.(type) {
	case *sqlparser.CreateTable:
		return buildCreateTablePlan(s)
	case *sqlparser.Select:
		return buildSelectPlan(s)
	case *sqlparser.Insert:
		return buildInsertPlan(s)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, stmt)
	}
}

func buildCreateTablePlan(stmt *sqlparser.CreateTable) (PlanNode, error) {
	if stmt.DDL == nil {
		return nil, fmt.Errorf("%w: CREATE TABLE without a name", ErrUnsupported)
	}
	name := stmt.DDL.NewName.Name.String()
	if name == "" {
		return nil, fmt.Errorf("%w: CREATE TABLE without a name", ErrUnsupported)
	}
	if len(stmt.Columns) == 0 {
		return nil, fmt.Errorf("%w: table %s has no columns", ErrUnsupported, name)
	}

	schema := Schema{Name: name}
	for _, col := range stmt.Columns {
		if schema.ColumnIndex(col.Name) >= 0 {
			return nil, fmt.Errorf("table %s: duplicate column %s", name, col.Name)
		}
		schema.Columns = append(schema.Columns, Column{Name: col.Name, Type: col.Type})
	}
	return &CreateTableNode{Schema: schema}, nil
}

func buildSelectPlan(stmt *sqlparser.Select) (PlanNode, error) {
	if len(stmt.From) == 0 {
		return nil, fmt.Errorf("%w: SELECT without FROM", ErrUnsupported)
	}
	if len(stmt.From) > 1 {
		return nil, fmt.Errorf("%w: joins", ErrUnsupported)
	}

	aliasedTable, ok := stmt.From[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return nil, fmt.Errorf("%w: complex FROM clause", ErrUnsupported)
	}
	tableName, ok := aliasedTable.Expr.(sqlparser.TableName)
	if !ok {
		return nil, fmt.Errorf("%w: FROM subquery", ErrUnsupported)
	}
	table := tableName.Name.String()

	node := PlanNode(&ScanNode{Table: table})

	if stmt.Where != nil {
		lookup, err := buildLookup(table, stmt.Where.Expr)
		if err != nil {
			return nil, err
		}
		node = lookup
	}

	var cols []string
	for _, expr := range stmt.SelectExprs {
		switch e := expr.(type) {
		case *sqlparser.AliasedExpr:
			col, ok := e.Expr.(*sqlparser.ColName)
			if !ok {
				return nil, fmt.Errorf("%w: select expression %s", ErrUnsupported, sqlparser.String(e.Expr))
			}
			cols = append(cols, col.Name.String())
		case *sqlparser.StarExpr:
			cols = append(cols, "*")
		default:
			return nil, fmt.Errorf("%w: select expression %s", ErrUnsupported, sqlparser.String(expr))
		}
	}

	return &ProjectNode{
		Input:   node,
		Columns: cols,
	}, nil
}

// buildLookup accepts only `column = literal`.
func buildLookup(table string, expr sqlparser.Expr) (PlanNode, error) {
	cmp, ok := expr.(*sqlparser.ComparisonExpr)
	if !ok || cmp.Operator != sqlparser.EqualStr {
		return nil, fmt.Errorf("%w: WHERE %s", ErrUnsupported, sqlparser.String(expr))
	}
	col, ok := cmp.Left.(*sqlparser.ColName)
	if !ok {
		return nil, fmt.Errorf("%w: WHERE %s", ErrUnsupported, sqlparser.String(expr))
	}
	val, ok := cmp.Right.(*sqlparser.SQLVal)
	if !ok {
		return nil, fmt.Errorf("%w: WHERE %s", ErrUnsupported, sqlparser.String(expr))
	}
	return &PointGetNode{
		Table:  table,
		Column: col.Name.String(),
		Key:    string(val.Val),
	}, nil
}

func buildInsertPlan(stmt *sqlparser.Insert) (PlanNode, error) {
	table := stmt.Table.Name.String()

	var cols []string
	for _, col := range stmt.Columns {
		cols = append(cols, col.String())
	}

	rowsVals, ok := stmt.Rows.(sqlparser.Values)
	if !ok {
		return nil, fmt.Errorf("%w: INSERT from SELECT", ErrUnsupported)
	}

	rows := make([][]string, 0, len(rowsVals))
	for _, tuple := range rowsVals {
		row := make([]string, 0, len(tuple))
		for _, val := range tuple {
			v, ok := val.(*sqlparser.SQLVal)
			if !ok {
				return nil, fmt.Errorf("%w: value %s", ErrUnsupported, sqlparser.String(val))
			}
			row = append(row, string(v.Val))
		}
		rows = append(rows, row)
	}

	return &InsertNode{
		Table:   table,
		Columns: cols,
		Rows:    rows,
	}, nil
}
