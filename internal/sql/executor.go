package sql

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/myuser/mvccdb/internal/storage/mvcc"
)

// Row representing a result row.
type Row []string

// Result is the output of one statement.
type Result struct {
	Columns  []string
	Rows     []Row
	Affected int // rows written by INSERT
}

// Execute executes a logical plan inside txn. The caller commits or rolls
// back.
func Execute(plan PlanNode, txn *mvcc.Transaction) (*Result, error) {
	switch n := plan.(type) {
	case *CreateTableNode:
		return executeCreateTable(n, txn)
	case *InsertNode:
		return executeInsert(n, txn)
	case *ProjectNode:
		return executeProject(n, txn)
	case *ScanNode, *PointGetNode:
		return executeProject(&ProjectNode{Input: n, Columns: []string{"*"}}, txn)
	default:
		return nil, fmt.Errorf("%w: plan node %T", ErrUnsupported, plan)
	}
}

func executeCreateTable(n *CreateTableNode, txn *mvcc.Transaction) (*Result, error) {
	existing, err := txn.Get(schemaKey(n.Schema.Name))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrTableExists, n.Schema.Name)
	}
	raw, err := json.Marshal(n.Schema)
	if err != nil {
		return nil, err
	}
	if err := txn.Set(schemaKey(n.Schema.Name), raw); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

// GetSchema returns the named table's schema as seen by txn.
func GetSchema(txn *mvcc.Transaction, table string) (*Schema, error) {
	raw, err := txn.Get(schemaKey(table))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	var s Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode schema of %s: %w", table, err)
	}
	if len(s.Columns) == 0 {
		return nil, fmt.Errorf("schema of %s has no columns", table)
	}
	return &s, nil
}

// ListTables returns every table schema visible to txn, ordered by name.
func ListTables(txn *mvcc.Transaction) ([]Schema, error) {
	entries, err := txn.ScanPrefix(schemaPrefix())
	if err != nil {
		return nil, err
	}
	tables := make([]Schema, 0, len(entries))
	for _, e := range entries {
		var s Schema
		if err := json.Unmarshal(e.Value, &s); err != nil {
			return nil, fmt.Errorf("decode schema %q: %w", e.Key, err)
		}
		tables = append(tables, s)
	}
	return tables, nil
}

func executeInsert(n *InsertNode, txn *mvcc.Transaction) (*Result, error) {
	schema, err := GetSchema(txn, n.Table)
	if err != nil {
		return nil, err
	}

	// positions[i] is the schema column receiving the i-th value.
	positions := make([]int, 0, len(schema.Columns))
	if len(n.Columns) == 0 {
		for i := range schema.Columns {
			positions = append(positions, i)
		}
	} else {
		for _, c := range n.Columns {
			idx := schema.ColumnIndex(c)
			if idx < 0 {
				return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, n.Table, c)
			}
			positions = append(positions, idx)
		}
		if !slices.Contains(positions, 0) {
			return nil, fmt.Errorf("insert into %s: primary key %s not given", n.Table, schema.PrimaryKey())
		}
	}

	for _, values := range n.Rows {
		if len(values) != len(positions) {
			return nil, fmt.Errorf("%w: %d values for %d columns", ErrColumnCount, len(values), len(positions))
		}
		row := make([]string, len(schema.Columns))
		for i, v := range values {
			row[positions[i]] = v
		}
		pk := row[0]

		key := rowKey(n.Table, pk)
		existing, err := txn.Get(key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, fmt.Errorf("%w: %s=%s in %s", ErrDuplicateKey, schema.PrimaryKey(), pk, n.Table)
		}
		raw, err := json.Marshal(row)
		if err != nil {
			return nil, err
		}
		if err := txn.Set(key, raw); err != nil {
			return nil, err
		}
	}
	return &Result{Affected: len(n.Rows)}, nil
}

func executeProject(n *ProjectNode, txn *mvcc.Transaction) (*Result, error) {
	table, err := sourceTable(n.Input)
	if err != nil {
		return nil, err
	}
	schema, err := GetSchema(txn, table)
	if err != nil {
		return nil, err
	}

	var positions []int
	var columns []string
	for _, c := range n.Columns {
		if c == "*" {
			for i, col := range schema.Columns {
				positions = append(positions, i)
				columns = append(columns, col.Name)
			}
			continue
		}
		idx := schema.ColumnIndex(c)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, c)
		}
		positions = append(positions, idx)
		columns = append(columns, schema.Columns[idx].Name)
	}

	input, err := executeAny(n.Input, schema, txn)
	if err != nil {
		return nil, err
	}

	res := &Result{Columns: columns}
	for _, full := range input {
		out := make(Row, len(positions))
		for i, p := range positions {
			out[i] = full[p]
		}
		res.Rows = append(res.Rows, out)
	}
	return res, nil
}

func sourceTable(plan PlanNode) (string, error) {
	switch n := plan.(type) {
	case *ScanNode:
		return n.Table, nil
	case *PointGetNode:
		return n.Table, nil
	default:
		return "", fmt.Errorf("%w: plan node %T as row source", ErrUnsupported, plan)
	}
}

func executeScan(n *ScanNode, schema *Schema, txn *mvcc.Transaction) ([]Row, error) {
	entries, err := txn.ScanPrefix(rowPrefix(n.Table))
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(entries))
	for _, e := range entries {
		row, err := decodeRow(e.Value, schema)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func executePointGet(n *PointGetNode, schema *Schema, txn *mvcc.Transaction) ([]Row, error) {
	idx := schema.ColumnIndex(n.Column)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, n.Table, n.Column)
	}
	if idx != 0 {
		all, err := executeScan(&ScanNode{Table: n.Table}, schema, txn)
		if err != nil {
			return nil, err
		}
		var rows []Row
		for _, r := range all {
			if r[idx] == n.Key {
				rows = append(rows, r)
			}
		}
		return rows, nil
	}

	raw, err := txn.Get(rowKey(n.Table, n.Key))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	row, err := decodeRow(raw, schema)
	if err != nil {
		return nil, err
	}
	return []Row{row}, nil
}

func executeAny(plan PlanNode, schema *Schema, txn *mvcc.Transaction) ([]Row, error) {
	switch n := plan.(type) {
	case *ScanNode:
		return executeScan(n, schema, txn)
	case *PointGetNode:
		return executePointGet(n, schema, txn)
	default:
		return nil, fmt.Errorf("unknown node type: %T", n)
	}
}

func decodeRow(raw []byte, schema *Schema) (Row, error) {
	var row Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("decode row of %s: %w", schema.Name, err)
	}
	if len(row) != len(schema.Columns) {
		return nil, fmt.Errorf("row of %s has %d values, schema has %d columns", schema.Name, len(row), len(schema.Columns))
	}
	return row, nil
}

// String renders the result as a plain table.
func (r *Result) String() string {
	if r.Columns == nil {
		if r.Affected > 0 {
			return fmt.Sprintf("Inserted %d row(s)", r.Affected)
		}
		return "OK"
	}
	var b strings.Builder
	b.WriteString(strings.Join(r.Columns, " | "))
	b.WriteByte('\n')
	for _, row := range r.Rows {
		b.WriteString(strings.Join(row, " | "))
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "(%d rows)", len(r.Rows))
	return b.String()
}
