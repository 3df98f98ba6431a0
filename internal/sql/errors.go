package sql

import "errors"

var (
	ErrUnsupported   = errors.New("unsupported statement")
	ErrTableNotFound = errors.New("table not found")
	ErrTableExists   = errors.New("table already exists")
	ErrDuplicateKey  = errors.New("duplicate primary key")
	ErrColumnCount   = errors.New("column count mismatch")
	ErrUnknownColumn = errors.New("unknown column")
)
