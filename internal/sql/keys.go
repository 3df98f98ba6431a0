package sql

import "github.com/myuser/mvccdb/internal/storage/keycode"

// Logical key kinds stored through the transaction layer.
//
//	0x01 | table          -> Schema (JSON)
//	0x02 | table | pk     -> row values (JSON array, schema column order)
const (
	keyTableSchema byte = 0x01
	keyTableRow    byte = 0x02
)

func schemaKey(table string) []byte {
	return keycode.AppendBytes([]byte{keyTableSchema}, []byte(table))
}

func schemaPrefix() []byte {
	return []byte{keyTableSchema}
}

func rowPrefix(table string) []byte {
	return keycode.AppendBytes([]byte{keyTableRow}, []byte(table))
}

func rowKey(table, pk string) []byte {
	return keycode.AppendBytes(rowPrefix(table), []byte(pk))
}
