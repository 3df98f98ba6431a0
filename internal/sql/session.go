package sql

import (
	"errors"
	"log/slog"

	"github.com/myuser/mvccdb/internal/metrics"
	"github.com/myuser/mvccdb/internal/storage/mvcc"
)

// Session executes SQL statements, each in its own transaction.
type Session struct {
	db     *mvcc.MVCC
	logger *slog.Logger
}

func NewSession(db *mvcc.MVCC, logger *slog.Logger) *Session {
	return &Session{db: db, logger: logger}
}

// Exec parses and runs one statement. Writes commit on success; reads run in
// a transaction that is rolled back. A conflict is returned as is and the
// statement may be retried.
func (s *Session) Exec(query string) (*Result, error) {
	plan, err := ParseToPlan(query)
	if err != nil {
		metrics.SQLStatements.WithLabelValues("unknown", "error").Inc()
		return nil, err
	}
	kind := statementKind(plan)

	var res *Result
	run := func(txn *mvcc.Transaction) error {
		var err error
		res, err = Execute(plan, txn)
		return err
	}
	if IsReadOnly(plan) {
		err = s.db.View(run)
	} else {
		err = s.db.Update(run)
	}

	switch {
	case err == nil:
		metrics.SQLStatements.WithLabelValues(kind, "ok").Inc()
	case errors.Is(err, mvcc.ErrConflict):
		metrics.SQLStatements.WithLabelValues(kind, "conflict").Inc()
	default:
		metrics.SQLStatements.WithLabelValues(kind, "error").Inc()
	}
	if err != nil {
		s.logger.Debug("statement failed", "kind", kind, "error", err)
		return nil, err
	}
	return res, nil
}

// Tables lists the schemas visible to a new transaction.
func (s *Session) Tables() ([]Schema, error) {
	var tables []Schema
	err := s.db.View(func(txn *mvcc.Transaction) error {
		var err error
		tables, err = ListTables(txn)
		return err
	})
	return tables, err
}

func statementKind(plan PlanNode) string {
	switch plan.Type() {
	case NodeCreateTable:
		return "create_table"
	case NodeInsert:
		return "insert"
	default:
		return "select"
	}
}
