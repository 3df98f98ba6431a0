package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/myuser/mvccdb/internal/sql"
)

func execCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <statement>...",
		Short: "Execute SQL statements, each in its own transaction",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.db.Close()

			sess := sql.NewSession(e.db, e.logger)
			for _, stmt := range splitStatements(strings.Join(args, " ")) {
				res, err := sess.Exec(stmt)
				if err != nil {
					return fmt.Errorf("%s: %w", stmt, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), res)
			}
			return nil
		},
	}
}

// splitStatements splits on semicolons outside single-quoted strings.
func splitStatements(s string) []string {
	var (
		out     []string
		b       strings.Builder
		inQuote bool
	)
	flush := func() {
		if stmt := strings.TrimSpace(b.String()); stmt != "" {
			out = append(out, stmt)
		}
		b.Reset()
	}
	for _, r := range s {
		switch {
		case r == '\'':
			inQuote = !inQuote
		case r == ';' && !inQuote:
			flush()
			continue
		}
		b.WriteRune(r)
	}
	flush()
	return out
}
