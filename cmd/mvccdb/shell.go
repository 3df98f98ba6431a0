package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/myuser/mvccdb/internal/sql"
)

const historyFile = ".mvccdb_history"

func shellCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive SQL shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.db.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go e.db.RunGC(ctx)
			if e.cfg.MetricsAddr != "" {
				stop := serveMetrics(e.cfg.MetricsAddr, e.logger)
				defer stop()
			}

			return runShell(e, sql.NewSession(e.db, e.logger), cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

func runShell(e *env, sess *sql.Session, out io.Writer) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	histPath := filepath.Join(os.Getenv("HOME"), historyFile)
	if f, err := os.Open(histPath); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Fprintln(out, "mvccdb shell. End statements with ';'. Type \\help for commands.")
	var pending strings.Builder
	for {
		prompt := "mvccdb> "
		if pending.Len() > 0 {
			prompt = "   ...> "
		}
		input, err := line.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) {
			pending.Reset()
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if pending.Len() == 0 && strings.HasPrefix(input, `\`) {
			if quit := runMeta(e, sess, input, out); quit {
				return nil
			}
			continue
		}

		pending.WriteString(input)
		pending.WriteByte(' ')
		if !strings.HasSuffix(input, ";") {
			continue
		}
		for _, stmt := range splitStatements(pending.String()) {
			res, err := sess.Exec(stmt)
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, res)
		}
		pending.Reset()
	}
}

// runMeta handles backslash commands and reports whether to quit.
func runMeta(e *env, sess *sql.Session, input string, out io.Writer) bool {
	switch strings.Fields(input)[0] {
	case `\q`, `\quit`:
		return true
	case `\d`, `\tables`:
		tables, err := sess.Tables()
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return false
		}
		for _, t := range tables {
			cols := make([]string, len(t.Columns))
			for i, c := range t.Columns {
				cols[i] = c.Name + " " + c.Type
			}
			fmt.Fprintf(out, "%s (%s)\n", t.Name, strings.Join(cols, ", "))
		}
	case `\status`:
		st, err := e.db.Status()
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return false
		}
		printStatus(out, st)
	case `\gc`:
		n, err := e.db.GC()
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return false
		}
		fmt.Fprintf(out, "Deleted %d versions\n", n)
	case `\explain`:
		stmt := strings.TrimSpace(strings.TrimPrefix(input, `\explain`))
		plan, err := sql.ParseToPlan(strings.TrimSuffix(stmt, ";"))
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return false
		}
		fmt.Fprint(out, sql.Explain(plan))
	default:
		fmt.Fprintln(out, `Commands: \tables \status \gc \explain <stmt> \quit`)
	}
	return false
}
