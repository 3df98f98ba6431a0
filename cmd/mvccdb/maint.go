package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/myuser/mvccdb/internal/storage"
	"github.com/myuser/mvccdb/internal/storage/mvcc"
)

func gcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Delete versions no transaction can read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.db.Close()

			n, err := e.db.GC()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d versions\n", n)
			return nil
		},
	}
}

func recoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Roll back transactions left active by a crash",
		Long:  "Recovery also runs on every open; this command reports what the open found and verifies a second pass is a no-op.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.db.Close()

			n, err := e.db.Recover()
			if err != nil {
				return err
			}
			st, err := e.db.Status()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %d transactions\n", n)
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show version and key counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.db.Close()

			st, err := e.db.Status()
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			if ls, ok := e.db.Engine().(*storage.LogStore); ok {
				printLogStatus(cmd.OutOrStdout(), ls.Status())
			}
			return nil
		},
	}
}

func dumpCmd() *cobra.Command {
	var versionsOnly bool
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print every stored record, decoded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.db.Close()

			out := cmd.OutOrStdout()
			return e.db.Dump(func(r mvcc.Record) bool {
				if versionsOnly && r.Kind != mvcc.RecordVersion {
					return true
				}
				fmt.Fprintln(out, r)
				return true
			})
		},
	}
	cmd.Flags().BoolVar(&versionsOnly, "versions", false, "Only print version records")
	return cmd
}

func compactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Rewrite the log engine's file with live records only",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.db.Close()

			ls, ok := e.db.Engine().(*storage.LogStore)
			if !ok {
				return fmt.Errorf("compact needs the log engine, have %s", e.cfg.Engine)
			}
			before := ls.Status()
			if err := ls.Compact(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Compacted %d -> %d bytes\n", before.Size, ls.Status().Size)
			return nil
		},
	}
}

func printStatus(w io.Writer, st mvcc.Status) {
	fmt.Fprintf(w, "next version:  %d\n", st.NextVersion)
	fmt.Fprintf(w, "active txns:   %d\n", st.ActiveTxns)
	fmt.Fprintf(w, "keys:          %d\n", st.Keys)
	fmt.Fprintf(w, "versions:      %d\n", st.Versions)
	fmt.Fprintf(w, "tombstones:    %d\n", st.Tombstones)
}

func printLogStatus(w io.Writer, st storage.LogStatus) {
	fmt.Fprintf(w, "log size:      %d\n", st.Size)
	fmt.Fprintf(w, "live size:     %d\n", st.LiveSize)
	fmt.Fprintf(w, "garbage ratio: %.2f\n", st.GarbageRatio())
}
