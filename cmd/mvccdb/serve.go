package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/myuser/mvccdb/internal/metrics"
	"github.com/myuser/mvccdb/internal/sql"
	"github.com/myuser/mvccdb/internal/storage/mvcc"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve SQL over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.db.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go e.db.RunGC(ctx)

			srv := &http.Server{Addr: addr, Handler: newHandler(e.db, sql.NewSession(e.db, e.logger), e.logger)}
			errc := make(chan error, 1)
			go func() {
				e.logger.Info("listening", "addr", addr)
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	return cmd
}

type execResponse struct {
	Columns  []string  `json:"columns,omitempty"`
	Rows     []sql.Row `json:"rows,omitempty"`
	Affected int       `json:"affected,omitempty"`
	Error    string    `json:"error,omitempty"`
	Conflict bool      `json:"conflict,omitempty"`
}

func newHandler(db *mvcc.MVCC, sess *sql.Session, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/execute", func(w http.ResponseWriter, r *http.Request) {
		sqlStr := r.URL.Query().Get("sql")
		if sqlStr == "" {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			sqlStr = strings.TrimSpace(string(body))
		}
		if sqlStr == "" {
			http.Error(w, "missing sql", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		res, err := sess.Exec(sqlStr)
		if err != nil {
			status := http.StatusBadRequest
			resp := execResponse{Error: err.Error()}
			if errors.Is(err, mvcc.ErrConflict) {
				status = http.StatusConflict
				resp.Conflict = true
			}
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(resp)
			return
		}
		json.NewEncoder(w).Encode(execResponse{Columns: res.Columns, Rows: res.Rows, Affected: res.Affected})
	})

	mux.HandleFunc("/debug/status", func(w http.ResponseWriter, r *http.Request) {
		st, err := db.Status()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(st)
	})

	mux.HandleFunc("/debug/gc", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		n, err := db.GC()
		if err != nil {
			logger.Error("gc failed", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"deleted": n})
	})

	return mux
}

// serveMetrics serves /metrics on addr in the background and returns a
// function that shuts the server down.
func serveMetrics(addr string, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
