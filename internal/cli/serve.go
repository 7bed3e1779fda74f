package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/D4NGK4/CHEDFC/internal/approval"
	"github.com/D4NGK4/CHEDFC/internal/engine"
	"github.com/D4NGK4/CHEDFC/internal/status"
	"github.com/D4NGK4/CHEDFC/internal/store"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr     string
	Interval time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the operations HTTP API",
		Long: `Serve an HTTP API for triggering passes and listing rows.

Routes:
  GET  /healthz
  POST /v1/runs                          run a pass and return its report
  GET  /v1/queue                         list queue rows
  GET  /v1/documents                     list document rows
  GET  /v1/documents/{id}/status         canonical status (?recipient=...)

Passes triggered over HTTP share one runner, so they never overlap. With
--interval the server also runs passes on a schedule.

Example:
  stampq serve --addr :8080
  stampq serve --interval 5m`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default serve.addr from config)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "also run passes on this schedule (0 disables)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	parent := commandContext(cmd)
	a, err := openApp(parent, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer closeApp(a)

	addr := opts.Addr
	if addr == "" {
		addr = a.cfg.Serve.Addr
	}

	ctx, stop := signalContext(parent, a.logger)
	defer stop()

	runner := engine.NewRunner(a.driver())
	runnerDone := make(chan error, 1)
	go func() { runnerDone <- runner.Run(ctx) }()
	if opts.Interval > 0 {
		go runner.Every(ctx, opts.Interval)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(a, runner),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	a.logger.Info("serving", "addr", addr)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", addr)

	var result error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown", "error", err)
		}
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			result = WrapExitError(ExitCommandError, "server error", err)
		}
	}

	runner.Stop()
	stop()
	<-runnerDone
	a.logger.Info("server stopped")
	return result
}

// newRouter builds the HTTP routes over a and runner.
func newRouter(a *app, runner *engine.Runner) http.Handler {
	h := &handlers{app: a, runner: runner}

	r := chi.NewRouter()
	r.Get("/healthz", h.health)
	r.Route("/v1", func(api chi.Router) {
		api.Post("/runs", h.triggerRun)
		api.Get("/queue", h.listQueue)
		api.Get("/documents", h.listDocuments)
		api.Get("/documents/{documentID}/status", h.documentStatus)
	})
	return r
}

type handlers struct {
	app    *app
	runner *engine.Runner
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if err := h.app.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *handlers) triggerRun(w http.ResponseWriter, r *http.Request) {
	report, err := h.runner.Trigger(r.Context(), "http")
	if err != nil {
		if errors.Is(err, engine.ErrStopped) {
			writeError(w, http.StatusServiceUnavailable, "RUNNER_STOPPED", err.Error())
			return
		}
		writeError(w, http.StatusGatewayTimeout, "RUN_ABANDONED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": newRequestID(), "report": report})
}

// queueEntry is a decoded queue row, or the raw row with the reason it could
// not be decoded.
type queueEntry struct {
	approval.QueueRow
	DecodeError string `json:"decode_error,omitempty"`
}

func (h *handlers) listQueue(w http.ResponseWriter, r *http.Request) {
	recs, err := h.app.store.Queue().ReadAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	rows := make([]queueEntry, 0, len(recs))
	for _, rec := range recs {
		row, err := rec.Decode(h.app.codec)
		if err != nil {
			rows = append(rows, queueEntry{
				QueueRow: approval.QueueRow{
					Index:         rec.Index,
					TemplateID:    rec.TemplateID,
					Year:          rec.Year,
					Count:         rec.Count,
					ControlNumber: rec.ControlNumber,
					Status:        store.ParseStatusLabel(rec.Status),
					LastUpdated:   rec.LastUpdated,
					LastError:     rec.LastError,
				},
				DecodeError: err.Error(),
			})
			continue
		}
		rows = append(rows, queueEntry{QueueRow: row})
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": newRequestID(), "rows": rows})
}

func (h *handlers) listDocuments(w http.ResponseWriter, r *http.Request) {
	rows, err := h.app.store.Documents().ReadAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": newRequestID(), "rows": rows})
}

func (h *handlers) documentStatus(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")
	recipient := r.URL.Query().Get("recipient")

	events, err := h.app.svc.RequestStatus(r.Context(), documentID)
	if err != nil {
		code, msg := http.StatusBadGateway, "SERVICE_ERROR"
		if approval.IsNotFound(err) {
			code, msg = http.StatusNotFound, "NOT_FOUND"
		}
		writeError(w, code, msg, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": newRequestID(),
		"status":     newStatusView(documentID, recipient, status.Canonicalize(events, recipient)),
	})
}

func newRequestID() string { return "req_" + uuid.NewString() }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, message string) {
	writeJSON(w, code, map[string]any{
		"request_id": newRequestID(),
		"error":      CLIError{Code: errCode, Message: message},
	})
}
