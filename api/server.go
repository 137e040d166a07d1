package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"iproperty-etl/services"
	"iproperty-etl/storage"
	"iproperty-etl/utils"
)

// Handler serves the read-only status endpoints.
type Handler struct {
	staging  storage.StagingReader
	runs     storage.RunReader
	insights *services.InsightService
	logger   *utils.Logger
}

func NewHandler(staging storage.StagingReader, runs storage.RunReader, insights *services.InsightService, logger *utils.Logger) *Handler {
	return &Handler{staging: staging, runs: runs, insights: insights, logger: logger}
}

// NewRouter registers every endpoint of h.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/report", h.HandleReport).Methods(http.MethodGet)
	r.HandleFunc("/runs/{stage}/last", h.HandleLastRun).Methods(http.MethodGet)
	r.HandleFunc("/properties/{id}", h.HandleProperty).Methods(http.MethodGet)
	return r
}

func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	rows, err := h.staging.FetchAll(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.insights.Generate(rows))
}

func (h *Handler) HandleLastRun(w http.ResponseWriter, r *http.Request) {
	stage := mux.Vars(r)["stage"]
	run, err := h.runs.Last(r.Context(), stage)
	switch {
	case errors.Is(err, storage.ErrNoRuns):
		h.writeError(w, http.StatusNotFound, err)
	case err != nil:
		h.writeError(w, http.StatusInternalServerError, err)
	default:
		h.writeJSON(w, http.StatusOK, run)
	}
}

func (h *Handler) HandleProperty(w http.ResponseWriter, r *http.Request) {
	row, err := h.staging.Get(r.Context(), mux.Vars(r)["id"])
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err)
	case err != nil:
		h.writeError(w, http.StatusInternalServerError, err)
	default:
		h.writeJSON(w, http.StatusOK, row)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("[api] Encode response: %v", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.Error("[api] %v", err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// ListenAndServe serves handler on addr until ctx is cancelled, then shuts
// down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, logger *utils.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("[api] Listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
