// Package api exposes simulation runs over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/farmsim/internal/batch"
	"github.com/psantana5/farmsim/internal/config"
	"github.com/psantana5/farmsim/internal/report"
	"github.com/psantana5/farmsim/pkg/logging"
	"github.com/psantana5/farmsim/pkg/simulation"
	"github.com/psantana5/farmsim/pkg/store"
)

// maxBodyBytes caps submitted config overrides
const maxBodyBytes = 1 << 20

// RunsHandler accepts batch submissions and serves their results
type RunsHandler struct {
	store     *store.MemoryStore
	base      *config.Config
	logger    *logging.Logger
	tracer    trace.Tracer
	observers []simulation.Observer

	// ctx bounds background runs; cancel stops them between repetitions
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Int64
}

// NewRunsHandler creates a handler whose submissions start from base and
// override it with the posted fields
func NewRunsHandler(s *store.MemoryStore, base *config.Config, logger *logging.Logger) *RunsHandler {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RunsHandler{
		store:  s,
		base:   base,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetTracer sets the tracer runs report spans to
func (h *RunsHandler) SetTracer(t trace.Tracer) {
	h.tracer = t
}

// AddObserver attaches an observer to every future run
func (h *RunsHandler) AddObserver(o simulation.Observer) {
	h.observers = append(h.observers, o)
}

// Active returns the number of runs queued or in progress
func (h *RunsHandler) Active() int {
	return int(h.active.Load())
}

// Close cancels background runs and waits for them to stop
func (h *RunsHandler) Close(ctx context.Context) error {
	h.cancel()
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterRoutes registers all API routes
func (h *RunsHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/runs", h.CreateRun).Methods("POST")
	r.HandleFunc("/runs", h.ListRuns).Methods("GET")
	r.HandleFunc("/runs/{id}/chart.png", h.GetRunChart).Methods("GET")
	r.HandleFunc("/runs/{id}", h.GetRun).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
}

// decodeConfig overlays the request body onto a copy of the base config
func (h *RunsHandler) decodeConfig(r *http.Request) (*config.Config, error) {
	cfg := *h.base
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &cfg, nil
}

// CreateRun validates the submitted config and schedules the batch.
// With ?wait=true the batch runs before the response is written.
func (h *RunsHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.decodeConfig(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run := h.store.Create(cfg)
	h.logger.Info("Run submitted", logging.Fields{"run_id": run.ID})

	h.active.Add(1)
	if r.URL.Query().Get("wait") == "true" {
		h.execute(r.Context(), run.ID, cfg)
		run, err = h.store.Get(run.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, run)
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.execute(h.ctx, run.ID, cfg)
	}()
	writeJSON(w, http.StatusAccepted, run)
}

func (h *RunsHandler) execute(ctx context.Context, id string, cfg *config.Config) {
	defer h.active.Add(-1)
	logger := h.logger.WithField("run_id", id)
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("run panicked: %v", p)
			logger.Error("Run failed", logging.Fields{"error": err.Error()})
			if err := h.store.Fail(id, err); err != nil {
				logger.Error("Failed to record run failure", logging.Fields{"error": err.Error()})
			}
		}
	}()

	if err := h.store.MarkRunning(id); err != nil {
		logger.Error("Failed to start run", logging.Fields{"error": err.Error()})
		return
	}

	rep, err := batch.Execute(ctx, cfg, batch.Options{
		ID:        id,
		Logger:    h.logger,
		Tracer:    h.tracer,
		Observers: h.observers,
	})
	if err != nil {
		logger.Error("Run failed", logging.Fields{"error": err.Error()})
		if err := h.store.Fail(id, err); err != nil {
			logger.Error("Failed to record run failure", logging.Fields{"error": err.Error()})
		}
		return
	}
	if err := h.store.Complete(id, rep); err != nil {
		logger.Error("Failed to record run result", logging.Fields{"error": err.Error()})
	}
}

// RunListing is a run without its per-cycle series
type RunListing struct {
	ID          string              `json:"id"`
	Status      store.RunStatus     `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	Error       string              `json:"error,omitempty"`
	Summary     *simulation.Summary `json:"summary,omitempty"`
}

// ListRuns returns every retained run, oldest first
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.store.List()
	listing := make([]RunListing, 0, len(runs))
	for _, run := range runs {
		item := RunListing{
			ID:          run.ID,
			Status:      run.Status,
			CreatedAt:   run.CreatedAt,
			CompletedAt: run.CompletedAt,
			Error:       run.Error,
		}
		if run.Report != nil {
			item.Summary = &run.Report.Summary
		}
		listing = append(listing, item)
	}
	writeJSON(w, http.StatusOK, listing)
}

// GetRun returns one run including its report once completed
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GetRunChart renders the utilization and completion chart of a completed run
func (h *RunsHandler) GetRunChart(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if run.Status != store.RunCompleted || run.Report == nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("Run is %s", run.Status))
		return
	}

	var buf bytes.Buffer
	if err := report.WriteChartPNG(&buf, run.Report.Results); err != nil {
		h.logger.Error("Failed to render chart", logging.Fields{"run_id": run.ID, "error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Failed to render chart")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// Health reports liveness and the number of active runs
func (h *RunsHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"active_runs": h.Active(),
	})
}

func (h *RunsHandler) lookup(w http.ResponseWriter, r *http.Request) (*store.Run, bool) {
	id := mux.Vars(r)["id"]
	run, err := h.store.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "Run not found")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return run, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
