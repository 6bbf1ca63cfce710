// Package httpapi exposes the pivot engine over a thin JSON/Arrow HTTP
// surface. It maps engine error kinds to transport status codes; the
// engine itself never sees HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"pivotgate/internal/dialect"
	"pivotgate/internal/engine"
	"pivotgate/internal/logging"
	"pivotgate/internal/pivot"
	"pivotgate/internal/pool"
	"pivotgate/internal/report"
	"pivotgate/internal/table"
)

// maxBodyBytes caps request payload size.
const maxBodyBytes = 1 << 20

// Engine is the executor surface the API depends on.
type Engine interface {
	ExecutePivot(ctx context.Context, reportID string, req pivot.Request) (*engine.Result, error)
	DrillDown(ctx context.Context, reportID string, req pivot.DrillRequest) (*engine.GridResult, error)
	GrandTotal(ctx context.Context, reportID string, metrics []pivot.Metric, filters map[string]pivot.Filter) (map[string]any, error)
	TestConnection(ctx context.Context, desc dialect.Descriptor) (int64, error)
	SchemaPreview(ctx context.Context, reportID string) (*table.Table, error)
	PoolStatuses() []pool.Status
	WarmPools(ctx context.Context) int
}

// API wires HTTP routes to the engine.
type API struct {
	logger  *logging.Logger
	engine  Engine
	reports report.Store
}

// New creates the API surface.
func New(logger *logging.Logger, eng Engine, reports report.Store) *API {
	return &API{logger: logger, engine: eng, reports: reports}
}

// Register attaches all routes to the mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/reports", a.handleListReports)
	mux.HandleFunc("GET /v1/reports/{id}/schema", a.handleSchema)
	mux.HandleFunc("POST /v1/reports/{id}/pivot", a.handlePivot)
	mux.HandleFunc("POST /v1/reports/{id}/pivot/lazy", a.handleDrillDown)
	mux.HandleFunc("POST /v1/reports/{id}/pivot/grand-total", a.handleGrandTotal)
	mux.HandleFunc("POST /v1/connections/test", a.handleTestConnection)
	mux.HandleFunc("GET /v1/pools", a.handlePools)
	mux.HandleFunc("POST /v1/pools/warm", a.handleWarmPools)
}

func (a *API) handlePivot(w http.ResponseWriter, r *http.Request) {
	reportID := r.PathValue("id")

	var req pivot.Request
	if !decodeBody(w, r, &req) {
		return
	}
	req.ForceRefresh = boolParam(r, "refresh")

	res, err := a.engine.ExecutePivot(r.Context(), reportID, req)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", table.MediaType)
	w.Header().Set("X-Query-Time-Ms", strconv.FormatInt(res.ElapsedMs, 10))
	w.Header().Set("X-Cache-Hit", strconv.FormatBool(res.Cached))
	if res.RowCount == engine.CachedRowCount {
		w.Header().Set("X-Row-Count", "cached")
	} else {
		w.Header().Set("X-Row-Count", strconv.Itoa(res.RowCount))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Payload)
}

func (a *API) handleDrillDown(w http.ResponseWriter, r *http.Request) {
	reportID := r.PathValue("id")

	var req pivot.DrillRequest
	if !decodeBody(w, r, &req) {
		return
	}

	grid, err := a.engine.DrillDown(r.Context(), reportID, req)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	w.Header().Set("X-Query-Time-Ms", strconv.FormatInt(grid.ElapsedMs, 10))
	writeJSON(w, http.StatusOK, struct {
		Data        []map[string]any `json:"data"`
		Total       int              `json:"total"`
		DroppedSort []string         `json:"dropped_sort,omitempty"`
	}{Data: grid.Records, Total: grid.Total, DroppedSort: grid.DroppedSort})
}

func (a *API) handleGrandTotal(w http.ResponseWriter, r *http.Request) {
	reportID := r.PathValue("id")

	var req struct {
		Metrics []pivot.Metric          `json:"metrics"`
		Filters map[string]pivot.Filter `json:"filters"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	totals, err := a.engine.GrandTotal(r.Context(), reportID, req.Metrics, req.Filters)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": totals})
}

func (a *API) handleSchema(w http.ResponseWriter, r *http.Request) {
	reportID := r.PathValue("id")

	t, err := a.engine.SchemaPreview(r.Context(), reportID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Columns []table.Column   `json:"columns"`
		Sample  []map[string]any `json:"sample"`
	}{Columns: t.Columns, Sample: t.Records()})
}

// reportSummary is the credential-free listing shape.
type reportSummary struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Dialect        string   `json:"dialect"`
	DefaultGroupBy []string `json:"default_group_by,omitempty"`
	CacheEnabled   bool     `json:"cache_enabled"`
}

func (a *API) handleListReports(w http.ResponseWriter, r *http.Request) {
	reports := a.reports.List()
	out := make([]reportSummary, 0, len(reports))
	for _, rep := range reports {
		out = append(out, reportSummary{
			ID:             rep.ID,
			Name:           rep.Name,
			Dialect:        string(rep.Connection.Type),
			DefaultGroupBy: rep.DefaultGroupBy,
			CacheEnabled:   rep.CacheEnabled,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": out})
}

// poolStatus is the JSON shape for one pool entry.
type poolStatus struct {
	Key       string `json:"key"`
	Size      int    `json:"size"`
	InUse     int    `json:"in_use"`
	Available int    `json:"available"`
	Overflow  int    `json:"overflow"`
}

func (a *API) handlePools(w http.ResponseWriter, r *http.Request) {
	statuses := a.engine.PoolStatuses()
	out := make([]poolStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, poolStatus{
			Key:       s.Key,
			Size:      s.Size,
			InUse:     s.InUse,
			Available: s.Available,
			Overflow:  s.Overflow,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": out})
}

func (a *API) handleWarmPools(w http.ResponseWriter, r *http.Request) {
	warmed := a.engine.WarmPools(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"warmed": warmed})
}

// decodeBody parses a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: fmt.Sprintf("invalid request body: %s", err.Error()),
			Kind:  "bounds",
		})
		return false
	}
	return true
}

func boolParam(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Warn("failed to encode response", slog.String("error", err.Error()))
	}
}
