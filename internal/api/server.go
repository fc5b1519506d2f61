// Package api serves completed run results over a read-only HTTP API.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/geohealth/access-cli/internal/boundary"
	"github.com/geohealth/access-cli/internal/hexgrid"
	"github.com/geohealth/access-cli/internal/model"
	"github.com/geohealth/access-cli/internal/store"
)

// Server exposes run history, metrics, and cell geometries.
type Server struct {
	store store.Store
}

// NewServer creates a Server over a store.
func NewServer(st store.Store) *Server {
	return &Server{store: st}
}

// Routes builds the router. Everything is read-only; runs are started from
// the CLI, not the API.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Get("/{id}", s.handleGetRun)
		r.Get("/{id}/metrics", s.handleGetMetrics)
		r.Get("/{id}/cells.geojson", s.handleGetCells)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		Status:   model.RunStatus(q.Get("status")),
		District: q.Get("district"),
		Limit:    intParam(q.Get("limit")),
		Offset:   intParam(q.Get("offset")),
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		serverError(w, "list runs", err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rows, err := s.store.GetMetrics(r.Context(), id)
	if err != nil {
		serverError(w, "get metrics", err)
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "no metrics for run")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleGetCells(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cells, err := s.store.GetCells(r.Context(), id)
	if err != nil {
		serverError(w, "get cells", err)
		return
	}
	if len(cells) == 0 {
		writeError(w, http.StatusNotFound, "no cells for run")
		return
	}

	// Stored cells carry no geometry; rebuild hexagon outlines from the
	// H3 index.
	for i := range cells {
		poly, boundErr := hexgrid.CellBoundary(cells[i].HexID)
		if boundErr != nil {
			zap.L().Warn("api: skipping cell with invalid index",
				zap.String("hex_id", cells[i].HexID),
				zap.Error(boundErr),
			)
			continue
		}
		cells[i].Boundary = poly
	}

	data, err := boundary.MarshalCellsGeoJSON(cells)
	if err != nil {
		serverError(w, "marshal cells", err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func serverError(w http.ResponseWriter, op string, err error) {
	zap.L().Error("api: "+op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func intParam(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
