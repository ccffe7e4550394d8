package web

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/rowgraph/internal/tabular"
)

// handleHealth reports liveness and the import slots in use.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":  "ok",
		"imports": s.service.Limiter().Status(),
	})
}

// handleStatus returns the import limiter status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.service.Limiter().Status())
}

// handleListEntities lists every entity with its template headers.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.service.Entities())
}

// handleGetTemplate renders the effective template of an entity as YAML.
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := s.service.Template(chi.URLParam(r, "entity"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	s.writeYAML(w, r, tmpl)
}

// handleSuggest proposes a template. Query: hops (default 0), has_many.
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	hops := 0
	if v := r.URL.Query().Get("hops"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondErrorJSON(w, badParam("hops"), http.StatusBadRequest)
			return
		}
		hops = n
	}
	doHasMany := parseBoolParam(r, "has_many", false)

	tmpl, err := s.service.Suggest(chi.URLParam(r, "entity"), hops, doHasMany)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	s.writeYAML(w, r, tmpl)
}

// handleDownloadTemplate returns a CSV holding only the header row.
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	s.export(w, r, false)
}

// handleExport streams the entity's records as CSV.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	s.export(w, r, true)
}

func (s *Server) export(w http.ResponseWriter, r *http.Request, withData bool) {
	name := chi.URLParam(r, "entity")
	rows, err := s.service.Export(r.Context(), name, withData)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	suffix := "template"
	if withData {
		suffix = time.Now().Format("20060102_150405")
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_%s.csv"`, name, suffix))
	if err := tabular.Write(w, rows); err != nil {
		s.respondError(w, r, err, 0)
	}
}

func (s *Server) writeYAML(w http.ResponseWriter, r *http.Request, v any) {
	out, err := yaml.Marshal(v)
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(out)
}

// parseBoolParam reads a boolean query parameter with a default value.
func parseBoolParam(r *http.Request, name string, defaultVal bool) bool {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}
