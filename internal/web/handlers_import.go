package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/rowgraph/internal/core"
	"github.com/JonMunkholm/rowgraph/internal/tabular"
)

var (
	errNoFile       = errors.New("no file provided")
	errFileTooLarge = errors.New("file too large")
)

// ImportResponse is the body returned once an import finishes.
type ImportResponse struct {
	Summary core.ImportSummary `json:"summary"`
	Result  *core.Result       `json:"result"`
}

func badParam(name string) core.UserMessage {
	return core.UserMessage{
		Message: "Invalid parameter " + name,
		Action:  "Check the request parameters",
		Code:    "REQ001",
	}
}

// upload returns the CSV of the request: the "file" part of a multipart
// form, or the raw body otherwise. The caller closes it.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) (io.ReadCloser, int64, error) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if r.ContentLength == 0 {
			return nil, 0, errNoFile
		}
		return r.Body, r.ContentLength, nil
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, 0, errFileTooLarge
		}
		return nil, 0, fmt.Errorf("invalid csv upload form: %w", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, 0, errNoFile
	}
	return file, header.Size, nil
}

// handleMatch reads the header row of an upload and ranks the entities
// whose templates fit it.
func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	file, size, err := s.upload(w, r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	defer file.Close()

	header, err := tabular.NewReader(file, size).Read()
	if errors.Is(err, io.EOF) {
		err = core.ErrEmptySource
	}
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	matches := s.service.Match(header)
	if matches == nil {
		matches = []core.EntityMatch{}
	}
	writeJSON(w, r, http.StatusOK, matches)
}

// handleImport runs an import and answers with its result once done.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	s.runImport(w, r, false)
}

// handlePreview runs an import and rolls it back.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	s.runImport(w, r, true)
}

func (s *Server) runImport(w http.ResponseWriter, r *http.Request, preview bool) {
	name := chi.URLParam(r, "entity")
	file, size, err := s.upload(w, r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	defer file.Close()

	importFn := s.service.Import
	if preview {
		importFn = s.service.Preview
	}
	result, err := importFn(r.Context(), name, tabular.NewReader(file, size))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = errFileTooLarge
		}
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusOK, ImportResponse{Summary: result.Summary(name), Result: result})
}

// handleStartImport reads the upload and starts a background import. The
// rows are buffered because the upload does not outlive the request.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "entity")
	file, size, err := s.upload(w, r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	defer file.Close()

	rows, err := tabular.NewReader(file, size).ReadAll()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = errFileTooLarge
		}
		s.respondError(w, r, err, 0)
		return
	}

	runID, err := s.service.StartImport(r.Context(), name, core.NewRows(rows))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusAccepted, map[string]string{"run_id": runID})
}

// handleImportProgress streams progress via Server-Sent Events. The event
// ID is the number of processed rows, so a reconnecting client passing
// lastEventId skips what it has already seen.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	lastEventID := -1
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		lastEventID, _ = strconv.Atoi(v)
	} else if v := r.URL.Query().Get("lastEventId"); v != "" {
		lastEventID, _ = strconv.Atoi(v)
	}

	progressCh, err := s.service.SubscribeProgress(runID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				// Channel closed: import finished, failed or was cancelled
				fmt.Fprint(w, "event: complete\ndata: {}\n\n")
				_ = rc.Flush()
				return
			}

			id := progress.Processed()
			if id <= lastEventID && progress.Phase == core.PhaseProcessingRows {
				continue
			}
			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", id, data)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

// handleImportResult waits for a background import and returns its result.
func (s *Server) handleImportResult(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	progress, err := s.service.ImportProgress(runID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	result, err := s.service.ImportResult(r.Context(), runID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusOK, ImportResponse{Summary: result.Summary(progress.Entity), Result: result})
}

// handleCancelImport cancels a background import.
func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelImport(chi.URLParam(r, "runID")); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "cancelled"})
}
