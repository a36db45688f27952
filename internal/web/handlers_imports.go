package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/rowimport/internal/core"
	"github.com/JonMunkholm/rowimport/internal/logging"
	"github.com/JonMunkholm/rowimport/internal/store"
)

// errNoFile is returned when a request carries no "file" part.
var errNoFile = errors.New("no file provided")

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	// multipartMemory is how much of a form is kept in memory before
	// spilling to temporary files.
	multipartMemory = 32 << 20

	// formOverhead is allowed on top of the file size for boundaries and
	// other form fields.
	formOverhead = 1 << 20
)

// progressResponse adds the computed percentage to a progress snapshot.
type progressResponse struct {
	core.RunProgress
	Percent int `json:"percent"`
}

func newProgressResponse(p core.RunProgress) progressResponse {
	return progressResponse{RunProgress: p, Percent: p.Percent()}
}

// startResponse is returned when a run was accepted.
type startResponse struct {
	RunID     string `json:"run_id"`
	StatusURL string `json:"status_url"`
	EventsURL string `json:"events_url"`
	ResultURL string `json:"result_url"`
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]core.ProfileInfo{"profiles": s.service.Profiles()})
}

// handleStartImport accepts a multipart upload and starts an asynchronous
// run. Form fields other than "file" are passed to the profile as options.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	req, err := s.readUpload(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	runID, err := s.service.StartImport(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	logging.WithRun(r.Context(), runID, req.Profile).Info("import accepted",
		"file", req.FileName,
		"bytes", len(req.Data),
	)

	base := "/api/runs/" + runID
	writeJSON(w, http.StatusAccepted, startResponse{
		RunID:     runID,
		StatusURL: base,
		EventsURL: base + "/events",
		ResultURL: base + "/result",
	})
}

// handlePreview prepares the uploaded file without committing anything.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	req, err := s.readUpload(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	result, err := s.service.Preview(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// readUpload turns a multipart request into an import request. The body is
// capped at the configured maximum file size plus form overhead.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (core.ImportRequest, error) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+formOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return core.ImportRequest{}, fmt.Errorf("%w: limit %d bytes", core.ErrFileTooLarge, maxSize)
		}
		return core.ImportRequest{}, fmt.Errorf("%w: %v", errNoFile, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return core.ImportRequest{}, errNoFile
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return core.ImportRequest{}, fmt.Errorf("read upload: %w", err)
	}

	options := make(map[string]string)
	for key, values := range r.MultipartForm.Value {
		if len(values) > 0 {
			options[key] = values[0]
		}
	}

	return core.ImportRequest{
		Profile:  chi.URLParam(r, "profile"),
		FileName: header.Filename,
		Data:     data,
		Options:  options,
	}, nil
}

func (s *Server) handleRunProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.service.GetRunProgress(chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProgressResponse(progress))
}

// handleRunResult returns the final result of a run. While the run is still
// going it answers 202 with the current progress, unless ?wait=true asks it
// to block until the run finishes or the request times out.
func (s *Server) handleRunResult(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	progress, err := s.service.GetRunProgress(runID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if !progress.Phase.Done() && r.URL.Query().Get("wait") != "true" {
		writeJSON(w, http.StatusAccepted, newProgressResponse(progress))
		return
	}

	result, err := s.service.GetRunResult(r.Context(), runID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelRun(chi.URLParam(r, "runID")); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// handleRunHistory lists finished runs, newest first.
func (s *Server) handleRunHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, maxHistoryLimit)
		}
	}

	runs, err := s.service.History(r.Context(), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string][]store.RunRecord{"runs": runs})
}

// handleRunEvents streams progress as Server-Sent Events. The event id is
// the progress percentage; a reconnecting client passes the last id it saw
// (Last-Event-ID header or lastEventId query) and events up to that
// percentage are skipped.
// A final "complete" event carries the run result.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	resumeFrom := -1
	for _, v := range []string{r.Header.Get("Last-Event-ID"), r.URL.Query().Get("lastEventId")} {
		if n, err := strconv.Atoi(v); err == nil {
			resumeFrom = n
			break
		}
	}

	progressCh, err := s.service.SubscribeProgress(runID)
	if err != nil {
		respondError(w, r, err)
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
				data := []byte("{}")
				if result, err := s.service.GetRunResult(r.Context(), runID); err == nil {
					data, _ = json.Marshal(result)
				}
				fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				rc.Flush()
				return
			}

			percent := progress.Percent()
			if percent <= resumeFrom && !progress.Phase.Done() {
				continue
			}

			data, _ := json.Marshal(newProgressResponse(progress))
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", percent, data)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}
