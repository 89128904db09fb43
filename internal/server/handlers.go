package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/goccy/go-json"

	"example.com/fitgate/internal/edit"
	"example.com/fitgate/internal/report"
	"example.com/fitgate/internal/store"
)

const defaultGapThreshold = time.Minute

type createResult struct {
	Name      string          `json:"name"`
	Activity  *store.Activity `json:"activity,omitempty"`
	Duplicate bool            `json:"duplicate,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	uploads, err := s.readUploads(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	results := make([]createResult, 0, len(uploads))
	created, rejected := 0, 0
	for _, up := range uploads {
		res := createResult{Name: up.name}
		a, err := s.store.Create(r.Context(), up.name, up.data)
		switch {
		case err == nil:
			res.Activity = &a
			created++
		case errors.Is(err, store.ErrDuplicate):
			res.Activity = &a
			res.Duplicate = true
		default:
			res.Error = err.Error()
			rejected++
			s.log.WithError(err).WithField("name", up.name).Warn("upload rejected")
		}
		results = append(results, res)
	}
	status := http.StatusCreated
	switch {
	case created > 0:
	case rejected > 0:
		status = http.StatusUnprocessableEntity
	default:
		status = http.StatusConflict
	}
	writeJSON(w, status, struct {
		Results []createResult `json:"results"`
	}{results})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []store.Activity{}
	}
	writeJSON(w, http.StatusOK, struct {
		Activities []store.Activity `json:"activities"`
	}{list})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	a, f, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Activity store.Activity  `json:"activity"`
		Laps     []report.LapRow `json:"laps"`
		Messages int             `json:"messages"`
	}{a, report.LapRows(f), len(f.Messages())})
}

// handleMessages streams the decoded messages as NDJSON, optionally only
// those selected by the "name" and "global" query parameters.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		http.Error(w, "invalid global message number", http.StatusBadRequest)
		return
	}
	_, f, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	out := newMessageStream(w, 64)
	defer out.flush()
	for _, m := range f.Messages() {
		if !filter.match(m) {
			continue
		}
		if err := out.send(m); err != nil {
			s.log.WithError(err).Debug("message stream aborted")
			return
		}
	}
}

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, _, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	raw, err := s.store.Raw(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	name := a.Name
	if !strings.HasSuffix(strings.ToLower(name), ".fit") {
		name += ".fit"
	}
	w.Header().Set("Content-Type", guessContentType(name))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, a.Updated, bytes.NewReader(raw))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveGaps(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Threshold string `json:"threshold"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	threshold := defaultGapThreshold
	if req.Threshold != "" {
		d, err := time.ParseDuration(req.Threshold)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid threshold: %v", err), http.StatusBadRequest)
			return
		}
		threshold = d
	}
	a, err := s.store.Update(r.Context(), chi.URLParam(r, "id"), edit.RemoveGaps{Threshold: threshold})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Activity store.Activity `json:"activity"`
	}{a})
}

func (s *Server) handleSplitLap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Record *int `json:"record"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if req.Record == nil {
		http.Error(w, "record required", http.StatusBadRequest)
		return
	}
	split := &edit.SplitLap{Record: *req.Record}
	a, err := s.store.Update(r.Context(), chi.URLParam(r, "id"), split)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Activity store.Activity `json:"activity"`
		Applied  bool           `json:"applied"`
	}{a, split.Applied()})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	lang := s.lang
	if negotiated, ok := report.Negotiate(r.Header.Get("Accept-Language")); ok {
		lang = negotiated
	}
	if q := r.URL.Query().Get("lang"); q != "" {
		parsed, err := report.ParseLanguage(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		lang = parsed
	}
	a, f, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := report.Render(&buf, report.NewSummary(a, f), lang); err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", guessContentType("report.pdf"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrRejected):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, edit.ErrInvalidParameter), errors.Is(err, edit.ErrNoTimestamps):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.log.WithError(err).Error("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
