package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docverify/internal/acquire"
	"github.com/JakeFAU/docverify/internal/classify"
	"github.com/JakeFAU/docverify/internal/document"
	"github.com/JakeFAU/docverify/internal/verify"
)

type acquireRequest struct {
	Sheet     string `json:"sheet" validate:"required"`
	Row       int    `json:"row" validate:"gte=0"`
	URL       string `json:"url" validate:"required"`
	TimeoutMS int    `json:"timeout_ms,omitempty" validate:"gte=0"`
}

type verifyRequest struct {
	verify.Request
	TimeoutMS int `json:"timeout_ms,omitempty" validate:"gte=0"`
}

// failureResponse pairs a record with its operator-facing text.
type failureResponse struct {
	Failure  document.FailureRecord `json:"failure"`
	Label    string                 `json:"label"`
	Guidance string                 `json:"guidance"`
}

func newFailureResponse(rec document.FailureRecord) failureResponse {
	return failureResponse{
		Failure:  rec,
		Label:    classify.Label(rec.Category),
		Guidance: classify.Guidance(rec.Category),
	}
}

// acquireDocument handles POST /v1/documents/acquire. It returns 200 with the
// handle metadata, 422 with the classified failure, or 409 when a newer
// request for the same row superseded this one.
func (s *Server) acquireDocument(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		writeError(w, http.StatusServiceUnavailable, "verifier not configured")
		return
	}
	var req acquireRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	outcome, err := s.verifier.Acquire(r.Context(), req.Sheet, req.Row, req.URL, millis(req.TimeoutMS))
	if err != nil {
		s.writeAcquireError(w, err)
		return
	}
	if !outcome.OK() {
		s.saveRecord(r.Context(), *outcome.Failure)
		writeJSON(w, http.StatusUnprocessableEntity, newFailureResponse(*outcome.Failure))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"handle": outcome.Handle})
}

// documentContent handles GET /v1/documents/content?sheet=&row=&url= and
// streams the document bytes, serving from the cache when possible.
func (s *Server) documentContent(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		writeError(w, http.StatusServiceUnavailable, "verifier not configured")
		return
	}
	q := r.URL.Query()
	sheet := strings.TrimSpace(q.Get("sheet"))
	rawURL := q.Get("url")
	if sheet == "" || rawURL == "" {
		writeError(w, http.StatusBadRequest, "sheet and url are required")
		return
	}
	row, err := strconv.Atoi(q.Get("row"))
	if err != nil || row < 0 {
		writeError(w, http.StatusBadRequest, "invalid row")
		return
	}
	outcome, err := s.verifier.Acquire(r.Context(), sheet, row, rawURL, 0)
	if err != nil {
		s.writeAcquireError(w, err)
		return
	}
	if !outcome.OK() {
		s.saveRecord(r.Context(), *outcome.Failure)
		writeJSON(w, http.StatusUnprocessableEntity, newFailureResponse(*outcome.Failure))
		return
	}
	h := outcome.Handle
	w.Header().Set("Content-Type", h.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(h.Bytes)))
	w.Header().Set("X-Document-Source", string(h.Source))
	w.Header().Set("X-Document-Cached", strconv.FormatBool(h.IsCached))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(h.Bytes); err != nil {
		s.logger.Warn("write document content failed", zap.String("key", h.Key), zap.Error(err))
	}
}

// verifyRow handles POST /v1/verify. Document failures are part of the 200
// result; only interrupted requests produce an error status.
func (s *Server) verifyRow(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		writeError(w, http.StatusServiceUnavailable, "verifier not configured")
		return
	}
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Request.Timeout = millis(req.TimeoutMS)
	res, err := s.verifier.Verify(r.Context(), req.Request)
	if err != nil {
		s.writeAcquireError(w, err)
		return
	}
	if res.Failure != nil {
		s.saveRecord(r.Context(), *res.Failure)
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeAcquireError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, acquire.ErrSuperseded):
		writeError(w, http.StatusConflict, "superseded by a newer request for the same row")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "request canceled")
	default:
		s.logger.Error("acquire failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "acquire failed")
	}
}

func (s *Server) saveRecord(ctx context.Context, rec document.FailureRecord) {
	if s.records == nil || rec.ID == "" {
		return
	}
	if err := s.records.Save(ctx, rec); err != nil {
		s.logger.Warn("save failure record failed", zap.String("id", rec.ID), zap.Error(err))
	}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
