package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/docverify/internal/classify"
	"github.com/JakeFAU/docverify/internal/document"
	"github.com/JakeFAU/docverify/internal/readability"
)

type evaluateRequest struct {
	Text      string                   `json:"text"`
	Fields    []document.EligibleField `json:"fields,omitempty" validate:"omitempty,dive"`
	Row       map[string]string        `json:"row,omitempty"`
	Glossary  document.Glossary        `json:"glossary,omitempty"`
	Source    string                   `json:"source,omitempty" validate:"omitempty,oneof=cache direct proxy"`
	SizeBytes int64                    `json:"size_bytes,omitempty" validate:"gte=0"`
}

type eligibleRequest struct {
	Row      map[string]string `json:"row" validate:"required"`
	Glossary document.Glossary `json:"glossary,omitempty"`
}

type overrideRequest struct {
	ID       string                  `json:"id,omitempty" validate:"required_without=Record"`
	Record   *document.FailureRecord `json:"record,omitempty"`
	Category document.Category       `json:"category" validate:"required"`
	Reason   string                  `json:"reason,omitempty"`
}

// evaluateReadability handles POST /v1/readability/evaluate. When fields are
// omitted they are derived from row and glossary.
func (s *Server) evaluateReadability(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fields := req.Fields
	if len(fields) == 0 && len(req.Row) > 0 {
		fields = readability.Eligible(req.Row, req.Glossary)
	}
	verdict := s.evaluator.EvaluateDocument(req.Text, fields, req.Source, req.SizeBytes)
	writeJSON(w, http.StatusOK, verdict)
}

// eligibleFields handles POST /v1/readability/eligible.
func (s *Server) eligibleFields(w http.ResponseWriter, r *http.Request) {
	var req eligibleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fields := readability.Eligible(req.Row, req.Glossary)
	if fields == nil {
		fields = []document.EligibleField{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"eligible_fields": fields})
}

// classifyFailure handles POST /v1/failures/classify. It always returns a record.
func (s *Server) classifyFailure(w http.ResponseWriter, r *http.Request) {
	var sig classify.Signals
	if err := decodeJSON(w, r, &sig); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if sig.URLProblem == "" && sig.URL != "" {
		sig.URLProblem = classify.ValidateURL(sig.URL)
	}
	rec := s.classifier.Classify(sig)
	s.saveRecord(r.Context(), rec)
	writeJSON(w, http.StatusOK, newFailureResponse(rec))
}

// overrideFailure handles POST /v1/failures/override. The record is looked up
// by id when one is given, otherwise taken from the body. It returns 400 for
// unknown categories, 404 for unknown ids and 409 when the record was
// already overridden.
func (s *Server) overrideFailure(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var rec document.FailureRecord
	if req.ID != "" {
		found, status, err := s.lookupRecord(r.Context(), req.ID)
		if err != nil {
			writeError(w, status, err.Error())
			return
		}
		rec = found
	} else {
		rec = *req.Record
	}

	out, err := classify.Override(rec, req.Category, req.Reason, s.clock.Now())
	switch {
	case errors.Is(err, classify.ErrUnknownCategory):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, classify.ErrAlreadyOverridden):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.saveRecord(r.Context(), out)
	writeJSON(w, http.StatusOK, newFailureResponse(out))
}

// getFailure handles GET /v1/failures/{id}.
func (s *Server) getFailure(w http.ResponseWriter, r *http.Request) {
	rec, status, err := s.lookupRecord(r.Context(), strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newFailureResponse(rec))
}

func (s *Server) lookupRecord(ctx context.Context, id string) (document.FailureRecord, int, error) {
	if s.records == nil {
		return document.FailureRecord{}, http.StatusServiceUnavailable, errors.New("failure records unavailable")
	}
	if id == "" {
		return document.FailureRecord{}, http.StatusBadRequest, errors.New("id is required")
	}
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		if errors.Is(err, document.ErrNotFound) {
			return document.FailureRecord{}, http.StatusNotFound, errors.New("failure record not found")
		}
		s.logger.Error("load failure record failed", zap.String("id", id), zap.Error(err))
		return document.FailureRecord{}, http.StatusInternalServerError, errors.New("failed to load failure record")
	}
	return rec, 0, nil
}
