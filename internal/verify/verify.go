// Package verify runs the end-to-end flow for one spreadsheet row: acquire
// the referenced document, extract its text, decide which row fields should
// appear in it and evaluate readability. Outcomes are published as events.
package verify

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/docverify/internal/classify"
	"github.com/JakeFAU/docverify/internal/clock/system"
	"github.com/JakeFAU/docverify/internal/document"
	"github.com/JakeFAU/docverify/internal/metrics"
	"github.com/JakeFAU/docverify/internal/readability"
	"github.com/JakeFAU/docverify/internal/telemetry"
)

// Event names published for each outcome.
const (
	EventAcquired = "document.acquired"
	EventFailed   = "document.failed"
	EventVerdict  = "document.verdict"
)

// Acquirer resolves fetch requests. *acquire.Orchestrator satisfies it.
type Acquirer interface {
	Acquire(ctx context.Context, req document.FetchRequest) (document.Outcome, error)
}

// Request identifies a row and the document it references.
type Request struct {
	Sheet    string            `json:"sheet" validate:"required"`
	Row      int               `json:"row" validate:"gte=0"`
	URL      string            `json:"url" validate:"required"`
	Fields   map[string]string `json:"fields,omitempty"`
	Glossary document.Glossary `json:"glossary,omitempty"`
	Timeout  time.Duration     `json:"-"`
}

// Result is the outcome of verifying one row. Failure is set when the
// document could not be acquired or read; Verdict is set when the row has at
// least one eligible field and text was extracted.
type Result struct {
	Key      string                   `json:"key"`
	Sheet    string                   `json:"sheet"`
	Row      int                      `json:"row"`
	URL      string                   `json:"url"`
	Handle   *document.DocumentHandle `json:"handle,omitempty"`
	Failure  *document.FailureRecord  `json:"failure,omitempty"`
	Eligible []document.EligibleField `json:"eligible_fields"`
	Verdict  *document.Verdict        `json:"verdict,omitempty"`
}

// Event is the payload of every published message.
type Event struct {
	Key     string                   `json:"key"`
	Sheet   string                   `json:"sheet"`
	Row     int                      `json:"row"`
	URL     string                   `json:"url"`
	Handle  *document.DocumentHandle `json:"handle,omitempty"`
	Failure *document.FailureRecord  `json:"failure,omitempty"`
	Verdict *document.Verdict        `json:"verdict,omitempty"`
	At      time.Time                `json:"at"`
}

// Deps are the collaborators of a Service. Publisher may be nil.
type Deps struct {
	Acquirer   Acquirer
	Extractor  document.TextExtractor
	Evaluator  *readability.Evaluator
	Classifier *classify.Classifier
	Publisher  document.Publisher
	Clock      document.Clock
	Logger     *zap.Logger
}

// Service runs verifications.
type Service struct {
	acquirer   Acquirer
	extractor  document.TextExtractor
	evaluator  *readability.Evaluator
	classifier *classify.Classifier
	publisher  document.Publisher
	clock      document.Clock
	logger     *zap.Logger
	tracer     trace.Tracer
}

// New validates deps and builds a Service.
func New(deps Deps) (*Service, error) {
	if deps.Acquirer == nil {
		return nil, fmt.Errorf("acquirer is required")
	}
	if deps.Extractor == nil {
		return nil, fmt.Errorf("text extractor is required")
	}
	if deps.Evaluator == nil {
		deps.Evaluator = readability.New(readability.Config{})
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Classifier == nil {
		deps.Classifier = classify.New(deps.Clock, nil)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{
		acquirer:   deps.Acquirer,
		extractor:  deps.Extractor,
		evaluator:  deps.Evaluator,
		classifier: deps.Classifier,
		publisher:  deps.Publisher,
		clock:      deps.Clock,
		logger:     deps.Logger.Named("verify"),
		tracer:     telemetry.Tracer(),
	}, nil
}

// Acquire fetches the document for (sheet, row, url) and publishes the outcome.
func (s *Service) Acquire(ctx context.Context, sheet string, row int, rawURL string, timeout time.Duration) (document.Outcome, error) {
	req := document.FetchRequest{
		URL:     rawURL,
		Key:     document.NewCacheKey(sheet, row, rawURL),
		Timeout: timeout,
	}
	ctx, span := s.tracer.Start(ctx, "verify.acquire", trace.WithAttributes(
		attribute.String("docverify.key", req.Key.String()),
	))
	defer span.End()

	outcome, err := s.acquirer.Acquire(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return document.Outcome{}, fmt.Errorf("acquire %s: %w", req.Key, err)
	}

	ev := Event{Key: req.Key.String(), Sheet: sheet, Row: row, URL: rawURL, Handle: outcome.Handle, Failure: outcome.Failure}
	if outcome.OK() {
		span.SetAttributes(attribute.String("docverify.source", string(outcome.Handle.Source)))
		s.publish(ctx, EventAcquired, ev)
	} else {
		span.SetAttributes(attribute.String("docverify.category", string(outcome.Failure.Category)))
		s.publish(ctx, EventFailed, ev)
	}
	return outcome, nil
}

// Verify runs the whole flow for req. The returned error is non-nil only
// when ctx ended or the acquisition was superseded.
func (s *Service) Verify(ctx context.Context, req Request) (Result, error) {
	key := document.NewCacheKey(req.Sheet, req.Row, req.URL)
	res := Result{Key: key.String(), Sheet: req.Sheet, Row: req.Row, URL: req.URL}

	ctx, span := s.tracer.Start(ctx, "verify.row", trace.WithAttributes(
		attribute.String("docverify.key", res.Key),
	))
	defer span.End()

	outcome, err := s.Acquire(ctx, req.Sheet, req.Row, req.URL, req.Timeout)
	if err != nil {
		return res, err
	}
	res.Handle = outcome.Handle
	res.Failure = outcome.Failure
	if !outcome.OK() {
		return res, nil
	}

	res.Eligible = readability.Eligible(req.Fields, req.Glossary)
	if len(res.Eligible) == 0 {
		s.logger.Debug("no eligible fields, skipping readability", zap.String("key", res.Key))
		return res, nil
	}

	text, err := s.extractor.Extract(ctx, *outcome.Handle)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		signals := classify.Signals{URL: req.URL, Code: classify.CodeParse, Message: err.Error()}
		// A signed body is a PDF whatever its declared type says.
		if !document.HasPDFSignature(outcome.Handle.Bytes) {
			signals.ContentType = outcome.Handle.ContentType
		}
		rec := s.classifier.Classify(signals)
		rec.ContentType = outcome.Handle.ContentType
		rec.SizeBytes = outcome.Handle.SizeBytes
		res.Failure = &rec
		metrics.ObserveFailure(string(rec.Category))
		s.publish(ctx, EventFailed, Event{Key: res.Key, Sheet: req.Sheet, Row: req.Row, URL: req.URL, Handle: res.Handle, Failure: &rec})
		return res, nil
	}

	verdict := s.evaluator.EvaluateDocument(text, res.Eligible, string(outcome.Handle.Source), outcome.Handle.SizeBytes)
	res.Verdict = &verdict
	span.SetAttributes(attribute.String("docverify.decision", string(verdict.Decision)))
	s.publish(ctx, EventVerdict, Event{Key: res.Key, Sheet: req.Sheet, Row: req.Row, URL: req.URL, Handle: res.Handle, Verdict: &verdict})
	return res, nil
}

func (s *Service) publish(ctx context.Context, event string, ev Event) {
	if s.publisher == nil {
		return
	}
	ev.At = s.clock.Now().UTC()
	if _, err := s.publisher.Publish(ctx, event, ev); err != nil {
		s.logger.Warn("publish event failed", zap.String("event", event), zap.String("key", ev.Key), zap.Error(err))
	}
}
