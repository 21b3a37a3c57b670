// Package services – IngestService
//
// IngestService turns one webhook delivery into stored entities. A delivery
// is fingerprinted, checked for duplication, authenticated, normalized and
// written in a single transaction together with its RawEvent audit row.
// Jobs for downstream workers are submitted only after that transaction
// commits.
//
// Observability: public methods are OpenTelemetry-instrumented and every
// terminal outcome is counted in observability.IngestOutcomes.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/wamcp-ingest/internal/config"
	"github.com/tbourn/wamcp-ingest/internal/domain"
	"github.com/tbourn/wamcp-ingest/internal/observability"
	"github.com/tbourn/wamcp-ingest/internal/repo"
	"github.com/tbourn/wamcp-ingest/internal/whatsapp"
)

// Outcome is the terminal state of one delivery.
type Outcome string

const (
	OutcomeProcessed   Outcome = "processed"
	OutcomeIgnored     Outcome = "ignored"
	OutcomeRejected    Outcome = "rejected"
	OutcomeParseFailed Outcome = "parse_failed"
	OutcomeError       Outcome = "error"
)

// ReasonDuplicateEvent explains an ignored delivery.
const ReasonDuplicateEvent = "duplicate_event"

// maxErrorRunes caps error detail surfaced to the caller.
const maxErrorRunes = 100

// dispatchTimeout bounds post-commit job submission. It is detached from the
// request so a dropped client cannot cancel jobs for a committed delivery.
const dispatchTimeout = 10 * time.Second

// IngestRequest is one webhook delivery as received.
type IngestRequest struct {
	Body      []byte
	Signature string
	Headers   http.Header
	RequestID string
}

// IngestResult summarizes what happened to a delivery.
type IngestResult struct {
	Outcome    Outcome
	Reason     string
	Count      int
	Statuses   int
	RawEventID string
	Error      string
}

// OK reports whether the delivery was stored and processed, or was a
// harmless duplicate.
func (r *IngestResult) OK() bool {
	return r.Outcome == OutcomeProcessed || r.Outcome == OutcomeIgnored
}

// Unstored reports a delivery whose RawEvent was never written, so nothing
// of it survives. Only the platform's redelivery can recover it.
func (r *IngestResult) Unstored() bool {
	return r.Outcome == OutcomeError && r.RawEventID == ""
}

// IngestService coordinates webhook ingestion.
type IngestService struct {
	DB         *gorm.DB
	WhatsApp   config.WhatsAppConfig
	Dispatcher *Dispatcher

	// Now is the receipt clock; defaults to time.Now.
	Now func() time.Time
}

// NewIngestService wires a service from configuration.
func NewIngestService(db *gorm.DB, wa config.WhatsAppConfig, d *Dispatcher) *IngestService {
	return &IngestService{DB: db, WhatsApp: wa, Dispatcher: d}
}

// errDuplicateRace rolls back a transaction whose RawEvent lost the
// fingerprint race to a concurrent delivery of the same body.
var errDuplicateRace = errors.New("raw event inserted concurrently")

// Ingest processes one delivery. It returns ErrInvalidSignature or
// ErrPluginMode for rejected requests; every other outcome, including
// storage failures, is reported in the result. A result that is Unstored
// must not be acknowledged.
func (s *IngestService) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	tr := otel.Tracer("services/IngestService")
	ctx, span := tr.Start(ctx, "Ingest",
		trace.WithAttributes(
			attribute.String("request.id", req.RequestID),
			attribute.Int("body.bytes", len(req.Body)),
		),
	)
	defer span.End()

	if s.WhatsApp.PluginMode {
		return nil, ErrPluginMode
	}

	start := time.Now()
	defer func() { observability.IngestDuration.Observe(time.Since(start).Seconds()) }()

	fp := whatsapp.Fingerprint(req.Body)
	short := whatsapp.ShortFingerprint(fp)
	span.SetAttributes(attribute.String("payload.fingerprint", short))

	l := logger(ctx).With().Str("request_id", req.RequestID).Str("fingerprint", short).Logger()
	summary := whatsapp.Inspect(req.Body)
	l.Info().
		Str("event", "whatsapp_webhook_received").
		Int("bytes", len(req.Body)).
		Str("shape", summary.Shape).
		Int("messages", summary.Messages).
		Int("statuses", summary.Statuses).
		Str("phone_number_id", summary.PhoneNumberID).
		Msg("webhook received")
	ctx = l.WithContext(ctx)

	var (
		result *IngestResult
		up     *upsertResult
	)
	// The delivery is applied whole or not at all, even if the client goes away.
	txCtx := context.WithoutCancel(ctx)
	err := s.DB.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		if existing, err := repo.GetRawEventByFingerprint(txCtx, tx, fp); err == nil {
			result = &IngestResult{Outcome: OutcomeIgnored, Reason: ReasonDuplicateEvent, RawEventID: existing.ID}
			return nil
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}

		sigValid := s.WhatsApp.AppSecret != "" &&
			whatsapp.VerifySignature(req.Body, req.Signature, s.WhatsApp.AppSecret)
		if s.WhatsApp.VerifySignature && !sigValid {
			return ErrInvalidSignature
		}

		raw := &domain.RawEvent{
			ID:             uuid.NewString(),
			ReceivedAt:     s.now(),
			Source:         domain.SourceWhatsApp,
			SignatureValid: sigValid,
			Fingerprint:    fp,
			RequestID:      req.RequestID,
			HeadersJSON:    headersJSON(req.Headers),
			Payload:        req.Body,
			ParseStatus:    domain.ParseStatusOK,
		}

		events, nerr := whatsapp.Normalize(req.Body)
		switch {
		case nerr != nil:
			raw.ParseStatus = parseStatusFor(nerr)
			raw.ParseError = nerr.Error()
			result = &IngestResult{Outcome: OutcomeParseFailed, Error: truncate(nerr.Error(), maxErrorRunes)}
		default:
			countEvents(ctx, events)
			// Entity writes run in a savepoint so a failure still keeps the RawEvent.
			uerr := tx.Transaction(func(inner *gorm.DB) error {
				var err error
				up, err = upsertEvents(txCtx, inner, raw.ID, events)
				return err
			})
			if uerr != nil {
				up = nil
				raw.ParseStatus = domain.ParseStatusStoreFailed
				raw.ParseError = uerr.Error()
				result = &IngestResult{Outcome: OutcomeError, Error: truncate(uerr.Error(), maxErrorRunes)}
			} else {
				result = &IngestResult{Outcome: OutcomeProcessed, Count: up.Inserted, Statuses: up.Statuses}
			}
		}

		stored, created, err := repo.InsertRawEvent(txCtx, tx, raw)
		if err != nil {
			return err
		}
		if !created {
			result = &IngestResult{Outcome: OutcomeIgnored, Reason: ReasonDuplicateEvent, RawEventID: stored.ID}
			return errDuplicateRace
		}
		result.RawEventID = stored.ID
		return nil
	})

	switch {
	case errors.Is(err, errDuplicateRace):
		up = nil
	case errors.Is(err, ErrInvalidSignature):
		observability.IngestOutcomes.WithLabelValues(string(OutcomeRejected)).Inc()
		span.SetStatus(codes.Error, "invalid signature")
		l.Warn().Str("event", "whatsapp_webhook_rejected").Msg("invalid signature")
		return nil, ErrInvalidSignature
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingest failed")
		l.Error().Err(err).Msg("webhook ingestion failed")
		result = &IngestResult{Outcome: OutcomeError, Error: truncate(err.Error(), maxErrorRunes)}
		up = nil
	}

	observability.IngestOutcomes.WithLabelValues(string(result.Outcome)).Inc()
	l.Info().
		Str("event", "whatsapp_webhook_parsed").
		Str("status", string(result.Outcome)).
		Str("raw_event_id", result.RawEventID).
		Int("count", result.Count).
		Str("error", result.Error).
		Msg("webhook handled")
	span.SetAttributes(
		attribute.String("ingest.outcome", string(result.Outcome)),
		attribute.Int("ingest.count", result.Count),
	)

	s.dispatch(ctx, up)
	return result, nil
}

// Replay re-runs normalization and entity writes for a stored delivery.
// Message uniqueness makes it idempotent; only messages it newly inserts
// trigger echo jobs. Extraction is resubmitted for every document of the
// delivery still pending, so a job lost after commit can be recovered. The
// RawEvent itself is not modified.
func (s *IngestService) Replay(ctx context.Context, rawEventID string) (*IngestResult, error) {
	tr := otel.Tracer("services/IngestService")
	ctx, span := tr.Start(ctx, "Replay",
		trace.WithAttributes(attribute.String("raw_event.id", rawEventID)),
	)
	defer span.End()

	ev, err := repo.GetRawEvent(ctx, s.DB, rawEventID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrRawEventNotFound
	}
	if err != nil {
		return nil, err
	}

	l := logger(ctx).With().Str("raw_event_id", ev.ID).Str("fingerprint", whatsapp.ShortFingerprint(ev.Fingerprint)).Logger()
	ctx = l.WithContext(ctx)

	events, nerr := whatsapp.Normalize(ev.Payload)
	if nerr != nil {
		l.Warn().Err(nerr).Msg("replay: payload does not parse")
		return &IngestResult{Outcome: OutcomeParseFailed, RawEventID: ev.ID, Error: truncate(nerr.Error(), maxErrorRunes)}, nil
	}
	countEvents(ctx, events)

	var up *upsertResult
	txCtx := context.WithoutCancel(ctx)
	if err := s.DB.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		var err error
		up, err = upsertEvents(txCtx, tx, ev.ID, events)
		return err
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "replay failed")
		return nil, fmt.Errorf("replay %s: %w", ev.ID, err)
	}

	pending, err := repo.ListPendingDocumentsForRawEvent(txCtx, s.DB, ev.ID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("replay %s: pending documents: %w", ev.ID, err)
	}
	up.Jobs = up.Jobs[:0]
	for i := range pending {
		job, err := extractJob(&pending[i])
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", ev.ID, err)
		}
		up.Jobs = append(up.Jobs, *job)
	}

	l.Info().Int("count", up.Inserted).Int("pending_documents", len(pending)).Msg("raw event replayed")
	s.dispatch(ctx, up)
	return &IngestResult{Outcome: OutcomeProcessed, Count: up.Inserted, Statuses: up.Statuses, RawEventID: ev.ID}, nil
}

// dispatch submits the jobs collected by a committed transaction.
func (s *IngestService) dispatch(ctx context.Context, up *upsertResult) {
	if up == nil {
		return
	}
	observability.MessagesInserted.Add(float64(up.Inserted))
	if s.Dispatcher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
	defer cancel()
	for _, job := range up.Jobs {
		s.Dispatcher.Submit(ctx, job)
	}
	for _, ev := range up.Fresh {
		s.Dispatcher.Offer(ctx, ev)
	}
}

func (s *IngestService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// countEvents records normalized events in metrics and the log.
func countEvents(ctx context.Context, events []whatsapp.Event) {
	l := logger(ctx)
	for _, ev := range events {
		kind := "message"
		if ev.IsStatus() {
			kind = "status"
		}
		observability.NormalizedEvents.WithLabelValues(kind).Inc()
		l.Debug().
			Str("event", "whatsapp_message_normalized").
			Str("kind", kind).
			Str("message_id", ev.MessageID).
			Str("conversation_id", ev.ConversationID).
			Str("message_type", ev.MessageType).
			Str("status", ev.Status).
			Bool("timestamp_defaulted", ev.TimestampDefaulted).
			Msg("event normalized")
	}
}

func parseStatusFor(err error) string {
	if errors.Is(err, whatsapp.ErrMalformedJSON) {
		return domain.ParseStatusDecodeFailed
	}
	return domain.ParseStatusParseFailed
}

func headersJSON(h http.Header) string {
	if len(h) == 0 {
		return "{}"
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
