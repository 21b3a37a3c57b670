// Package queue hands post-commit work to downstream workers. Ingestion only
// submits typed jobs; downloading media, extracting documents and sending
// echo replies happen elsewhere.
//
// Three backends implement Submitter: a Redis stream, a NATS JetStream
// subject, and a log-only backend for development.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Job types.
const (
	JobExtractDocument = "extract_document"
	JobDebugEcho       = "debug_echo"
)

// Job is one unit of downstream work. ID is stable for a logical job so
// backends that support it can drop re-submissions.
type Job struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// ExtractDocumentPayload asks the extraction worker to fetch and process the
// media behind a staged Document.
type ExtractDocumentPayload struct {
	DocumentID string `json:"document_id"`
	MessageID  string `json:"message_id"`
	MediaID    string `json:"media_id,omitempty"`
	MimeType   string `json:"mime_type"`
}

// DebugEchoPayload asks the sender worker to acknowledge a message.
type DebugEchoPayload struct {
	BusinessPhoneNumberID string `json:"business_phone_number_id"`
	MessageID             string `json:"message_id"`
	To                    string `json:"to"`
	Body                  string `json:"body"`
}

// NewJob encodes payload into a Job of the given type.
func NewJob(typ, id string, payload any) (Job, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return Job{ID: id, Type: typ, Payload: b, EnqueuedAt: time.Now().UTC()}, nil
}

// ExtractDocumentJob builds the job for a staged document.
func ExtractDocumentJob(p ExtractDocumentPayload) (Job, error) {
	return NewJob(JobExtractDocument, JobExtractDocument+":"+p.DocumentID, p)
}

// DebugEchoJob builds the echo job for a message.
func DebugEchoJob(p DebugEchoPayload) (Job, error) {
	return NewJob(JobDebugEcho, JobDebugEcho+":"+p.MessageID, p)
}

// Submitter accepts jobs for asynchronous processing. Submit returns once the
// backend has accepted the job; it never waits for the job to run.
type Submitter interface {
	Submit(ctx context.Context, job Job) error
	Close() error
}

// Cooldown grants at most one acquisition per key within its window.
type Cooldown interface {
	Acquire(ctx context.Context, key string) (bool, error)
}
