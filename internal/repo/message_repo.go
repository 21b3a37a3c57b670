// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// and Document models.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/wamcp-ingest/internal/domain"
)

// InsertOrGetMessage inserts m unless a message with the same platform ID is
// already stored. An existing row is returned untouched with created=false.
func InsertOrGetMessage(ctx context.Context, db *gorm.DB, m *domain.Message) (*domain.Message, bool, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	created, err := insertOrGet(ctx, db, m, []string{"id"}, "id = ?", m.ID)
	if err != nil {
		return nil, false, err
	}
	return m, created, nil
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns a conversation's messages ordered deterministically
// (SentAt ASC, ID ASC). A non-positive limit returns all rows.
func ListMessages(ctx context.Context, db *gorm.DB, conversationID string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("sent_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// InsertOrGetDocument stages d unless the message already has a document.
func InsertOrGetDocument(ctx context.Context, db *gorm.DB, d *domain.Document) (*domain.Document, bool, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.ExtractionStatus == "" {
		d.ExtractionStatus = domain.ExtractionPending
	}
	created, err := insertOrGet(ctx, db, d, []string{"message_id"}, "message_id = ?", d.MessageID)
	if err != nil {
		return nil, false, err
	}
	return d, created, nil
}

// ListDocumentsByStatus returns documents in the given extraction state,
// oldest first.
func ListDocumentsByStatus(ctx context.Context, db *gorm.DB, status string, limit int) ([]domain.Document, error) {
	var out []domain.Document
	q := db.WithContext(ctx).Where("extraction_status = ?", status).Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListPendingDocumentsForRawEvent returns the documents still awaiting
// extraction whose messages came from the given raw event.
func ListPendingDocumentsForRawEvent(ctx context.Context, db *gorm.DB, rawEventID string) ([]domain.Document, error) {
	var out []domain.Document
	err := db.WithContext(ctx).
		Joins("JOIN messages ON messages.id = documents.message_id").
		Where("messages.raw_event_id = ? AND documents.extraction_status = ?", rawEventID, domain.ExtractionPending).
		Order("documents.created_at ASC, documents.id ASC").
		Find(&out).Error
	return out, err
}
