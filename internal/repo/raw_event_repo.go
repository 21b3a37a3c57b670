// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for RawEvent, the
// audit record of every accepted webhook delivery.
//
// Error semantics:
//   - When a raw event is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/wamcp-ingest/internal/domain"
)

// GetRawEventByFingerprint returns the delivery with the given body
// fingerprint, or ErrNotFound.
func GetRawEventByFingerprint(ctx context.Context, db *gorm.DB, fingerprint string) (*domain.RawEvent, error) {
	var ev domain.RawEvent
	if err := db.WithContext(ctx).Where("fingerprint = ?", fingerprint).First(&ev).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

// GetRawEvent fetches a delivery by ID, or ErrNotFound.
func GetRawEvent(ctx context.Context, db *gorm.DB, id string) (*domain.RawEvent, error) {
	var ev domain.RawEvent
	if err := db.WithContext(ctx).Where("id = ?", id).First(&ev).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

// InsertRawEvent stores ev unless a delivery with the same fingerprint already
// exists, in which case the stored row is returned with created=false. ID and
// ReceivedAt are filled in when empty.
func InsertRawEvent(ctx context.Context, db *gorm.DB, ev *domain.RawEvent) (*domain.RawEvent, bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	if ev.Source == "" {
		ev.Source = domain.SourceWhatsApp
	}
	if ev.ParseStatus == "" {
		ev.ParseStatus = domain.ParseStatusPending
	}
	created, err := insertOrGet(ctx, db, ev, []string{"fingerprint"}, "fingerprint = ?", ev.Fingerprint)
	if err != nil {
		return nil, false, err
	}
	return ev, created, nil
}

// ListRawEventsByStatus returns deliveries with the given parse status, oldest
// first. A non-positive limit returns all rows.
func ListRawEventsByStatus(ctx context.Context, db *gorm.DB, status string, limit int) ([]domain.RawEvent, error) {
	var out []domain.RawEvent
	q := db.WithContext(ctx).Where("parse_status = ?", status).Order("received_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
