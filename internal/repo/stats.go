// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used by the
// health endpoint and the stats command.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/wamcp-ingest/internal/domain"
)

// IngestStats summarizes what has been ingested so far.
//
// Fields:
//   - RawEvents:      total stored deliveries.
//   - ByParseStatus:  deliveries grouped by parse_status.
//   - Conversations:  total conversations.
//   - Messages:       total messages.
//   - PendingDocs:    documents still waiting for extraction.
//   - LastReceivedAt: receipt time of the newest delivery, nil when empty.
type IngestStats struct {
	RawEvents      int64            `json:"raw_events"`
	ByParseStatus  map[string]int64 `json:"by_parse_status"`
	Conversations  int64            `json:"conversations"`
	Messages       int64            `json:"messages"`
	PendingDocs    int64            `json:"pending_documents"`
	LastReceivedAt *time.Time       `json:"last_received_at,omitempty"`
}

// Stats runs a handful of COUNT queries over the ingestion tables.
func Stats(ctx context.Context, db *gorm.DB) (*IngestStats, error) {
	db = db.WithContext(ctx)
	st := &IngestStats{ByParseStatus: map[string]int64{}}

	if err := db.Model(&domain.RawEvent{}).Count(&st.RawEvents).Error; err != nil {
		return nil, err
	}

	var groups []struct {
		ParseStatus string
		N           int64
	}
	if err := db.Model(&domain.RawEvent{}).
		Select("parse_status, COUNT(*) AS n").
		Group("parse_status").
		Scan(&groups).Error; err != nil {
		return nil, err
	}
	for _, g := range groups {
		st.ByParseStatus[g.ParseStatus] = g.N
	}

	if err := db.Model(&domain.Conversation{}).Count(&st.Conversations).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&domain.Message{}).Count(&st.Messages).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&domain.Document{}).
		Where("extraction_status = ?", domain.ExtractionPending).
		Count(&st.PendingDocs).Error; err != nil {
		return nil, err
	}

	if st.RawEvents > 0 {
		// Get latest received_at (avoid MAX() -> TEXT in SQLite)
		var row struct {
			ReceivedAt time.Time
		}
		if err := db.Model(&domain.RawEvent{}).
			Select("received_at").
			Order("received_at DESC").
			Limit(1).
			Scan(&row).Error; err != nil {
			return nil, err
		}
		st.LastReceivedAt = &row.ReceivedAt
	}
	return st, nil
}
