// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for conversations,
// participants and the participant alias history.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/wamcp-ingest/internal/domain"
)

// InsertOrGetConversation creates c unless a conversation with the same ID
// exists. The returned row is the stored one; created reports whether this
// call inserted it.
func InsertOrGetConversation(ctx context.Context, db *gorm.DB, c *domain.Conversation) (*domain.Conversation, bool, error) {
	created, err := insertOrGet(ctx, db, c, []string{"id"}, "id = ?", c.ID)
	if err != nil {
		return nil, false, err
	}
	return c, created, nil
}

// TouchConversation moves updated_at forward to at. An older at is ignored.
func TouchConversation(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ? AND updated_at < ?", id, at).
		UpdateColumn("updated_at", at).Error
}

// GetConversation fetches a conversation by ID, or ErrNotFound.
func GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertOrGetParticipant creates p unless a participant with the same ID
// exists.
func InsertOrGetParticipant(ctx context.Context, db *gorm.DB, p *domain.Participant) (*domain.Participant, bool, error) {
	created, err := insertOrGet(ctx, db, p, []string{"id"}, "id = ?", p.ID)
	if err != nil {
		return nil, false, err
	}
	return p, created, nil
}

// TouchAlias records that participantID was seen under displayName at time at.
// A new (participant, name) pair is inserted with both timestamps set to at;
// an existing pair only has last_seen_at moved forward, never back.
func TouchAlias(ctx context.Context, db *gorm.DB, participantID, displayName string, at time.Time) (*domain.ParticipantAlias, bool, error) {
	a := &domain.ParticipantAlias{
		ID:            uuid.NewString(),
		ParticipantID: participantID,
		DisplayName:   displayName,
		FirstSeenAt:   at,
		LastSeenAt:    at,
	}
	created, err := insertOrGet(ctx, db, a, []string{"participant_id", "display_name"},
		"participant_id = ? AND display_name = ?", participantID, displayName)
	if err != nil {
		return nil, false, err
	}
	if created {
		return a, true, nil
	}

	res := db.WithContext(ctx).
		Model(&domain.ParticipantAlias{}).
		Where("id = ? AND last_seen_at < ?", a.ID, at).
		UpdateColumn("last_seen_at", at)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		a.LastSeenAt = at
	}
	return a, false, nil
}

// ListAliases returns a participant's display-name history, oldest first.
func ListAliases(ctx context.Context, db *gorm.DB, participantID string) ([]domain.ParticipantAlias, error) {
	var out []domain.ParticipantAlias
	err := db.WithContext(ctx).
		Where("participant_id = ?", participantID).
		Order("first_seen_at ASC, id ASC").
		Find(&out).Error
	return out, err
}
