package services

import (
	"context"
	"encoding/json"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/wamcp-ingest/internal/domain"
	"github.com/tbourn/wamcp-ingest/internal/queue"
	"github.com/tbourn/wamcp-ingest/internal/repo"
	"github.com/tbourn/wamcp-ingest/internal/whatsapp"
)

const defaultMimeType = "application/octet-stream"

// upsertResult collects what one delivery changed. Jobs and fresh messages
// are acted on only after the transaction commits.
type upsertResult struct {
	Inserted int
	Statuses int
	Jobs     []queue.Job
	Fresh    []whatsapp.Event
}

// upsertEvents writes the entity graph for events using tx. Status events are
// skipped. A message that already exists is left untouched and produces no
// side effects.
func upsertEvents(ctx context.Context, tx *gorm.DB, rawEventID string, events []whatsapp.Event) (*upsertResult, error) {
	res := &upsertResult{}
	l := logger(ctx)

	for _, ev := range events {
		if ev.IsStatus() {
			res.Statuses++
			continue
		}
		if ev.MessageID == "" {
			continue
		}

		conv, convCreated, err := repo.InsertOrGetConversation(ctx, tx, &domain.Conversation{
			ID:                    ev.ConversationID,
			Type:                  ev.ConversationType,
			BusinessPhoneNumberID: ev.BusinessPhoneNumberID,
			ExternalID:            ev.GroupID,
			CreatedAt:             ev.Timestamp,
			UpdatedAt:             ev.Timestamp,
		})
		if err != nil {
			return nil, err
		}

		var participantID *string
		if ev.SenderID != "" {
			p, _, err := repo.InsertOrGetParticipant(ctx, tx, &domain.Participant{
				ID:        ev.SenderID,
				PhoneE164: phoneE164(ev.SenderWaID),
				CreatedAt: ev.Timestamp,
				UpdatedAt: ev.Timestamp,
			})
			if err != nil {
				return nil, err
			}
			participantID = &p.ID

			if name := whatsapp.DisplayName(ev.SenderDisplayName); name != "" {
				if _, _, err := repo.TouchAlias(ctx, tx, p.ID, name, ev.Timestamp); err != nil {
					return nil, err
				}
			}
		}

		msg := &domain.Message{
			ID:               ev.MessageID,
			ConversationID:   conv.ID,
			ParticipantID:    participantID,
			Direction:        ev.Direction,
			SentAt:           ev.Timestamp,
			MessageType:      ev.MessageType,
			TextBody:         ev.TextBody,
			ReplyToMessageID: ev.ReplyToMessageID,
			PayloadJSON:      string(ev.Raw),
			ErrorsJSON:       errorsJSON(ev.Errors),
		}
		if rawEventID != "" {
			msg.RawEventID = &rawEventID
		}
		_, created, err := repo.InsertOrGetMessage(ctx, tx, msg)
		if err != nil {
			return nil, err
		}
		l.Info().
			Str("event", "whatsapp_message_persisted").
			Str("message_id", ev.MessageID).
			Bool("inserted", created).
			Msg("message persisted")
		if !created {
			continue
		}
		res.Inserted++

		if !convCreated {
			if err := repo.TouchConversation(ctx, tx, conv.ID, ev.Timestamp); err != nil {
				return nil, err
			}
		}

		if whatsapp.IsMediaType(ev.MessageType) {
			job, err := stageDocument(ctx, tx, ev)
			if err != nil {
				return nil, err
			}
			if job != nil {
				res.Jobs = append(res.Jobs, *job)
			}
		}

		if ev.Direction == whatsapp.DirectionInbound {
			res.Fresh = append(res.Fresh, ev)
		}
	}
	return res, nil
}

// stageDocument creates the pending Document for a media message and returns
// its extraction job, or nil when the document already existed.
func stageDocument(ctx context.Context, tx *gorm.DB, ev whatsapp.Event) (*queue.Job, error) {
	mime := defaultMimeType
	var mediaID, sum string
	if ev.Media != nil {
		if ev.Media.MimeType != "" {
			mime = ev.Media.MimeType
		}
		mediaID = ev.Media.ID
		sum = ev.Media.SHA256
	}

	doc, created, err := repo.InsertOrGetDocument(ctx, tx, &domain.Document{
		MessageID:     ev.MessageID,
		DocType:       docType(ev.MessageType, mime),
		MimeType:      mime,
		MediaID:       mediaID,
		StorageKeyRaw: "pending/" + ev.MessageID,
		SHA256:        sum,
	})
	if err != nil || !created {
		return nil, err
	}
	return extractJob(doc)
}

func extractJob(doc *domain.Document) (*queue.Job, error) {
	job, err := queue.ExtractDocumentJob(queue.ExtractDocumentPayload{
		DocumentID: doc.ID,
		MessageID:  doc.MessageID,
		MediaID:    doc.MediaID,
		MimeType:   doc.MimeType,
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// docType classifies media: images are images, PDF documents are pdf,
// everything else (audio, video, stickers, other files) is other.
func docType(messageType, mime string) string {
	switch messageType {
	case "image":
		return domain.DocTypeImage
	case "document":
		if strings.HasPrefix(mime, "application/pdf") {
			return domain.DocTypePDF
		}
	}
	return domain.DocTypeOther
}

// phoneE164 renders a WhatsApp id (country code + number, digits only) in
// E.164 form. Anything that is not all digits is returned unchanged.
func phoneE164(waID string) string {
	if waID == "" || strings.HasPrefix(waID, "+") {
		return waID
	}
	for _, r := range waID {
		if r < '0' || r > '9' {
			return waID
		}
	}
	return "+" + waID
}

func errorsJSON(errs []json.RawMessage) string {
	if len(errs) == 0 {
		return ""
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return ""
	}
	return string(b)
}
