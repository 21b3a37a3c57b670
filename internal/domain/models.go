// Package domain defines the persistence models for the conversation graph
// built from WhatsApp webhook deliveries: conversations, participants, their
// alias history, messages and staged documents. These types are mapped with
// GORM and are shared by the repository and service layers.
package domain

import "time"

// Conversation types.
const (
	ConversationIndividual = "individual"
	ConversationGroup      = "group"
)

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Document types.
const (
	DocTypeInvoice = "invoice"
	DocTypePDF     = "pdf"
	DocTypeImage   = "image"
	DocTypeOther   = "other"
)

// Extraction states of a Document.
const (
	ExtractionPending = "pending"
	ExtractionOK      = "ok"
	ExtractionFailed  = "failed"
)

// Conversation is a chat thread between the business number and a contact,
// or a group thread.
//
// Fields:
//   - ID: derived key, "{business_phone_number_id}:{participant_id}" or the group id.
//   - Type: "individual" or "group".
//   - BusinessPhoneNumberID: the receiving business number (indexed).
//   - DisplayName: optional human label.
//   - ExternalID: platform group id for group conversations.
//   - CreatedAt: time of the first message seen.
//   - UpdatedAt: bumped every time a new message is stored.
type Conversation struct {
	ID                    string    `json:"id"                       gorm:"type:varchar(191);primaryKey"`
	Type                  string    `json:"type"                     gorm:"type:varchar(16);not null;check:chk_conversations_type,type IN ('individual','group')"`
	BusinessPhoneNumberID string    `json:"business_phone_number_id" gorm:"type:varchar(64);not null;index:idx_conversations_business"`
	DisplayName           string    `json:"display_name,omitempty"   gorm:"type:varchar(255)"`
	ExternalID            string    `json:"external_id,omitempty"    gorm:"type:varchar(191);index"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Participant is a sender, keyed by the platform sender id.
type Participant struct {
	ID        string    `json:"id"         gorm:"type:varchar(64);primaryKey"`
	PhoneE164 string    `json:"phone_e164" gorm:"type:varchar(32);index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Participant.
func (Participant) TableName() string { return "participants" }

// ParticipantAlias records one display name observed for a participant.
// Names are appended, never overwritten; LastSeenAt only moves forward.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ParticipantID / DisplayName: unique together.
//   - FirstSeenAt: event time of the first message carrying this name.
//   - LastSeenAt: latest event time carrying this name.
type ParticipantAlias struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	ParticipantID string    `json:"participant_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_alias_participant_name,priority:1"`
	DisplayName   string    `json:"display_name"   gorm:"type:varchar(255);not null;uniqueIndex:ux_alias_participant_name,priority:2"`
	FirstSeenAt   time.Time `json:"first_seen_at"  gorm:"not null"`
	LastSeenAt    time.Time `json:"last_seen_at"   gorm:"not null"`

	Participant *Participant `json:"-" gorm:"foreignKey:ParticipantID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ParticipantAlias.
func (ParticipantAlias) TableName() string { return "participant_aliases" }

// Message is a single platform message, keyed by the platform message id.
// Rows are inserted once and never modified.
//
// Fields:
//   - ID: platform message id ("wamid...").
//   - ConversationID: owning conversation (indexed with SentAt).
//   - ParticipantID: sender, nil when the platform did not identify one.
//   - Direction: "inbound" or "outbound".
//   - SentAt: platform timestamp.
//   - MessageType: platform type (text, image, unsupported, ...).
//   - TextBody: body for text messages only.
//   - ReplyToMessageID: id of the message this one replies to.
//   - RawEventID: the delivery that first carried this message.
//   - PayloadJSON: the message object exactly as delivered.
//   - ErrorsJSON: platform errors[] for unsupported messages.
type Message struct {
	ID               string    `json:"id"                            gorm:"type:varchar(191);primaryKey"`
	ConversationID   string    `json:"conversation_id"               gorm:"type:varchar(191);not null;index:idx_conversation_msgs,priority:1"`
	ParticipantID    *string   `json:"participant_id,omitempty"      gorm:"type:varchar(64);index"`
	Direction        string    `json:"direction"                     gorm:"type:varchar(16);not null;check:chk_messages_direction,direction IN ('inbound','outbound')"`
	SentAt           time.Time `json:"sent_at"                       gorm:"not null;index:idx_conversation_msgs,priority:2"`
	MessageType      string    `json:"message_type"                  gorm:"type:varchar(32);not null"`
	TextBody         string    `json:"text_body,omitempty"           gorm:"type:text"`
	ReplyToMessageID string    `json:"reply_to_message_id,omitempty" gorm:"type:varchar(191);index"`
	RawEventID       *string   `json:"raw_event_id,omitempty"        gorm:"type:char(36);index"`
	PayloadJSON      string    `json:"payload_json,omitempty"        gorm:"type:text"`
	ErrorsJSON       string    `json:"errors_json,omitempty"         gorm:"type:text"`
	CreatedAt        time.Time `json:"created_at"`

	Conversation *Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Participant  *Participant  `json:"-" gorm:"foreignKey:ParticipantID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Document is a placeholder for media referenced by a message. The bytes are
// fetched and extracted by a downstream worker; ingestion only stages the row.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - MessageID: owning message (one document per message).
//   - DocType: invoice, pdf, image or other.
//   - MimeType: as announced by the platform.
//   - MediaID: platform media id the worker downloads.
//   - StorageKeyRaw: provisional object key, "pending/{message id}".
//   - SHA256: platform-provided checksum, when present.
//   - ExtractionStatus: pending, ok or failed.
//   - ExtractionError: last extraction failure.
type Document struct {
	ID               string    `json:"id"                         gorm:"type:char(36);primaryKey"`
	MessageID        string    `json:"message_id"                 gorm:"type:varchar(191);not null;uniqueIndex:ux_documents_message"`
	DocType          string    `json:"doc_type"                   gorm:"type:varchar(16);not null;check:chk_documents_doc_type,doc_type IN ('invoice','pdf','image','other')"`
	MimeType         string    `json:"mime_type"                  gorm:"type:varchar(128);not null"`
	MediaID          string    `json:"media_id,omitempty"         gorm:"type:varchar(191)"`
	StorageKeyRaw    string    `json:"storage_key_raw"            gorm:"type:varchar(255);not null"`
	SHA256           string    `json:"sha256,omitempty"           gorm:"type:varchar(128)"`
	ExtractionStatus string    `json:"extraction_status"          gorm:"type:varchar(16);not null;default:'pending';index"`
	ExtractionError  string    `json:"extraction_error,omitempty" gorm:"type:text"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`

	Message *Message `json:"-" gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Document.
func (Document) TableName() string { return "documents" }
