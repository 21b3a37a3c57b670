package whatsapp

import (
	"encoding/json"
	"time"
)

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

// Event is the envelope-agnostic form of one inbound message or one status
// notification found in a delivery.
type Event struct {
	MessageID                  string
	ConversationID             string
	ConversationType           string
	BusinessPhoneNumberID      string
	BusinessDisplayPhoneNumber string
	Timestamp                  time.Time
	// TimestampDefaulted is true when the platform omitted the timestamp and
	// the receipt time was used instead.
	TimestampDefaulted bool

	SenderID          string
	SenderWaID        string
	SenderDisplayName string

	Direction        string
	MessageType      string
	TextBody         string
	ReplyToMessageID string
	// GroupID is the platform group id for group conversations.
	GroupID string

	// Status is set only for delivery-status events (sent, delivered, read, failed).
	Status string
	Errors []json.RawMessage
	Raw    json.RawMessage

	// Media is the media sub-object for image/document/audio/video/sticker.
	Media *Media
}

// IsStatus reports whether the event is a delivery-status notification.
func (e Event) IsStatus() bool { return e.Status != "" }

// IsGroup reports whether the event belongs to a group conversation.
func (e Event) IsGroup() bool { return e.ConversationType == ConversationGroup }

// ConversationID derives the conversation key: the group id for groups,
// otherwise "{businessPhoneNumberID}:{participantID}".
func ConversationID(businessPhoneNumberID, participantID, groupID string) (id, convType string) {
	if groupID != "" {
		return groupID, ConversationGroup
	}
	return businessPhoneNumberID + ":" + participantID, ConversationIndividual
}
