// Package whatsapp contains the WhatsApp Cloud API webhook wire types and the
// pure functions that operate on a delivery before anything is stored:
// signature verification, content fingerprinting, envelope detection and
// normalization into canonical events.
//
// Nothing in this package touches the database or the network.
package whatsapp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ObjectBusinessAccount is the "object" value of an enveloped delivery.
const ObjectBusinessAccount = "whatsapp_business_account"

// WebhookPayload is the standard enveloped delivery:
// object -> entry[] -> changes[] -> value.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry represents one business account entry.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change wraps a single change notification. Value is nil when the platform
// sent an explicit null or omitted it.
type Change struct {
	Field string       `json:"field"`
	Value *ChangeValue `json:"value"`
}

// ChangeValue holds the message data. Unwrapped deliveries carry these fields
// directly at the payload root.
type ChangeValue struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
	Statuses         []Status  `json:"statuses,omitempty"`
}

// Metadata about the receiving business phone number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact is a WhatsApp contact.
type Contact struct {
	Profile ContactProfile `json:"profile"`
	WaID    string         `json:"wa_id"`
}

// ContactProfile has the display name.
type ContactProfile struct {
	Name string `json:"name"`
}

// MessageContext is present when a message replies to another one.
type MessageContext struct {
	ID   string `json:"id"`
	From string `json:"from"`
}

// TextContent holds a text message body.
type TextContent struct {
	Body string `json:"body"`
}

// Media describes the media sub-object of image/document/audio/video/sticker
// messages.
type Media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Message represents an incoming WhatsApp message. Raw keeps the exact bytes
// of the message object as delivered.
type Message struct {
	From      string            `json:"from"`
	ID        string            `json:"id"`
	Timestamp Timestamp         `json:"timestamp"`
	Type      string            `json:"type"`
	GroupID   string            `json:"group_id,omitempty"`
	Context   *MessageContext   `json:"context,omitempty"`
	Text      *TextContent      `json:"text,omitempty"`
	Image     *Media            `json:"image,omitempty"`
	Document  *Media            `json:"document,omitempty"`
	Audio     *Media            `json:"audio,omitempty"`
	Video     *Media            `json:"video,omitempty"`
	Sticker   *Media            `json:"sticker,omitempty"`
	Errors    []json.RawMessage `json:"errors,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the message and retains its raw bytes.
func (m *Message) UnmarshalJSON(b []byte) error {
	type alias Message
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*m = Message(a)
	m.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// Media returns the media sub-object matching the message type, or nil when
// the message is not a media message or the sub-object is missing.
func (m Message) Media() *Media {
	switch m.Type {
	case "image":
		return m.Image
	case "document":
		return m.Document
	case "audio":
		return m.Audio
	case "video":
		return m.Video
	case "sticker":
		return m.Sticker
	}
	return nil
}

// IsMediaType reports whether messages of type t reference downloadable media.
func IsMediaType(t string) bool {
	switch t {
	case "image", "document", "audio", "video", "sticker":
		return true
	}
	return false
}

// Status represents a message delivery status update.
type Status struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	Timestamp     Timestamp         `json:"timestamp"`
	RecipientID   string            `json:"recipient_id"`
	RecipientType string            `json:"recipient_type,omitempty"`
	Errors        []json.RawMessage `json:"errors,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the status and retains its raw bytes.
func (s *Status) UnmarshalJSON(b []byte) error {
	type alias Status
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*s = Status(a)
	s.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// Timestamp is an epoch-seconds value that the platform sends as a JSON
// string, though some intermediaries forward it as a number.
//
// Set is false when the field was absent, null or an empty string.
type Timestamp struct {
	Unix int64
	Set  bool
}

// UnmarshalJSON accepts "1700000000", 1700000000, "", and null.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	raw := string(b)
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			*t = Timestamp{}
			return nil
		}
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp %q is not epoch seconds", raw)
	}
	*t = Timestamp{Unix: n, Set: true}
	return nil
}

// MarshalJSON writes the platform's string form.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if !t.Set {
		return []byte("null"), nil
	}
	return json.Marshal(strconv.FormatInt(t.Unix, 10))
}
