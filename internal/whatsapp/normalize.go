package whatsapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Envelope shapes.
const (
	ShapeEnveloped = "enveloped"
	ShapeUnwrapped = "unwrapped"
	ShapeUnknown   = "unknown"
)

// ErrMalformedJSON is returned when the delivery body is not valid JSON.
var ErrMalformedJSON = errors.New("malformed JSON payload")

// ParseError reports a structurally invalid delivery: valid JSON whose
// fields have the wrong types or whose timestamps are not epoch seconds.
type ParseError struct {
	Shape string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s payload: %v", e.Shape, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// nowFunc is the receipt clock used for events without a timestamp.
var nowFunc = time.Now

// Normalize decodes a delivery in either envelope shape and returns one Event
// per message and per status, in document order. A payload of neither shape
// yields no events and no error.
func Normalize(payload []byte) ([]Event, error) {
	root, err := decodeRoot(payload)
	if err != nil {
		return nil, err
	}
	now := nowFunc().UTC()

	switch detectShape(root) {
	case ShapeUnwrapped:
		var v ChangeValue
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, &ParseError{Shape: ShapeUnwrapped, Err: err}
		}
		return normalizeValue(v, now), nil

	case ShapeEnveloped:
		var p WebhookPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, &ParseError{Shape: ShapeEnveloped, Err: err}
		}
		var out []Event
		for _, entry := range p.Entry {
			for _, change := range entry.Changes {
				if change.Value == nil {
					continue
				}
				out = append(out, normalizeValue(*change.Value, now)...)
			}
		}
		return out, nil
	}
	return nil, nil
}

// EnvelopeSummary is a cheap description of a delivery for logging.
type EnvelopeSummary struct {
	Shape         string
	Messages      int
	Statuses      int
	PhoneNumberID string
}

// Inspect summarizes a delivery without building events. It never fails:
// undecodable input reports ShapeUnknown.
func Inspect(payload []byte) EnvelopeSummary {
	type lenientValue struct {
		Metadata struct {
			PhoneNumberID string `json:"phone_number_id"`
		} `json:"metadata"`
		Messages []json.RawMessage `json:"messages"`
		Statuses []json.RawMessage `json:"statuses"`
	}

	sum := EnvelopeSummary{Shape: ShapeUnknown}
	root, err := decodeRoot(payload)
	if err != nil {
		return sum
	}
	sum.Shape = detectShape(root)

	add := func(v lenientValue) {
		sum.Messages += len(v.Messages)
		sum.Statuses += len(v.Statuses)
		if sum.PhoneNumberID == "" {
			sum.PhoneNumberID = v.Metadata.PhoneNumberID
		}
	}

	switch sum.Shape {
	case ShapeUnwrapped:
		var v lenientValue
		_ = json.Unmarshal(payload, &v)
		add(v)
	case ShapeEnveloped:
		var p struct {
			Entry []struct {
				Changes []struct {
					Value *lenientValue `json:"value"`
				} `json:"changes"`
			} `json:"entry"`
		}
		_ = json.Unmarshal(payload, &p)
		for _, e := range p.Entry {
			for _, c := range e.Changes {
				if c.Value != nil {
					add(*c.Value)
				}
			}
		}
	}
	return sum
}

func decodeRoot(payload []byte) (map[string]json.RawMessage, error) {
	if !json.Valid(payload) {
		return nil, ErrMalformedJSON
	}
	var root map[string]json.RawMessage
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, &ParseError{Shape: ShapeUnknown, Err: errors.New("payload root is not a JSON object")}
	}
	return root, nil
}

// detectShape gives an unwrapped value precedence over the "object" tag.
func detectShape(root map[string]json.RawMessage) string {
	if _, ok := root["messages"]; ok {
		return ShapeUnwrapped
	}
	if _, ok := root["statuses"]; ok {
		return ShapeUnwrapped
	}
	var object string
	if raw, ok := root["object"]; ok && json.Unmarshal(raw, &object) == nil && object == ObjectBusinessAccount {
		return ShapeEnveloped
	}
	return ShapeUnknown
}

func normalizeValue(v ChangeValue, now time.Time) []Event {
	business := v.Metadata.PhoneNumberID
	display := v.Metadata.DisplayPhoneNumber

	names := make(map[string]string, len(v.Contacts))
	for _, c := range v.Contacts {
		if c.WaID != "" {
			names[c.WaID] = DisplayName(c.Profile.Name)
		}
	}

	out := make([]Event, 0, len(v.Messages)+len(v.Statuses))
	for _, m := range v.Messages {
		out = append(out, normalizeMessage(m, business, display, names, now))
	}
	for _, s := range v.Statuses {
		out = append(out, normalizeStatus(s, business, display, now))
	}
	return out
}

func normalizeMessage(m Message, business, display string, names map[string]string, now time.Time) Event {
	convID, convType := ConversationID(business, m.From, m.GroupID)
	ts, defaulted := resolveTime(m.Timestamp, now)

	msgType := m.Type
	if msgType == "" {
		msgType = "unknown"
	}

	ev := Event{
		MessageID:                  m.ID,
		ConversationID:             convID,
		ConversationType:           convType,
		BusinessPhoneNumberID:      business,
		BusinessDisplayPhoneNumber: display,
		Timestamp:                  ts,
		TimestampDefaulted:         defaulted,
		SenderID:                   m.From,
		SenderWaID:                 m.From,
		SenderDisplayName:          names[m.From],
		Direction:                  DirectionInbound,
		MessageType:                msgType,
		GroupID:                    m.GroupID,
		Raw:                        m.Raw,
		Media:                      m.Media(),
	}
	if msgType == "text" && m.Text != nil {
		ev.TextBody = m.Text.Body
	}
	if m.Context != nil {
		ev.ReplyToMessageID = m.Context.ID
	}
	if msgType == "unsupported" {
		ev.Errors = m.Errors
	}
	return ev
}

func normalizeStatus(s Status, business, display string, now time.Time) Event {
	var group string
	if s.RecipientType == ConversationGroup {
		group = s.RecipientID
	}
	convID, convType := ConversationID(business, s.RecipientID, group)
	ts, defaulted := resolveTime(s.Timestamp, now)

	return Event{
		MessageID:                  s.ID,
		ConversationID:             convID,
		ConversationType:           convType,
		BusinessPhoneNumberID:      business,
		BusinessDisplayPhoneNumber: display,
		Timestamp:                  ts,
		TimestampDefaulted:         defaulted,
		Direction:                  DirectionOutbound,
		GroupID:                    group,
		Status:                     s.Status,
		Errors:                     s.Errors,
		Raw:                        s.Raw,
	}
}

func resolveTime(t Timestamp, now time.Time) (time.Time, bool) {
	if !t.Set {
		return now, true
	}
	return time.Unix(t.Unix, 0).UTC(), false
}

// DisplayName canonicalizes a profile name so visually identical names
// compare equal: surrounding space is trimmed and the text is NFC-normalized.
func DisplayName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
