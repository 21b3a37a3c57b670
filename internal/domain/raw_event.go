package domain

import "time"

// Parse states recorded on a RawEvent.
const (
	ParseStatusPending      = "pending"
	ParseStatusOK           = "ok"
	ParseStatusDecodeFailed = "decode_failed"
	ParseStatusParseFailed  = "parse_failed"
	// ParseStatusStoreFailed marks a delivery that parsed but whose entities
	// could not be stored; it is a candidate for replay.
	ParseStatusStoreFailed = "store_failed"
)

// SourceWhatsApp tags deliveries received on the WhatsApp webhook.
const SourceWhatsApp = "whatsapp"

// RawEvent is the audit record of one accepted webhook delivery, keyed by the
// SHA-256 fingerprint of its body. It is written once, in the same
// transaction as everything derived from it, and never updated; the payload
// is kept byte for byte so a delivery can be replayed even when it could not
// be parsed.
type RawEvent struct {
	ID             string    `json:"id"                    gorm:"type:char(36);primaryKey"`
	ReceivedAt     time.Time `json:"received_at"           gorm:"not null;index"`
	Source         string    `json:"source"                gorm:"type:varchar(32);not null"`
	SignatureValid bool      `json:"signature_valid"       gorm:"not null"`
	Fingerprint    string    `json:"fingerprint"           gorm:"type:char(64);not null;uniqueIndex:ux_raw_events_fingerprint"`
	RequestID      string    `json:"request_id,omitempty"  gorm:"type:varchar(128);index"`
	HeadersJSON    string    `json:"headers_json"          gorm:"type:text"`
	Payload        []byte    `json:"-"                     gorm:"not null"`
	ParseStatus    string    `json:"parse_status"          gorm:"type:varchar(16);not null;default:'pending'"`
	ParseError     string    `json:"parse_error,omitempty" gorm:"type:text"`
}

// TableName implements the GORM tabler interface.
func (RawEvent) TableName() string { return "raw_events" }
