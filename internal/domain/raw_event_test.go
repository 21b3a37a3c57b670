package domain

import (
	"testing"
	"time"
)

func TestRawEvent_FingerprintUnique_AndPayloadVerbatim(t *testing.T) {
	db := newDomainDB(t)

	payload := []byte("{not json\x00\xff")
	ev := &RawEvent{
		ID:          "11111111-1111-1111-1111-111111111111",
		ReceivedAt:  time.Now().UTC(),
		Source:      SourceWhatsApp,
		Fingerprint: "aa",
		Payload:     payload,
		ParseStatus: ParseStatusDecodeFailed,
	}
	if err := db.Create(ev).Error; err != nil {
		t.Fatalf("insert raw event: %v", err)
	}

	var got RawEvent
	if err := db.First(&got, "fingerprint = ?", "aa").Error; err != nil {
		t.Fatalf("load raw event: %v", err)
	}
	if string(got.Payload) != string(payload) {
		t.Fatalf("payload not stored verbatim: %q", got.Payload)
	}
	if got.ParseStatus != ParseStatusDecodeFailed || got.Source != SourceWhatsApp {
		t.Fatalf("unexpected row: %+v", got)
	}

	dup := &RawEvent{
		ID:          "22222222-2222-2222-2222-222222222222",
		ReceivedAt:  time.Now().UTC(),
		Source:      SourceWhatsApp,
		Fingerprint: "aa",
		Payload:     []byte("{}"),
	}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected unique violation on fingerprint")
	}
}
