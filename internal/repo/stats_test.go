package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/wamcp-ingest/internal/domain"
)

func TestStats_ErrorWhenTablesMissing(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if _, err := Stats(context.Background(), db); err == nil {
		t.Fatalf("expected error due to missing tables")
	}
}

func TestStats_Empty(t *testing.T) {
	db := newTestDB(t)
	st, err := Stats(context.Background(), db)
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if st.RawEvents != 0 || st.Messages != 0 || st.LastReceivedAt != nil || len(st.ByParseStatus) != 0 {
		t.Fatalf("expected empty stats, got %+v", st)
	}
}

func TestStats_Counts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	t1 := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)

	for i, st := range []struct {
		status string
		at     time.Time
	}{{domain.ParseStatusOK, t1}, {domain.ParseStatusOK, t2}, {domain.ParseStatusDecodeFailed, t1}} {
		ev := &domain.RawEvent{Fingerprint: fmt.Sprintf("fp%d", i), ReceivedAt: st.at, Payload: []byte("{}"), ParseStatus: st.status}
		if _, _, err := InsertRawEvent(ctx, db, ev); err != nil {
			t.Fatalf("seed raw event: %v", err)
		}
	}
	if _, _, err := InsertOrGetConversation(ctx, db, &domain.Conversation{ID: "c", Type: domain.ConversationIndividual, BusinessPhoneNumberID: "1", CreatedAt: t1, UpdatedAt: t1}); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	if _, _, err := InsertOrGetMessage(ctx, db, &domain.Message{ID: "m", ConversationID: "c", Direction: domain.DirectionInbound, SentAt: t1, MessageType: "document"}); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	if _, _, err := InsertOrGetDocument(ctx, db, &domain.Document{MessageID: "m", DocType: domain.DocTypePDF, MimeType: "application/pdf", StorageKeyRaw: "pending/m"}); err != nil {
		t.Fatalf("seed document: %v", err)
	}

	st, err := Stats(ctx, db)
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if st.RawEvents != 3 || st.ByParseStatus[domain.ParseStatusOK] != 2 || st.ByParseStatus[domain.ParseStatusDecodeFailed] != 1 {
		t.Fatalf("raw event counts unexpected: %+v", st)
	}
	if st.Conversations != 1 || st.Messages != 1 || st.PendingDocs != 1 {
		t.Fatalf("entity counts unexpected: %+v", st)
	}
	if st.LastReceivedAt == nil || !st.LastReceivedAt.Equal(t2) {
		t.Fatalf("last received unexpected: %v", st.LastReceivedAt)
	}
}
