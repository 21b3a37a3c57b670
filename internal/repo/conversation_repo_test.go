package repo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/wamcp-ingest/internal/domain"
)

func TestInsertOrGetConversation_CreatedOnceAndUntouched(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	c := &domain.Conversation{ID: "123:456", Type: domain.ConversationIndividual, BusinessPhoneNumberID: "123", CreatedAt: t0, UpdatedAt: t0}
	got, created, err := InsertOrGetConversation(ctx, db, c)
	if err != nil || !created || got.ID != "123:456" {
		t.Fatalf("first insert: created=%v err=%v got=%+v", created, err, got)
	}

	later := t0.Add(time.Hour)
	c2 := &domain.Conversation{ID: "123:456", Type: domain.ConversationIndividual, BusinessPhoneNumberID: "999", CreatedAt: later, UpdatedAt: later}
	got2, created, err := InsertOrGetConversation(ctx, db, c2)
	if err != nil || created {
		t.Fatalf("second insert: created=%v err=%v", created, err)
	}
	if got2.BusinessPhoneNumberID != "123" || !got2.CreatedAt.Equal(t0) {
		t.Fatalf("existing row must not be overwritten: %+v", got2)
	}
}

func TestInsertOrGetConversation_ConcurrentRace(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := &domain.Conversation{ID: "g@g.us", Type: domain.ConversationGroup, BusinessPhoneNumberID: "1", ExternalID: "g@g.us", CreatedAt: now, UpdatedAt: now}
			_, ok, err := InsertOrGetConversation(ctx, db, c)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if ok {
				created++
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("race surfaced errors: %v", errs)
	}
	if created != 1 {
		t.Fatalf("expected exactly one creator, got %d", created)
	}
	var n int64
	db.Model(&domain.Conversation{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected 1 conversation row, got %d", n)
	}
}

func TestTouchConversation_OnlyMovesForward(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if _, _, err := InsertOrGetConversation(ctx, db, &domain.Conversation{ID: "c", Type: domain.ConversationIndividual, BusinessPhoneNumberID: "1", CreatedAt: t0, UpdatedAt: t0}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := TouchConversation(ctx, db, "c", t0.Add(time.Hour)); err != nil {
		t.Fatalf("touch forward: %v", err)
	}
	if err := TouchConversation(ctx, db, "c", t0.Add(-time.Hour)); err != nil {
		t.Fatalf("touch backward: %v", err)
	}
	got, err := GetConversation(ctx, db, "c")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.UpdatedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("updated_at = %v; want %v", got.UpdatedAt, t0.Add(time.Hour))
	}
}

func TestInsertOrGetParticipant(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, created, err := InsertOrGetParticipant(ctx, db, &domain.Participant{ID: "456", PhoneE164: "+456"})
	if err != nil || !created {
		t.Fatalf("first: created=%v err=%v", created, err)
	}
	p, created, err := InsertOrGetParticipant(ctx, db, &domain.Participant{ID: "456", PhoneE164: "+999"})
	if err != nil || created || p.PhoneE164 != "+456" {
		t.Fatalf("second: created=%v err=%v p=%+v", created, err, p)
	}
}

func TestTouchAlias_AppendOnlyHistory(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	t0 := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	if _, _, err := InsertOrGetParticipant(ctx, db, &domain.Participant{ID: "456"}); err != nil {
		t.Fatalf("seed participant: %v", err)
	}

	a1, created, err := TouchAlias(ctx, db, "456", "Alice", t0)
	if err != nil || !created || !a1.FirstSeenAt.Equal(t0) || !a1.LastSeenAt.Equal(t0) {
		t.Fatalf("first alias: created=%v err=%v a=%+v", created, err, a1)
	}
	a2, created, err := TouchAlias(ctx, db, "456", "Alice Smith", t0.Add(time.Minute))
	if err != nil || !created || a2.ID == a1.ID {
		t.Fatalf("second name must add a row: created=%v err=%v", created, err)
	}

	// Same name later: bump last_seen only.
	a3, created, err := TouchAlias(ctx, db, "456", "Alice", t0.Add(time.Hour))
	if err != nil || created || a3.ID != a1.ID || !a3.LastSeenAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("bump: created=%v err=%v a=%+v", created, err, a3)
	}
	// Older event for the same name: last_seen must not go back.
	a4, _, err := TouchAlias(ctx, db, "456", "Alice", t0.Add(-time.Hour))
	if err != nil || !a4.LastSeenAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("last_seen_at decreased: err=%v a=%+v", err, a4)
	}

	list, err := ListAliases(ctx, db, "456")
	if err != nil || len(list) != 2 {
		t.Fatalf("expected 2 aliases, got %d err=%v", len(list), err)
	}
	if list[0].DisplayName != "Alice" || list[1].DisplayName != "Alice Smith" {
		t.Fatalf("unexpected alias order: %+v", list)
	}
	if !list[0].FirstSeenAt.Equal(t0) {
		t.Fatalf("first_seen_at must never change: %v", list[0].FirstSeenAt)
	}
}
