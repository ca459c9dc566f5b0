package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgrange/huddle/internal/domain"
)

func openTest(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestParticipantsRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	sid := domain.SessionID("sess-1")

	p := domain.Participant{
		ID:             "me",
		Name:           "You",
		IsVideoEnabled: true,
		IsAudioEnabled: true,
	}
	if err := s.UpsertParticipant(ctx, sid, p); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	p.IsVideoEnabled = false
	p.IsPinned = true
	if err := s.UpsertParticipant(ctx, sid, p); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.Participants(ctx, sid)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].IsVideoEnabled || !got[0].IsPinned || got[0].Name != "You" {
		t.Errorf("got %+v", got[0])
	}

	other, err := s.Participants(ctx, "sess-2")
	if err != nil {
		t.Fatalf("select other: %v", err)
	}
	if len(other) != 0 {
		t.Error("sessions must be isolated")
	}
}

func TestMessagesOrdered(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	sid := domain.SessionID("sess-1")

	base := time.Now().UTC().Truncate(time.Second)
	for i, body := range []string{"first", "second", "third"} {
		m := domain.Message{
			ID:        body,
			SessionID: sid,
			Sender:    "You",
			Body:      body,
			SentAt:    base.Add(time.Duration(i) * time.Second),
		}
		if err := s.AppendMessage(ctx, m); err != nil {
			t.Fatalf("append %s: %v", body, err)
		}
	}

	got, err := s.Messages(ctx, sid)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	for i, want := range []string{"first", "second", "third"} {
		if got[i].Body != want {
			t.Errorf("msg %d = %q", i, got[i].Body)
		}
	}
	if !got[0].SentAt.Equal(base) {
		t.Errorf("sent_at = %v, want %v", got[0].SentAt, base)
	}
}

func TestInvites(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	inv, err := s.CreateInvite(ctx, "0xabc")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(inv.Code) != 8 {
		t.Errorf("code = %q", inv.Code)
	}

	got, err := s.Invite(ctx, inv.Code)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Inviter != "0xabc" {
		t.Errorf("inviter = %q", got.Inviter)
	}

	if _, err := s.Invite(ctx, "NOPE1234"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown code: %v", err)
	}

	// Codes are unique across creations.
	second, err := s.CreateInvite(ctx, "0xdef")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if second.Code == inv.Code {
		t.Error("duplicate invite code")
	}
}
