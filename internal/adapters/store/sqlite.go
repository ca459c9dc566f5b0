// Package store persists session rosters, chat history and invite codes
// in a local sqlite database.
package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/dgrange/huddle/internal/domain"
)

var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS participants (
	session_id  TEXT NOT NULL,
	id          TEXT NOT NULL,
	name        TEXT NOT NULL,
	avatar      TEXT NOT NULL DEFAULT '',
	video_on    INTEGER NOT NULL DEFAULT 0,
	audio_on    INTEGER NOT NULL DEFAULT 0,
	sharing     INTEGER NOT NULL DEFAULT 0,
	speaking    INTEGER NOT NULL DEFAULT 0,
	pinned      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, id)
);
CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	sender      TEXT NOT NULL,
	body        TEXT NOT NULL,
	sent_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, sent_at);
CREATE TABLE IF NOT EXISTS invites (
	code        TEXT PRIMARY KEY,
	inviter     TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
`

type SQLite struct {
	db *sql.DB
}

func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite handles one writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info().Str("module", "adapters.store").Str("path", path).Msg("store opened")
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Participants(ctx context.Context, sid domain.SessionID) ([]domain.Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, avatar, video_on, audio_on, sharing, speaking, pinned
		 FROM participants WHERE session_id = ? ORDER BY rowid`, string(sid))
	if err != nil {
		return nil, fmt.Errorf("select participants: %w", err)
	}
	defer rows.Close()
	var out []domain.Participant
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.Avatar,
			&p.IsVideoEnabled, &p.IsAudioEnabled, &p.IsScreenShared,
			&p.IsSpeaking, &p.IsPinned); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLite) UpsertParticipant(ctx context.Context, sid domain.SessionID, p domain.Participant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO participants (session_id, id, name, avatar, video_on, audio_on, sharing, speaking, pinned)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (session_id, id) DO UPDATE SET
			name = excluded.name, avatar = excluded.avatar,
			video_on = excluded.video_on, audio_on = excluded.audio_on,
			sharing = excluded.sharing, speaking = excluded.speaking,
			pinned = excluded.pinned`,
		string(sid), string(p.ID), p.Name, p.Avatar,
		p.IsVideoEnabled, p.IsAudioEnabled, p.IsScreenShared, p.IsSpeaking, p.IsPinned)
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

func (s *SQLite) Messages(ctx context.Context, sid domain.SessionID) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, sender, body, sent_at
		 FROM messages WHERE session_id = ? ORDER BY sent_at, rowid`, string(sid))
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()
	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var sentAt int64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sender, &m.Body, &sentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.SentAt = time.Unix(sentAt, 0).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLite) AppendMessage(ctx context.Context, m domain.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, sender, body, sent_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, string(m.SessionID), m.Sender, m.Body, m.SentAt.Unix())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func inviteCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

// CreateInvite mints a fresh 8 character code bound to the inviter.
func (s *SQLite) CreateInvite(ctx context.Context, inviter string) (domain.Invite, error) {
	for attempt := 0; attempt < 3; attempt++ {
		code, err := inviteCode()
		if err != nil {
			return domain.Invite{}, err
		}
		inv := domain.Invite{Code: code, Inviter: inviter, CreatedAt: time.Now().UTC()}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO invites (code, inviter, created_at) VALUES (?, ?, ?)`,
			inv.Code, inv.Inviter, inv.CreatedAt.Unix())
		if err == nil {
			log.Info().Str("module", "adapters.store").Str("code", code).Msg("invite created")
			return inv, nil
		}
		// collision on the primary key: roll a new code
	}
	return domain.Invite{}, fmt.Errorf("invite code space exhausted")
}

func (s *SQLite) Invite(ctx context.Context, code string) (domain.Invite, error) {
	var inv domain.Invite
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT code, inviter, created_at FROM invites WHERE code = ?`, code).
		Scan(&inv.Code, &inv.Inviter, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Invite{}, ErrNotFound
	}
	if err != nil {
		return domain.Invite{}, fmt.Errorf("select invite: %w", err)
	}
	inv.CreatedAt = time.Unix(created, 0).UTC()
	return inv, nil
}
