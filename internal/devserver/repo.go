package devserver

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/matheus3301/carechat/internal/wire"
)

var (
	errNotFound     = errors.New("not found")
	errForbidden    = errors.New("not a participant")
	errActiveExists = errors.New("an active conversation with this counterparty already exists")
	errClosed       = errors.New("conversation is closed")
)

// User is an account that can sign in with Token. Kind is "patient",
// "facility" or "professional".
type User struct {
	ID    string
	Name  string
	Kind  string
	Token string
}

// ConversationRecord is a stored conversation as seen by one viewer.
type ConversationRecord struct {
	ID             string
	UserID         string
	CounterpartyID string
	Subject        string
	Status         string
	LastMessage    string
	LastMessageAt  int64
	CounterKind    string
	CounterName    string
	Unread         int
}

func (c ConversationRecord) participant(userID string) bool {
	return c.UserID == userID || c.CounterpartyID == userID
}

// other returns the participant that is not userID.
func (c ConversationRecord) other(userID string) string {
	if c.UserID == userID {
		return c.CounterpartyID
	}
	return c.UserID
}

func (c ConversationRecord) wire() wire.Conversation {
	out := wire.Conversation{
		ID:               c.ID,
		UserID:           c.UserID,
		CounterpartyID:   c.CounterpartyID,
		CounterpartyType: c.CounterKind,
		CounterpartyName: c.CounterName,
		Subject:          c.Subject,
		LastMessage:      c.LastMessage,
		Status:           c.Status,
		UnreadCount:      c.Unread,
	}
	if c.LastMessageAt > 0 {
		t := time.UnixMilli(c.LastMessageAt).UTC()
		out.LastMessageAt = &t
	}
	return out
}

func messageWire(id, convID, sender, body, typ string, read bool, createdAt int64) wire.Message {
	return wire.Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       sender,
		Body:           body,
		Type:           typ,
		CreatedAt:      time.UnixMilli(createdAt).UTC(),
		Read:           read,
	}
}

// UpsertUser inserts or updates a user.
func (db *DB) UpsertUser(u User) error {
	_, err := db.Exec(`
		INSERT INTO users (id, name, kind, token) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			token = excluded.token`,
		u.ID, u.Name, u.Kind, u.Token)
	return err
}

// UserByToken returns the user signed in with token.
func (db *DB) UserByToken(token string) (*User, error) {
	var u User
	err := db.QueryRow(`SELECT id, name, kind, token FROM users WHERE token = ?`, token).
		Scan(&u.ID, &u.Name, &u.Kind, &u.Token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser returns a user by id.
func (db *DB) GetUser(id string) (*User, error) {
	var u User
	err := db.QueryRow(`SELECT id, name, kind, token FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.Kind, &u.Token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Counterparty fields always describe the non-patient side. Unread counts
// messages the viewer has not read.
const conversationSelect = `
	SELECT c.id, c.user_id, c.counterparty_id, c.subject, c.status,
		c.last_message, c.last_message_at,
		COALESCE(u.kind, ''), COALESCE(u.name, ''),
		(SELECT COUNT(*) FROM messages m
			WHERE m.conversation_id = c.id AND m.sender_id != ? AND m.read = 0)
	FROM conversations c
	LEFT JOIN users u ON u.id = c.counterparty_id`

func scanConversation(s interface{ Scan(...any) error }) (ConversationRecord, error) {
	var c ConversationRecord
	err := s.Scan(&c.ID, &c.UserID, &c.CounterpartyID, &c.Subject, &c.Status,
		&c.LastMessage, &c.LastMessageAt, &c.CounterKind, &c.CounterName, &c.Unread)
	return c, err
}

// ListConversations returns viewer's conversations, newest activity first.
func (db *DB) ListConversations(viewer string) ([]ConversationRecord, error) {
	rows, err := db.Query(conversationSelect+`
		WHERE c.user_id = ? OR c.counterparty_id = ?
		ORDER BY c.last_message_at DESC, c.id`, viewer, viewer, viewer)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ConversationRecord
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConversation returns a conversation as seen by viewer.
func (db *DB) GetConversation(id, viewer string) (ConversationRecord, error) {
	c, err := scanConversation(db.QueryRow(conversationSelect+` WHERE c.id = ?`, viewer, id))
	if errors.Is(err, sql.ErrNoRows) {
		return c, errNotFound
	}
	if err != nil {
		return c, err
	}
	if !c.participant(viewer) {
		return c, errForbidden
	}
	return c, nil
}

// CreateConversation opens a conversation between userID and counterpartyID
// with its first message. A second active conversation for the same pair
// fails with errActiveExists.
func (db *DB) CreateConversation(userID, counterpartyID, subject, body string, now time.Time) (string, wire.Message, error) {
	tx, err := db.Begin()
	if err != nil {
		return "", wire.Message{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id := uuid.NewString()
	ms := now.UnixMilli()
	_, err = tx.Exec(`
		INSERT INTO conversations (id, user_id, counterparty_id, subject, status, last_message, last_message_at, created_at)
		VALUES (?, ?, ?, ?, 'active', ?, ?, ?)`,
		id, userID, counterpartyID, subject, body, ms, ms)
	if isUniqueViolation(err) {
		return "", wire.Message{}, errActiveExists
	}
	if err != nil {
		return "", wire.Message{}, err
	}

	msg, err := insertMessage(tx, id, userID, body, now)
	if err != nil {
		return "", wire.Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return "", wire.Message{}, err
	}
	return id, msg, nil
}

// AddMessage appends a message from sender and updates the conversation
// summary.
func (db *DB) AddMessage(convID, sender, body string, now time.Time) (wire.Message, error) {
	tx, err := db.Begin()
	if err != nil {
		return wire.Message{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	msg, err := insertMessage(tx, convID, sender, body, now)
	if err != nil {
		return wire.Message{}, err
	}
	if _, err := tx.Exec(`
		UPDATE conversations SET last_message = ?, last_message_at = ?
		WHERE id = ? AND last_message_at <= ?`,
		body, now.UnixMilli(), convID, now.UnixMilli()); err != nil {
		return wire.Message{}, err
	}
	return msg, tx.Commit()
}

func insertMessage(tx *sql.Tx, convID, sender, body string, now time.Time) (wire.Message, error) {
	id := uuid.NewString()
	ms := now.UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO messages (id, conversation_id, sender_id, body, type, read, created_at)
		VALUES (?, ?, ?, ?, 'text', 0, ?)`,
		id, convID, sender, body, ms); err != nil {
		return wire.Message{}, err
	}
	return messageWire(id, convID, sender, body, "text", false, ms), nil
}

// ListMessages returns a conversation's messages oldest first.
func (db *DB) ListMessages(convID string) ([]wire.Message, error) {
	rows, err := db.Query(`
		SELECT id, conversation_id, sender_id, body, type, read, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at, id`, convID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []wire.Message{}
	for rows.Next() {
		var (
			id, conv, sender, body, typ string
			read                        bool
			createdAt                   int64
		)
		if err := rows.Scan(&id, &conv, &sender, &body, &typ, &read, &createdAt); err != nil {
			return nil, err
		}
		out = append(out, messageWire(id, conv, sender, body, typ, read, createdAt))
	}
	return out, rows.Err()
}

// MarkRead marks every message reader did not send as read and returns how
// many changed.
func (db *DB) MarkRead(convID, reader string) (int64, error) {
	res, err := db.Exec(`
		UPDATE messages SET read = 1
		WHERE conversation_id = ? AND sender_id != ? AND read = 0`, convID, reader)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UnreadCount returns how many messages across viewer's conversations the
// viewer has not read.
func (db *DB) UnreadCount(viewer string) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE (c.user_id = ? OR c.counterparty_id = ?)
			AND m.sender_id != ? AND m.read = 0`, viewer, viewer, viewer).Scan(&n)
	return n, err
}

// CloseConversation sets a conversation's status to closed.
func (db *DB) CloseConversation(convID string) error {
	res, err := db.Exec(`UPDATE conversations SET status = 'closed' WHERE id = ?`, convID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
