package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sonu-tech-hub/mychat-rtc/internal/store"
)

// Schema is the full database schema, applied on open.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	avatar_url    TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'offline',
	last_seen     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chat_groups (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS group_members (
	group_id  TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (group_id, user_id),
	FOREIGN KEY (group_id) REFERENCES chat_groups(id),
	FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	conv_key     TEXT NOT NULL,
	sender_id    TEXT NOT NULL,
	recipient_id TEXT,
	group_id     TEXT,
	content      TEXT NOT NULL,
	type         TEXT NOT NULL DEFAULT 'text',
	attachments  TEXT NOT NULL DEFAULT '[]',
	delivered    BOOLEAN NOT NULL DEFAULT 0,
	delivered_at DATETIME,
	read         BOOLEAN NOT NULL DEFAULT 0,
	read_at      DATETIME,
	edited       BOOLEAN NOT NULL DEFAULT 0,
	edited_at    DATETIME,
	state        TEXT NOT NULL DEFAULT 'active',
	deleted_at   DATETIME,
	created_at   DATETIME NOT NULL,
	FOREIGN KEY (sender_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conv_key, created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS conversations (
	key             TEXT PRIMARY KEY,
	last_message_id TEXT,
	updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS conversation_unread (
	conv_key TEXT NOT NULL,
	user_id  TEXT NOT NULL,
	unread   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (conv_key, user_id)
);

CREATE TABLE IF NOT EXISTS calls (
	id           TEXT PRIMARY KEY,
	caller_id    TEXT NOT NULL,
	recipient_id TEXT NOT NULL,
	type         TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   DATETIME NOT NULL,
	answered_at  DATETIME,
	ended_at     DATETIME,
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY (caller_id) REFERENCES users(id),
	FOREIGN KEY (recipient_id) REFERENCES users(id)
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	id := uuid.New().String()
	query := `
		INSERT INTO users (id, username, password_hash, status)
		VALUES (?, ?, ?, 'offline')
	`
	if _, err := s.db.ExecContext(ctx, query, id, username, passwordHash); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, avatar_url, status, last_seen, created_at
		FROM users
		WHERE id = ?
	`, id))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, avatar_url, status, last_seen, created_at
		FROM users
		WHERE username = ?
	`, username))
}

// UpdatePresence stores the user's presence status and last-seen timestamp.
func (s *SQLiteStore) UpdatePresence(ctx context.Context, id string, status store.Status, lastSeen time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET status = ?, last_seen = ? WHERE id = ?
	`, string(status), lastSeen.UTC(), id)
	if err != nil {
		return fmt.Errorf("update presence: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var user store.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.AvatarURL,
		&user.Status,
		&user.LastSeen,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// ==== GroupStore implementation ====

// CreateGroup creates a group with the given members.
func (s *SQLiteStore) CreateGroup(ctx context.Context, name string, memberIDs []string) (*store.Group, error) {
	id := uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO chat_groups (id, name) VALUES (?, ?)`, id, name); err != nil {
		return nil, fmt.Errorf("insert group: %w", err)
	}
	for _, uid := range memberIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)
		`, id, uid); err != nil {
			return nil, fmt.Errorf("insert group member: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return s.GetGroupByID(ctx, id)
}

// GetGroupByID retrieves a group by ID.
func (s *SQLiteStore) GetGroupByID(ctx context.Context, id string) (*store.Group, error) {
	var g store.Group
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM chat_groups WHERE id = ?
	`, id).Scan(&g.ID, &g.Name, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query group: %w", err)
	}
	return &g, nil
}

// ListGroupMembers lists member user ids of a group.
func (s *SQLiteStore) ListGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM group_members WHERE group_id = ? ORDER BY joined_at, user_id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query group members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		members = append(members, uid)
	}
	return members, rows.Err()
}

// IsGroupMember checks whether the user belongs to the group.
func (s *SQLiteStore) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM group_members WHERE group_id = ? AND user_id = ?
	`, groupID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query group membership: %w", err)
	}
	return true, nil
}

// ==== MessageStore implementation ====

// SaveMessage persists a new message.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (
			id, conv_key, sender_id, recipient_id, group_id, content, type, attachments,
			delivered, delivered_at, read, read_at, edited, edited_at, state, deleted_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID, msg.ConversationKey(), msg.SenderID, msg.RecipientID, msg.GroupID,
		msg.Content, string(msg.Type), string(attachments),
		msg.Delivered, nullTime(msg.DeliveredAt),
		msg.Read, nullTime(msg.ReadAt),
		msg.Edited, nullTime(msg.EditedAt),
		string(msg.State), nullTime(msg.DeletedAt),
		msg.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	rows, err := s.db.QueryContext(ctx, messageSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query message: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, store.ErrNotFound
	}
	return scanMessage(rows)
}

// UpdateMessage persists mutated flags/content of an existing message.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, msg *store.Message) error {
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET
			content = ?, type = ?, attachments = ?,
			delivered = ?, delivered_at = ?,
			read = ?, read_at = ?,
			edited = ?, edited_at = ?,
			state = ?, deleted_at = ?
		WHERE id = ?
	`,
		msg.Content, string(msg.Type), string(attachments),
		msg.Delivered, nullTime(msg.DeliveredAt),
		msg.Read, nullTime(msg.ReadAt),
		msg.Edited, nullTime(msg.EditedAt),
		string(msg.State), nullTime(msg.DeletedAt),
		msg.ID,
	)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return requireRow(res)
}

// DeleteMessage hard-removes a message.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return requireRow(res)
}

// ListMessages retrieves messages of a conversation, newest first, ordered by
// (created_at, id). beforeID pages past a known message.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationKey string, limit int, beforeID *string) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := messageSelect + ` WHERE conv_key = ?`
	args := []any{conversationKey}
	if beforeID != nil {
		// Strictly older in (created_at, id) order than the anchor message.
		query += ` AND (created_at, id) < (SELECT created_at, id FROM messages WHERE id = ?)`
		args = append(args, *beforeID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

const messageSelect = `
	SELECT id, sender_id, recipient_id, group_id, content, type, attachments,
		delivered, delivered_at, read, read_at, edited, edited_at, state, deleted_at, created_at
	FROM messages`

func scanMessage(rows *sql.Rows) (*store.Message, error) {
	var (
		msg         store.Message
		recipientID sql.NullString
		groupID     sql.NullString
		attachments string
		deliveredAt sql.NullTime
		readAt      sql.NullTime
		editedAt    sql.NullTime
		deletedAt   sql.NullTime
	)
	err := rows.Scan(
		&msg.ID, &msg.SenderID, &recipientID, &groupID, &msg.Content, &msg.Type, &attachments,
		&msg.Delivered, &deliveredAt,
		&msg.Read, &readAt,
		&msg.Edited, &editedAt,
		&msg.State, &deletedAt,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	if recipientID.Valid {
		msg.RecipientID = &recipientID.String
	}
	if groupID.Valid {
		msg.GroupID = &groupID.String
	}
	if err := json.Unmarshal([]byte(attachments), &msg.Attachments); err != nil {
		return nil, fmt.Errorf("unmarshal attachments: %w", err)
	}
	msg.DeliveredAt = timePtr(deliveredAt)
	msg.ReadAt = timePtr(readAt)
	msg.EditedAt = timePtr(editedAt)
	msg.DeletedAt = timePtr(deletedAt)
	return &msg, nil
}

// ==== ConversationStore implementation ====

// TouchConversation upserts the conversation and moves its last-message pointer.
func (s *SQLiteStore) TouchConversation(ctx context.Context, key, lastMessageID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (key, last_message_id, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET last_message_id = excluded.last_message_id, updated_at = CURRENT_TIMESTAMP
	`, key, lastMessageID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation aggregate by key.
func (s *SQLiteStore) GetConversation(ctx context.Context, key string) (*store.Conversation, error) {
	var (
		conv          store.Conversation
		lastMessageID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT key, last_message_id, updated_at FROM conversations WHERE key = ?
	`, key).Scan(&conv.Key, &lastMessageID, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	if lastMessageID.Valid {
		conv.LastMessageID = &lastMessageID.String
	}
	return &conv, nil
}

// IncrementUnread bumps the unread counter of each given participant.
func (s *SQLiteStore) IncrementUnread(ctx context.Context, key string, userIDs ...string) error {
	for _, uid := range userIDs {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO conversation_unread (conv_key, user_id, unread)
			VALUES (?, ?, 1)
			ON CONFLICT(conv_key, user_id) DO UPDATE SET unread = unread + 1
		`, key, uid)
		if err != nil {
			return fmt.Errorf("increment unread: %w", err)
		}
	}
	return nil
}

// DecrementUnread lowers a participant's unread counter, floored at zero.
func (s *SQLiteStore) DecrementUnread(ctx context.Context, key, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversation_unread SET unread = MAX(unread - 1, 0)
		WHERE conv_key = ? AND user_id = ?
	`, key, userID)
	if err != nil {
		return fmt.Errorf("decrement unread: %w", err)
	}
	return nil
}

// ResetUnread zeroes a participant's unread counter.
func (s *SQLiteStore) ResetUnread(ctx context.Context, key, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversation_unread SET unread = 0
		WHERE conv_key = ? AND user_id = ?
	`, key, userID)
	if err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}
	return nil
}

// UnreadCount reads a participant's unread counter.
func (s *SQLiteStore) UnreadCount(ctx context.Context, key, userID string) (int, error) {
	var unread int
	err := s.db.QueryRowContext(ctx, `
		SELECT unread FROM conversation_unread WHERE conv_key = ? AND user_id = ?
	`, key, userID).Scan(&unread)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query unread: %w", err)
	}
	return unread, nil
}

// ==== CallStore implementation ====

// CreateCall creates a new call record.
func (s *SQLiteStore) CreateCall(ctx context.Context, call *store.Call) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calls (id, caller_id, recipient_id, type, status, started_at, answered_at, ended_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		call.ID, call.CallerID, call.RecipientID, string(call.Type), string(call.Status),
		call.StartedAt.UTC(), nullTime(call.AnsweredAt), nullTime(call.EndedAt),
		call.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

// GetCall retrieves a call by ID.
func (s *SQLiteStore) GetCall(ctx context.Context, id string) (*store.Call, error) {
	var (
		call       store.Call
		answeredAt sql.NullTime
		endedAt    sql.NullTime
		durationMS int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, caller_id, recipient_id, type, status, started_at, answered_at, ended_at, duration_ms
		FROM calls WHERE id = ?
	`, id).Scan(
		&call.ID, &call.CallerID, &call.RecipientID, &call.Type, &call.Status,
		&call.StartedAt, &answeredAt, &endedAt, &durationMS,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query call: %w", err)
	}
	call.AnsweredAt = timePtr(answeredAt)
	call.EndedAt = timePtr(endedAt)
	call.Duration = time.Duration(durationMS) * time.Millisecond
	return &call, nil
}

// UpdateCall persists status transitions and timestamps.
func (s *SQLiteStore) UpdateCall(ctx context.Context, call *store.Call) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE calls SET status = ?, answered_at = ?, ended_at = ?, duration_ms = ?
		WHERE id = ?
	`,
		string(call.Status), nullTime(call.AnsweredAt), nullTime(call.EndedAt),
		call.Duration.Milliseconds(), call.ID,
	)
	if err != nil {
		return fmt.Errorf("update call: %w", err)
	}
	return requireRow(res)
}

// ==== helpers ====

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
