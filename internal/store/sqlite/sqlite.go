// Package sqlite implements store.Store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/relaychat/relaychat/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS rooms (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	type       TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS room_participants (
	room_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	PRIMARY KEY (room_id, user_id),
	FOREIGN KEY (room_id) REFERENCES rooms(id),
	FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	room_id    TEXT NOT NULL,
	sender_id  TEXT NOT NULL,
	content    TEXT NOT NULL,
	image_url  TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	FOREIGN KEY (room_id) REFERENCES rooms(id),
	FOREIGN KEY (sender_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies the schema.
// Use ":memory:" for an ephemeral database in tests.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateUser inserts a new user with a generated id.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	user := &store.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		user.ID, user.Username, user.PasswordHash, user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *SQLiteStore) UserByUsername(ctx context.Context, username string) (*store.User, error) {
	return s.userBy(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE username = ?`, username)
}

func (s *SQLiteStore) UserByID(ctx context.Context, id string) (*store.User, error) {
	return s.userBy(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE id = ?`, id)
}

func (s *SQLiteStore) userBy(ctx context.Context, query, arg string) (*store.User, error) {
	var u store.User
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// UsersExist reports whether every id refers to a registered user.
func (s *SQLiteStore) UsersExist(ctx context.Context, ids []string) (bool, error) {
	if len(ids) == 0 {
		return true, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT id) FROM users WHERE id IN (`+placeholders+`)`, args...).
		Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return count == len(ids), nil
}

// CreateRoom inserts a room and its participant list in one transaction.
func (s *SQLiteStore) CreateRoom(ctx context.Context, name string, typ store.RoomType, participantIDs []string) (*store.Room, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	roomID := uuid.NewString()
	createdAt := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO rooms (id, name, type, created_at) VALUES (?, ?, ?, ?)`,
		roomID, name, string(typ), createdAt); err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}

	for _, userID := range participantIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO room_participants (room_id, user_id) VALUES (?, ?)`,
			roomID, userID); err != nil {
			return nil, fmt.Errorf("insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.RoomByID(ctx, roomID)
}

// RoomByID loads a room with its participant list.
func (s *SQLiteStore) RoomByID(ctx context.Context, id string) (*store.Room, error) {
	var r store.Room
	var typ string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, type, created_at FROM rooms WHERE id = ?`, id).
		Scan(&r.ID, &r.Name, &typ, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query room: %w", err)
	}
	r.Type = store.RoomType(typ)

	participants, err := s.roomParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Participants = participants
	return &r, nil
}

func (s *SQLiteStore) roomParticipants(ctx context.Context, roomID string) ([]store.Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.username
		 FROM room_participants rp JOIN users u ON u.id = rp.user_id
		 WHERE rp.room_id = ?
		 ORDER BY u.username`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var participants []store.Participant
	for rows.Next() {
		var p store.Participant
		if err := rows.Scan(&p.ID, &p.Username); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// RoomsForUser returns the rooms the user participates in, newest first.
func (s *SQLiteStore) RoomsForUser(ctx context.Context, userID string) ([]*store.Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id FROM rooms r
		 JOIN room_participants rp ON rp.room_id = r.id
		 WHERE rp.user_id = ?
		 ORDER BY r.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan room id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rooms := make([]*store.Room, 0, len(ids))
	for _, id := range ids {
		room, err := s.RoomByID(ctx, id)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

// FindPrivateRoom returns the existing two-person private room for the pair,
// or store.ErrNotFound.
func (s *SQLiteStore) FindPrivateRoom(ctx context.Context, userA, userB string) (*store.Room, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT r.id FROM rooms r
		 WHERE r.type = 'private'
		   AND EXISTS (SELECT 1 FROM room_participants WHERE room_id = r.id AND user_id = ?)
		   AND EXISTS (SELECT 1 FROM room_participants WHERE room_id = r.id AND user_id = ?)
		   AND (SELECT COUNT(*) FROM room_participants WHERE room_id = r.id) = 2`,
		userA, userB).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query private room: %w", err)
	}
	return s.RoomByID(ctx, id)
}

func (s *SQLiteStore) RemoveParticipant(ctx context.Context, roomID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM room_participants WHERE room_id = ? AND user_id = ?`, roomID, userID)
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteRoom(ctx context.Context, roomID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM room_participants WHERE room_id = ?`, roomID); err != nil {
		return fmt.Errorf("delete participants: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE room_id = ?`, roomID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, roomID); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return tx.Commit()
}

// CheckRoomAccess answers the hub's authorization question.
func (s *SQLiteStore) CheckRoomAccess(ctx context.Context, roomID, userID string) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM rooms WHERE id = ?)`, roomID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("query room exists: %w", err)
	}
	if !exists {
		return store.ErrRoomNotFound
	}

	var participant bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM room_participants WHERE room_id = ? AND user_id = ?)`,
		roomID, userID).Scan(&participant)
	if err != nil {
		return fmt.Errorf("query participant: %w", err)
	}
	if !participant {
		return store.ErrNotParticipant
	}
	return nil
}

// SaveMessage durably stores a message and returns its assigned id and time.
func (s *SQLiteStore) SaveMessage(ctx context.Context, roomID, senderID, content, imageURL string) (string, time.Time, error) {
	id := uuid.NewString()
	createdAt := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, room_id, sender_id, content, image_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, roomID, senderID, content, imageURL, createdAt)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("insert message: %w", err)
	}
	return id, createdAt, nil
}

// MessagesPage serves page (1-based) of a room's history: the most recent
// `limit` messages for page 1, older ones for higher pages, each page
// oldest-first. hasMore reports whether older messages remain.
func (s *SQLiteStore) MessagesPage(ctx context.Context, roomID string, page, limit int) ([]*store.Message, bool, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.room_id, m.sender_id, u.username, m.content, m.image_url, m.created_at
		 FROM messages m JOIN users u ON u.id = m.sender_id
		 WHERE m.room_id = ?
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT ? OFFSET ?`,
		roomID, limit+1, (page-1)*limit)
	if err != nil {
		return nil, false, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.SenderUsername,
			&m.Content, &m.ImageURL, &m.CreatedAt); err != nil {
			return nil, false, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	// newest-first query, oldest-first page
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, hasMore, nil
}
