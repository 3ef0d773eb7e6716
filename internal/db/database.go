package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Store is the durable side of a room: accounts, room metadata, file
// contents and chat history, all keyed by room code.
type Store struct {
	db *sql.DB
}

type User struct {
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

type RoomMeta struct {
	Code         string
	ProjectName  string
	PasswordHash string
	CreatedAt    time.Time
}

type FileRecord struct {
	RoomCode string `json:"-"`
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

type ChatMessage struct {
	RoomCode string    `json:"-"`
	Author   string    `json:"author"`
	Body     string    `json:"message"`
	SentAt   time.Time `json:"timestamp"`
}

func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	logrus.WithField("path", dbPath).Info("database initialized")
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS rooms (
		code TEXT PRIMARY KEY,
		project_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS files (
		room_code TEXT NOT NULL,
		filename TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (room_code, filename)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_code TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		sent_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_room_code ON messages(room_code, id);
	`

	_, err := db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Account operations

// CreateUser inserts an account, reporting false if the username is taken.
func (s *Store) CreateUser(username, passwordHash, role string) (bool, error) {
	res, err := s.db.Exec(
		"INSERT OR IGNORE INTO users (username, password_hash, role) VALUES (?, ?, ?)",
		username, passwordHash, role,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) GetUser(username string) (*User, error) {
	row := s.db.QueryRow(
		"SELECT username, password_hash, role, created_at FROM users WHERE username = ?",
		username,
	)

	var u User
	err := row.Scan(&u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Room metadata operations

func (s *Store) CreateRoomMeta(code, projectName, passwordHash string) (bool, error) {
	res, err := s.db.Exec(
		"INSERT OR IGNORE INTO rooms (code, project_name, password_hash) VALUES (?, ?, ?)",
		code, projectName, passwordHash,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) GetRoomMeta(code string) (*RoomMeta, error) {
	row := s.db.QueryRow(
		"SELECT code, project_name, password_hash, created_at FROM rooms WHERE code = ?",
		code,
	)

	var m RoomMeta
	err := row.Scan(&m.Code, &m.ProjectName, &m.PasswordHash, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessageRooms returns the room codes that currently hold chat
// history, paginated. Used by the retention sweep.
func (s *Store) ListMessageRooms(limit, offset int) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT DISTINCT room_code FROM messages ORDER BY room_code LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// File operations

// GetFiles returns every file record for a room, straight from the
// store. Join snapshots are built from this, so it must never be
// served from a cache.
func (s *Store) GetFiles(roomCode string) ([]FileRecord, error) {
	rows, err := s.db.Query(
		"SELECT room_code, filename, content FROM files WHERE room_code = ? ORDER BY filename ASC",
		roomCode,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []FileRecord
	for rows.Next() {
		var f FileRecord
		if err := rows.Scan(&f.RoomCode, &f.Filename, &f.Content); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// CreateFile inserts an empty file if none exists, then returns the
// current record. Creating a file that already exists keeps its content.
func (s *Store) CreateFile(roomCode, filename string) (FileRecord, error) {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO files (room_code, filename, content) VALUES (?, ?, '')",
		roomCode, filename,
	)
	if err != nil {
		return FileRecord{}, err
	}

	row := s.db.QueryRow(
		"SELECT room_code, filename, content FROM files WHERE room_code = ? AND filename = ?",
		roomCode, filename,
	)
	var f FileRecord
	if err := row.Scan(&f.RoomCode, &f.Filename, &f.Content); err != nil {
		return FileRecord{}, err
	}
	return f, nil
}

// UpsertFile replaces the content for (roomCode, filename). Last write
// wins; there is no version check.
func (s *Store) UpsertFile(roomCode, filename, content string) error {
	_, err := s.db.Exec(`
		INSERT INTO files (room_code, filename, content, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(room_code, filename) DO UPDATE SET
			content = excluded.content,
			updated_at = CURRENT_TIMESTAMP
	`, roomCode, filename, content)
	return err
}

// DeleteFile removes a file record, reporting whether one was removed.
func (s *Store) DeleteFile(roomCode, filename string) (bool, error) {
	res, err := s.db.Exec(
		"DELETE FROM files WHERE room_code = ? AND filename = ?",
		roomCode, filename,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Chat operations

func (s *Store) AppendMessage(roomCode, author, body string, sentAt time.Time) error {
	_, err := s.db.Exec(
		"INSERT INTO messages (room_code, author, body, sent_at) VALUES (?, ?, ?, ?)",
		roomCode, author, body, sentAt.UTC(),
	)
	return err
}

// RecentMessages returns the newest `limit` messages for a room in
// ascending insertion order, however many exist in total.
func (s *Store) RecentMessages(roomCode string, limit int) ([]ChatMessage, error) {
	rows, err := s.db.Query(`
		SELECT room_code, author, body, sent_at FROM messages
		WHERE room_code = ?
		ORDER BY id DESC
		LIMIT ?
	`, roomCode, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.RoomCode, &m.Author, &m.Body, &m.SentAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query is newest-first; flip to ascending for clients.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Store) MessageCount(roomCode string) (int, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM messages WHERE room_code = ?",
		roomCode,
	).Scan(&count)
	return count, err
}

// TrimMessages deletes all but the newest `keep` messages for a room.
func (s *Store) TrimMessages(roomCode string, keep int) error {
	_, err := s.db.Exec(`
		DELETE FROM messages
		WHERE room_code = ? AND id NOT IN (
			SELECT id FROM messages
			WHERE room_code = ?
			ORDER BY id DESC
			LIMIT ?
		)
	`, roomCode, roomCode, keep)
	return err
}

// Stats

func (s *Store) Stats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	counts := []struct {
		key   string
		query string
	}{
		{"user_count", "SELECT COUNT(*) FROM users"},
		{"room_count", "SELECT COUNT(*) FROM rooms"},
		{"file_count", "SELECT COUNT(*) FROM files"},
		{"message_count", "SELECT COUNT(*) FROM messages"},
	}

	for _, c := range counts {
		var n int
		if err := s.db.QueryRow(c.query).Scan(&n); err != nil {
			return nil, fmt.Errorf("stats %s: %w", c.key, err)
		}
		stats[c.key] = n
	}

	return stats, nil
}
