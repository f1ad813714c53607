// Package store persists characters and chat history in SQLite and tracks
// the in-memory active character used by prompt resolution.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kayz/tavern/internal/promptbuild"
)

// Character is one stored character card.
type Character struct {
	ID               int64
	Name             string
	Description      string
	Personality      string
	Scenario         string
	System           string
	Jailbreak        string
	ExampleDialogues []string
	AuthorNote       string
	AuthorNoteDepth  int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Store handles persistence of characters, chats, and messages using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore creates a new SQLite-backed store at the given path.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	s := &Store{db: db}

	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return s, nil
}

// init creates the necessary tables if they don't exist
func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS characters (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			name               TEXT NOT NULL UNIQUE,
			description        TEXT,
			personality        TEXT,
			scenario           TEXT,
			system_prompt      TEXT,
			jailbreak          TEXT,
			example_dialogues  TEXT,
			author_note        TEXT,
			author_note_depth  INTEGER NOT NULL DEFAULT 0,
			created_at         TEXT NOT NULL,
			updated_at         TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chats (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			character_id  INTEGER NOT NULL,
			created_at    TEXT NOT NULL,
			is_active     INTEGER NOT NULL DEFAULT 1,
			FOREIGN KEY (character_id) REFERENCES characters(id)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id     INTEGER NOT NULL,
			role        TEXT NOT NULL,
			content     TEXT,
			created_at  TEXT NOT NULL,
			FOREIGN KEY (chat_id) REFERENCES chats(id)
		);

		CREATE INDEX IF NOT EXISTS idx_chats_character ON chats(character_id);
		CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id);
		CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);
	`)
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveCharacter inserts or updates a character by name and returns its id.
func (s *Store) SaveCharacter(ctx context.Context, c Character) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowStr := time.Now().Format(time.RFC3339)
	examples, err := json.Marshal(c.ExampleDialogues)
	if err != nil {
		return 0, fmt.Errorf("encode example dialogues: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO characters (name, description, personality, scenario, system_prompt, jailbreak, example_dialogues, author_note, author_note_depth, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			personality = excluded.personality,
			scenario = excluded.scenario,
			system_prompt = excluded.system_prompt,
			jailbreak = excluded.jailbreak,
			example_dialogues = excluded.example_dialogues,
			author_note = excluded.author_note,
			author_note_depth = excluded.author_note_depth,
			updated_at = excluded.updated_at
	`, c.Name, c.Description, c.Personality, c.Scenario, c.System, c.Jailbreak, string(examples), c.AuthorNote, c.AuthorNoteDepth, nowStr, nowStr)
	if err != nil {
		return 0, err
	}

	// last_insert_rowid is stale on the conflict-update path, so resolve
	// the id by name instead.
	var id int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM characters WHERE name = ?`, c.Name).Scan(&id)
	return id, err
}

// CharacterByName loads one character card.
func (s *Store) CharacterByName(ctx context.Context, name string) (*Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, personality, scenario, system_prompt, jailbreak, example_dialogues, author_note, author_note_depth, created_at, updated_at
		FROM characters
		WHERE name = ?
	`, name)
	return scanCharacter(row)
}

func scanCharacter(row *sql.Row) (*Character, error) {
	var c Character
	var examples sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Personality, &c.Scenario, &c.System, &c.Jailbreak, &examples, &c.AuthorNote, &c.AuthorNoteDepth, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if examples.Valid && examples.String != "" {
		_ = json.Unmarshal([]byte(examples.String), &c.ExampleDialogues)
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		c.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		c.UpdatedAt = t
	}
	return &c, nil
}

// ActiveChat returns the id of the character's active chat, creating one if
// none exists.
func (s *Store) ActiveChat(ctx context.Context, characterID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeChatInternal(ctx, characterID)
}

func (s *Store) activeChatInternal(ctx context.Context, characterID int64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM chats WHERE character_id = ? AND is_active = 1 ORDER BY id DESC LIMIT 1
	`, characterID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (character_id, created_at, is_active) VALUES (?, ?, 1)
	`, characterID, time.Now().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// NewChat deactivates the character's current chat and starts a fresh one.
func (s *Store) NewChat(ctx context.Context, characterID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		UPDATE chats SET is_active = 0 WHERE character_id = ?
	`, characterID); err != nil {
		return 0, err
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (character_id, created_at, is_active) VALUES (?, ?, 1)
	`, characterID, time.Now().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// AppendMessage records one turn in a chat.
func (s *Store) AppendMessage(ctx context.Context, chatID int64, msg promptbuild.RolePrompt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (chat_id, role, content, created_at) VALUES (?, ?, ?, ?)
	`, chatID, string(msg.Role), msg.Content, time.Now().Format(time.RFC3339))
	return err
}

// Messages reads a chat's turns oldest first. limit <= 0 means all; otherwise
// the newest limit turns are returned.
func (s *Store) Messages(ctx context.Context, chatID int64, limit int) ([]promptbuild.RolePrompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content FROM messages WHERE chat_id = ? ORDER BY id ASC
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []promptbuild.RolePrompt
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, err
		}
		msgs = append(msgs, promptbuild.RolePrompt{Role: promptbuild.Role(role), Content: content})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}
