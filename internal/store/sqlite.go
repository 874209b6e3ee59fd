// Package store provides the durable, append-only conversation log.
//
// Persistence is a local SQLite database used as a key-value store: one row
// per conversation id holding the JSON-serialized conversation. A
// server-backed store is a drop-in substitute behind the same contract.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/capitalize-ai/assistant-client/internal/model"
	"github.com/capitalize-ai/assistant-client/pkg/logger"
	"github.com/capitalize-ai/assistant-client/pkg/metrics"
)

// ErrConversationNotFound is returned when a conversation does not exist.
var ErrConversationNotFound = errors.New("conversation not found")

// Store persists conversations. Writes to a single conversation are
// serialized (one writer at a time per id) so the append order of its
// message list is preserved; different conversations proceed in parallel.
type Store struct {
	db     *sql.DB
	logger *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New opens (or creates) the store at the given path. Parent directories
// and the schema are created as needed.
func New(path string, log *logger.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			data       TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated
			ON conversations(updated_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	log.Info("conversation store opened")

	return &Store{
		db:     db,
		logger: log,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// lock returns the write lock for one conversation id.
func (s *Store) lock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Create persists a new conversation.
func (s *Store) Create(ctx context.Context, conv *model.Conversation) (err error) {
	defer func() { metrics.RecordStoreOp("create", err) }()

	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encoding conversation: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, data, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		conv.ID, string(data), conv.CreatedAt.UTC(), conv.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

// Get returns one conversation by id.
func (s *Store) Get(ctx context.Context, id string) (*model.Conversation, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM conversations WHERE id = ?`, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	var conv model.Conversation
	if err := json.Unmarshal([]byte(data), &conv); err != nil {
		return nil, fmt.Errorf("decoding conversation: %w", err)
	}
	return &conv, nil
}

// List returns all conversations, most recently updated first.
func (s *Store) List(ctx context.Context) ([]model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []model.Conversation
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		var conv model.Conversation
		if err := json.Unmarshal([]byte(data), &conv); err != nil {
			return nil, fmt.Errorf("decoding conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// AppendMessage appends one message to a conversation's log and refreshes
// its updated_at timestamp.
func (s *Store) AppendMessage(ctx context.Context, id string, msg model.Message) (err error) {
	defer func() { metrics.RecordStoreOp("append_message", err) }()

	err = s.mutate(ctx, id, func(conv *model.Conversation) {
		conv.Messages = append(conv.Messages, msg)
	})
	return err
}

// UpdateTitle renames a conversation.
func (s *Store) UpdateTitle(ctx context.Context, id, title string) (err error) {
	defer func() { metrics.RecordStoreOp("update_title", err) }()

	err = s.mutate(ctx, id, func(conv *model.Conversation) {
		conv.Title = title
	})
	return err
}

// mutate applies fn to the stored conversation under its write lock and
// persists the result in one transaction.
func (s *Store) mutate(ctx context.Context, id string, fn func(*model.Conversation)) error {
	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var data string
	err = tx.QueryRowContext(ctx,
		`SELECT data FROM conversations WHERE id = ?`, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("querying conversation: %w", err)
	}

	var conv model.Conversation
	if err := json.Unmarshal([]byte(data), &conv); err != nil {
		return fmt.Errorf("decoding conversation: %w", err)
	}

	fn(&conv)
	conv.UpdatedAt = time.Now().UTC()

	updated, err := json.Marshal(&conv)
	if err != nil {
		return fmt.Errorf("encoding conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET data = ?, updated_at = ? WHERE id = ?`,
		string(updated), conv.UpdatedAt, id,
	); err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}

	return tx.Commit()
}

// Delete removes one conversation and its messages.
func (s *Store) Delete(ctx context.Context, id string) (err error) {
	defer func() { metrics.RecordStoreOp("delete", err) }()

	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}

	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
	return nil
}

// DeleteAll removes every conversation.
func (s *Store) DeleteAll(ctx context.Context) (err error) {
	defer func() { metrics.RecordStoreOp("delete_all", err) }()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
		return fmt.Errorf("deleting conversations: %w", err)
	}

	s.mu.Lock()
	s.locks = make(map[string]*sync.Mutex)
	s.mu.Unlock()
	return nil
}
