package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/leo-pe2/ai-chat-main/internal/domain"
)

const chatColumns = `id, user_id, title, content, is_visible, created_at`

// CreateChat inserts a new chat row.
func (s *SQLStore) CreateChat(ctx context.Context, chat *domain.Chat) error {
	content, err := encodeContent(chat.Content)
	if err != nil {
		return err
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = s.now()
	}

	query := `INSERT INTO chats (` + chatColumns + `) VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.exec(ctx, query,
		chat.ID, chat.UserID, chat.Title, content,
		boolToInt(chat.IsVisible), toMillis(chat.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

// ListVisibleChats returns the visible chats owned by userID, newest first.
func (s *SQLStore) ListVisibleChats(ctx context.Context, userID string) ([]*domain.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats
		WHERE user_id = ? AND is_visible = 1
		ORDER BY created_at DESC, id DESC`

	rows, err := s.query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	chats := []*domain.Chat{}
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat rows: %w", err)
	}
	return chats, nil
}

// GetChat returns a chat by ID regardless of visibility, or nil if absent.
func (s *SQLStore) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE id = ?`

	chat, err := scanChat(s.queryRow(ctx, query, chatID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// SaveContent replaces the full message sequence of a chat.
func (s *SQLStore) SaveContent(ctx context.Context, chatID string, content []domain.Message) error {
	encoded, err := encodeContent(content)
	if err != nil {
		return err
	}
	return s.execOne(ctx, "save chat content",
		`UPDATE chats SET content = ? WHERE id = ?`, encoded, chatID)
}

// SetTitleAndReveal sets the title and marks the chat visible in one update.
func (s *SQLStore) SetTitleAndReveal(ctx context.Context, chatID, title string) error {
	return s.execOne(ctx, "set chat title",
		`UPDATE chats SET title = ?, is_visible = 1 WHERE id = ?`, title, chatID)
}

// SoftDelete hides a chat from listings without erasing its content.
func (s *SQLStore) SoftDelete(ctx context.Context, chatID string) error {
	return s.execOne(ctx, "soft delete chat",
		`UPDATE chats SET is_visible = 0 WHERE id = ?`, chatID)
}

// PurgeStalePlaceholders hard-deletes placeholder-titled chats created
// before cutoff.
func (s *SQLStore) PurgeStalePlaceholders(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.exec(ctx,
		`DELETE FROM chats WHERE title = ? AND created_at < ?`,
		domain.PlaceholderTitle, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge placeholder chats: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*domain.Chat, error) {
	var chat domain.Chat
	var content string
	var visible int
	var createdAt int64

	err := row.Scan(&chat.ID, &chat.UserID, &chat.Title, &content, &visible, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat row: %w", err)
	}

	if content != "" {
		if err := json.Unmarshal([]byte(content), &chat.Content); err != nil {
			return nil, fmt.Errorf("decode chat %s content: %w", chat.ID, err)
		}
	}
	if chat.Content == nil {
		chat.Content = []domain.Message{}
	}
	chat.IsVisible = visible != 0
	chat.CreatedAt = fromMillis(createdAt)
	return &chat, nil
}

func encodeContent(content []domain.Message) (string, error) {
	if content == nil {
		content = []domain.Message{}
	}
	data, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("encode chat content: %w", err)
	}
	return string(data), nil
}
