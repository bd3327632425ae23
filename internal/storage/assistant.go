package storage

import (
	"context"
	"fmt"
	"time"
)

// --- Chat history ---

func (s *Store) SaveChatMessage(ctx context.Context, m ChatMessage) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO chat_messages (id, user_id, role, content, intent, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		m.ID, m.UserID, m.Role, m.Content, m.Intent, formatTime(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving chat message: %w", err)
	}
	return nil
}

// ListChatMessages returns the user's most recent messages in chronological order.
func (s *Store) ListChatMessages(ctx context.Context, userID int64, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, user_id, role, content, intent, created_at
		FROM chat_messages WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing chat messages: %w", err)
	}
	defer rows.Close()

	var msgs []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var createdAt string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Role, &m.Content, &m.Intent, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning chat message: %w", err)
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// --- Generated SQL audit ---

func (s *Store) SaveGeneratedQuery(ctx context.Context, q GeneratedQuery) error {
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO generated_queries (id, user_id, question, sql_text, verdict, reason, row_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		q.ID, q.UserID, q.Question, q.SQL, q.Verdict, q.Reason, q.RowCount, formatTime(q.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving generated query: %w", err)
	}
	return nil
}

// ListGeneratedQueries returns the newest audit entries for a user.
func (s *Store) ListGeneratedQueries(ctx context.Context, userID int64, limit int) ([]GeneratedQuery, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, user_id, question, sql_text, verdict, reason, row_count, created_at
		FROM generated_queries WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing generated queries: %w", err)
	}
	defer rows.Close()

	var out []GeneratedQuery
	for rows.Next() {
		var q GeneratedQuery
		var createdAt string
		if err := rows.Scan(&q.ID, &q.UserID, &q.Question, &q.SQL, &q.Verdict, &q.Reason, &q.RowCount, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning generated query: %w", err)
		}
		if q.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
