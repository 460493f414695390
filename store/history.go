package store

import (
	"context"
	"database/sql"
)

// InsertHistoryTurn appends a new turn to history_chat, used for the
// user turn and for creating the assistant's placeholder row before
// streaming begins.
func (s *Store) InsertHistoryTurn(ctx context.Context, t HistoryChatTurn) (string, error) {
	id := NewID()
	err := s.w.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO history_chat(id, assistant_id, exchange_id, session, role, content, sources)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, t.AssistantID, t.ExchangeID, t.Session, t.Role, t.Content, t.Sources)
		return err
	})
	return id, err
}

// DeleteHistoryTurn removes a turn outright, used when chat fails
// before StreamEnd and the bot placeholder row must not survive.
func (s *Store) DeleteHistoryTurn(ctx context.Context, id string) error {
	return s.w.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM history_chat WHERE id = ?`, id)
		return err
	})
}

// ListSessionHistory returns the last `limit` turns of one session,
// oldest first, for the chat orchestrator's retrace. limit=0 returns
// no history.
func (s *Store) ListSessionHistory(ctx context.Context, assistantID, session string, limit int) ([]HistoryChatTurn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, assistant_id, exchange_id, COALESCE(session,''), role, content, COALESCE(sources,''), created_at, updated_at
		FROM history_chat WHERE assistant_id = ? AND session = ? ORDER BY created_at DESC LIMIT ?`,
		assistantID, session, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryChatTurn
	for rows.Next() {
		var t HistoryChatTurn
		if err := rows.Scan(&t.ID, &t.AssistantID, &t.ExchangeID, &t.Session, &t.Role, &t.Content, &t.Sources, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// UpdateHistoryTurn mutates a turn in place, used while the assistant's
// answer streams and when sources finalize at StreamEnd.
func (s *Store) UpdateHistoryTurn(ctx context.Context, id, content, sources string) error {
	return s.w.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE history_chat SET content = ?, sources = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			content, sources, id)
		return err
	})
}

func (s *Store) ListHistory(ctx context.Context, assistantID string, limit int) ([]HistoryChatTurn, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, assistant_id, exchange_id, role, content, COALESCE(sources,''), created_at, updated_at
		FROM history_chat WHERE assistant_id = ? ORDER BY created_at DESC LIMIT ?`, assistantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryChatTurn
	for rows.Next() {
		var t HistoryChatTurn
		if err := rows.Scan(&t.ID, &t.AssistantID, &t.ExchangeID, &t.Role, &t.Content, &t.Sources, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	// caller-facing order is chronological; DESC+reverse keeps the LIMIT bounded to the most recent turns.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// LogChat records a completed exchange in the ambient audit log.
func (s *Store) LogChat(ctx context.Context, e ChatLogEntry) error {
	return s.w.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chat_log(assistant_id, query, answer, retrieval_method, model_used,
				prompt_tokens, completion_tokens, total_tokens)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.AssistantID, e.Query, e.Answer, e.RetrievalMethod, e.ModelUsed,
			e.PromptTokens, e.CompletionTokens, e.TotalTokens)
		return err
	})
}
