package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"secretary/internal/models"
)

// MessageFilter narrows ListMessages. Zero fields are ignored.
type MessageFilter struct {
	UserID string
	Status models.MessageStatus
	Limit  int
}

// SaveMessage inserts a message log entry. ID and Timestamp are filled in
// when empty.
func (s *Store) SaveMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	if msg.Type == "" {
		msg.Type = "text"
	}
	if msg.Status == "" {
		msg.Status = models.MessagePending
	}

	contextJSON := "{}"
	if len(msg.Context) > 0 {
		b, err := json.Marshal(msg.Context)
		if err != nil {
			return wrap("save message", fmt.Errorf("failed to marshal context: %w", err))
		}
		contextJSON = string(b)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, user_id, group_id, message_type, content, response, timestamp, status, context)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.UserID, msg.GroupID, msg.Type, msg.Content, msg.Response,
		formatTime(msg.Timestamp), string(msg.Status), contextJSON,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return wrap("save message", err)
}

// ListMessages returns messages newest first.
func (s *Store) ListMessages(ctx context.Context, filter MessageFilter) ([]models.Message, error) {
	var (
		where []string
		args  []any
	)
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT id, user_id, group_id, message_type, content, response, timestamp, status, context FROM messages`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list messages", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var (
			m           models.Message
			ts, status  string
			contextJSON string
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.GroupID, &m.Type, &m.Content, &m.Response, &ts, &status, &contextJSON); err != nil {
			return nil, wrap("list messages", err)
		}
		m.Timestamp = parseTime(ts)
		m.Status = models.MessageStatus(status)
		if contextJSON != "" && contextJSON != "{}" {
			if err := json.Unmarshal([]byte(contextJSON), &m.Context); err != nil {
				return nil, wrap("list messages", fmt.Errorf("failed to unmarshal context: %w", err))
			}
		}
		messages = append(messages, m)
	}
	return messages, wrap("list messages", rows.Err())
}

// PruneMessages deletes messages logged before cutoff and returns how many
// were removed.
func (s *Store) PruneMessages(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE timestamp < ?`, formatTime(cutoff))
	if err != nil {
		return 0, wrap("prune messages", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("prune messages", err)
	}
	return n, nil
}
