package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/haasonsaas/spiritd/pkg/models"
)

// MessageStore persists ConversationMessage rows: insert, ordered read-back
// by conversation, and bulk delete by id set (used by the compactor to
// remove compressed messages).
type MessageStore struct {
	db *DB
}

// NewMessageStore wraps an open DB handle.
func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db}
}

// Insert persists a message, generating an id if absent and stamping
// CreatedAt if zero. Returns the persisted id.
func (s *MessageStore) Insert(ctx context.Context, msg models.ConversationMessage) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	toolCalls, err := msg.MarshalToolCalls()
	if err != nil {
		return "", fmt.Errorf("marshal tool calls: %w", err)
	}

	var toolCallID any
	if msg.ToolCallID != "" {
		toolCallID = msg.ToolCallID
	}
	var toolCallsArg any
	if toolCalls != nil {
		toolCallsArg = string(toolCalls)
	}

	query := fmt.Sprintf(
		`INSERT INTO conversation_messages (id, conversation_id, role, content, tool_calls, tool_call_id, created_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		s.db.placeholder(1), s.db.placeholder(2), s.db.placeholder(3),
		s.db.placeholder(4), s.db.placeholder(5), s.db.placeholder(6), s.db.placeholder(7),
	)
	_, err = s.db.Conn.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, toolCallsArg, toolCallID, msg.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	return msg.ID, nil
}

// ListByConversation returns every message for a conversation ordered
// ascending by CreatedAt — the ordering the agent loop and compactor both
// depend on.
func (s *MessageStore) ListByConversation(ctx context.Context, conversationID string) ([]models.ConversationMessage, error) {
	query := fmt.Sprintf(
		`SELECT id, conversation_id, role, content, tool_calls, tool_call_id, created_at
		 FROM conversation_messages WHERE conversation_id = %s ORDER BY created_at ASC, id ASC`,
		s.db.placeholder(1),
	)
	rows, err := s.db.Conn.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []models.ConversationMessage
	for rows.Next() {
		var msg models.ConversationMessage
		var role string
		var toolCalls sql.NullString
		var toolCallID sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &toolCalls, &toolCallID, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = models.ConversationRole(role)
		if toolCallID.Valid {
			msg.ToolCallID = toolCallID.String
		}
		if toolCalls.Valid && toolCalls.String != "" {
			calls, err := models.UnmarshalToolCalls([]byte(toolCalls.String))
			if err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
			msg.ToolCalls = calls
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// DeleteByIDs removes a set of messages in one statement. Postgres uses
// "= ANY($1)" with an array bind; both SQLite drivers lack native array
// binding and get an expanded "IN (?, ?, ...)" clause instead (spec.md's
// Open Question on bulk-delete binding form, resolved per DESIGN.md).
func (s *MessageStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	if s.db.Dialect == DialectPostgres {
		_, err := s.db.Conn.ExecContext(ctx,
			`DELETE FROM conversation_messages WHERE id = ANY($1)`, pq.Array(ids))
		if err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`DELETE FROM conversation_messages WHERE id IN (%s)`, strings.Join(placeholders, ", "))
	if _, err := s.db.Conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic. No caller in this module uses it: the compactor's
// message deletion and clip-archive insertion, and memory.Manager's
// mutation resolution and block update, each run as separate statements.
func (s *MessageStore) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}
