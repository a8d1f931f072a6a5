package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/co-de-er123/CrowdAid/internal/domain"
	"github.com/co-de-er123/CrowdAid/internal/security"
)

// ArchiveRepo persists messages seen during a session. When an encryptor is
// supplied, message content is encrypted at rest.
type ArchiveRepo struct {
	db        *sql.DB
	encryptor *security.Encryptor
}

func NewArchiveRepo(db *sql.DB, encryptor *security.Encryptor) *ArchiveRepo {
	return &ArchiveRepo{db: db, encryptor: encryptor}
}

var _ domain.MessageArchive = (*ArchiveRepo)(nil)

func (r *ArchiveRepo) SaveMessage(ctx context.Context, m domain.Message) error {
	content := m.Content
	if r.encryptor != nil {
		enc, err := r.encryptor.Encrypt(m.Content)
		if err != nil {
			return fmt.Errorf("encrypt content: %w", err)
		}
		content = enc
	}

	query := `
		INSERT OR REPLACE INTO messages (id, conversation_id, sender_id, sender_name, content, timestamp, is_read)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := r.db.ExecContext(ctx, query,
		m.ID,
		m.ConversationID,
		m.SenderID,
		m.SenderName,
		content,
		m.Timestamp,
		m.IsRead,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListForConversation returns up to limit of the newest archived messages
// for a conversation, oldest first.
func (r *ArchiveRepo) ListForConversation(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, sender_name, content, timestamp, is_read
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var res []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(
			&m.ID,
			&m.ConversationID,
			&m.SenderID,
			&m.SenderName,
			&m.Content,
			&m.Timestamp,
			&m.IsRead,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if r.encryptor != nil {
			plain, err := r.encryptor.Decrypt(m.Content)
			if err != nil {
				return nil, fmt.Errorf("message %s: %w", m.ID, err)
			}
			m.Content = plain
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Newest-first query, chronological result.
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res, nil
}

// PruneOld drops the oldest archived messages of a conversation beyond
// keepLimit.
func (r *ArchiveRepo) PruneOld(ctx context.Context, conversationID string, keepLimit int) error {
	var count int
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE conversation_id = ?
	`, conversationID).Scan(&count); err != nil {
		return fmt.Errorf("count messages: %w", err)
	}
	if count <= keepLimit {
		return nil
	}

	query := `
		DELETE FROM messages
		WHERE id IN (
			SELECT id FROM messages
			WHERE conversation_id = ?
			ORDER BY timestamp ASC
			LIMIT ?
		)
	`
	if _, err := r.db.ExecContext(ctx, query, conversationID, count-keepLimit); err != nil {
		return fmt.Errorf("delete old messages: %w", err)
	}
	return nil
}

// ConversationRepo persists conversation snapshots.
type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

var _ domain.ConversationCache = (*ConversationRepo)(nil)

func (r *ConversationRepo) SaveConversation(ctx context.Context, c domain.Conversation) error {
	participants, err := json.Marshal(c.ParticipantIDs)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	names, err := json.Marshal(c.ParticipantNames)
	if err != nil {
		return fmt.Errorf("marshal participant names: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO conversations (id, participants, participant_names, unread_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := r.db.ExecContext(ctx, query,
		c.ID,
		string(participants),
		string(names),
		c.UnreadCount,
		c.CreatedAt,
		c.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

func (r *ConversationRepo) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	query := `
		SELECT id, participants, participant_names, unread_count, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var res []domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		var participants, names string
		if err := rows.Scan(&c.ID, &participants, &names, &c.UnreadCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if err := json.Unmarshal([]byte(participants), &c.ParticipantIDs); err != nil {
			return nil, fmt.Errorf("conversation %s participants: %w", c.ID, err)
		}
		if err := json.Unmarshal([]byte(names), &c.ParticipantNames); err != nil {
			return nil, fmt.Errorf("conversation %s participant names: %w", c.ID, err)
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return res, nil
}
