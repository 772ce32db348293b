package repository

import (
	"context"
	"fmt"
	"log"
	"time"

	"roomchat/internal/db"
	"roomchat/internal/models"
)

type MessageRepo interface {
	Save(ctx context.Context, message *models.Message) error
	Get(ctx context.Context, id int64) (*models.Message, error)
	Fetch(ctx context.Context, roomID int64, limit int) ([]*models.Message, error)
	MarkRead(ctx context.Context, id int64) (bool, error)
}

type SQLMessagesRepo struct {
	db *db.DB
}

func NewMessagesRepo(d *db.DB) *SQLMessagesRepo {
	return &SQLMessagesRepo{
		db: d,
	}
}

// Save inserts the message and bumps the room's updated_at in the same
// transaction so room listings order by recency.
func (r *SQLMessagesRepo) Save(ctx context.Context, m *models.Message) error {
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	m.IsRead = false

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin message transaction: %w", err)
	}
	defer tx.Rollback()

	query := r.db.Rebind(`
        INSERT INTO messages (room_id, sender_id, content, is_read, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)
        RETURNING id`)

	err = tx.QueryRowContext(ctx, query,
		m.RoomID,
		m.Sender.ID,
		m.Content,
		m.IsRead,
		m.CreatedAt,
		m.UpdatedAt,
	).Scan(&m.ID)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to save message in room %d from %d: %v", m.RoomID, m.Sender.ID, err)
		return mapErr("failed to save message", err)
	}

	touch := r.db.Rebind(`UPDATE rooms SET updated_at = ? WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, touch, now, m.RoomID); err != nil {
		log.Printf("[REPO ERROR] Failed to touch room %d: %v", m.RoomID, err)
		return fmt.Errorf("failed to touch room: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}
	return nil
}

const selectMessage = `
        SELECT m.id, m.room_id, m.content, m.is_read, m.created_at, m.updated_at,
               u.id, u.email, u.first_name, u.last_name, u.created_at
        FROM messages m
        JOIN users u ON u.id = m.sender_id`

func (r *SQLMessagesRepo) Get(ctx context.Context, id int64) (*models.Message, error) {
	query := r.db.Rebind(selectMessage + ` WHERE m.id = ?`)

	m, err := scanMessage(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapErr(fmt.Sprintf("message %d", id), err)
	}
	return m, nil
}

// Fetch returns the newest messages of a room first.
func (r *SQLMessagesRepo) Fetch(ctx context.Context, roomID int64, limit int) ([]*models.Message, error) {
	query := r.db.Rebind(selectMessage + `
        WHERE m.room_id = ?
        ORDER BY m.created_at DESC, m.id DESC
        LIMIT ?`)

	rows, err := r.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		log.Printf("[REPO ERROR] Fetch failed for room %d: %v", roomID, err)
		return nil, err
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			log.Printf("[REPO ERROR] Scan failed: %v", err)
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// MarkRead flips is_read once. It reports whether this call changed it.
func (r *SQLMessagesRepo) MarkRead(ctx context.Context, id int64) (bool, error) {
	query := r.db.Rebind(`
		UPDATE messages
		SET is_read = ?, updated_at = ?
		WHERE id = ? AND is_read = ?`)

	res, err := r.db.ExecContext(ctx, query, true, time.Now().UTC(), id, false)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to mark message %d read: %v", id, err)
		return false, fmt.Errorf("database update failed: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return false, err
		}
		log.Printf("[REPO INFO] Message %d already read", id)
	}
	return n > 0, nil
}

func scanMessage(row rowScanner) (*models.Message, error) {
	m := &models.Message{}
	err := row.Scan(
		&m.ID,
		&m.RoomID,
		&m.Content,
		&m.IsRead,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.Sender.ID,
		&m.Sender.Email,
		&m.Sender.FirstName,
		&m.Sender.LastName,
		&m.Sender.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}
