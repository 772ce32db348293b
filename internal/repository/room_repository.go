package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"roomchat/internal/apperr"
	"roomchat/internal/db"
	"roomchat/internal/models"

	"github.com/samber/lo"
)

// RoomRepository is the membership store. Participant sets only change
// through CreateRoom and AddParticipant.
type RoomRepository interface {
	CreateRoom(ctx context.Context, room *models.Room, participantIDs []int64) error
	GetRoom(ctx context.Context, id int64) (*models.Room, error)
	ListRoomsForUser(ctx context.Context, userID int64) ([]*models.Room, error)
	IsParticipant(ctx context.Context, roomID, userID int64) (bool, error)
	AddParticipant(ctx context.Context, roomID, userID int64) error
	RenameRoom(ctx context.Context, roomID int64, name *string) error
}

type SQLRoomRepo struct {
	db *db.DB
}

func NewRoomRepo(d *db.DB) *SQLRoomRepo {
	return &SQLRoomRepo{
		db: d,
	}
}

func (r *SQLRoomRepo) CreateRoom(ctx context.Context, room *models.Room, participantIDs []int64) error {
	ids := lo.Uniq(participantIDs)
	if room.CreatedBy != nil && !lo.Contains(ids, *room.CreatedBy) {
		ids = append([]int64{*room.CreatedBy}, ids...)
	}

	switch room.Type {
	case models.RoomDirect:
		if len(ids) != 2 {
			return fmt.Errorf("direct room needs exactly 2 participants, got %d: %w", len(ids), apperr.ErrValidation)
		}
	case models.RoomGroup:
		if len(ids) < 1 {
			return fmt.Errorf("group room needs at least one participant: %w", apperr.ErrValidation)
		}
	default:
		return fmt.Errorf("unknown room type %q: %w", room.Type, apperr.ErrValidation)
	}

	now := time.Now().UTC()
	room.CreatedAt = now
	room.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin room transaction: %w", err)
	}
	defer tx.Rollback()

	query := r.db.Rebind(`
		INSERT INTO rooms (name, room_type, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`)
	if err := tx.QueryRowContext(ctx, query, room.Name, string(room.Type), room.CreatedBy, now, now).Scan(&room.ID); err != nil {
		log.Printf("[REPO ERROR] Failed to insert room: %v", err)
		return mapErr("failed to insert room", err)
	}

	insertParticipant := r.db.Rebind(`INSERT INTO room_participants (room_id, user_id) VALUES (?, ?)`)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, insertParticipant, room.ID, id); err != nil {
			log.Printf("[REPO ERROR] Failed to add participant %d to room %d: %v", id, room.ID, err)
			return mapErr("failed to add participant", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit room: %w", err)
	}

	room.Participants, err = r.participants(ctx, room.ID)
	return err
}

func (r *SQLRoomRepo) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	query := r.db.Rebind(`
		SELECT id, name, room_type, created_by, created_at, updated_at
		FROM rooms
		WHERE id = ?`)

	room, err := scanRoom(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapErr(fmt.Sprintf("room %d", id), err)
	}

	room.Participants, err = r.participants(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	return room, nil
}

func (r *SQLRoomRepo) ListRoomsForUser(ctx context.Context, userID int64) ([]*models.Room, error) {
	query := r.db.Rebind(`
		SELECT r.id, r.name, r.room_type, r.created_by, r.created_at, r.updated_at
		FROM rooms r
		JOIN room_participants p ON p.room_id = r.id
		WHERE p.user_id = ?
		ORDER BY r.updated_at DESC, r.id DESC`)

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		log.Printf("[REPO ERROR] List rooms failed for user %d: %v", userID, err)
		return nil, err
	}

	var rooms []*models.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			rows.Close()
			log.Printf("[REPO ERROR] Scan failed: %v", err)
			return nil, err
		}
		rooms = append(rooms, room)
	}
	// the sqlite backend runs on a single connection, so rows must be
	// released before the participant queries below
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, room := range rooms {
		if room.Participants, err = r.participants(ctx, room.ID); err != nil {
			return nil, err
		}
	}
	return rooms, nil
}

func (r *SQLRoomRepo) IsParticipant(ctx context.Context, roomID, userID int64) (bool, error) {
	query := r.db.Rebind(`
		SELECT EXISTS(SELECT 1 FROM rooms WHERE id = ?),
		       EXISTS(SELECT 1 FROM room_participants WHERE room_id = ? AND user_id = ?)`)

	var roomExists, member bool
	if err := r.db.QueryRowContext(ctx, query, roomID, roomID, userID).Scan(&roomExists, &member); err != nil {
		return false, fmt.Errorf("participant lookup failed: %w", err)
	}
	if !roomExists {
		return false, fmt.Errorf("room %d: %w", roomID, apperr.ErrNotFound)
	}
	return member, nil
}

func (r *SQLRoomRepo) AddParticipant(ctx context.Context, roomID, userID int64) error {
	query := r.db.Rebind(`INSERT INTO room_participants (room_id, user_id) VALUES (?, ?)`)
	if _, err := r.db.ExecContext(ctx, query, roomID, userID); err != nil {
		return mapErr(fmt.Sprintf("add user %d to room %d", userID, roomID), err)
	}
	return nil
}

// RenameRoom sets or clears the display name and bumps updated_at.
func (r *SQLRoomRepo) RenameRoom(ctx context.Context, roomID int64, name *string) error {
	query := r.db.Rebind(`UPDATE rooms SET name = ?, updated_at = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, name, time.Now().UTC(), roomID)
	if err != nil {
		log.Printf("[REPO ERROR] Rename of room %d failed: %v", roomID, err)
		return mapErr(fmt.Sprintf("rename room %d", roomID), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("room %d: %w", roomID, apperr.ErrNotFound)
	}
	return nil
}

func (r *SQLRoomRepo) participants(ctx context.Context, roomID int64) ([]models.User, error) {
	query := r.db.Rebind(`
		SELECT u.id, u.email, u.first_name, u.last_name, u.created_at
		FROM users u
		JOIN room_participants p ON p.user_id = u.id
		WHERE p.room_id = ?
		ORDER BY u.id`)

	rows, err := r.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("participants of room %d: %w", roomID, err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*models.Room, error) {
	var (
		room      models.Room
		name      sql.NullString
		roomType  string
		createdBy sql.NullInt64
	)
	if err := row.Scan(&room.ID, &name, &roomType, &createdBy, &room.CreatedAt, &room.UpdatedAt); err != nil {
		return nil, err
	}
	room.Type = models.RoomType(roomType)
	if name.Valid {
		room.Name = lo.ToPtr(name.String)
	}
	if createdBy.Valid {
		room.CreatedBy = lo.ToPtr(createdBy.Int64)
	}
	return &room, nil
}
