package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Vivekkumarprince1/vaani-sub000/internal/domain"
	apperrors "github.com/Vivekkumarprince1/vaani-sub000/pkg/errors"
)

// RoomRepository reads the room directory. Rooms and their memberships are
// provisioned by the account service; the hub only validates against them.
type RoomRepository struct {
	pool *pgxpool.Pool
}

// NewRoomRepository creates a new room repository
func NewRoomRepository(pool *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

// GetByID retrieves a room by ID
func (r *RoomRepository) GetByID(ctx context.Context, roomID string) (*domain.Room, error) {
	query := `
		SELECT room_id, name, created_by, created_at
		FROM rooms
		WHERE room_id = $1
	`

	room := &domain.Room{}
	err := r.pool.QueryRow(ctx, query, roomID).Scan(
		&room.RoomID,
		&room.Name,
		&room.CreatedBy,
		&room.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.RoomNotFoundError()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	return room, nil
}

// IsMember checks whether a user belongs to a room
func (r *RoomRepository) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM room_members
			WHERE room_id = $1 AND user_id = $2
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, roomID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check room membership: %w", err)
	}

	return exists, nil
}

// ListMembers retrieves the members of a room
func (r *RoomRepository) ListMembers(ctx context.Context, roomID string) ([]*domain.RoomMember, error) {
	query := `
		SELECT room_id, user_id, role, joined_at
		FROM room_members
		WHERE room_id = $1
		ORDER BY joined_at
	`

	rows, err := r.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list room members: %w", err)
	}
	defer rows.Close()

	var members []*domain.RoomMember
	for rows.Next() {
		member := &domain.RoomMember{}
		if err := rows.Scan(&member.RoomID, &member.UserID, &member.Role, &member.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan room member: %w", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read room members: %w", err)
	}

	return members, nil
}
