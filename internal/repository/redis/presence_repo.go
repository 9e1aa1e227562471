package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/Vivekkumarprince1/vaani-sub000/internal/database"
	"github.com/Vivekkumarprince1/vaani-sub000/internal/domain"
)

const onlineSetKey = "presence:online"

// PresenceRepository mirrors the in-memory presence registry into Redis so
// sibling services and operators can see who is online. Every write is best
// effort; the in-memory registry stays authoritative and mirror failures
// must never fail a request.
type PresenceRepository struct {
	client *database.RedisClient
	ttl    time.Duration
}

// NewPresenceRepository creates a new PresenceRepository. Entries expire
// after ttl unless refreshed by the heartbeat.
func NewPresenceRepository(client *database.RedisClient, ttl time.Duration) *PresenceRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PresenceRepository{client: client, ttl: ttl}
}

func userKey(userID string) string {
	return fmt.Sprintf("presence:user:%s", userID)
}

// MirrorOnline records a user as online
func (r *PresenceRepository) MirrorOnline(ctx context.Context, entry *domain.PresenceEntry) error {
	key := userKey(entry.UserID)

	err := r.client.SafeHSet(ctx, key,
		"connection_id", entry.ConnectionID,
		"display_name", entry.DisplayName,
		"language", entry.Language,
		"status", entry.Status,
		"last_seen", entry.LastSeen.UTC().Format(time.RFC3339),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to mirror presence: %w", err)
	}

	if err := r.client.SafeExpire(ctx, key, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set presence ttl: %w", err)
	}

	if err := r.client.SafeSAdd(ctx, onlineSetKey, entry.UserID).Err(); err != nil {
		return fmt.Errorf("failed to add to online set: %w", err)
	}

	return nil
}

// MirrorOffline records a user as offline. The entry stays for the grace
// window with an offline status, then expires on its own.
func (r *PresenceRepository) MirrorOffline(ctx context.Context, userID string) error {
	key := userKey(userID)

	err := r.client.SafeHSet(ctx, key,
		"connection_id", "",
		"status", "offline",
		"last_seen", time.Now().UTC().Format(time.RFC3339),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to mirror offline presence: %w", err)
	}

	if err := r.client.SafeExpire(ctx, key, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set offline ttl: %w", err)
	}

	if err := r.client.SafeSRem(ctx, onlineSetKey, userID).Err(); err != nil {
		return fmt.Errorf("failed to remove from online set: %w", err)
	}

	return nil
}

// Forget removes every trace of a user from the mirror
func (r *PresenceRepository) Forget(ctx context.Context, userID string) error {
	if err := r.client.SafeDel(ctx, userKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}
	if err := r.client.SafeSRem(ctx, onlineSetKey, userID).Err(); err != nil {
		return fmt.Errorf("failed to remove from online set: %w", err)
	}
	return nil
}

// Refresh extends a user's mirror TTL on heartbeat
func (r *PresenceRepository) Refresh(ctx context.Context, userID string) error {
	if err := r.client.SafeExpire(ctx, userKey(userID), r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

// OnlineUserIDs retrieves the mirrored set of online user IDs
func (r *PresenceRepository) OnlineUserIDs(ctx context.Context) ([]string, error) {
	ids, err := r.client.SafeSMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get online users: %w", err)
	}
	return ids, nil
}

// IsDegraded returns true if Redis is in degraded mode
func (r *PresenceRepository) IsDegraded() bool {
	return r.client.IsDegraded()
}
