package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Vivekkumarprince1/vaani-sub000/internal/domain"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/constants"
	apperrors "github.com/Vivekkumarprince1/vaani-sub000/pkg/errors"
)

// GroupCallRepository persists group call documents in MongoDB
type GroupCallRepository struct {
	calls *mongo.Collection
}

// NewGroupCallRepository creates a new group call repository
func NewGroupCallRepository(db *mongo.Database) *GroupCallRepository {
	return &GroupCallRepository{calls: db.Collection("group_calls")}
}

// Create inserts a new group call document at version 1
func (r *GroupCallRepository) Create(ctx context.Context, call *domain.GroupCall) error {
	now := time.Now()
	call.Version = 1
	call.CreatedAt = now
	call.UpdatedAt = now

	if _, err := r.calls.InsertOne(ctx, call); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, "failed to create group call", err)
	}
	return nil
}

// GetByID loads a group call document
func (r *GroupCallRepository) GetByID(ctx context.Context, callID string) (*domain.GroupCall, error) {
	var call domain.GroupCall
	err := r.calls.FindOne(ctx, bson.M{"_id": callID}).Decode(&call)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.CallNotFoundError()
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to load group call", err)
	}
	return &call, nil
}

// FindActiveByRoom returns the newest ringing or active call for a room,
// or a not-found error when there is none
func (r *GroupCallRepository) FindActiveByRoom(ctx context.Context, roomID string) (*domain.GroupCall, error) {
	filter := bson.M{
		"room_id": roomID,
		"status":  bson.M{"$in": bson.A{constants.CallStatusRinging, constants.CallStatusActive}},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})

	var call domain.GroupCall
	err := r.calls.FindOne(ctx, filter, opts).Decode(&call)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.CallNotFoundError()
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to find room call", err)
	}
	return &call, nil
}

// UpdateVersioned replaces a call document only when the stored version
// still matches the one the caller read. On success the call's version is
// bumped; on a concurrent write a conflict error is returned and the caller
// re-reads and retries.
func (r *GroupCallRepository) UpdateVersioned(ctx context.Context, call *domain.GroupCall) error {
	readVersion := call.Version
	call.Version = readVersion + 1
	call.UpdatedAt = time.Now()

	result, err := r.calls.ReplaceOne(ctx,
		bson.M{"_id": call.CallID, "version": readVersion},
		call,
	)
	if err != nil {
		call.Version = readVersion
		return apperrors.Wrap(apperrors.ErrCodeInternal, "failed to update group call", err)
	}
	if result.MatchedCount == 0 {
		call.Version = readVersion
		return apperrors.ConflictError("group call was modified concurrently")
	}
	return nil
}

// FindStaleRinging returns ringing calls untouched since the given time.
// Used by the abandoned-call reaper.
func (r *GroupCallRepository) FindStaleRinging(ctx context.Context, olderThan time.Time) ([]*domain.GroupCall, error) {
	filter := bson.M{
		"status":     constants.CallStatusRinging,
		"updated_at": bson.M{"$lt": olderThan},
	}

	cursor, err := r.calls.Find(ctx, filter)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to scan stale calls", err)
	}
	defer cursor.Close(ctx)

	var stale []*domain.GroupCall
	if err := cursor.All(ctx, &stale); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to decode stale calls", err)
	}
	return stale, nil
}
