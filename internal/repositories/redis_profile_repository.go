package repositories

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"support-agent/internal/db"
	"support-agent/internal/models"
)

const (
	// Redis key prefixes for customer profiles
	profileKeyPrefix = "profile:"
	profileIndexKey  = "profiles:index"
)

// RedisProfileRepository implements ProfileRepository using Redis. Profiles
// persist across sessions and are only removed by retention sweeps or
// explicit erasure requests.
type RedisProfileRepository struct {
	client        *db.RedisClient
	retentionDays int
}

// NewRedisProfileRepository creates a new Redis-based profile repository
func NewRedisProfileRepository(client *db.RedisClient, retentionDays int) *RedisProfileRepository {
	return &RedisProfileRepository{
		client:        client,
		retentionDays: retentionDays,
	}
}

// GetProfile retrieves a customer profile by ID
func (r *RedisProfileRepository) GetProfile(ctx context.Context, customerID string) (*models.CustomerProfile, error) {
	raw, err := r.client.Get(ctx, profileKeyPrefix+customerID)
	if err != nil {
		if strings.Contains(err.Error(), "key not found") {
			return nil, ProfileNotFoundError(customerID)
		}
		return nil, NewSessionRepositoryError("get_profile", customerID, err, "")
	}

	var profile models.CustomerProfile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		return nil, NewSessionRepositoryError("get_profile", customerID, err, "failed to unmarshal profile")
	}

	return &profile, nil
}

// SaveProfile persists a customer profile with the retention TTL
func (r *RedisProfileRepository) SaveProfile(ctx context.Context, profile *models.CustomerProfile) error {
	if profile.ID == "" {
		return &models.ValidationError{Field: "id", Message: "profile ID is required"}
	}

	data, err := json.Marshal(profile)
	if err != nil {
		return NewSessionRepositoryError("save_profile", profile.ID, err, "failed to marshal profile")
	}

	ttl := time.Duration(r.retentionDays) * 24 * time.Hour

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, profileKeyPrefix+profile.ID, data, ttl)
	pipe.SAdd(ctx, profileIndexKey, profile.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return NewSessionRepositoryError("save_profile", profile.ID, err, "failed to execute transaction")
	}

	return nil
}

// ListProfileIDs returns all known customer profile IDs, pruning entries
// whose profile key has already expired.
func (r *RedisProfileRepository) ListProfileIDs(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, profileIndexKey)
	if err != nil {
		return nil, NewSessionRepositoryError("list_profiles", "", err, "")
	}

	live := make([]string, 0, len(ids))
	for _, id := range ids {
		exists, err := r.client.Exists(ctx, profileKeyPrefix+id)
		if err != nil {
			return nil, NewSessionRepositoryError("list_profiles", id, err, "")
		}
		if exists > 0 {
			live = append(live, id)
		} else {
			_ = r.client.SRem(ctx, profileIndexKey, id)
		}
	}

	return live, nil
}

// DeleteProfile removes a customer profile and its index entry
func (r *RedisProfileRepository) DeleteProfile(ctx context.Context, customerID string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, profileKeyPrefix+customerID)
	pipe.SRem(ctx, profileIndexKey, customerID)
	if _, err := pipe.Exec(ctx); err != nil {
		return NewSessionRepositoryError("delete_profile", customerID, err, "")
	}
	return nil
}
