package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/geofence-relay/internal/domain"
)

const (
	fenceKeyPrefix = "geofence:"
	fenceIndexKey  = "geofences"

	maxUpdateAttempts = 5
)

// NewClient builds a client from a redis:// URL or a bare host:port address.
func NewClient(addr string) (*redis.Client, error) {
	if !strings.Contains(addr, "://") {
		return redis.NewClient(&redis.Options{Addr: addr}), nil
	}
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// GeofenceRepository implements domain.GeofenceRepository on Redis. Each fence
// is a JSON string at geofence:<code>; the geofences set indexes the codes.
type GeofenceRepository struct {
	client *redis.Client
	logger *slog.Logger
}

// NewGeofenceRepository creates a new Redis geofence repository.
func NewGeofenceRepository(client *redis.Client, logger *slog.Logger) *GeofenceRepository {
	return &GeofenceRepository{
		client: client,
		logger: logger.With("component", "redis_geofence_repository"),
	}
}

func fenceKey(code string) string {
	return fenceKeyPrefix + code
}

// GetByCode returns the fence stored under code, or domain.ErrGeofenceNotFound.
func (r *GeofenceRepository) GetByCode(ctx context.Context, code string) (*domain.Geofence, error) {
	payload, err := r.client.Get(ctx, fenceKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrGeofenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to GET geofence %s: %w", code, err)
	}

	var fence domain.Geofence
	if err := json.Unmarshal(payload, &fence); err != nil {
		return nil, fmt.Errorf("failed to decode geofence %s: %w", code, err)
	}
	return &fence, nil
}

func (r *GeofenceRepository) List(ctx context.Context) ([]domain.Geofence, error) {
	codes, err := r.client.SMembers(ctx, fenceIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read geofence index: %w", err)
	}
	fences := []domain.Geofence{}
	if len(codes) == 0 {
		return fences, nil
	}

	keys := make([]string, len(codes))
	for i, code := range codes {
		keys[i] = fenceKey(code)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to MGET geofences: %w", err)
	}

	for i, v := range values {
		payload, ok := v.(string)
		if !ok {
			// Indexed but missing.
			continue
		}
		var fence domain.Geofence
		if err := json.Unmarshal([]byte(payload), &fence); err != nil {
			r.logger.Warn("skipping undecodable geofence", "geofence_code", codes[i], "error", err)
			continue
		}
		fences = append(fences, fence)
	}
	return fences, nil
}

// Save writes the fence and indexes its code in one transaction.
func (r *GeofenceRepository) Save(ctx context.Context, code string, fence domain.Geofence) error {
	payload, err := json.Marshal(fence)
	if err != nil {
		return fmt.Errorf("failed to encode geofence: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, fenceKey(code), payload, 0)
		pipe.SAdd(ctx, fenceIndexKey, code)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save geofence %s: %w", code, err)
	}
	return nil
}

// SaveAll writes and indexes every fence under its properties id in one
// transaction.
func (r *GeofenceRepository) SaveAll(ctx context.Context, fences []domain.Geofence) error {
	payloads := make([][]byte, len(fences))
	for i, fence := range fences {
		payload, err := json.Marshal(fence)
		if err != nil {
			return fmt.Errorf("failed to encode geofence: %w", err)
		}
		payloads[i] = payload
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, fence := range fences {
			pipe.Set(ctx, fenceKey(fence.Properties.ID), payloads[i], 0)
			pipe.SAdd(ctx, fenceIndexKey, fence.Properties.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save %d geofences: %w", len(fences), err)
	}
	return nil
}

// Update rewrites the fence stored under code with optimistic locking,
// retrying when a concurrent writer touches the key first.
func (r *GeofenceRepository) Update(ctx context.Context, code string, apply func(domain.Geofence) (domain.Geofence, error)) error {
	key := fenceKey(code)
	txf := func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrGeofenceNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to GET geofence %s: %w", code, err)
		}

		var cur domain.Geofence
		if err := json.Unmarshal(payload, &cur); err != nil {
			return fmt.Errorf("failed to decode geofence %s: %w", code, err)
		}
		next, err := apply(cur)
		if err != nil {
			return err
		}
		if payload, err = json.Marshal(next); err != nil {
			return fmt.Errorf("failed to encode geofence: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateAttempts; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			r.logger.Debug("geofence changed during update, retrying", "geofence_code", code, "attempt", i+1)
			continue
		}
		return err
	}
	return fmt.Errorf("failed to update geofence %s: %w", code, redis.TxFailedErr)
}

func (r *GeofenceRepository) Delete(ctx context.Context, code string) error {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, fenceKey(code))
		pipe.SRem(ctx, fenceIndexKey, code)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete geofence %s: %w", code, err)
	}
	if del.Val() == 0 {
		return domain.ErrGeofenceNotFound
	}
	return nil
}

func (r *GeofenceRepository) Close() error {
	return r.client.Close()
}
