package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/mkurochkin/medbooking/config"
	"github.com/redis/go-redis/v9"
)

const (
	// lockTTL bounds how long a processed-booking flag blocks reprocessing.
	lockTTL = 24 * time.Hour
	// quotaTTL outlives the day boundary so late housekeeping never loses a
	// counter that is still the current day's.
	quotaTTL = 2 * 24 * time.Hour
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(cfg config.RedisConfig) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
	}
}

// AcquireProcessedLock sets the per-booking idempotency flag if absent.
// Returns false when the booking was already processed (or is in flight).
func (s *RedisStore) AcquireProcessedLock(ctx context.Context, bookingID string) (bool, error) {
	return s.client.SetNX(ctx, processedBookingKey(bookingID), "1", lockTTL).Result()
}

// ReleaseProcessedLock deletes the idempotency flag so a redelivered event can
// run the saga again after a system failure.
func (s *RedisStore) ReleaseProcessedLock(ctx context.Context, bookingID string) error {
	return s.client.Del(ctx, processedBookingKey(bookingID)).Err()
}

// IncrQuota atomically increments the day's discount counter and returns the
// post-increment value. The first increment of a day sets the key expiry.
func (s *RedisStore) IncrQuota(ctx context.Context, day string) (int64, error) {
	count, err := s.client.Incr(ctx, quotaKey(day)).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := s.client.Expire(ctx, quotaKey(day), quotaTTL).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}

// DecrQuota releases one consumed quota unit (compensation).
func (s *RedisStore) DecrQuota(ctx context.Context, day string) error {
	return s.client.Decr(ctx, quotaKey(day)).Err()
}

// CleanupQuotaKeys deletes every quota counter that is not today's. Deleting
// an already-gone key is not an error, so the sweep is idempotent.
func (s *RedisStore) CleanupQuotaKeys(ctx context.Context, today string) (int, error) {
	keep := quotaKey(today)

	var stale []string
	iter := s.client.Scan(ctx, 0, quotaKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		if key := iter.Val(); key != keep {
			stale = append(stale, key)
		}
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.client.Del(ctx, stale...).Err(); err != nil {
		return 0, err
	}
	return len(stale), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func quotaKey(day string) string {
	return fmt.Sprintf("discount_quota:%s", day)
}

func processedBookingKey(bookingID string) string {
	return fmt.Sprintf("processed_booking:%s", bookingID)
}
