// Package directory reads user display attributes owned by the account
// subsystem. Lookups only decorate broadcast views, so a miss degrades to a
// bare user id instead of failing the event.
package directory

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/example/shuttle-presence/internal/models"
)

type Directory interface {
	Lookup(ctx context.Context, userID string) (models.UserInfo, error)
}

// RedisDirectory reads the per-user metadata hashes the account subsystem
// maintains under user:meta:<id>.
type RedisDirectory struct {
	client *redis.Client
}

func NewRedisDirectory(addr, password string) *RedisDirectory {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisDirectory{client: c}
}

func (d *RedisDirectory) Lookup(ctx context.Context, userID string) (models.UserInfo, error) {
	info := models.UserInfo{ID: userID}
	m, err := d.getAllWithRetry(ctx, metaKey(userID))
	if err != nil {
		return info, err
	}
	info.Name = m["name"]
	info.Year = m["year"]
	info.Branch = m["branch"]
	info.Section = m["section"]
	info.VehicleRegNo = m["vehicle_reg_no"]
	return info, nil
}

// getAllWithRetry retries the idempotent read once before giving up.
func (d *RedisDirectory) getAllWithRetry(ctx context.Context, key string) (map[string]string, error) {
	m, err := d.client.HGetAll(ctx, key).Result()
	if err == nil {
		return m, nil
	}
	return d.client.HGetAll(ctx, key).Result()
}

func (d *RedisDirectory) Close() error { return d.client.Close() }

func metaKey(id string) string { return "user:meta:" + id }

// Static serves a fixed user set. Used when no Redis is configured and in
// tests.
type Static map[string]models.UserInfo

func (s Static) Lookup(ctx context.Context, userID string) (models.UserInfo, error) {
	if info, ok := s[userID]; ok {
		return info, nil
	}
	return models.UserInfo{ID: userID}, nil
}
