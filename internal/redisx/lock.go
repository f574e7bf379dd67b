package redisx

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// TryLock takes key for ttl if nobody holds it. unlock only deletes the key
// while it still carries this holder's token.
func TryLock(ctx context.Context, rdb redis.UniversalClient, key string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error) {
	token := uuid.NewString()
	ok, err = rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return func(ctx context.Context) error {
		return unlockScript.Run(ctx, rdb, []string{key}, token).Err()
	}, true, nil
}
