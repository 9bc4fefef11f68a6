package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"StemForge/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const keyPrefix = "stemforge:"

// ErrLocked is returned when another run holds the lock of an output directory.
var ErrLocked = errors.New("output directory is locked by another run")

// 仅当令牌匹配时才续期或删除，避免误释放其他进程的锁
var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// LockKey is the Redis key guarding outputDir.
func LockKey(outputDir string) string {
	if abs, err := filepath.Abs(outputDir); err == nil {
		outputDir = abs
	}
	return keyPrefix + "lock:" + filepath.Clean(outputDir)
}

// RunLock serializes runs against one output directory. The TTL is refreshed in
// the background until Release.
type RunLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
	stop   chan struct{}
	done   chan struct{}
}

// AcquireRunLock takes the lock of outputDir or returns ErrLocked.
func AcquireRunLock(ctx context.Context, client *redis.Client, outputDir string, ttl time.Duration) (*RunLock, error) {
	l := &RunLock{
		client: client,
		key:    LockKey(outputDir),
		token:  uuid.NewString(),
		ttl:    ttl,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	ok, err := client.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to take run lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, outputDir)
	}
	logger.Debug("Took run lock", logger.String("key", l.key))

	go l.keepAlive()
	return l, nil
}

func (l *RunLock) keepAlive() {
	defer close(l.done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				logger.Warn("Failed to refresh run lock", logger.String("key", l.key), logger.ErrorField(err))
			} else if n == 0 {
				logger.Error("Run lock lost", logger.String("key", l.key))
				return
			}
		}
	}
}

// Release stops the refresher and deletes the lock if it is still ours.
func (l *RunLock) Release(ctx context.Context) error {
	close(l.stop)
	<-l.done
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release run lock %s: %w", l.key, err)
	}
	return nil
}
