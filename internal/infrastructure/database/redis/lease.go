package redis

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/karin-compliance/pkg/errors"
)

var ErrLeaseNotHeld = errors.New(errors.ErrCodeConflict, "lease not held by this owner")

var leaseReleaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

var leaseExtendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Lease is a single-holder lock with an owner token.  While held, a
// watchdog re-extends it every third of its TTL so that a long scan keeps
// it.
type Lease struct {
	client *Client
	name   string
	logger logging.Logger
}

// NewLease returns the lease stored under lock:<name>.
func NewLease(client *Client, name string, log logging.Logger) *Lease {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Lease{client: client, name: name, logger: log.Named("lease")}
}

func (l *Lease) key() string {
	return l.client.Key("lock", l.name)
}

// TryAcquire takes the lease for ttl without waiting.  ok is false when
// another owner holds it.  The returned release stops the watchdog and
// deletes the key only if this owner still holds it.
func (l *Lease) TryAcquire(ctx context.Context, ttl time.Duration) (func(context.Context) error, bool, error) {
	if ttl <= 0 {
		return nil, false, errors.Validation("lease ttl must be positive")
	}
	rdb, err := l.client.Universal()
	if err != nil {
		return nil, false, err
	}

	token := uuid.New().String()
	acquired, err := rdb.SetNX(ctx, l.key(), token, ttl).Result()
	if err != nil {
		return nil, false, errors.Wrap(err, errors.ErrCodeCacheError, "failed to acquire lease").WithDetail(l.name)
	}
	if !acquired {
		return nil, false, nil
	}

	wdCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	extend := func(ctx context.Context, ttl time.Duration) (bool, error) {
		res, err := leaseExtendScript.Run(ctx, rdb, []string{l.key()}, token, ttl.Milliseconds()).Int64()
		if err != nil {
			return false, err
		}
		return res == 1, nil
	}
	go runWatchdog(wdCtx, extend, ttl/3, ttl, l.logger, done)

	var once sync.Once
	release := func(ctx context.Context) error {
		var err error
		once.Do(func() {
			cancel()
			<-done
			res, runErr := leaseReleaseScript.Run(ctx, rdb, []string{l.key()}, token).Int64()
			switch {
			case runErr != nil:
				err = errors.Wrap(runErr, errors.ErrCodeCacheError, "failed to release lease").WithDetail(l.name)
			case res == 0:
				err = ErrLeaseNotHeld
			}
		})
		return err
	}
	return release, true, nil
}

// TTL returns the remaining lifetime of the lease key.
func (l *Lease) TTL(ctx context.Context) (time.Duration, error) {
	rdb, err := l.client.Universal()
	if err != nil {
		return 0, err
	}
	return rdb.PTTL(ctx, l.key()).Result()
}

func runWatchdog(ctx context.Context, extendFn func(context.Context, time.Duration) (bool, error), interval, ttl time.Duration, log logging.Logger, done chan struct{}) {
	defer close(done)
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := extendFn(ctx, ttl)
			if err != nil {
				if ctx.Err() == nil {
					log.Error("Watchdog failed to extend lease", logging.Err(err))
				}
				return
			}
			if !ok {
				log.Warn("Watchdog lost lease")
				return
			}
		}
	}
}
