package redis

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/turtacn/karin-compliance/internal/domain/lifecycle"
	"github.com/turtacn/karin-compliance/pkg/errors"
)

var alertSwapScript = redis.NewScript(`
	local prev = redis.call("HGET", KEYS[1], ARGV[1])
	redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
	if tonumber(ARGV[3]) > 0 then
		redis.call("PEXPIRE", KEYS[1], ARGV[3])
	end
	return prev
`)

var alertRevertScript = redis.NewScript(`
	if redis.call("HGET", KEYS[1], ARGV[1]) ~= ARGV[2] then
		return 0
	end
	if ARGV[3] == "" then
		redis.call("HDEL", KEYS[1], ARGV[1])
	else
		redis.call("HSET", KEYS[1], ARGV[1], ARGV[3])
	end
	return 1
`)

// AlertStateStore keeps the last observed alert level of each case in one
// hash per case, keyed by stage.  The hash expires ttl after its last write.
type AlertStateStore struct {
	client *Client
	ttl    time.Duration
}

// NewAlertStateStore returns a store whose hashes expire after ttl; zero
// keeps them forever.
func NewAlertStateStore(client *Client, ttl time.Duration) *AlertStateStore {
	return &AlertStateStore{client: client, ttl: ttl}
}

func (s *AlertStateStore) key(caseID string) string {
	return s.client.Key("alert", "state", caseID)
}

// LastLevels returns the remembered level per stage.  An unknown case yields
// an empty map.
func (s *AlertStateStore) LastLevels(ctx context.Context, caseID string) (map[domain.ProcessStage]domain.AlertLevel, error) {
	rdb, err := s.client.Universal()
	if err != nil {
		return nil, err
	}
	raw, err := rdb.HGetAll(ctx, s.key(caseID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCacheError, "failed to read alert state").WithDetail(caseID)
	}
	out := make(map[domain.ProcessStage]domain.AlertLevel, len(raw))
	for field, level := range raw {
		stage, err := domain.ParseStage(field)
		if err != nil {
			continue
		}
		out[stage] = domain.AlertLevel(level)
	}
	return out, nil
}

// SwapLevel stores level for the stage and returns the level it replaced in
// one round trip, so concurrent scans of a case never both observe the same
// change.  known is false when nothing was stored for the stage.
func (s *AlertStateStore) SwapLevel(ctx context.Context, caseID string, stage domain.ProcessStage, level domain.AlertLevel) (domain.AlertLevel, bool, error) {
	rdb, err := s.client.Universal()
	if err != nil {
		return "", false, err
	}
	prev, err := alertSwapScript.Run(ctx, rdb, []string{s.key(caseID)}, string(stage), string(level), s.ttl.Milliseconds()).Text()
	switch {
	case stderrors.Is(err, redis.Nil):
		return "", false, nil
	case err != nil:
		return "", false, errors.Wrap(err, errors.ErrCodeCacheError, "failed to swap alert state").WithDetail(caseID)
	}
	return domain.AlertLevel(prev), true, nil
}

// RevertLevel undoes a SwapLevel whose alert reached nobody.  It restores
// prev, or forgets the stage when prev was unknown, but only while the stored
// level is still level.
func (s *AlertStateStore) RevertLevel(ctx context.Context, caseID string, stage domain.ProcessStage, level, prev domain.AlertLevel, known bool) error {
	rdb, err := s.client.Universal()
	if err != nil {
		return err
	}
	restore := ""
	if known {
		restore = string(prev)
	}
	if err := alertRevertScript.Run(ctx, rdb, []string{s.key(caseID)}, string(stage), string(level), restore).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to revert alert state").WithDetail(caseID)
	}
	return nil
}

// Invalidate forgets every level remembered for the case.
func (s *AlertStateStore) Invalidate(ctx context.Context, caseID string) error {
	rdb, err := s.client.Universal()
	if err != nil {
		return err
	}
	if err := rdb.Del(ctx, s.key(caseID)).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to invalidate alert state").WithDetail(caseID)
	}
	return nil
}
