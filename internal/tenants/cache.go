package tenants

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"voicegate/pkg/logger"
	"voicegate/pkg/utils"
)

// CachedDirectory serves snapshots from Redis and falls back to Next on a miss.
// Misses (ErrTenantNotFound) are not cached so a newly provisioned number resolves at once.
// Redis failures degrade to Next rather than failing the webhook.
//
// A snapshot is only written if no Invalidate ran while it was being read, so a
// settlement never leaves an older counter behind in the cache. Changes made
// outside this process (plan changes, deprovisioning, number moves) are not
// invalidated and stay visible for up to TTL.
type CachedDirectory struct {
	Next Directory
	RDB  *redis.Client
	TTL  time.Duration
}

func NewCachedDirectory(next Directory, rdb *redis.Client, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{Next: next, RDB: rdb, TTL: ttl}
}

func snapshotKey(number string) string { return "tenant:snapshot:" + number }
func tenantTag(tenantID string) string { return "tenant:keys:" + tenantID }

const epochKey = "tenant:epoch"

func (d *CachedDirectory) Resolve(ctx context.Context, number string, direction Direction) (Snapshot, error) {
	log := logger.From(ctx)

	raw, err := d.RDB.Get(ctx, snapshotKey(number)).Bytes()
	switch {
	case err == nil:
		var s Snapshot
		if jerr := json.Unmarshal(raw, &s); jerr == nil {
			s.Direction = direction
			return s, nil
		}
		log.Warn("tenant cache entry unreadable", zap.String("number", number))
	case !errors.Is(err, redis.Nil):
		log.Warn("tenant cache read failed", zap.String("number", number), zap.Error(err))
	}

	epoch, eerr := utils.TagEpoch(ctx, d.RDB, epochKey)
	if eerr != nil {
		log.Warn("tenant cache epoch read failed", zap.Error(eerr))
	}

	s, err := d.Next.Resolve(ctx, number, direction)
	if err != nil {
		return Snapshot{}, err
	}
	if eerr != nil {
		return s, nil
	}

	if payload, jerr := json.Marshal(s); jerr == nil {
		ok, serr := utils.SetTagged(ctx, d.RDB, snapshotKey(number), tenantTag(s.TenantID), epochKey, epoch, payload, d.TTL)
		switch {
		case serr != nil:
			log.Warn("tenant cache write failed", zap.String("tenant_id", s.TenantID), zap.Error(serr))
		case !ok:
			log.Debug("tenant cache write skipped; invalidated during resolve", zap.String("tenant_id", s.TenantID))
		}
	}
	return s, nil
}

// Invalidate removes every cached snapshot for the tenant.
func (d *CachedDirectory) Invalidate(ctx context.Context, tenantID string) error {
	_, err := utils.InvalidateTag(ctx, d.RDB, tenantTag(tenantID), epochKey)
	return err
}
