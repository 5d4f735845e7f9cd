package counter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tatamelab/dojopay/internal/pkg/cache"
	"github.com/tatamelab/dojopay/internal/pkg/database"
)

const credentialUsageKey = "gateway:counters:usage"

// AddCredentialUse increments the pending usage counter for a credential set
// in Redis. Gateway calls are frequent enough that writing the counter row on
// every request would contend with the reconciliation transactions.
func AddCredentialUse(credentialID uint) error {
	ctx := context.Background()
	field := strconv.FormatUint(uint64(credentialID), 10)
	return cache.GetClient().HIncrBy(ctx, credentialUsageKey, field, 1).Err()
}

// FlushAll drains the buffered usage counters into gateway_credentials.
func FlushAll() error {
	return flushUsage()
}

// flushUsage drains the Redis hash atomically and applies batched increments.
// Uses RENAME to a temporary key so in-flight increments are not lost.
func flushUsage() error {
	ctx := context.Background()
	rdb := cache.GetClient()

	tmpKey := fmt.Sprintf("%s:tmp:%d", credentialUsageKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", credentialUsageKey, tmpKey).Err(); err != nil {
		// Key absent means nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") || err.Error() == "redis: nil" {
			return nil
		}
		return err
	}

	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	type pair struct {
		id  uint64
		inc int64
	}
	pairs := make([]pair, 0, len(data))
	for k, v := range data {
		id, perr := strconv.ParseUint(k, 10, 64)
		if perr != nil {
			continue
		}
		inc, ierr := strconv.ParseInt(v, 10, 64)
		if ierr != nil || inc == 0 {
			continue
		}
		pairs = append(pairs, pair{id: id, inc: inc})
	}
	if len(pairs) == 0 {
		return nil
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })

	// UPDATE gateway_credentials SET usage_count = usage_count + CASE id WHEN ? THEN ? ... END,
	// last_used_at = ? WHERE id IN (...)
	var builder strings.Builder
	args := make([]interface{}, 0, len(pairs)*3+1)
	builder.WriteString("UPDATE gateway_credentials SET usage_count = usage_count + CASE id ")
	for _, p := range pairs {
		builder.WriteString(" WHEN ? THEN ?")
		args = append(args, p.id, p.inc)
	}
	builder.WriteString(" END, last_used_at = ? WHERE id IN (")
	args = append(args, time.Now())
	for i, p := range pairs {
		if i > 0 {
			builder.WriteString(",")
		}
		builder.WriteString("?")
		args = append(args, p.id)
	}
	builder.WriteString(")")

	db := database.GetDB()
	return db.Exec(builder.String(), args...).Error
}
