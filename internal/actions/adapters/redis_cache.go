package adapters

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"commandbridge/internal/actions/ports"
)

// RedisCache flushes cache clusters over the Redis protocol. Clusters are
// looked up by their environment-qualified name; unknown names fall back to
// the default client when one is configured.
type RedisCache struct {
	clusters map[string]redis.UniversalClient
	fallback redis.UniversalClient
}

// NewRedisCache builds a CacheFlusher. fallback may be nil.
func NewRedisCache(clusters map[string]redis.UniversalClient, fallback redis.UniversalClient) ports.CacheFlusher {
	if clusters == nil {
		clusters = map[string]redis.UniversalClient{}
	}
	return &RedisCache{clusters: clusters, fallback: fallback}
}

func (c *RedisCache) Flush(ctx context.Context, cluster string) error {
	client, ok := c.clusters[cluster]
	if !ok {
		client = c.fallback
	}
	if client == nil {
		return fmt.Errorf("no cache client configured for cluster %q", cluster)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		return fmt.Errorf("flush cluster %s: %w", cluster, err)
	}
	return nil
}
