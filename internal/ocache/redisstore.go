package ocache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dvlop/opendiamond/internal/odisk"
	"github.com/dvlop/opendiamond/internal/sig"
)

// RedisOAttrStore is a shared out-of-line attribute tier for deployments
// where multiple evaluator processes front the same corpus: materialized
// payloads are keyed by their content signature, so any process that
// computed (or already fetched) a given attribute value can skip refetching
// it from another process's local disk (SPEC_FULL.md §4.C).
type RedisOAttrStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisOAttrStore wraps an existing go-redis client. keyPrefix namespaces
// keys, e.g. "diamond:oattr:".
func NewRedisOAttrStore(client *redis.Client, keyPrefix string) *RedisOAttrStore {
	if keyPrefix == "" {
		keyPrefix = "diamond:oattr:"
	}
	return &RedisOAttrStore{client: client, keyPrefix: keyPrefix}
}

// key is content-addressed by signature alone: identical attribute values
// (e.g. a shared thumbnail produced by the same filter on different but
// visually identical objects) are only ever stored once.
func (s *RedisOAttrStore) key(digest sig.Sig128) string {
	return s.keyPrefix + digest.String()
}

func (s *RedisOAttrStore) Put(ctx context.Context, _ sig.Sig128, _ odisk.OID, _ string, digest sig.Sig128, value []byte) error {
	if err := s.client.Set(ctx, s.key(digest), value, 0).Err(); err != nil {
		return fmt.Errorf("redisstore: set: %w", err)
	}
	return nil
}

func (s *RedisOAttrStore) Get(ctx context.Context, _ sig.Sig128, _ odisk.OID, _ string, digest sig.Sig128) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, s.key(digest)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redisstore: get: %w", err)
	}
	return b, true, nil
}
