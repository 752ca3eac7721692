package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/specialistvlad/buildgridgo/internal/digest"
)

// Redis is a content store backed by a remote redis instance. All keys are
// namespaced so several engines can share one server. Content addressing
// makes writes idempotent, so SetNX is the only coordination needed.
type Redis struct {
	rdb       *redis.Client
	namespace string
}

// NewRedis creates a redis-backed store. The namespace must not be empty;
// every key is prefixed with "<namespace>:cas:".
func NewRedis(opts *redis.Options, namespace string) (*Redis, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	return &Redis{
		rdb:       redis.NewClient(opts),
		namespace: namespace,
	}, nil
}

// Close closes the underlying redis connection. Implements io.Closer.
func (s *Redis) Close() error {
	return s.rdb.Close()
}

// Put stores the content under its digest, keeping whatever value is already
// present for the key.
func (s *Redis) Put(ctx context.Context, content []byte) (digest.Digest, error) {
	d := digest.FromBytes(content)
	if err := s.rdb.SetNX(ctx, s.key(d), content, 0).Err(); err != nil {
		return digest.Digest{}, fmt.Errorf("writing blob %s to redis: %w", d, err)
	}
	return d, nil
}

// Get reads the content for d, or returns ErrNotFound.
func (s *Redis) Get(ctx context.Context, d digest.Digest) ([]byte, error) {
	content, err := s.rdb.Get(ctx, s.key(d)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", d, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob %s from redis: %w", d, err)
	}
	return content, nil
}

// Has reports whether d is present.
func (s *Redis) Has(ctx context.Context, d digest.Digest) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key(d)).Result()
	if err != nil {
		return false, fmt.Errorf("checking blob %s in redis: %w", d, err)
	}
	return n > 0, nil
}

func (s *Redis) key(d digest.Digest) string {
	return s.namespace + ":cas:" + d.String()
}
