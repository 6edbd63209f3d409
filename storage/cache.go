package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-kanban/actions"
	"prism-kanban/domain"
)

// Backend is a board store that can serve snapshots and run mutations.
type Backend interface {
	actions.Store
	Board(ctx context.Context, projectID string) (domain.Board, error)
}

// Cache serves board snapshots from Redis and evicts a project's snapshot
// whenever one of its transactions commits. Each commit also bumps a
// per-project generation; a snapshot is written back only if the generation
// read before loading it is still current.
type Cache struct {
	base  Backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache wraps base. A nil client or zero ttl disables caching.
func NewCache(base Backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) Board(ctx context.Context, projectID string) (domain.Board, error) {
	if board, ok := c.load(ctx, projectID); ok {
		return board, nil
	}
	gen := c.generation(ctx, projectID)
	board, err := c.base.Board(ctx, projectID)
	if err != nil {
		return domain.Board{}, err
	}
	c.store(ctx, board, gen)
	return board, nil
}

func (c *Cache) FindTaskProject(ctx context.Context, taskID string) (string, error) {
	return c.base.FindTaskProject(ctx, taskID)
}

func (c *Cache) WithinProjectTx(ctx context.Context, projectID string, fn func(tx actions.Tx) error) error {
	if err := c.base.WithinProjectTx(ctx, projectID, fn); err != nil {
		return err
	}
	c.evict(ctx, projectID)
	return nil
}

func (c *Cache) load(ctx context.Context, projectID string) (domain.Board, bool) {
	if c.redis == nil {
		return domain.Board{}, false
	}
	data, err := c.redis.Get(ctx, boardCacheKey(projectID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.WithError(err).WithField("project", projectID).Warn("board cache read failed")
			_ = c.redis.Del(ctx, boardCacheKey(projectID)).Err()
		}
		return domain.Board{}, false
	}
	var board domain.Board
	if err := sonic.Unmarshal(data, &board); err != nil {
		_ = c.redis.Del(ctx, boardCacheKey(projectID)).Err()
		return domain.Board{}, false
	}
	return board, true
}

// storeIfCurrent sets KEYS[2] only while KEYS[1] still holds ARGV[1].
var storeIfCurrent = redis.NewScript(`
local gen = redis.call('GET', KEYS[1]) or '0'
if gen ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// generation returns "" when redis is unavailable, which disables the
// write-back for this read.
func (c *Cache) generation(ctx context.Context, projectID string) string {
	if c.redis == nil || c.ttl == 0 {
		return ""
	}
	gen, err := c.redis.Get(ctx, boardGenKey(projectID)).Result()
	if errors.Is(err, redis.Nil) {
		return "0"
	}
	if err != nil {
		log.WithError(err).WithField("project", projectID).Warn("board cache generation read failed")
		return ""
	}
	return gen
}

func (c *Cache) store(ctx context.Context, board domain.Board, gen string) {
	if c.redis == nil || c.ttl == 0 || gen == "" {
		return
	}
	data, err := sonic.Marshal(board)
	if err != nil {
		return
	}
	ttl := c.ttl.Milliseconds()
	if ttl < 1 {
		ttl = 1
	}
	keys := []string{boardGenKey(board.ProjectID), boardCacheKey(board.ProjectID)}
	if err := storeIfCurrent.Run(ctx, c.redis, keys, gen, data, ttl).Err(); err != nil {
		log.WithError(err).WithField("project", board.ProjectID).Warn("board cache write failed")
	}
}

func (c *Cache) evict(ctx context.Context, projectID string) {
	if c.redis == nil {
		return
	}
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, boardGenKey(projectID))
		pipe.Del(ctx, boardCacheKey(projectID))
		return nil
	})
	if err != nil {
		log.WithError(err).WithField("project", projectID).Warn("board cache eviction failed")
	}
}

func boardCacheKey(projectID string) string {
	return "board:" + projectID
}

func boardGenKey(projectID string) string {
	return "board-gen:" + projectID
}
