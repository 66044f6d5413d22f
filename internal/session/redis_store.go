package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"StarkFinder/internal/extraction"
)

// RedisStoreConfig 描述 Redis 会话存储的连接参数。
type RedisStoreConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisStore 把会话放在 Redis 中，过期完全交给键的 TTL。
// 待确认意图使用独立的键，TakePending 借助 GETDEL 保持原子性。
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore 创建 Redis 会话存储。
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "starkfinder:session:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}, nil
}

func (r *RedisStore) sessionKey(key string) string {
	return r.prefix + key
}

func (r *RedisStore) pendingKey(key string) string {
	return r.prefix + key + ":pending"
}

// Get 实现 Store 接口。键过期后自动消失，天然满足
// "过期会话绝不授权执行" 的要求。
func (r *RedisStore) Get(ctx context.Context, key string) (*Session, error) {
	raw, err := r.client.Get(ctx, r.sessionKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取会话失败: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("解析会话数据失败: %w", err)
	}

	pendingRaw, err := r.client.Get(ctx, r.pendingKey(key)).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("读取待确认意图失败: %w", err)
	}
	if len(pendingRaw) > 0 {
		var intent extraction.TransactionIntent
		if err := json.Unmarshal(pendingRaw, &intent); err != nil {
			return nil, fmt.Errorf("解析待确认意图失败: %w", err)
		}
		sess.Pending = &intent
	}
	return &sess, nil
}

// Upsert 实现 Store 接口。单个会话由同一用户顺序驱动，
// 读改写配合 last-write-wins 已经足够。
func (r *RedisStore) Upsert(ctx context.Context, key string, update Update) (*Session, error) {
	sess, err := r.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		sess = &Session{Key: key, CreatedAt: time.Now().Unix()}
	} else if err != nil {
		return nil, err
	}

	if update.WalletAddress != nil {
		sess.WalletAddress = *update.WalletAddress
	}
	if update.SigningCredential != nil {
		sess.SigningCredential = *update.SigningCredential
	}
	if update.IsGroup != nil {
		sess.IsGroup = *update.IsGroup
	}
	sess.LastActivity = time.Now().Unix()

	if err := r.save(ctx, key, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Touch 实现 Store 接口。
func (r *RedisStore) Touch(ctx context.Context, key string, isGroup bool) (*Session, error) {
	sess, err := r.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		sess = &Session{Key: key, IsGroup: isGroup, CreatedAt: time.Now().Unix()}
	} else if err != nil {
		return nil, err
	}
	sess.LastActivity = time.Now().Unix()
	if err := r.save(ctx, key, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// SetPending 实现 Store 接口。
func (r *RedisStore) SetPending(ctx context.Context, key string, intent *extraction.TransactionIntent) error {
	exists, err := r.client.Exists(ctx, r.sessionKey(key)).Result()
	if err != nil {
		return fmt.Errorf("检查会话存在性失败: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	encoded, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("序列化待确认意图失败: %w", err)
	}
	if err := r.client.Set(ctx, r.pendingKey(key), encoded, r.ttl).Err(); err != nil {
		return fmt.Errorf("写入待确认意图失败: %w", err)
	}
	return nil
}

// TakePending 实现 Store 接口。GETDEL 保证同一意图至多被取到一次。
func (r *RedisStore) TakePending(ctx context.Context, key string) (*extraction.TransactionIntent, error) {
	raw, err := r.client.GetDel(ctx, r.pendingKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		if exists, existsErr := r.client.Exists(ctx, r.sessionKey(key)).Result(); existsErr == nil && exists == 0 {
			return nil, ErrNotFound
		}
		return nil, ErrNoPending
	}
	if err != nil {
		return nil, fmt.Errorf("取出待确认意图失败: %w", err)
	}
	var intent extraction.TransactionIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return nil, fmt.Errorf("解析待确认意图失败: %w", err)
	}
	return &intent, nil
}

// ClearPending 实现 Store 接口。
func (r *RedisStore) ClearPending(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.pendingKey(key)).Err(); err != nil {
		return fmt.Errorf("清除待确认意图失败: %w", err)
	}
	return nil
}

// Close 释放 Redis 连接。
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) save(ctx context.Context, key string, sess *Session) error {
	// Pending 单独成键，会话主体不重复存储。
	clone := *sess
	clone.Pending = nil
	encoded, err := json.Marshal(&clone)
	if err != nil {
		return fmt.Errorf("序列化会话失败: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.sessionKey(key), encoded, r.ttl)
	// 活跃时间刷新时同步顺延 pending 键的过期时间。
	pipe.Expire(ctx, r.pendingKey(key), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入会话失败: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
