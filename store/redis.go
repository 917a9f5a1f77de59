package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rushteam/vecrec/core"
)

// RedisRatingStore 是 Redis 实现的评分存储。
// 生产环境常用，支持持久化、集群、哨兵等。
//
// 数据布局：
//   - 评分：HSET  {prefix}:rating:{userID}  field=itemID value=rating
//   - 历史：ZADD  {prefix}:history:{userID} score=毫秒时间戳 member=itemID
//
// Apply 使用同步命令，返回即可读（满足"写后读到"的顺序性约定）。
type RedisRatingStore struct {
	client *redis.Client
	prefix string
}

// NewRedisRatingStore 创建 Redis 评分存储并校验连通性。
func NewRedisRatingStore(addr string, db int, prefix string) (*RedisRatingStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, core.NewDomainError(core.ModuleStore, core.ErrorCodeStoreError, "store: redis ping failed: "+err.Error())
	}
	if prefix == "" {
		prefix = "vecrec"
	}
	return &RedisRatingStore{client: client, prefix: prefix}, nil
}

func (r *RedisRatingStore) Name() string { return "redis_rating" }

func (r *RedisRatingStore) ratingKey(userID int64) string {
	return fmt.Sprintf("%s:rating:%d", r.prefix, userID)
}

func (r *RedisRatingStore) historyKey(userID int64) string {
	return fmt.Sprintf("%s:history:%d", r.prefix, userID)
}

// Apply 持久化一条评分并把物品移动到历史序列尾部。
func (r *RedisRatingStore) Apply(ctx context.Context, userID, itemID int64, rating float64, ts time.Time) error {
	item := strconv.FormatInt(itemID, 10)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.ratingKey(userID), item, rating)
	pipe.ZAdd(ctx, r.historyKey(userID), redis.Z{
		Score:  float64(ts.UnixMilli()),
		Member: item,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return core.NewDomainError(core.ModuleStore, core.ErrorCodeStoreError, "store: apply rating failed: "+err.Error())
	}
	return nil
}

// History 返回用户按时间升序的交互物品序列（最近的在尾部）。
func (r *RedisRatingStore) History(ctx context.Context, userID int64) ([]int64, error) {
	members, err := r.client.ZRange(ctx, r.historyKey(userID), 0, -1).Result()
	if err != nil {
		return nil, core.NewDomainError(core.ModuleStore, core.ErrorCodeStoreError, "store: read history failed: "+err.Error())
	}
	out := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (r *RedisRatingStore) Close() error {
	return r.client.Close()
}

// RedisMetadataStore 是 Redis 实现的元数据存储适配器。
// Payload 以 JSON 存储在 {prefix}:meta:{itemID}。
type RedisMetadataStore struct {
	client *redis.Client
	prefix string
}

// NewRedisMetadataStore 创建 Redis 元数据存储。
func NewRedisMetadataStore(addr string, db int, prefix string) (*RedisMetadataStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, core.NewDomainError(core.ModuleStore, core.ErrorCodeStoreError, "store: redis ping failed: "+err.Error())
	}
	if prefix == "" {
		prefix = "vecrec"
	}
	return &RedisMetadataStore{client: client, prefix: prefix}, nil
}

func (r *RedisMetadataStore) Name() string { return "redis_metadata" }

func (r *RedisMetadataStore) metaKey(itemID int64) string {
	return fmt.Sprintf("%s:meta:%d", r.prefix, itemID)
}

// Get 返回物品的最新 Payload。
func (r *RedisMetadataStore) Get(ctx context.Context, itemID int64) (core.Payload, error) {
	raw, err := r.client.Get(ctx, r.metaKey(itemID)).Bytes()
	if err == redis.Nil {
		return nil, core.NewDomainError(core.ModuleStore, core.ErrorCodeNotFound,
			fmt.Sprintf("store: metadata for item %d not found", itemID))
	}
	if err != nil {
		return nil, core.NewDomainError(core.ModuleStore, core.ErrorCodeStoreError, "store: read metadata failed: "+err.Error())
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, core.NewDomainError(core.ModuleStore, core.ErrorCodeStoreError, "store: malformed metadata payload: "+err.Error())
	}
	return normalizePayload(decoded), nil
}

// Set 写入物品 Payload（导出管道使用）。
func (r *RedisMetadataStore) Set(ctx context.Context, itemID int64, payload core.Payload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return core.NewDomainError(core.ModuleStore, core.ErrorCodeInvalidInput, "store: payload not serializable: "+err.Error())
	}
	if err := r.client.Set(ctx, r.metaKey(itemID), raw, 0).Err(); err != nil {
		return core.NewDomainError(core.ModuleStore, core.ErrorCodeStoreError, "store: write metadata failed: "+err.Error())
	}
	return nil
}

func (r *RedisMetadataStore) Close() error {
	return r.client.Close()
}

// normalizePayload 把 JSON 解码产物收敛到 Payload 的类型约定：
// string / float64 / []string。其余类型原样保留，由过滤器按"字段缺失"处理。
func normalizePayload(raw map[string]any) core.Payload {
	out := make(core.Payload, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case []any:
			strs := make([]string, 0, len(val))
			ok := true
			for _, e := range val {
				s, isStr := e.(string)
				if !isStr {
					ok = false
					break
				}
				strs = append(strs, s)
			}
			if ok {
				out[k] = strs
				continue
			}
			out[k] = v
		default:
			out[k] = v
		}
	}
	return out
}

// 确保实现了接口
var (
	_ core.RatingStore   = (*RedisRatingStore)(nil)
	_ core.MetadataStore = (*RedisMetadataStore)(nil)
)
