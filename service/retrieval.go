// Package service 提供检索引擎的编排层：
// 对上层 API 暴露 Recommend / SimilarTo / RecordInteraction 等操作，
// 对下编排 VectorStore、IndexBackend、EmbeddingCache 与外部协作方。
//
// 没有进程级单例：所有依赖显式注入，构造一次后按引用传递。
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rushteam/vecrec/core"
	"github.com/rushteam/vecrec/pkg/vectormath"
)

// RetrievalService 是推荐检索服务。
//
// 读路径（Recommend/SimilarTo/BatchRecommend）完全并发安全；
// 写路径（RecordInteraction/RebuildIndex）依赖下层结构的原子性：
// 每个 store/cache/index 操作都是单步原子的，请求中途取消
// 不会留下半更新状态（本层不提供跨操作事务）。
type RetrievalService struct {
	items core.VectorStore
	index core.IndexBackend

	// 用户集合与索引可选，仅 SimilarUsers 需要
	users     core.VectorStore
	userIndex core.IndexBackend

	cache    core.EmbeddingCache
	embedder core.Embedder
	ratings  core.RatingStore
	metadata core.MetadataStore

	embedTimeout  time.Duration
	searchTimeout time.Duration
	maxFetch      int

	mu        sync.RWMutex
	lastBuild time.Time
}

// Option 配置 RetrievalService。
type Option func(*RetrievalService)

// WithEmbedTimeout 设置外部 embed 调用的超时（默认 2s）。
func WithEmbedTimeout(d time.Duration) Option {
	return func(s *RetrievalService) { s.embedTimeout = d }
}

// WithSearchTimeout 设置索引查询的超时（默认 1s）。
func WithSearchTimeout(d time.Duration) Option {
	return func(s *RetrievalService) { s.searchTimeout = d }
}

// WithMaxFetch 设置超采样取数上限（默认 200，与索引 MaxK 对齐）。
func WithMaxFetch(n int) Option {
	return func(s *RetrievalService) {
		if n > 0 {
			s.maxFetch = n
		}
	}
}

// WithRatingStore 注入外部评分存储（RecordInteraction 需要）。
func WithRatingStore(rs core.RatingStore) Option {
	return func(s *RetrievalService) { s.ratings = rs }
}

// WithMetadataStore 注入外部元数据存储（payload 刷新需要）。
func WithMetadataStore(ms core.MetadataStore) Option {
	return func(s *RetrievalService) { s.metadata = ms }
}

// WithUserCollection 注入用户集合与索引（SimilarUsers 需要）。
func WithUserCollection(store core.VectorStore, idx core.IndexBackend) Option {
	return func(s *RetrievalService) {
		s.users = store
		s.userIndex = idx
	}
}

// New 创建检索服务。items/index/cache/embedder 是必选依赖。
func New(items core.VectorStore, idx core.IndexBackend, c core.EmbeddingCache, emb core.Embedder, opts ...Option) (*RetrievalService, error) {
	if items == nil || idx == nil || c == nil || emb == nil {
		return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeInvalidInput,
			"service: items store, index, cache and embedder are required")
	}
	s := &RetrievalService{
		items:         items,
		index:         idx,
		cache:         c,
		embedder:      emb,
		embedTimeout:  2 * time.Second,
		searchTimeout: time.Second,
		maxFetch:      200,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RecommendRequest 是一次推荐请求。
type RecommendRequest struct {
	UserID  int64
	History []int64 // 按时间排序的已交互物品序列
	K       int
	Filter  core.FilterMatcher // 可选
}

// Recommend 为用户生成 TopK 推荐：
// 解析用户向量（缓存/外部模型）→ 超采样检索 → 剔除已交互物品 → 截断。
// 请求内任何阶段失败都直接上抛，不自动重试。
func (s *RetrievalService) Recommend(ctx context.Context, req RecommendRequest) (*core.RankedResult, error) {
	start := time.Now()

	if err := s.validateK(req.K); err != nil {
		return nil, err
	}
	if len(req.History) == 0 {
		return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeNoHistory,
			fmt.Sprintf("service: user %d has empty history, nothing to embed", req.UserID))
	}

	vec, err := s.resolveUserVector(ctx, req.UserID, req.History)
	if err != nil {
		return nil, err
	}

	// 超采样：多取 len(history) 个候选，抵消后续的已看剔除
	fetch := s.fetchSize(req.K, len(req.History))
	candidates, err := s.searchIndex(ctx, s.index, vec, fetch, req.Filter)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{}, len(req.History))
	for _, id := range req.History {
		seen[id] = struct{}{}
	}

	items, err := s.enrich(ctx, candidates, req.K, func(id int64) bool {
		_, ok := seen[id]
		return ok
	})
	if err != nil {
		return nil, err
	}
	return &core.RankedResult{Items: items, Latency: time.Since(start)}, nil
}

// SimilarTo 返回与给定物品最相似的 k 个物品（不含它自己）。
// 查询向量直接取自存储，不经过外部模型。
func (s *RetrievalService) SimilarTo(ctx context.Context, itemID int64, k int, f core.FilterMatcher) (*core.RankedResult, error) {
	start := time.Now()

	if err := s.validateK(k); err != nil {
		return nil, err
	}
	p, err := s.items.Get(ctx, itemID)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeNotFound,
				fmt.Sprintf("service: item %d has no stored vector", itemID))
		}
		return nil, err
	}

	candidates, err := s.searchIndex(ctx, s.index, p.Vector, s.fetchSize(k, 1), f)
	if err != nil {
		return nil, err
	}

	items, err := s.enrich(ctx, candidates, k, func(id int64) bool { return id == itemID })
	if err != nil {
		return nil, err
	}
	return &core.RankedResult{Items: items, Latency: time.Since(start)}, nil
}

// SimilarUsers 基于用户集合返回相似用户（不含该用户自己）。
func (s *RetrievalService) SimilarUsers(ctx context.Context, userID int64, k int) ([]core.ScoredID, error) {
	if err := s.validateK(k); err != nil {
		return nil, err
	}
	if s.users == nil || s.userIndex == nil {
		return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeNotSupported,
			"service: user collection not configured")
	}

	p, err := s.users.Get(ctx, userID)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeNotFound,
				fmt.Sprintf("service: user %d has no stored vector", userID))
		}
		return nil, err
	}

	candidates, err := s.searchIndex(ctx, s.userIndex, p.Vector, s.fetchSize(k, 1), nil)
	if err != nil {
		return nil, err
	}

	out := make([]core.ScoredID, 0, k)
	for _, c := range candidates {
		if c.ID == userID {
			continue
		}
		out = append(out, c)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// RecordInteraction 记录一条评分：先持久化到外部评分存储，
// 成功后才推进用户世代号——底层写入失败时绝不产生幻影失效。
// 向量重算是延迟的（下一次命中世代号不匹配时触发），
// payload 刷新在此同步尽力完成。
func (s *RetrievalService) RecordInteraction(ctx context.Context, userID, itemID int64, rating float64) error {
	if s.ratings == nil {
		return core.NewDomainError(core.ModuleService, core.ErrorCodeNotSupported,
			"service: rating store not configured")
	}

	if err := s.ratings.Apply(ctx, userID, itemID, rating, time.Now()); err != nil {
		return err
	}
	s.cache.Bump(core.UserKey(userID))

	return s.refreshItem(ctx, itemID)
}

// refreshItem 从元数据存储刷新物品 payload 并增量更新索引。
// 元数据不存在按正常情况跳过；其余失败上抛。
func (s *RetrievalService) refreshItem(ctx context.Context, itemID int64) error {
	if s.metadata == nil {
		return nil
	}
	payload, err := s.metadata.Get(ctx, itemID)
	if err != nil {
		if core.IsNotFound(err) {
			return nil
		}
		return err
	}

	p, err := s.items.Get(ctx, itemID)
	if err != nil {
		if core.IsNotFound(err) {
			return nil
		}
		return err
	}
	p.Payload = payload
	if err := s.items.Put(ctx, p); err != nil {
		return err
	}
	return s.index.Upsert(ctx, p)
}

// RebuildIndex 全量重建物品索引（配置了用户集合时一并重建）。
// 构建失败保留先前索引版本继续服务。
func (s *RetrievalService) RebuildIndex(ctx context.Context) error {
	if err := s.index.Build(ctx, s.items); err != nil {
		return err
	}
	if s.users != nil && s.userIndex != nil {
		if err := s.userIndex.Build(ctx, s.users); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.lastBuild = time.Now()
	s.mu.Unlock()
	return nil
}

// Health 返回引擎健康快照。
func (s *RetrievalService) Health() core.HealthStats {
	s.mu.RLock()
	lastBuild := s.lastBuild
	s.mu.RUnlock()

	stats := s.cache.Stats()
	return core.HealthStats{
		IndexSize:     s.index.Size(),
		IndexName:     s.index.Name(),
		CacheHitRate:  stats.HitRate(),
		CacheEntries:  stats.Entries,
		StoreSize:     s.items.Len(),
		LastBuildTime: lastBuild,
	}
}

// resolveUserVector 解析用户向量：世代号校验的缓存命中优先，
// miss 时调用外部模型（带超时）、按集合度量归一化并回填缓存。
func (s *RetrievalService) resolveUserVector(ctx context.Context, userID int64, history []int64) (core.Vector, error) {
	key := core.UserKey(userID)
	gen := s.cache.Generation(key)

	if vec, ok := s.cache.Get(ctx, key, gen); ok {
		return vec, nil
	}

	embedCtx := ctx
	if s.embedTimeout > 0 {
		var cancel context.CancelFunc
		embedCtx, cancel = context.WithTimeout(ctx, s.embedTimeout)
		defer cancel()
	}
	vec, err := s.embedder.Embed(embedCtx, history)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeTimeout,
				fmt.Sprintf("service: embed for user %d timed out after %s", userID, s.embedTimeout))
		}
		return nil, err
	}

	dim := s.items.Config().Dimension
	if len(vec) != dim {
		return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeDimensionMismatch,
			fmt.Sprintf("service: embedder returned dimension %d, collection expects %d", len(vec), dim))
	}
	if s.items.Config().Metric == core.MetricCosine {
		vec = vectormath.Normalize(vec)
	}

	s.cache.Put(ctx, key, vec, gen)
	return vec, nil
}

// searchIndex 执行一次带超时的索引查询。
func (s *RetrievalService) searchIndex(ctx context.Context, idx core.IndexBackend, query core.Vector, k int, f core.FilterMatcher) ([]core.ScoredID, error) {
	searchCtx := ctx
	if s.searchTimeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, s.searchTimeout)
		defer cancel()
	}
	out, err := idx.Search(searchCtx, query, k, f)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeTimeout,
				fmt.Sprintf("service: index search timed out after %s", s.searchTimeout))
		}
		return nil, err
	}
	return out, nil
}

// validateK 校验调用方的 TopK 范围。k 不合法必须在入口显式报错：
// 超采样与截断逻辑对 k <= 0 不设防，放进去会返回整页候选而不是空结果。
func (s *RetrievalService) validateK(k int) error {
	if k < 1 || k > s.maxFetch {
		return core.NewDomainError(core.ModuleService, core.ErrorCodeInvalidK,
			fmt.Sprintf("service: k must be in [1, %d], got %d", s.maxFetch, k))
	}
	return nil
}

// fetchSize 计算超采样取数量：k + extra，封顶 maxFetch。
// 超采样量是调优参数，不是正确性要求——过滤后不足 k 条按实际返回。
func (s *RetrievalService) fetchSize(k, extra int) int {
	fetch := k + extra
	if fetch > s.maxFetch {
		fetch = s.maxFetch
	}
	if fetch < k {
		fetch = k
	}
	return fetch
}

// enrich 剔除 excluded 命中的候选，截断到 k，并挂上存储里的 payload。
func (s *RetrievalService) enrich(ctx context.Context, candidates []core.ScoredID, k int, excluded func(int64) bool) ([]core.RankedItem, error) {
	out := make([]core.RankedItem, 0, k)
	for _, c := range candidates {
		if excluded(c.ID) {
			continue
		}
		item := core.RankedItem{ID: c.ID, Score: c.Score}
		if p, err := s.items.Get(ctx, c.ID); err == nil {
			item.Payload = p.Payload
		} else if !core.IsNotFound(err) {
			return nil, err
		}
		out = append(out, item)
		if len(out) == k {
			break
		}
	}
	return out, nil
}
