package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rushteam/vecrec/cache"
	"github.com/rushteam/vecrec/core"
	"github.com/rushteam/vecrec/index"
	"github.com/rushteam/vecrec/store"
)

// meanEmbedder 用历史物品向量的均值模拟序列模型，结果确定。
type meanEmbedder struct {
	items core.VectorStore

	mu    sync.Mutex
	calls int
}

func (m *meanEmbedder) Embed(ctx context.Context, history []int64) (core.Vector, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	dim := m.items.Config().Dimension
	out := make(core.Vector, dim)
	n := 0
	for _, id := range history {
		p, err := m.items.Get(ctx, id)
		if err != nil {
			continue
		}
		for i, v := range p.Vector {
			out[i] += v
		}
		n++
	}
	if n > 0 {
		for i := range out {
			out[i] /= float64(n)
		}
	}
	return out, nil
}

func (m *meanEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// memRatingStore 是测试用评分存储，可注入失败。
type memRatingStore struct {
	mu      sync.Mutex
	history map[int64][]int64
	failing bool
}

func newMemRatingStore() *memRatingStore {
	return &memRatingStore{history: make(map[int64][]int64)}
}

func (r *memRatingStore) Apply(ctx context.Context, userID, itemID int64, rating float64, ts time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return core.NewDomainError(core.ModuleStore, core.ErrorCodeStoreError, "store: injected failure")
	}
	r.history[userID] = append(r.history[userID], itemID)
	return nil
}

func (r *memRatingStore) History(ctx context.Context, userID int64) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.history[userID]...), nil
}

// memMetadataStore 是测试用元数据存储。
type memMetadataStore struct {
	mu   sync.Mutex
	data map[int64]core.Payload
}

func (m *memMetadataStore) Get(ctx context.Context, itemID int64) (core.Payload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.data[itemID]
	if !ok {
		return nil, core.ErrStoreNotFound
	}
	return p.Clone(), nil
}

type matcherFunc func(core.Payload) bool

func (f matcherFunc) Matches(p core.Payload) bool { return f(p) }

// testEngine 组装一套完整的测试引擎：6 部电影 + flat 索引 + 缓存。
type testEngine struct {
	svc      *RetrievalService
	items    *store.MemoryVectorStore
	cache    *cache.ShardedCache
	embedder *meanEmbedder
	ratings  *memRatingStore
	metadata *memMetadataStore
}

func newTestEngine(t *testing.T, opts ...Option) *testEngine {
	t.Helper()
	ctx := context.Background()

	items, err := store.NewMemoryVectorStore(core.CollectionConfig{
		Name:      "movies",
		Dimension: 4,
		Metric:    core.MetricCosine,
	})
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}
	points := []core.Point{
		{ID: 1, Vector: core.Vector{1, 0, 0, 0}, Payload: core.Payload{"title": "Heat", "year": 1995.0}},
		{ID: 2, Vector: core.Vector{0.9, 0.1, 0, 0}, Payload: core.Payload{"title": "Ronin", "year": 1998.0}},
		{ID: 3, Vector: core.Vector{0.8, 0.2, 0, 0}, Payload: core.Payload{"title": "Collateral", "year": 2004.0}},
		{ID: 4, Vector: core.Vector{0, 0, 1, 0}, Payload: core.Payload{"title": "Toy Story", "year": 1995.0}},
		{ID: 5, Vector: core.Vector{0, 0, 0.9, 0.1}, Payload: core.Payload{"title": "Shrek", "year": 2001.0}},
		{ID: 6, Vector: core.Vector{0.7, 0.3, 0, 0}, Payload: core.Payload{"title": "Drive", "year": 2011.0}},
	}
	for _, p := range points {
		if err := items.Put(ctx, p); err != nil {
			t.Fatalf("写入 Point %d 失败: %v", p.ID, err)
		}
	}

	idx, err := index.New(index.Options{Type: "flat"})
	if err != nil {
		t.Fatalf("创建索引失败: %v", err)
	}
	if err := idx.Build(ctx, items); err != nil {
		t.Fatalf("构建索引失败: %v", err)
	}

	c := cache.NewSharded(1024, time.Minute)
	t.Cleanup(c.Close)

	emb := &meanEmbedder{items: items}
	ratings := newMemRatingStore()
	metadata := &memMetadataStore{data: make(map[int64]core.Payload)}

	all := append([]Option{
		WithRatingStore(ratings),
		WithMetadataStore(metadata),
	}, opts...)
	svc, err := New(items, idx, c, emb, all...)
	if err != nil {
		t.Fatalf("创建服务失败: %v", err)
	}
	return &testEngine{svc: svc, items: items, cache: c, embedder: emb, ratings: ratings, metadata: metadata}
}

func TestNew_MissingDeps(t *testing.T) {
	if _, err := New(nil, nil, nil, nil); err == nil {
		t.Error("缺少必选依赖应报错")
	}
}

func TestRecommend(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	history := []int64{1, 2}
	rec, err := e.svc.Recommend(ctx, RecommendRequest{UserID: 42, History: history, K: 3})
	if err != nil {
		t.Fatalf("Recommend 失败: %v", err)
	}

	if len(rec.Items) == 0 || len(rec.Items) > 3 {
		t.Fatalf("返回 %d 条, 期望 1-3 条", len(rec.Items))
	}
	// 历史物品绝不出现在结果里
	for _, it := range rec.Items {
		for _, h := range history {
			if it.ID == h {
				t.Errorf("结果包含已交互物品 %d", h)
			}
		}
	}
	// 均值向量靠近动作片簇，top-1 应是 3（与 1/2 最近的未看电影）
	if rec.Items[0].ID != 3 {
		t.Errorf("top-1 = %d, 期望 3", rec.Items[0].ID)
	}
	// payload 已挂上
	if rec.Items[0].Payload["title"] != "Collateral" {
		t.Errorf("payload 未挂载: %+v", rec.Items[0])
	}
	// 分数降序
	for i := 1; i < len(rec.Items); i++ {
		if rec.Items[i].Score > rec.Items[i-1].Score {
			t.Error("结果未按分数降序")
		}
	}
	if rec.Latency <= 0 {
		t.Error("Latency 应大于 0")
	}
}

func TestInvalidK(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	t.Run("Recommend", func(t *testing.T) {
		for _, k := range []int{0, -1, 201} {
			res, err := e.svc.Recommend(ctx, RecommendRequest{UserID: 42, History: []int64{999}, K: k})
			if !core.IsInvalidK(err) {
				t.Errorf("K=%d 应返回 INVALID_K, 实际: %v", k, err)
			}
			// 非法 K 绝不返回结果（截断逻辑对 k<=0 不设防，必须在入口拦截）
			if res != nil {
				t.Errorf("K=%d 返回了 %d 条结果, 期望 nil", k, len(res.Items))
			}
		}
		// 入口校验先于向量解析，外部模型不应被调用
		if n := e.embedder.callCount(); n != 0 {
			t.Errorf("非法 K 下 Embed 被调用 %d 次, 期望 0 次", n)
		}
	})

	t.Run("SimilarTo", func(t *testing.T) {
		if _, err := e.svc.SimilarTo(ctx, 1, 0, nil); !core.IsInvalidK(err) {
			t.Errorf("k=0 应返回 INVALID_K, 实际: %v", err)
		}
	})

	t.Run("SimilarUsers", func(t *testing.T) {
		if _, err := e.svc.SimilarUsers(ctx, 1, 0); !core.IsInvalidK(err) {
			t.Errorf("k=0 应返回 INVALID_K, 实际: %v", err)
		}
	})

	t.Run("BatchRecommend", func(t *testing.T) {
		reqs := []RecommendRequest{{UserID: 1, History: []int64{1}, K: 0}}
		if _, err := e.svc.BatchRecommend(ctx, reqs, 2); !core.IsInvalidK(err) {
			t.Errorf("K=0 的批次应返回 INVALID_K, 实际: %v", err)
		}
	})
}

func TestRecommend_NoHistory(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.svc.Recommend(context.Background(), RecommendRequest{UserID: 42, K: 3})
	if !core.IsNoHistory(err) {
		t.Errorf("空历史应返回 NO_HISTORY, 实际: %v", err)
	}
}

func TestRecommend_Filter(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	f := matcherFunc(func(p core.Payload) bool {
		y, ok := p["year"].(float64)
		return ok && y >= 2000 && y <= 2010
	})
	rec, err := e.svc.Recommend(ctx, RecommendRequest{UserID: 42, History: []int64{1}, K: 5, Filter: f})
	if err != nil {
		t.Fatalf("Recommend 失败: %v", err)
	}
	for _, it := range rec.Items {
		y := it.Payload["year"].(float64)
		if y < 2000 || y > 2010 {
			t.Errorf("结果包含不满足过滤条件的物品 %d (year=%v)", it.ID, y)
		}
	}
}

func TestRecommend_CacheHit(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	req := RecommendRequest{UserID: 42, History: []int64{1, 2}, K: 3}
	if _, err := e.svc.Recommend(ctx, req); err != nil {
		t.Fatalf("首次 Recommend 失败: %v", err)
	}
	if _, err := e.svc.Recommend(ctx, req); err != nil {
		t.Fatalf("二次 Recommend 失败: %v", err)
	}

	// 第二次命中缓存，外部模型只被调用一次
	if n := e.embedder.callCount(); n != 1 {
		t.Errorf("Embed 被调用 %d 次, 期望 1 次", n)
	}
}

func TestRecommend_EmbedTimeout(t *testing.T) {
	ctx := context.Background()

	items, err := store.NewMemoryVectorStore(core.CollectionConfig{
		Name: "movies", Dimension: 2, Metric: core.MetricCosine,
	})
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}
	items.Put(ctx, core.Point{ID: 1, Vector: core.Vector{1, 0}})

	idx, _ := index.New(index.Options{})
	if err := idx.Build(ctx, items); err != nil {
		t.Fatalf("构建索引失败: %v", err)
	}
	c := cache.NewSharded(16, time.Minute)
	defer c.Close()

	// 模拟卡死的远程模型：阻塞到 ctx 超时
	slow := core.EmbedderFunc(func(ctx context.Context, history []int64) (core.Vector, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	svc, err := New(items, idx, c, slow, WithEmbedTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatalf("创建服务失败: %v", err)
	}

	_, err = svc.Recommend(ctx, RecommendRequest{UserID: 1, History: []int64{1}, K: 1})
	if !core.IsTimeout(err) {
		t.Errorf("模型超时应返回 TIMEOUT, 实际: %v", err)
	}
}

func TestRecommend_EmbedderDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	bad := core.EmbedderFunc(func(ctx context.Context, history []int64) (core.Vector, error) {
		return core.Vector{1, 2}, nil // 集合是 4 维
	})
	svc, err := New(e.items, e.svc.index, e.cache, bad)
	if err != nil {
		t.Fatalf("创建服务失败: %v", err)
	}
	_, err = svc.Recommend(ctx, RecommendRequest{UserID: 99, History: []int64{1}, K: 1})
	if !core.IsDimensionMismatch(err) {
		t.Errorf("模型返回错误维度应报 DIMENSION_MISMATCH, 实际: %v", err)
	}
}

func TestSimilarTo(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	res, err := e.svc.SimilarTo(ctx, 1, 3, nil)
	if err != nil {
		t.Fatalf("SimilarTo 失败: %v", err)
	}
	if len(res.Items) != 3 {
		t.Fatalf("返回 %d 条, 期望 3 条", len(res.Items))
	}
	// 探查物品自己绝不出现在结果里
	for _, it := range res.Items {
		if it.ID == 1 {
			t.Error("结果包含探查物品自己")
		}
	}
	if res.Items[0].ID != 2 {
		t.Errorf("与 Heat 最相似的是 %d, 期望 2 (Ronin)", res.Items[0].ID)
	}
}

func TestSimilarTo_NotFound(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.svc.SimilarTo(context.Background(), 999, 3, nil)
	if !core.IsNotFound(err) {
		t.Errorf("不存在的物品应返回 NOT_FOUND, 实际: %v", err)
	}
}

func TestSimilarUsers(t *testing.T) {
	ctx := context.Background()

	t.Run("未配置用户集合", func(t *testing.T) {
		e := newTestEngine(t)
		_, err := e.svc.SimilarUsers(ctx, 1, 3)
		if !core.IsNotSupported(err) {
			t.Errorf("未配置用户集合应返回 NOT_SUPPORTED, 实际: %v", err)
		}
	})

	t.Run("配置后返回相似用户", func(t *testing.T) {
		users, err := store.NewMemoryVectorStore(core.CollectionConfig{
			Name: "users", Dimension: 4, Metric: core.MetricCosine,
		})
		if err != nil {
			t.Fatalf("创建用户存储失败: %v", err)
		}
		for i, vec := range []core.Vector{{1, 0, 0, 0}, {0.9, 0.1, 0, 0}, {0, 0, 1, 0}} {
			users.Put(ctx, core.Point{ID: int64(i + 1), Vector: vec})
		}
		userIdx, _ := index.New(index.Options{})
		if err := userIdx.Build(ctx, users); err != nil {
			t.Fatalf("构建用户索引失败: %v", err)
		}

		e := newTestEngine(t, WithUserCollection(users, userIdx))
		got, err := e.svc.SimilarUsers(ctx, 1, 2)
		if err != nil {
			t.Fatalf("SimilarUsers 失败: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("返回 %d 条, 期望 2 条", len(got))
		}
		for _, s := range got {
			if s.ID == 1 {
				t.Error("结果包含探查用户自己")
			}
		}
		if got[0].ID != 2 {
			t.Errorf("最相似用户 = %d, 期望 2", got[0].ID)
		}
	})
}

func TestRecordInteraction(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	key := core.UserKey(42)

	t.Run("成功后推进世代号", func(t *testing.T) {
		before := e.cache.Generation(key)
		if err := e.svc.RecordInteraction(ctx, 42, 3, 4.5); err != nil {
			t.Fatalf("RecordInteraction 失败: %v", err)
		}
		if e.cache.Generation(key) != before+1 {
			t.Error("评分成功后世代号未推进")
		}
		hist, _ := e.ratings.History(ctx, 42)
		if len(hist) != 1 || hist[0] != 3 {
			t.Errorf("评分未持久化: %v", hist)
		}
	})

	t.Run("底层失败不产生幻影失效", func(t *testing.T) {
		e.ratings.failing = true
		defer func() { e.ratings.failing = false }()

		before := e.cache.Generation(key)
		err := e.svc.RecordInteraction(ctx, 42, 4, 5.0)
		if !core.IsStoreError(err) {
			t.Fatalf("期望 STORE_ERROR, 实际: %v", err)
		}
		if e.cache.Generation(key) != before {
			t.Error("评分写入失败后世代号不应推进")
		}
	})

	t.Run("下一次推荐触发向量重算", func(t *testing.T) {
		req := RecommendRequest{UserID: 7, History: []int64{1}, K: 2}
		if _, err := e.svc.Recommend(ctx, req); err != nil {
			t.Fatalf("Recommend 失败: %v", err)
		}
		calls := e.embedder.callCount()

		if err := e.svc.RecordInteraction(ctx, 7, 4, 4.0); err != nil {
			t.Fatalf("RecordInteraction 失败: %v", err)
		}
		req.History = []int64{1, 4}
		if _, err := e.svc.Recommend(ctx, req); err != nil {
			t.Fatalf("再次 Recommend 失败: %v", err)
		}
		// 世代号失效强制重新调用外部模型
		if e.embedder.callCount() != calls+1 {
			t.Error("评分后的下一次推荐应重新生成用户向量")
		}
	})

	t.Run("元数据刷新同步生效", func(t *testing.T) {
		e.metadata.data[3] = core.Payload{"title": "Collateral", "year": 2004.0, "rating": 4.5}
		if err := e.svc.RecordInteraction(ctx, 42, 3, 5.0); err != nil {
			t.Fatalf("RecordInteraction 失败: %v", err)
		}
		p, err := e.items.Get(ctx, 3)
		if err != nil {
			t.Fatalf("Get 失败: %v", err)
		}
		if p.Payload["rating"] != 4.5 {
			t.Errorf("payload 未刷新: %+v", p.Payload)
		}
	})

	t.Run("未配置评分存储", func(t *testing.T) {
		svc, err := New(e.items, e.svc.index, e.cache, e.embedder)
		if err != nil {
			t.Fatalf("创建服务失败: %v", err)
		}
		if err := svc.RecordInteraction(ctx, 1, 2, 3.0); !core.IsNotSupported(err) {
			t.Errorf("期望 NOT_SUPPORTED, 实际: %v", err)
		}
	})
}

func TestBatchRecommend(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	reqs := []RecommendRequest{
		{UserID: 1, History: []int64{1}, K: 2},
		{UserID: 2, History: []int64{4}, K: 2},
		{UserID: 3, History: []int64{1, 2, 3}, K: 2},
	}
	results, err := e.svc.BatchRecommend(ctx, reqs, 2)
	if err != nil {
		t.Fatalf("BatchRecommend 失败: %v", err)
	}
	if len(results) != len(reqs) {
		t.Fatalf("返回 %d 组, 期望与请求对齐的 %d 组", len(results), len(reqs))
	}

	for i, req := range reqs {
		seen := make(map[int64]struct{})
		for _, h := range req.History {
			seen[h] = struct{}{}
		}
		for _, it := range results[i].Items {
			if _, dup := seen[it.ID]; dup {
				t.Errorf("用户 %d 的结果包含已交互物品 %d", req.UserID, it.ID)
			}
		}
		if len(results[i].Items) > req.K {
			t.Errorf("用户 %d 返回 %d 条, 超过 K=%d", req.UserID, len(results[i].Items), req.K)
		}
	}

	// 批量结果与单独调用一致
	single, err := e.svc.Recommend(ctx, reqs[0])
	if err != nil {
		t.Fatalf("Recommend 失败: %v", err)
	}
	if len(single.Items) != len(results[0].Items) {
		t.Fatalf("批量与单独调用结果长度不同: %d vs %d", len(results[0].Items), len(single.Items))
	}
	for i := range single.Items {
		if single.Items[i].ID != results[0].Items[i].ID {
			t.Errorf("位置 %d: 批量 %d != 单独 %d", i, results[0].Items[i].ID, single.Items[i].ID)
		}
	}

	t.Run("空批次", func(t *testing.T) {
		out, err := e.svc.BatchRecommend(ctx, nil, 2)
		if err != nil || out != nil {
			t.Errorf("空批次应返回 (nil, nil), 实际 (%v, %v)", out, err)
		}
	})

	t.Run("含空历史用户整批失败", func(t *testing.T) {
		bad := []RecommendRequest{
			{UserID: 1, History: []int64{1}, K: 2},
			{UserID: 2, K: 2},
		}
		if _, err := e.svc.BatchRecommend(ctx, bad, 2); !core.IsNoHistory(err) {
			t.Errorf("期望 NO_HISTORY, 实际: %v", err)
		}
	})
}

func TestRebuildIndex(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	// 存储新增一个点之后重建，索引应看到它
	if err := e.items.Put(ctx, core.Point{ID: 7, Vector: core.Vector{1, 0, 0, 0}, Payload: core.Payload{"title": "Thief", "year": 1981.0}}); err != nil {
		t.Fatalf("Put 失败: %v", err)
	}
	if err := e.svc.RebuildIndex(ctx); err != nil {
		t.Fatalf("RebuildIndex 失败: %v", err)
	}

	res, err := e.svc.SimilarTo(ctx, 7, 2, nil)
	if err != nil {
		t.Fatalf("SimilarTo 失败: %v", err)
	}
	if len(res.Items) == 0 {
		t.Fatal("重建后新点应可检索")
	}

	st := e.svc.Health()
	if st.IndexSize != 7 {
		t.Errorf("重建后 IndexSize = %d, 期望 7", st.IndexSize)
	}
	if st.LastBuildTime.IsZero() {
		t.Error("重建后 LastBuildTime 不应为零值")
	}
}

func TestRebuildIndex_EmptyStoreKeepsServing(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	// 清空存储后重建失败，但旧索引版本继续服务
	ids := []int64{1, 2, 3, 4, 5, 6}
	for _, id := range ids {
		if _, err := e.items.Delete(ctx, id); err != nil {
			t.Fatalf("Delete 失败: %v", err)
		}
	}
	if err := e.svc.RebuildIndex(ctx); !core.IsEmptyCorpus(err) {
		t.Fatalf("空语料重建应返回 EMPTY_CORPUS, 实际: %v", err)
	}
	if e.svc.Health().IndexSize != 6 {
		t.Errorf("失败重建后 IndexSize = %d, 期望保留旧版本的 6", e.svc.Health().IndexSize)
	}
}

func TestHealth(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	st := e.svc.Health()
	if st.IndexName != "flat" {
		t.Errorf("IndexName = %s, 期望 flat", st.IndexName)
	}
	if st.IndexSize != 6 || st.StoreSize != 6 {
		t.Errorf("IndexSize/StoreSize = %d/%d, 期望 6/6", st.IndexSize, st.StoreSize)
	}
	if st.CacheHitRate != 0 {
		t.Errorf("无访问时 CacheHitRate = %v, 期望 0", st.CacheHitRate)
	}

	// 一次 miss 一次 hit 之后命中率 0.5
	req := RecommendRequest{UserID: 1, History: []int64{1}, K: 2}
	e.svc.Recommend(ctx, req)
	e.svc.Recommend(ctx, req)
	st = e.svc.Health()
	if st.CacheHitRate != 0.5 {
		t.Errorf("CacheHitRate = %v, 期望 0.5", st.CacheHitRate)
	}
}

func TestRankedResult_IDs(t *testing.T) {
	r := &core.RankedResult{Items: []core.RankedItem{{ID: 3}, {ID: 1}, {ID: 2}}}
	got := r.IDs()
	if len(got) != 3 || got[0] != 3 || got[1] != 1 || got[2] != 2 {
		t.Errorf("IDs() = %v, 期望保持排序 [3 1 2]", got)
	}
}

func TestRebuilder(t *testing.T) {
	e := newTestEngine(t)

	rb := NewRebuilder(e.svc, 10*time.Millisecond)
	rb.Start()
	defer rb.Stop()

	// 启动时立即执行一次，LastBuildTime 很快就位
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !e.svc.Health().LastBuildTime.IsZero() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if e.svc.Health().LastBuildTime.IsZero() {
		t.Fatal("Rebuilder 启动后未执行首次重建")
	}
	if err := rb.LastError(); err != nil {
		t.Errorf("首次重建失败: %v", err)
	}

	t.Run("TriggerNow", func(t *testing.T) {
		if err := rb.TriggerNow(context.Background()); err != nil {
			t.Errorf("手动触发失败: %v", err)
		}
	})

	t.Run("Stop 幂等", func(t *testing.T) {
		rb.Stop()
		rb.Stop()
	})
}

func TestConcurrentRecommend(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 8; i++ {
				userID := int64(g)
				if i%3 == 0 {
					if err := e.svc.RecordInteraction(ctx, userID, int64(i%6+1), 4.0); err != nil {
						errs <- err
						return
					}
					continue
				}
				if _, err := e.svc.Recommend(ctx, RecommendRequest{
					UserID: userID, History: []int64{1, 2}, K: 3,
				}); err != nil {
					errs <- err
					return
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("并发请求失败: %v", err)
	}
}

func TestFetchSize(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		k, extra, expected int
	}{
		{10, 5, 15},
		{10, 0, 10},
		{150, 100, 200}, // 封顶 maxFetch
	}
	for _, tt := range tests {
		if got := e.svc.fetchSize(tt.k, tt.extra); got != tt.expected {
			t.Errorf("fetchSize(%d, %d) = %d, 期望 %d", tt.k, tt.extra, got, tt.expected)
		}
	}
}

func TestRecommend_DeterministicOrder(t *testing.T) {
	// 固定输入下两次推荐结果完全一致
	ctx := context.Background()
	e := newTestEngine(t)

	req := RecommendRequest{UserID: 42, History: []int64{4}, K: 4}
	r1, err := e.svc.Recommend(ctx, req)
	if err != nil {
		t.Fatalf("Recommend 失败: %v", err)
	}
	r2, _ := e.svc.Recommend(ctx, req)

	ids1, ids2 := r1.IDs(), r2.IDs()
	if len(ids1) != len(ids2) {
		t.Fatalf("两次结果长度不同: %d vs %d", len(ids1), len(ids2))
	}
	for i := range ids1 {
		if ids1[i] != ids2[i] {
			t.Errorf("位置 %d: %d != %d", i, ids1[i], ids2[i])
		}
	}
	// 已排序（分数降序）
	if !sort.SliceIsSorted(r1.Items, func(i, j int) bool {
		return r1.Items[i].Score > r1.Items[j].Score
	}) {
		t.Error("结果未按分数降序")
	}
}
