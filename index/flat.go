package index

import (
	"context"
	"fmt"
	"sync"

	"github.com/rushteam/vecrec/core"
)

// Flat 是暴力精确索引：每次查询全量扫描，O(N·D)。
// 永远精确，适合小语料（≤ 10万级）或作为近似索引的对照基准。
type Flat struct {
	opts Options

	mu    sync.RWMutex
	state *flatState
}

type flatState struct {
	dim      int
	metric   core.MetricType
	ids      []int64
	vecs     []core.Vector
	payloads []core.Payload
	pos      map[int64]int // id -> 数组下标
}

// NewFlat 创建 Flat 索引。
func NewFlat(opts Options) *Flat {
	opts.Type = "flat"
	return &Flat{opts: opts}
}

func (f *Flat) Name() string { return "flat" }

// Build 消费一次完整语料，构建新快照后原子发布。
// 失败时保留先前版本继续服务。
func (f *Flat) Build(ctx context.Context, source core.VectorStore) error {
	c, err := collectCorpus(ctx, source)
	if err != nil {
		return err
	}

	st := &flatState{
		dim:      c.dim,
		metric:   c.metric,
		ids:      make([]int64, len(c.points)),
		vecs:     make([]core.Vector, len(c.points)),
		payloads: make([]core.Payload, len(c.points)),
		pos:      make(map[int64]int, len(c.points)),
	}
	for i, p := range c.points {
		st.ids[i] = p.ID
		st.vecs[i] = p.Vector
		st.payloads[i] = p.Payload
		st.pos[p.ID] = i
	}

	f.mu.Lock()
	f.state = st
	f.mu.Unlock()
	return nil
}

// Search 全量扫描并返回 TopK。过滤条件内联求值，结果天然精确，
// 不足 k 条时按实际数量返回。
func (f *Flat) Search(ctx context.Context, query core.Vector, k int, filter core.FilterMatcher) ([]core.ScoredID, error) {
	if err := validateK(k, f.opts.maxK()); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	st := f.state
	if st == nil {
		return nil, errNotBuilt(f.Name())
	}
	if len(query) != st.dim {
		return nil, core.NewDomainError(core.ModuleIndex, core.ErrorCodeDimensionMismatch,
			fmt.Sprintf("index: query dimension %d, index expects %d", len(query), st.dim))
	}

	scored := make([]core.ScoredID, 0, len(st.ids))
	for i, id := range st.ids {
		if filter != nil && !filter.Matches(st.payloads[i]) {
			continue
		}
		scored = append(scored, core.ScoredID{ID: id, Score: score(st.metric, query, st.vecs[i])})
	}
	sortScored(scored)
	return truncate(scored, k), nil
}

// BatchSearch 并行展开到单查询实现，结果与 queries 对齐。
func (f *Flat) BatchSearch(ctx context.Context, queries []core.Vector, k int, filter core.FilterMatcher) ([][]core.ScoredID, error) {
	return batchSearch(ctx, queries, k, filter, f.Search)
}

// Upsert 并入新增/变更的 Point。Flat 下是平凡操作：短暂排他锁内替换或追加。
func (f *Flat) Upsert(ctx context.Context, point core.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st := f.state
	if st == nil {
		return errNotBuilt(f.Name())
	}
	if len(point.Vector) != st.dim {
		return core.NewDomainError(core.ModuleIndex, core.ErrorCodeDimensionMismatch,
			fmt.Sprintf("index: point %d has dimension %d, index expects %d", point.ID, len(point.Vector), st.dim))
	}

	// 拷入：调用方事后改动自己的 point 不得影响索引
	vec := point.Vector.Clone()
	payload := point.Payload.Clone()

	if i, ok := st.pos[point.ID]; ok {
		st.vecs[i] = vec
		st.payloads[i] = payload
		return nil
	}
	st.pos[point.ID] = len(st.ids)
	st.ids = append(st.ids, point.ID)
	st.vecs = append(st.vecs, vec)
	st.payloads = append(st.payloads, payload)
	return nil
}

func (f *Flat) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.state == nil {
		return 0
	}
	return len(f.state.ids)
}

// 确保实现了接口
var _ core.IndexBackend = (*Flat)(nil)
