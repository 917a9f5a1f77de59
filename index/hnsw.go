package index

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/rushteam/vecrec/core"
)

// HNSW 是分层小世界图索引：上层稀疏图快速定位，底层稠密图精细检索。
// 建图成本高（每次插入做一轮受限检索），查询延迟低，
// 召回率由 efSearch 调节（越大越准越慢）。
type HNSW struct {
	opts Options

	mu    sync.RWMutex
	state *hnswState
}

type hnswState struct {
	dim    int
	metric core.MetricType

	nodes []*hnswNode
	pos   map[int64]int

	entry    int // 入口节点下标，-1 表示空图
	maxLevel int

	m        int // 每节点目标邻居数（0 层为 2m）
	efC      int
	levelMul float64
	rng      *rand.Rand
}

type hnswNode struct {
	id      int64
	vec     core.Vector
	payload core.Payload
	// neighbors[l] 是节点在第 l 层的邻居下标，0 <= l <= 节点自身层级
	neighbors [][]int
}

// NewHNSW 创建 HNSW 索引。
func NewHNSW(opts Options) *HNSW {
	opts.Type = "hnsw"
	return &HNSW{opts: opts}
}

func (h *HNSW) Name() string { return "hnsw" }

func (h *HNSW) m() int {
	if h.opts.M > 0 {
		return h.opts.M
	}
	return 16
}

func (h *HNSW) efConstruction() int {
	if h.opts.EfConstruction > 0 {
		return h.opts.EfConstruction
	}
	return 200
}

func (h *HNSW) efSearch() int {
	if h.opts.EfSearch > 0 {
		return h.opts.EfSearch
	}
	return 100
}

func (h *HNSW) seed() int64 {
	if h.opts.Seed != 0 {
		return h.opts.Seed
	}
	return 1
}

// Build 消费一次完整语料，逐点建图，完成后原子发布。
func (h *HNSW) Build(ctx context.Context, source core.VectorStore) error {
	c, err := collectCorpus(ctx, source)
	if err != nil {
		return err
	}

	m := h.m()
	st := &hnswState{
		dim:      c.dim,
		metric:   c.metric,
		pos:      make(map[int64]int, len(c.points)),
		entry:    -1,
		m:        m,
		efC:      h.efConstruction(),
		levelMul: 1.0 / math.Log(float64(m)),
		rng:      rand.New(rand.NewSource(h.seed())),
	}
	for _, p := range c.points {
		if err := ctx.Err(); err != nil {
			return err
		}
		st.insert(p)
	}

	h.mu.Lock()
	h.state = st
	h.mu.Unlock()
	return nil
}

// randomLevel 采样节点层级：指数衰减，期望邻居规模与 m 匹配。
func (st *hnswState) randomLevel() int {
	u := st.rng.Float64()
	for u == 0 {
		u = st.rng.Float64()
	}
	return int(math.Floor(-math.Log(u) * st.levelMul))
}

func (st *hnswState) mmax(level int) int {
	if level == 0 {
		return st.m * 2
	}
	return st.m
}

// insert 执行标准 HNSW 插入：上层贪心下降到目标层，
// 逐层受限检索选出邻居并双向连边，超额邻居按分数裁剪。
func (st *hnswState) insert(p core.Point) {
	if pos, ok := st.pos[p.ID]; ok {
		// 整体替换：向量原位更新，连边保持（可接受的近似，Build 时修复）
		st.nodes[pos].vec = p.Vector
		st.nodes[pos].payload = p.Payload
		return
	}

	level := st.randomLevel()
	node := &hnswNode{
		id:        p.ID,
		vec:       p.Vector,
		payload:   p.Payload,
		neighbors: make([][]int, level+1),
	}
	pos := len(st.nodes)
	st.nodes = append(st.nodes, node)
	st.pos[p.ID] = pos

	if st.entry < 0 {
		st.entry = pos
		st.maxLevel = level
		return
	}

	ep := st.entry
	for l := st.maxLevel; l > level; l-- {
		ep = st.greedyClosest(p.Vector, ep, l)
	}

	top := level
	if top > st.maxLevel {
		top = st.maxLevel
	}
	for l := top; l >= 0; l-- {
		candidates := st.searchLayer(p.Vector, []int{ep}, st.efC, l)
		limit := st.mmax(l)
		n := len(candidates)
		if n > limit {
			n = limit
		}
		for _, c := range candidates[:n] {
			node.neighbors[l] = append(node.neighbors[l], c.pos)
			nb := st.nodes[c.pos]
			nb.neighbors[l] = append(nb.neighbors[l], pos)
			if len(nb.neighbors[l]) > st.mmax(l) {
				st.pruneNeighbors(nb, l)
			}
		}
		if len(candidates) > 0 {
			ep = candidates[0].pos
		}
	}

	if level > st.maxLevel {
		st.entry = pos
		st.maxLevel = level
	}
}

// pruneNeighbors 把节点在某层的邻居裁剪回 mmax 个，保留分数最高的。
func (st *hnswState) pruneNeighbors(node *hnswNode, level int) {
	ns := node.neighbors[level]
	scored := make([]posScore, len(ns))
	for i, nb := range ns {
		scored[i] = posScore{pos: nb, score: score(st.metric, node.vec, st.nodes[nb].vec)}
	}
	sortPosScores(scored)
	limit := st.mmax(level)
	kept := make([]int, 0, limit)
	for _, s := range scored[:limit] {
		kept = append(kept, s.pos)
	}
	node.neighbors[level] = kept
}

// greedyClosest 在单层做贪心下降：邻居里有更近的就移动，直到局部最优。
func (st *hnswState) greedyClosest(query core.Vector, ep, level int) int {
	cur := ep
	curScore := score(st.metric, query, st.nodes[cur].vec)
	for {
		improved := false
		node := st.nodes[cur]
		if level < len(node.neighbors) {
			for _, nb := range node.neighbors[level] {
				if s := score(st.metric, query, st.nodes[nb].vec); s > curScore {
					cur = nb
					curScore = s
					improved = true
				}
			}
		}
		if !improved {
			return cur
		}
	}
}

// searchLayer 在单层做宽度受限检索，返回按分数降序的至多 ef 个候选。
func (st *hnswState) searchLayer(query core.Vector, eps []int, ef, level int) []posScore {
	visited := make(map[int]struct{}, ef*2)
	cand := &candMaxHeap{}
	res := &resMinHeap{}
	heap.Init(cand)
	heap.Init(res)

	for _, ep := range eps {
		if _, ok := visited[ep]; ok {
			continue
		}
		visited[ep] = struct{}{}
		s := score(st.metric, query, st.nodes[ep].vec)
		heap.Push(cand, posScore{pos: ep, score: s})
		heap.Push(res, posScore{pos: ep, score: s})
	}

	for cand.Len() > 0 {
		c := heap.Pop(cand).(posScore)
		if res.Len() >= ef && c.score < (*res)[0].score {
			break
		}
		node := st.nodes[c.pos]
		if level >= len(node.neighbors) {
			continue
		}
		for _, nb := range node.neighbors[level] {
			if _, ok := visited[nb]; ok {
				continue
			}
			visited[nb] = struct{}{}
			s := score(st.metric, query, st.nodes[nb].vec)
			if res.Len() < ef || s > (*res)[0].score {
				heap.Push(cand, posScore{pos: nb, score: s})
				heap.Push(res, posScore{pos: nb, score: s})
				if res.Len() > ef {
					heap.Pop(res)
				}
			}
		}
	}

	out := make([]posScore, res.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(res).(posScore)
	}
	return out
}

// Search 从顶层入口贪心下降到底层，再做宽度 efSearch 的受限检索。
// 带过滤时先超采样 3×k 再过滤截断。
func (h *HNSW) Search(ctx context.Context, query core.Vector, k int, filter core.FilterMatcher) ([]core.ScoredID, error) {
	if err := validateK(k, h.opts.maxK()); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	st := h.state
	if st == nil || st.entry < 0 {
		return nil, errNotBuilt(h.Name())
	}
	if len(query) != st.dim {
		return nil, core.NewDomainError(core.ModuleIndex, core.ErrorCodeDimensionMismatch,
			fmt.Sprintf("index: query dimension %d, index expects %d", len(query), st.dim))
	}

	fetch := k
	if filter != nil {
		fetch = overfetchK(k, len(st.nodes))
	}
	ef := h.efSearch()
	if ef < fetch {
		ef = fetch
	}

	ep := st.entry
	for l := st.maxLevel; l > 0; l-- {
		ep = st.greedyClosest(query, ep, l)
	}
	candidates := st.searchLayer(query, []int{ep}, ef, 0)
	if len(candidates) > fetch {
		candidates = candidates[:fetch]
	}

	scored := make([]core.ScoredID, 0, len(candidates))
	for _, c := range candidates {
		if filter != nil && !filter.Matches(st.nodes[c.pos].payload) {
			continue
		}
		scored = append(scored, core.ScoredID{ID: st.nodes[c.pos].id, Score: c.score})
	}
	sortScored(scored)
	return truncate(scored, k), nil
}

// BatchSearch 并行展开到单查询实现，结果与 queries 对齐。
func (h *HNSW) BatchSearch(ctx context.Context, queries []core.Vector, k int, filter core.FilterMatcher) ([][]core.ScoredID, error) {
	return batchSearch(ctx, queries, k, filter, h.Search)
}

// Upsert 增量图插入（已存在的点原位替换向量，连边保持到下次 Build）。
func (h *HNSW) Upsert(ctx context.Context, point core.Point) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.state
	if st == nil {
		return errNotBuilt(h.Name())
	}
	if len(point.Vector) != st.dim {
		return core.NewDomainError(core.ModuleIndex, core.ErrorCodeDimensionMismatch,
			fmt.Sprintf("index: point %d has dimension %d, index expects %d", point.ID, len(point.Vector), st.dim))
	}
	// 拷入：调用方事后改动自己的 point 不得影响图结构
	st.insert(core.Point{ID: point.ID, Vector: point.Vector.Clone(), Payload: point.Payload.Clone()})
	return nil
}

func (h *HNSW) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.state == nil {
		return 0
	}
	return len(h.state.nodes)
}

// posScore 是图内部的 (下标, 分数) 对。
type posScore struct {
	pos   int
	score float64
}

func sortPosScores(s []posScore) {
	// 分数降序，分数相同按下标升序
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && (s[j].score > s[j-1].score || (s[j].score == s[j-1].score && s[j].pos < s[j-1].pos)); j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// candMaxHeap 是按分数取最大的候选堆。
type candMaxHeap []posScore

func (h candMaxHeap) Len() int            { return len(h) }
func (h candMaxHeap) Less(i, j int) bool  { return h[i].score > h[j].score }
func (h candMaxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candMaxHeap) Push(x any)         { *h = append(*h, x.(posScore)) }
func (h *candMaxHeap) Pop() any           { old := *h; n := len(old); x := old[n-1]; *h = old[:n-1]; return x }

// resMinHeap 是按分数取最小的结果堆（有界 ef，顶上是最差结果）。
type resMinHeap []posScore

func (h resMinHeap) Len() int            { return len(h) }
func (h resMinHeap) Less(i, j int) bool  { return h[i].score < h[j].score }
func (h resMinHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *resMinHeap) Push(x any)         { *h = append(*h, x.(posScore)) }
func (h *resMinHeap) Pop() any           { old := *h; n := len(old); x := old[n-1]; *h = old[:n-1]; return x }

// 确保实现了接口
var _ core.IndexBackend = (*HNSW)(nil)
