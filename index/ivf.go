package index

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rushteam/vecrec/core"
	"github.com/rushteam/vecrec/pkg/vectormath"
)

// IVF 是倒排索引：k-means 训练 nlist 个簇中心，向量挂在最近的簇上，
// 查询只扫描 nprobe 个最近的簇。以召回率换延迟，适合大语料。
//
// 显式训练状态：Build 完成训练之前 Search/Upsert 都会报错。
// Upsert 插入最近的已有簇，簇平衡逐渐退化——这是接受的近似，
// 下次全量 Build 会修复。
type IVF struct {
	opts Options

	mu    sync.RWMutex
	state *ivfState
}

type ivfState struct {
	dim    int
	metric core.MetricType

	centroids []core.Vector
	lists     [][]int // 簇 -> 向量下标列表

	ids        []int64
	vecs       []core.Vector
	payloads   []core.Payload
	pos        map[int64]int
	centroidOf []int // 向量下标 -> 所属簇
}

// NewIVF 创建 IVF 索引。
func NewIVF(opts Options) *IVF {
	opts.Type = "ivf"
	return &IVF{opts: opts}
}

func (v *IVF) Name() string { return "ivf" }

func (v *IVF) nlist(corpusSize int) int {
	n := v.opts.NList
	if n <= 0 {
		n = 100
	}
	// 每簇至少 10 个向量才值得分簇（原则同 FAISS 的 min(100, N/10) 习惯）
	if cap := corpusSize / 10; n > cap {
		n = cap
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (v *IVF) nprobe(nlist int) int {
	p := v.opts.NProbe
	if p <= 0 {
		p = 8
	}
	if p > nlist {
		p = nlist
	}
	return p
}

func (v *IVF) trainIters() int {
	if v.opts.TrainIters > 0 {
		return v.opts.TrainIters
	}
	return 10
}

// Build 训练量化器并构建倒排表，完成后原子发布。
func (v *IVF) Build(ctx context.Context, source core.VectorStore) error {
	c, err := collectCorpus(ctx, source)
	if err != nil {
		return err
	}

	st := &ivfState{
		dim:        c.dim,
		metric:     c.metric,
		ids:        make([]int64, len(c.points)),
		vecs:       make([]core.Vector, len(c.points)),
		payloads:   make([]core.Payload, len(c.points)),
		pos:        make(map[int64]int, len(c.points)),
		centroidOf: make([]int, len(c.points)),
	}
	for i, p := range c.points {
		st.ids[i] = p.ID
		st.vecs[i] = p.Vector
		st.payloads[i] = p.Payload
		st.pos[p.ID] = i
	}

	nlist := v.nlist(len(st.vecs))
	st.centroids = v.train(ctx, st, nlist)
	if err := ctx.Err(); err != nil {
		return err
	}

	st.lists = make([][]int, len(st.centroids))
	for i := range st.vecs {
		ci := nearestCentroid(st.metric, st.centroids, st.vecs[i])
		st.centroidOf[i] = ci
		st.lists[ci] = append(st.lists[ci], i)
	}

	v.mu.Lock()
	v.state = st
	v.mu.Unlock()
	return nil
}

// train 执行 k-means：等距采样初始化中心，迭代分配+重算，
// 余弦度量下中心重新归一化，空簇保留旧中心。
func (v *IVF) train(ctx context.Context, st *ivfState, nlist int) []core.Vector {
	centroids := make([]core.Vector, nlist)
	step := len(st.vecs) / nlist
	if step < 1 {
		step = 1
	}
	for i := 0; i < nlist; i++ {
		centroids[i] = st.vecs[(i*step)%len(st.vecs)].Clone()
	}

	assign := make([]int, len(st.vecs))
	for iter := 0; iter < v.trainIters(); iter++ {
		if ctx.Err() != nil {
			return centroids
		}
		for i, vec := range st.vecs {
			assign[i] = nearestCentroid(st.metric, centroids, vec)
		}

		sums := make([][]float64, nlist)
		counts := make([]int, nlist)
		for i := range sums {
			sums[i] = make([]float64, st.dim)
		}
		for i, vec := range st.vecs {
			ci := assign[i]
			counts[ci]++
			for d, x := range vec {
				sums[ci][d] += x
			}
		}
		for ci := range centroids {
			if counts[ci] == 0 {
				continue
			}
			mean := make(core.Vector, st.dim)
			for d := range mean {
				mean[d] = sums[ci][d] / float64(counts[ci])
			}
			if st.metric == core.MetricCosine {
				mean = vectormath.Normalize(mean)
			}
			centroids[ci] = mean
		}
	}
	return centroids
}

// nearestCentroid 返回分数最高（距离最近）的簇下标。
func nearestCentroid(metric core.MetricType, centroids []core.Vector, vec core.Vector) int {
	best := 0
	bestScore := score(metric, vec, centroids[0])
	for i := 1; i < len(centroids); i++ {
		if s := score(metric, vec, centroids[i]); s > bestScore {
			best = i
			bestScore = s
		}
	}
	return best
}

// Search 扫描 nprobe 个最近簇的倒排表。
// 带过滤时先超采样 3×k 再过滤截断。
func (v *IVF) Search(ctx context.Context, query core.Vector, k int, filter core.FilterMatcher) ([]core.ScoredID, error) {
	if err := validateK(k, v.opts.maxK()); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	st := v.state
	if st == nil {
		return nil, errNotBuilt(v.Name())
	}
	if len(query) != st.dim {
		return nil, core.NewDomainError(core.ModuleIndex, core.ErrorCodeDimensionMismatch,
			fmt.Sprintf("index: query dimension %d, index expects %d", len(query), st.dim))
	}

	// 选 nprobe 个分数最高的簇
	type rankedList struct {
		ci    int
		score float64
	}
	ranked := make([]rankedList, len(st.centroids))
	for ci, cvec := range st.centroids {
		ranked[ci] = rankedList{ci: ci, score: score(st.metric, query, cvec)}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	probe := v.nprobe(len(st.centroids))

	var scored []core.ScoredID
	for _, r := range ranked[:probe] {
		for _, pos := range st.lists[r.ci] {
			scored = append(scored, core.ScoredID{ID: st.ids[pos], Score: score(st.metric, query, st.vecs[pos])})
		}
	}
	sortScored(scored)

	if filter == nil {
		return truncate(scored, k), nil
	}

	fetch := overfetchK(k, len(scored))
	if len(scored) > fetch {
		scored = scored[:fetch]
	}
	kept := scored[:0]
	for _, s := range scored {
		if filter.Matches(st.payloads[st.pos[s.ID]]) {
			kept = append(kept, s)
		}
	}
	return truncate(kept, k), nil
}

// BatchSearch 并行展开到单查询实现，结果与 queries 对齐。
func (v *IVF) BatchSearch(ctx context.Context, queries []core.Vector, k int, filter core.FilterMatcher) ([][]core.ScoredID, error) {
	return batchSearch(ctx, queries, k, filter, v.Search)
}

// Upsert 把 Point 插入最近的已有簇（不重新训练量化器）。
func (v *IVF) Upsert(ctx context.Context, point core.Point) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	st := v.state
	if st == nil {
		return errNotBuilt(v.Name())
	}
	if len(point.Vector) != st.dim {
		return core.NewDomainError(core.ModuleIndex, core.ErrorCodeDimensionMismatch,
			fmt.Sprintf("index: point %d has dimension %d, index expects %d", point.ID, len(point.Vector), st.dim))
	}

	// 拷入：调用方事后改动自己的 point 不得影响索引
	vec := point.Vector.Clone()
	payload := point.Payload.Clone()
	ci := nearestCentroid(st.metric, st.centroids, vec)

	if pos, ok := st.pos[point.ID]; ok {
		st.vecs[pos] = vec
		st.payloads[pos] = payload
		old := st.centroidOf[pos]
		if old != ci {
			st.lists[old] = removePos(st.lists[old], pos)
			st.lists[ci] = append(st.lists[ci], pos)
			st.centroidOf[pos] = ci
		}
		return nil
	}

	pos := len(st.ids)
	st.ids = append(st.ids, point.ID)
	st.vecs = append(st.vecs, vec)
	st.payloads = append(st.payloads, payload)
	st.pos[point.ID] = pos
	st.centroidOf = append(st.centroidOf, ci)
	st.lists[ci] = append(st.lists[ci], pos)
	return nil
}

func removePos(list []int, pos int) []int {
	for i, p := range list {
		if p == pos {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func (v *IVF) Size() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.state == nil {
		return 0
	}
	return len(v.state.ids)
}

// Trained 返回量化器是否已完成训练。
func (v *IVF) Trained() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state != nil
}

// 确保实现了接口
var _ core.IndexBackend = (*IVF)(nil)
