// Package index 实现向量相似度索引的三种策略：
//
//   - Flat：暴力精确扫描，O(N·D)/查询，小语料或作为近似索引的对照基准
//   - IVF：k-means 量化分簇 + 倒排，只扫 nprobe 个簇，以召回率换延迟
//   - HNSW：分层图贪心检索，建图成本高、查询延迟低、召回率可调
//
// 三者都实现 core.IndexBackend；Search/BatchSearch 可以并发调用，
// Build 采用快照替换（构建新版本后原子发布，失败保留旧版本），
// Upsert 采用短暂排他锁（单点写入相对查询量很廉价）。
package index

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/vecrec/core"
	"github.com/rushteam/vecrec/pkg/vectormath"
)

// DefaultMaxK 是单次查询允许的最大 TopK。
const DefaultMaxK = 200

// overfetchFactor 是带过滤查询的超采样倍数：先取 factor*k 个候选，
// 过滤后再截断到 k。候选不足 k 时按实际数量返回，绝不凑数。
const overfetchFactor = 3

// scrollBatch 是 Build 消费 VectorStore.Scroll 的分页大小。
const scrollBatch = 512

// Options 是索引构建参数。
// IVF/HNSW 的参数没有万能默认值，按语料规模与延迟预算配置
// （见 config 包的 yaml 映射）。
type Options struct {
	Type string // flat / ivf / hnsw
	MaxK int    // 单次查询最大 TopK，0 表示 DefaultMaxK

	// IVF
	NList      int // 簇数，0 表示 min(100, N/10)
	NProbe     int // 查询时扫描的簇数，0 表示 8
	TrainIters int // k-means 迭代轮数，0 表示 10

	// HNSW
	M              int   // 每个节点的邻居数，0 表示 16
	EfConstruction int   // 建图候选宽度，0 表示 200
	EfSearch       int   // 查询候选宽度，0 表示 100
	Seed           int64 // 层数采样随机种子，0 表示固定默认
}

// New 根据参数创建索引后端。
func New(opts Options) (core.IndexBackend, error) {
	switch opts.Type {
	case "", "flat":
		return NewFlat(opts), nil
	case "ivf":
		return NewIVF(opts), nil
	case "hnsw":
		return NewHNSW(opts), nil
	default:
		return nil, core.NewDomainError(core.ModuleIndex, core.ErrorCodeInvalidInput,
			fmt.Sprintf("index: unknown backend type %q (supported: flat, ivf, hnsw)", opts.Type))
	}
}

func (o Options) maxK() int {
	if o.MaxK > 0 {
		return o.MaxK
	}
	return DefaultMaxK
}

// validateK 校验 TopK 范围。
func validateK(k, maxK int) error {
	if k < 1 || k > maxK {
		return core.NewDomainError(core.ModuleIndex, core.ErrorCodeInvalidK,
			fmt.Sprintf("index: k must be in [1, %d], got %d", maxK, k))
	}
	return nil
}

// errNotBuilt 返回"索引未构建"错误。
func errNotBuilt(name string) error {
	return core.NewDomainError(core.ModuleIndex, core.ErrorCodeEmptyCorpus,
		fmt.Sprintf("index: %s backend has no built corpus, call Build first", name))
}

// corpus 是 Build 消费完一次 Scroll 之后的语料快照。
type corpus struct {
	dim    int
	metric core.MetricType
	points []core.Point
}

// collectCorpus 消费 source 的完整 Scroll，校验维度一致性。
func collectCorpus(ctx context.Context, source core.VectorStore) (*corpus, error) {
	cfg := source.Config()
	c := &corpus{dim: cfg.Dimension, metric: cfg.Metric}

	cursor := ""
	for {
		batch, next, err := source.Scroll(ctx, cursor, scrollBatch)
		if err != nil {
			return nil, err
		}
		for _, p := range batch {
			if len(p.Vector) != c.dim {
				return nil, core.NewDomainError(core.ModuleIndex, core.ErrorCodeDimensionMismatch,
					fmt.Sprintf("index: point %d has dimension %d, collection expects %d", p.ID, len(p.Vector), c.dim))
			}
		}
		c.points = append(c.points, batch...)
		if next == "" {
			break
		}
		cursor = next
	}

	if len(c.points) == 0 {
		return nil, core.NewDomainError(core.ModuleIndex, core.ErrorCodeEmptyCorpus,
			fmt.Sprintf("index: collection %q is empty", cfg.Name))
	}
	return c, nil
}

// score 按度量方式计算 query 与候选向量的相似度分数。
// 余弦度量要求两侧均为单位向量（存储侧写入时归一化，查询侧由调用方保证），
// 因此退化为内积，查询成本与精确余弦一致但省去归一化。
func score(metric core.MetricType, query, vec []float64) float64 {
	switch metric {
	case core.MetricEuclidean:
		return vectormath.EuclideanSimilarity(query, vec)
	default: // cosine / inner_product
		return vectormath.Dot(query, vec)
	}
}

// sortScored 按分数降序排序，分数相同按 ID 升序（保证确定性）。
func sortScored(results []core.ScoredID) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}

// truncate 截断到 k 并拷贝，避免持有内部大切片。
func truncate(results []core.ScoredID, k int) []core.ScoredID {
	if len(results) > k {
		results = results[:k]
	}
	out := make([]core.ScoredID, len(results))
	copy(out, results)
	return out
}

// overfetchK 计算带过滤查询的实际取数量，封顶语料规模。
func overfetchK(k, corpusSize int) int {
	fetch := k * overfetchFactor
	if fetch > corpusSize {
		fetch = corpusSize
	}
	if fetch < k {
		fetch = k
	}
	return fetch
}

// searchFn 是单查询检索函数，batchSearch 在其上做并行展开。
type searchFn func(ctx context.Context, query core.Vector, k int, f core.FilterMatcher) ([]core.ScoredID, error)

// batchSearch 把单查询检索并行展开到整个批次，结果与 queries 对齐。
// 各查询互相独立：任一查询失败则整批失败（错误不可静默吞掉）。
func batchSearch(ctx context.Context, queries []core.Vector, k int, f core.FilterMatcher, fn searchFn) ([][]core.ScoredID, error) {
	results := make([][]core.ScoredID, len(queries))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(8)

	for i, q := range queries {
		i, q := i, q
		eg.Go(func() error {
			r, err := fn(ctx, q, k, f)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
