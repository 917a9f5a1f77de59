package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/rushteam/vecrec/core"
	"github.com/rushteam/vecrec/pkg/vectormath"
)

// MemoryVectorStore 是内存实现的向量存储，持有一个集合的全部 Point。
//
// 特点：
//   - 纯内存实现，进程重启后数据丢失（索引可单独持久化，见 index 包）
//   - 余弦度量下写入时做 L2 归一化，查询路径不再归一化
//   - 线程安全；Scroll 基于单调插入序号，支持断点续扫
type MemoryVectorStore struct {
	cfg core.CollectionConfig

	mu      sync.RWMutex
	byID    map[int64]*memEntry
	ordered []*memEntry // 按插入序号升序
	nextSeq uint64
}

type memEntry struct {
	seq   uint64
	point core.Point
}

// NewMemoryVectorStore 创建内存向量存储实例。
func NewMemoryVectorStore(cfg core.CollectionConfig) (*MemoryVectorStore, error) {
	cfg = cfg.Normalize()
	if cfg.Dimension <= 0 {
		return nil, core.NewDomainError(core.ModuleStore, core.ErrorCodeInvalidInput, "store: dimension must be greater than 0")
	}
	return &MemoryVectorStore{
		cfg:  cfg,
		byID: make(map[int64]*memEntry),
	}, nil
}

func (m *MemoryVectorStore) Name() string { return "memory" }

func (m *MemoryVectorStore) Config() core.CollectionConfig { return m.cfg }

// Put 插入或整体替换 Point。替换保留原插入序号，新增分配新序号。
func (m *MemoryVectorStore) Put(ctx context.Context, point core.Point) error {
	if len(point.Vector) != m.cfg.Dimension {
		return core.NewDomainError(core.ModuleStore, core.ErrorCodeDimensionMismatch,
			fmt.Sprintf("store: vector dimension %d, collection %q expects %d", len(point.Vector), m.cfg.Name, m.cfg.Dimension))
	}

	stored := point
	stored.Payload = point.Payload.Clone()
	if m.cfg.Metric == core.MetricCosine {
		stored.Vector = vectormath.Normalize(point.Vector)
	} else {
		stored.Vector = point.Vector.Clone()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.byID[point.ID]; ok {
		// 整体替换：vector 与 payload 一起换掉
		old.point = stored
		return nil
	}
	e := &memEntry{seq: m.nextSeq, point: stored}
	m.nextSeq++
	m.byID[point.ID] = e
	m.ordered = append(m.ordered, e)
	return nil
}

// Get 按 ID 查找，返回拷贝，调用方修改不会影响存储。
func (m *MemoryVectorStore) Get(ctx context.Context, id int64) (core.Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.byID[id]
	if !ok {
		return core.Point{}, core.ErrStoreNotFound
	}
	return core.Point{
		ID:      e.point.ID,
		Vector:  e.point.Vector.Clone(),
		Payload: e.point.Payload.Clone(),
	}, nil
}

// Delete 删除 Point，返回其先前是否存在。
func (m *MemoryVectorStore) Delete(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	if !ok {
		return false, nil
	}
	delete(m.byID, id)
	idx := m.searchSeq(e.seq)
	if idx < len(m.ordered) && m.ordered[idx] == e {
		m.ordered = append(m.ordered[:idx], m.ordered[idx+1:]...)
	}
	return true, nil
}

// Scroll 按插入顺序分批遍历。
// 游标是已返回的最大插入序号；序号单调递增，因此一次完整遍历内
// 同一 Point 不会出现两次，并发删除也不会让遍历越界。
func (m *MemoryVectorStore) Scroll(ctx context.Context, cursor string, limit int) ([]core.Point, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 256
	}

	var afterSeq uint64
	var started bool
	if cursor != "" {
		seq, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return nil, "", core.NewDomainError(core.ModuleStore, core.ErrorCodeInvalidInput, "store: malformed scroll cursor")
		}
		afterSeq = seq
		started = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	start := 0
	if started {
		start = sort.Search(len(m.ordered), func(i int) bool {
			return m.ordered[i].seq > afterSeq
		})
	}

	end := start + limit
	if end > len(m.ordered) {
		end = len(m.ordered)
	}
	out := make([]core.Point, 0, end-start)
	for _, e := range m.ordered[start:end] {
		out = append(out, core.Point{
			ID:      e.point.ID,
			Vector:  e.point.Vector.Clone(),
			Payload: e.point.Payload.Clone(),
		})
	}

	next := ""
	if end < len(m.ordered) {
		next = strconv.FormatUint(m.ordered[end-1].seq, 10)
	}
	return out, next, nil
}

func (m *MemoryVectorStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

func (m *MemoryVectorStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID = make(map[int64]*memEntry)
	m.ordered = nil
	return nil
}

// searchSeq 在 ordered 中二分定位插入序号，要求持有锁。
func (m *MemoryVectorStore) searchSeq(seq uint64) int {
	return sort.Search(len(m.ordered), func(i int) bool {
		return m.ordered[i].seq >= seq
	})
}

// 确保实现了接口
var _ core.VectorStore = (*MemoryVectorStore)(nil)
