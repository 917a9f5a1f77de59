package index

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"math/rand"

	"github.com/rushteam/vecrec/core"
)

// 磁盘布局：魔数 + 定长头部 + gob 编码的后端私有结构（含 ID 映射表）。
// Load 先校验头部与配对 VectorStore 的一致性，不一致立即报 CORRUPT_INDEX，
// 绝不在损坏的索引上返回错误邻居。

var persistMagic = [4]byte{'V', 'R', 'I', 'X'}

const persistVersion uint32 = 1

const (
	backendCodeFlat uint8 = iota
	backendCodeIVF
	backendCodeHNSW
)

type persistHeader struct {
	Version uint32
	Backend uint8
	Metric  uint8
	Dim     uint32
	Count   uint64
}

func init() {
	// Payload 值类型在 gob 里以 any 出现，需要注册具体类型
	gob.Register([]string{})
	gob.Register(map[string]any{})
}

func metricCode(m core.MetricType) uint8 {
	switch m {
	case core.MetricEuclidean:
		return 1
	case core.MetricInnerProduct:
		return 2
	default:
		return 0
	}
}

func corrupt(format string, args ...any) error {
	return core.NewDomainError(core.ModuleIndex, core.ErrorCodeCorruptIndex,
		fmt.Sprintf("index: "+format, args...))
}

func writeHeader(w io.Writer, backend uint8, metric core.MetricType, dim, count int) error {
	if _, err := w.Write(persistMagic[:]); err != nil {
		return err
	}
	hdr := persistHeader{
		Version: persistVersion,
		Backend: backend,
		Metric:  metricCode(metric),
		Dim:     uint32(dim),
		Count:   uint64(count),
	}
	return binary.Write(w, binary.BigEndian, &hdr)
}

// readHeader 读取并校验头部：魔数、版本、后端类型，
// 以及与配对 VectorStore 的维度/度量/点数一致性。
func readHeader(r io.Reader, backend uint8, store core.VectorStore) (*persistHeader, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, corrupt("truncated header: %v", err)
	}
	if !bytes.Equal(magic[:], persistMagic[:]) {
		return nil, corrupt("bad magic %q", magic)
	}
	var hdr persistHeader
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return nil, corrupt("unreadable header: %v", err)
	}
	if hdr.Version != persistVersion {
		return nil, corrupt("unsupported format version %d", hdr.Version)
	}
	if hdr.Backend != backend {
		return nil, corrupt("backend code %d does not match loader %d", hdr.Backend, backend)
	}

	cfg := store.Config()
	if hdr.Dim != uint32(cfg.Dimension) {
		return nil, corrupt("stored dimension %d, paired store has %d", hdr.Dim, cfg.Dimension)
	}
	if hdr.Metric != metricCode(cfg.Metric) {
		return nil, corrupt("stored metric code %d, paired store has %d", hdr.Metric, metricCode(cfg.Metric))
	}
	if hdr.Count != uint64(store.Len()) {
		return nil, corrupt("stored point count %d, paired store has %d", hdr.Count, store.Len())
	}
	return &hdr, nil
}

type flatDTO struct {
	IDs      []int64
	Vecs     []core.Vector
	Payloads []core.Payload
}

// Persist 序列化 Flat 索引状态。
func (f *Flat) Persist(w io.Writer) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	st := f.state
	if st == nil {
		return errNotBuilt(f.Name())
	}
	if err := writeHeader(w, backendCodeFlat, st.metric, st.dim, len(st.ids)); err != nil {
		return err
	}
	return gob.NewEncoder(w).Encode(&flatDTO{IDs: st.ids, Vecs: st.vecs, Payloads: st.payloads})
}

// Load 恢复 Flat 索引状态并重建 ID 映射。
func (f *Flat) Load(r io.Reader, store core.VectorStore) error {
	hdr, err := readHeader(r, backendCodeFlat, store)
	if err != nil {
		return err
	}

	var dto flatDTO
	if err := gob.NewDecoder(r).Decode(&dto); err != nil {
		return corrupt("undecodable flat body: %v", err)
	}
	if uint64(len(dto.IDs)) != hdr.Count || len(dto.Vecs) != len(dto.IDs) || len(dto.Payloads) != len(dto.IDs) {
		return corrupt("flat body length %d inconsistent with header count %d", len(dto.IDs), hdr.Count)
	}

	cfg := store.Config()
	st := &flatState{
		dim:      cfg.Dimension,
		metric:   cfg.Metric,
		ids:      dto.IDs,
		vecs:     dto.Vecs,
		payloads: dto.Payloads,
		pos:      make(map[int64]int, len(dto.IDs)),
	}
	for i, id := range dto.IDs {
		if len(dto.Vecs[i]) != st.dim {
			return corrupt("flat vector %d has dimension %d, expected %d", id, len(dto.Vecs[i]), st.dim)
		}
		st.pos[id] = i
	}

	f.mu.Lock()
	f.state = st
	f.mu.Unlock()
	return nil
}

type ivfDTO struct {
	Centroids  []core.Vector
	Lists      [][]int
	IDs        []int64
	Vecs       []core.Vector
	Payloads   []core.Payload
	CentroidOf []int
}

// Persist 序列化 IVF 索引状态（含训练好的量化器）。
func (v *IVF) Persist(w io.Writer) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	st := v.state
	if st == nil {
		return errNotBuilt(v.Name())
	}
	if err := writeHeader(w, backendCodeIVF, st.metric, st.dim, len(st.ids)); err != nil {
		return err
	}
	return gob.NewEncoder(w).Encode(&ivfDTO{
		Centroids:  st.centroids,
		Lists:      st.lists,
		IDs:        st.ids,
		Vecs:       st.vecs,
		Payloads:   st.payloads,
		CentroidOf: st.centroidOf,
	})
}

// Load 恢复 IVF 索引状态；量化器随状态一起恢复，无需重新训练。
func (v *IVF) Load(r io.Reader, store core.VectorStore) error {
	hdr, err := readHeader(r, backendCodeIVF, store)
	if err != nil {
		return err
	}

	var dto ivfDTO
	if err := gob.NewDecoder(r).Decode(&dto); err != nil {
		return corrupt("undecodable ivf body: %v", err)
	}
	if uint64(len(dto.IDs)) != hdr.Count || len(dto.Vecs) != len(dto.IDs) ||
		len(dto.Payloads) != len(dto.IDs) || len(dto.CentroidOf) != len(dto.IDs) {
		return corrupt("ivf body length %d inconsistent with header count %d", len(dto.IDs), hdr.Count)
	}
	if len(dto.Centroids) == 0 || len(dto.Lists) != len(dto.Centroids) {
		return corrupt("ivf quantizer has %d centroids but %d lists", len(dto.Centroids), len(dto.Lists))
	}

	cfg := store.Config()
	st := &ivfState{
		dim:        cfg.Dimension,
		metric:     cfg.Metric,
		centroids:  dto.Centroids,
		lists:      dto.Lists,
		ids:        dto.IDs,
		vecs:       dto.Vecs,
		payloads:   dto.Payloads,
		pos:        make(map[int64]int, len(dto.IDs)),
		centroidOf: dto.CentroidOf,
	}
	for i, id := range dto.IDs {
		st.pos[id] = i
	}

	v.mu.Lock()
	v.state = st
	v.mu.Unlock()
	return nil
}

type hnswNodeDTO struct {
	ID        int64
	Vec       core.Vector
	Payload   core.Payload
	Neighbors [][]int
}

type hnswDTO struct {
	Nodes    []hnswNodeDTO
	Entry    int
	MaxLevel int
	M        int
	EfC      int
	Seed     int64
}

// Persist 序列化 HNSW 图结构。
func (h *HNSW) Persist(w io.Writer) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := h.state
	if st == nil {
		return errNotBuilt(h.Name())
	}
	dto := hnswDTO{
		Nodes:    make([]hnswNodeDTO, len(st.nodes)),
		Entry:    st.entry,
		MaxLevel: st.maxLevel,
		M:        st.m,
		EfC:      st.efC,
		Seed:     h.seed(),
	}
	for i, n := range st.nodes {
		dto.Nodes[i] = hnswNodeDTO{ID: n.id, Vec: n.vec, Payload: n.payload, Neighbors: n.neighbors}
	}
	if err := writeHeader(w, backendCodeHNSW, st.metric, st.dim, len(st.nodes)); err != nil {
		return err
	}
	return gob.NewEncoder(w).Encode(&dto)
}

// Load 恢复 HNSW 图结构。
func (h *HNSW) Load(r io.Reader, store core.VectorStore) error {
	hdr, err := readHeader(r, backendCodeHNSW, store)
	if err != nil {
		return err
	}

	var dto hnswDTO
	if err := gob.NewDecoder(r).Decode(&dto); err != nil {
		return corrupt("undecodable hnsw body: %v", err)
	}
	if uint64(len(dto.Nodes)) != hdr.Count {
		return corrupt("hnsw body length %d inconsistent with header count %d", len(dto.Nodes), hdr.Count)
	}
	if len(dto.Nodes) > 0 && (dto.Entry < 0 || dto.Entry >= len(dto.Nodes)) {
		return corrupt("hnsw entry point %d out of range", dto.Entry)
	}
	if dto.M <= 0 {
		return corrupt("hnsw m parameter %d invalid", dto.M)
	}

	cfg := store.Config()
	st := &hnswState{
		dim:      cfg.Dimension,
		metric:   cfg.Metric,
		nodes:    make([]*hnswNode, len(dto.Nodes)),
		pos:      make(map[int64]int, len(dto.Nodes)),
		entry:    dto.Entry,
		maxLevel: dto.MaxLevel,
		m:        dto.M,
		efC:      dto.EfC,
		levelMul: 1.0 / math.Log(float64(dto.M)),
		rng:      rand.New(rand.NewSource(dto.Seed)),
	}
	for i, n := range dto.Nodes {
		st.nodes[i] = &hnswNode{id: n.ID, vec: n.Vec, payload: n.Payload, neighbors: n.Neighbors}
		st.pos[n.ID] = i
	}

	h.mu.Lock()
	h.state = st
	h.mu.Unlock()
	return nil
}

// 确保实现了持久化能力扩展
var (
	_ core.PersistentIndex = (*Flat)(nil)
	_ core.PersistentIndex = (*IVF)(nil)
	_ core.PersistentIndex = (*HNSW)(nil)
)
