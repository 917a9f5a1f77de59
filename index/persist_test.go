package index

import (
	"bytes"
	"context"
	"testing"

	"github.com/rushteam/vecrec/core"
	"github.com/rushteam/vecrec/store"
)

func TestPersist_Roundtrip(t *testing.T) {
	ctx := context.Background()
	src := movieStore(t)
	query := core.Vector{1, 0, 0, 0}

	backends := []struct {
		name string
		make func() core.PersistentIndex
	}{
		{"flat", func() core.PersistentIndex { return NewFlat(Options{}) }},
		{"ivf", func() core.PersistentIndex { return NewIVF(Options{}) }},
		{"hnsw", func() core.PersistentIndex { return NewHNSW(Options{Seed: 42}) }},
	}
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			original := b.make()
			if err := original.Build(ctx, src); err != nil {
				t.Fatalf("Build 失败: %v", err)
			}
			want, err := original.Search(ctx, query, 5, nil)
			if err != nil {
				t.Fatalf("Search 失败: %v", err)
			}

			var buf bytes.Buffer
			if err := original.Persist(&buf); err != nil {
				t.Fatalf("Persist 失败: %v", err)
			}

			restored := b.make()
			if err := restored.Load(&buf, src); err != nil {
				t.Fatalf("Load 失败: %v", err)
			}
			if restored.Size() != original.Size() {
				t.Errorf("恢复后 Size = %d, 期望 %d", restored.Size(), original.Size())
			}

			got, err := restored.Search(ctx, query, 5, nil)
			if err != nil {
				t.Fatalf("恢复后 Search 失败: %v", err)
			}
			if len(got) != len(want) {
				t.Fatalf("恢复后返回 %d 条, 期望 %d 条", len(got), len(want))
			}
			for i := range got {
				if got[i] != want[i] {
					t.Errorf("位置 %d: 恢复后 %v != 原始 %v", i, got[i], want[i])
				}
			}

			t.Run("带过滤查询一致", func(t *testing.T) {
				got, err := restored.Search(ctx, query, 5, yearBetween(2000, 2010))
				if err != nil {
					t.Fatalf("过滤查询失败: %v", err)
				}
				for _, r := range got {
					if r.ID != 2 && r.ID != 3 && r.ID != 4 {
						t.Errorf("恢复后过滤失效, 命中 Point %d", r.ID)
					}
				}
			})
		})
	}
}

func TestLoad_BadMagic(t *testing.T) {
	ctx := context.Background()
	src := movieStore(t)

	f := NewFlat(Options{})
	if err := f.Build(ctx, src); err != nil {
		t.Fatalf("Build 失败: %v", err)
	}
	var buf bytes.Buffer
	if err := f.Persist(&buf); err != nil {
		t.Fatalf("Persist 失败: %v", err)
	}

	data := buf.Bytes()
	data[0] = 'X' // 破坏魔数

	fresh := NewFlat(Options{})
	err := fresh.Load(bytes.NewReader(data), src)
	if !core.IsCorruptIndex(err) {
		t.Errorf("魔数损坏应返回 CORRUPT_INDEX, 实际: %v", err)
	}
	// 损坏的加载不得留下半成品状态
	if fresh.Size() != 0 {
		t.Errorf("失败加载后 Size = %d, 期望 0", fresh.Size())
	}
}

func TestLoad_Truncated(t *testing.T) {
	ctx := context.Background()
	src := movieStore(t)

	f := NewFlat(Options{})
	if err := f.Build(ctx, src); err != nil {
		t.Fatalf("Build 失败: %v", err)
	}
	var buf bytes.Buffer
	if err := f.Persist(&buf); err != nil {
		t.Fatalf("Persist 失败: %v", err)
	}

	for _, n := range []int{0, 2, 10} {
		truncated := buf.Bytes()[:n]
		err := NewFlat(Options{}).Load(bytes.NewReader(truncated), src)
		if !core.IsCorruptIndex(err) {
			t.Errorf("截断到 %d 字节加载应返回 CORRUPT_INDEX, 实际: %v", n, err)
		}
	}
}

func TestLoad_StoreMismatch(t *testing.T) {
	ctx := context.Background()
	src := movieStore(t)

	f := NewFlat(Options{})
	if err := f.Build(ctx, src); err != nil {
		t.Fatalf("Build 失败: %v", err)
	}
	var buf bytes.Buffer
	if err := f.Persist(&buf); err != nil {
		t.Fatalf("Persist 失败: %v", err)
	}

	t.Run("点数不一致", func(t *testing.T) {
		// 持久化之后存储多了一个点：快照已过期
		if err := src.Put(ctx, core.Point{ID: 9, Vector: core.Vector{0, 0, 0, 1}}); err != nil {
			t.Fatalf("Put 失败: %v", err)
		}
		err := NewFlat(Options{}).Load(bytes.NewReader(buf.Bytes()), src)
		if !core.IsCorruptIndex(err) {
			t.Errorf("点数不一致应返回 CORRUPT_INDEX, 实际: %v", err)
		}
	})

	t.Run("维度不一致", func(t *testing.T) {
		other, err := store.NewMemoryVectorStore(core.CollectionConfig{
			Name: "other", Dimension: 8, Metric: core.MetricCosine,
		})
		if err != nil {
			t.Fatalf("创建存储失败: %v", err)
		}
		if err := NewFlat(Options{}).Load(bytes.NewReader(buf.Bytes()), other); !core.IsCorruptIndex(err) {
			t.Errorf("维度不一致应返回 CORRUPT_INDEX, 实际: %v", err)
		}
	})

	t.Run("后端类型不一致", func(t *testing.T) {
		err := NewIVF(Options{}).Load(bytes.NewReader(buf.Bytes()), src)
		if !core.IsCorruptIndex(err) {
			t.Errorf("flat 快照用 ivf 加载应返回 CORRUPT_INDEX, 实际: %v", err)
		}
	})
}
