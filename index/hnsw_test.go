package index

import (
	"context"
	"math/rand"
	"testing"

	"github.com/rushteam/vecrec/core"
)

func TestHNSW_SearchBeforeBuild(t *testing.T) {
	h := NewHNSW(Options{})
	if _, err := h.Search(context.Background(), core.Vector{1, 0, 0, 0, 0}, 3, nil); !core.IsEmptyCorpus(err) {
		t.Errorf("未构建索引查询应返回 EMPTY_CORPUS, 实际: %v", err)
	}
}

func TestHNSW_BasisSearch(t *testing.T) {
	ctx := context.Background()
	h := NewHNSW(Options{})
	if err := h.Build(ctx, basisStore(t)); err != nil {
		t.Fatalf("Build 失败: %v", err)
	}
	if h.Size() != 5 {
		t.Errorf("Size = %d, 期望 5", h.Size())
	}

	results, err := h.Search(ctx, core.Vector{0, 1, 0, 0, 0}, 3, nil)
	if err != nil {
		t.Fatalf("Search 失败: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("返回 %d 条, 期望 3 条", len(results))
	}
	if results[0].ID != 2 || results[0].Score != 1.0 {
		t.Errorf("top-1 = (%d, %v), 期望 (2, 1.0)", results[0].ID, results[0].Score)
	}
	assertSortedDeterministic(t, results)
}

func TestHNSW_AgreesWithFlatOnSmallCorpus(t *testing.T) {
	// ef 远大于语料规模时图检索退化为全量扫描，结果与 Flat 一致
	ctx := context.Background()
	src := randomStore(t, 100, 8)

	h := NewHNSW(Options{M: 8, EfConstruction: 200, EfSearch: 200})
	if err := h.Build(ctx, src); err != nil {
		t.Fatalf("HNSW Build 失败: %v", err)
	}
	f := NewFlat(Options{})
	if err := f.Build(ctx, src); err != nil {
		t.Fatalf("Flat Build 失败: %v", err)
	}

	rng := rand.New(rand.NewSource(23))
	for trial := 0; trial < 5; trial++ {
		query := make(core.Vector, 8)
		for d := range query {
			query[d] = rng.NormFloat64()
		}

		got, err := h.Search(ctx, query, 10, nil)
		if err != nil {
			t.Fatalf("HNSW Search 失败: %v", err)
		}
		want, _ := f.Search(ctx, query, 10, nil)

		if len(got) != len(want) {
			t.Fatalf("HNSW 返回 %d 条, Flat 返回 %d 条", len(got), len(want))
		}
		for i := range got {
			if got[i] != want[i] {
				t.Errorf("查询 %d 位置 %d: HNSW %v != Flat %v", trial, i, got[i], want[i])
			}
		}
	}
}

func TestHNSW_Deterministic(t *testing.T) {
	// 固定种子下两次独立构建的图返回完全相同的结果
	ctx := context.Background()
	src := randomStore(t, 100, 8)

	build := func() *HNSW {
		h := NewHNSW(Options{M: 8, Seed: 42})
		if err := h.Build(ctx, src); err != nil {
			t.Fatalf("Build 失败: %v", err)
		}
		return h
	}
	h1, h2 := build(), build()

	query := make(core.Vector, 8)
	query[0] = 1
	r1, err := h1.Search(ctx, query, 10, nil)
	if err != nil {
		t.Fatalf("Search 失败: %v", err)
	}
	r2, _ := h2.Search(ctx, query, 10, nil)

	if len(r1) != len(r2) {
		t.Fatalf("两次构建结果长度不同: %d vs %d", len(r1), len(r2))
	}
	for i := range r1 {
		if r1[i] != r2[i] {
			t.Errorf("位置 %d: %v != %v", i, r1[i], r2[i])
		}
	}
}

func TestHNSW_Filter(t *testing.T) {
	ctx := context.Background()
	h := NewHNSW(Options{EfSearch: 100})
	if err := h.Build(ctx, movieStore(t)); err != nil {
		t.Fatalf("Build 失败: %v", err)
	}

	results, err := h.Search(ctx, core.Vector{1, 0, 0, 0}, 3, yearBetween(2000, 2010))
	if err != nil {
		t.Fatalf("Search 失败: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("过滤检索不应为空")
	}
	for _, r := range results {
		if r.ID != 2 && r.ID != 3 && r.ID != 4 {
			t.Errorf("结果包含不满足过滤条件的 Point %d", r.ID)
		}
	}
	assertSortedDeterministic(t, results)
}

func TestHNSW_Upsert(t *testing.T) {
	ctx := context.Background()
	h := NewHNSW(Options{EfSearch: 100})
	if err := h.Build(ctx, basisStore(t)); err != nil {
		t.Fatalf("Build 失败: %v", err)
	}

	t.Run("新增节点可被检索", func(t *testing.T) {
		p := core.Point{ID: 100, Vector: core.Vector{0, 0, 0, 0, 1}}
		if err := h.Upsert(ctx, p); err != nil {
			t.Fatalf("Upsert 失败: %v", err)
		}
		if h.Size() != 6 {
			t.Errorf("Size = %d, 期望 6", h.Size())
		}
		results, _ := h.Search(ctx, core.Vector{0, 0, 0, 0, 1}, 2, nil)
		if len(results) != 2 || results[0].ID != 5 || results[1].ID != 100 {
			t.Errorf("Upsert 后结果 = %v, 期望 [5 100]", results)
		}
	})

	t.Run("原位替换不增加 Size", func(t *testing.T) {
		before := h.Size()
		if err := h.Upsert(ctx, core.Point{ID: 100, Vector: core.Vector{1, 0, 0, 0, 0}}); err != nil {
			t.Fatalf("替换失败: %v", err)
		}
		if h.Size() != before {
			t.Errorf("替换后 Size = %d, 期望 %d", h.Size(), before)
		}
	})

	t.Run("维度不匹配", func(t *testing.T) {
		err := h.Upsert(ctx, core.Point{ID: 7, Vector: core.Vector{1}})
		if !core.IsDimensionMismatch(err) {
			t.Errorf("期望 DIMENSION_MISMATCH, 实际: %v", err)
		}
	})
}
