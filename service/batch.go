package service

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/vecrec/core"
)

// BatchRecommend 批量推荐：并发解析每个用户的向量，再用一次 BatchSearch
// 完成全部检索。总延迟受限于最慢的一次向量解析加一次索引查询，
// 而不是各用户延迟之和。
//
// K 与 Filter 取自 reqs[0]，对整批生效（一次批量检索只能携带一组查询参数），
// 其余请求上的这两个字段被忽略；History 仍按各请求单独剔除。
//
// 结果与 reqs 对齐。任一用户失败则整批失败——错误必须上抛，
// 调用方不能把"出错"与"冷门查询返回空"混为一谈。
func (s *RetrievalService) BatchRecommend(ctx context.Context, reqs []RecommendRequest, maxConcurrent int) ([]*core.RankedResult, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	if err := s.validateK(reqs[0].K); err != nil {
		return nil, err
	}
	start := time.Now()

	maxHistory := 0
	for _, req := range reqs {
		if len(req.History) == 0 {
			return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeNoHistory,
				"service: batch contains user with empty history")
		}
		if len(req.History) > maxHistory {
			maxHistory = len(req.History)
		}
	}
	k := reqs[0].K
	filter := reqs[0].Filter

	// 1. 并发解析用户向量（限流：semaphore 控制并发数）
	vectors := make([]core.Vector, len(reqs))
	eg, egCtx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, maxConcurrentOrDefault(maxConcurrent))

	for i, req := range reqs {
		i, req := i, req
		eg.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			vec, err := s.resolveUserVector(egCtx, req.UserID, req.History)
			if err != nil {
				return err
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// 2. 一次批量检索（各查询互相独立，结果与 queries 对齐）
	fetch := s.fetchSize(k, maxHistory)
	searchCtx := ctx
	if s.searchTimeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, s.searchTimeout)
		defer cancel()
	}
	batches, err := s.index.BatchSearch(searchCtx, vectors, fetch, filter)
	if err != nil {
		return nil, err
	}

	// 3. 逐用户剔除已交互物品并截断
	out := make([]*core.RankedResult, len(reqs))
	for i, req := range reqs {
		seen := make(map[int64]struct{}, len(req.History))
		for _, id := range req.History {
			seen[id] = struct{}{}
		}
		items, err := s.enrich(ctx, batches[i], k, func(id int64) bool {
			_, ok := seen[id]
			return ok
		})
		if err != nil {
			return nil, err
		}
		out[i] = &core.RankedResult{Items: items, Latency: time.Since(start)}
	}
	return out, nil
}

func maxConcurrentOrDefault(n int) int {
	if n > 0 {
		return n
	}
	return 8
}
