package service

import (
	"context"
	"sync"
	"time"
)

// Rebuilder 周期性全量重建索引：新导出的向量批量落到 VectorStore 之后，
// 靠它把索引拉回与存储一致（顺带修复 IVF 的簇退化、HNSW 的原位替换近似）。
//
// 用法：
//	rb := service.NewRebuilder(svc, 6*time.Hour)
//	rb.Start()
//	defer rb.Stop()
type Rebuilder struct {
	svc      *RetrievalService
	interval time.Duration
	timeout  time.Duration

	stop     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	lastErr error
}

// NewRebuilder 创建重建器。interval 是重建周期。
func NewRebuilder(svc *RetrievalService, interval time.Duration) *Rebuilder {
	return &Rebuilder{
		svc:      svc,
		interval: interval,
		timeout:  10 * time.Minute,
		stop:     make(chan struct{}),
	}
}

// Start 启动重建协程（立即执行一次，然后按周期执行）。
func (r *Rebuilder) Start() {
	go r.loop()
}

func (r *Rebuilder) loop() {
	r.runOnce()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.runOnce()
		case <-r.stop:
			return
		}
	}
}

func (r *Rebuilder) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	err := r.svc.RebuildIndex(ctx)
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
}

// TriggerNow 手动触发一次重建（同步执行）。
func (r *Rebuilder) TriggerNow(ctx context.Context) error {
	return r.svc.RebuildIndex(ctx)
}

// LastError 返回最近一次周期重建的错误（nil 表示成功）。
func (r *Rebuilder) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Stop 停止重建协程。
func (r *Rebuilder) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
}
