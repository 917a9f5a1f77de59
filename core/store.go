package core

import "context"

// VectorStore 是向量存储的领域接口：持有一个集合的全部 Point。
//
// 设计原则：
//   - 定义在领域层（core），由基础设施层（store）实现
//   - 遵循依赖倒置原则：领域层定义接口，基础设施层实现接口
//   - 只负责存取，不负责排序；排序由 IndexBackend 完成
//
// 实现：
//   - store.MemoryVectorStore 实现此接口
//   - 其他后端（向量数据库、嵌入式 KV 等）也可以实现此接口
type VectorStore interface {
	// Name 返回存储后端名称（用于监控/诊断）
	Name() string

	// Config 返回集合配置（维度、度量方式）
	Config() CollectionConfig

	// Put 插入或整体替换 Point；维度不匹配时返回 DIMENSION_MISMATCH。
	// 余弦度量下向量在此处做 L2 归一化，保证查询路径不再归一化。
	Put(ctx context.Context, point Point) error

	// Get 按 ID 查找；不存在时返回 ErrStoreNotFound
	Get(ctx context.Context, id int64) (Point, error)

	// Delete 删除 Point，返回其先前是否存在
	Delete(ctx context.Context, id int64) (bool, error)

	// Scroll 按插入顺序分批遍历。cursor 为不透明游标（首次传空串），
	// 返回下一页游标；游标为空表示遍历结束。
	// 一次完整遍历内同一 Point 不会出现两次；与并发删除交错时，
	// 已删除的点可能出现也可能不出现，但不会 panic。
	Scroll(ctx context.Context, cursor string, limit int) ([]Point, string, error)

	// Len 返回当前 Point 数
	Len() int

	// Close 释放资源
	Close() error
}
